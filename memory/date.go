package memory

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const monthNames = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	isoDate      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDate  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2}|\d{4}))?\b`)
	monthDay     = regexp.MustCompile(`(?i)\b(` + monthNames + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	dayMonth     = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthNames + `)\b`)
	relativeDate = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|next\s+week|next\s+month)\b`)
	weekdayName  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ExtractDate finds the first recognisable date in text and resolves it to
// midnight in now's location. It returns nil when nothing is found or the
// date does not exist (Feb 30).
func ExtractDate(text string, now time.Time) *time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	extractors := []func(string, time.Time) (time.Time, bool){
		matchISO,
		matchNumeric,
		matchMonthDay,
		matchDayMonth,
		matchRelative,
		matchWeekday,
	}
	for _, extract := range extractors {
		if t, ok := extract(text, today); ok {
			return &t
		}
	}
	return nil
}

func matchISO(text string, today time.Time) (time.Time, bool) {
	m := isoDate.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), today.Location())
}

// matchNumeric reads m/d[/yy[yy]] in US order.
func matchNumeric(text string, today time.Time) (time.Time, bool) {
	m := numericDate.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, day := atoi(m[1]), atoi(m[2])
	if m[3] == "" {
		return upcoming(month, day, today)
	}
	year := atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	}
	return buildDate(year, month, day, today.Location())
}

func matchMonthDay(text string, today time.Time) (time.Time, bool) {
	m := monthDay.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return upcoming(monthNumber(m[1]), atoi(m[2]), today)
}

func matchDayMonth(text string, today time.Time) (time.Time, bool) {
	m := dayMonth.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return upcoming(monthNumber(m[2]), atoi(m[1]), today)
}

func matchRelative(text string, today time.Time) (time.Time, bool) {
	m := relativeDate.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	switch strings.Join(strings.Fields(strings.ToLower(m[1])), " ") {
	case "today", "tonight":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	case "next week":
		return today.AddDate(0, 0, 7), true
	case "next month":
		return today.AddDate(0, 1, 0), true
	}
	return time.Time{}, false
}

// matchWeekday resolves a weekday name to its next occurrence after today.
func matchWeekday(text string, today time.Time) (time.Time, bool) {
	m := weekdayName.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	target := weekdays[strings.ToLower(m[1])]
	ahead := (int(target) - int(today.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead), true
}

// upcoming resolves a month/day without a year to this year, or next year if
// that date has already passed.
func upcoming(month, day int, today time.Time) (time.Time, bool) {
	t, ok := buildDate(today.Year(), month, day, today.Location())
	if !ok {
		return time.Time{}, false
	}
	if t.Before(today) {
		return buildDate(today.Year()+1, month, day, today.Location())
	}
	return t, true
}

// buildDate rejects dates that time.Date would normalise (Feb 30 -> Mar 2).
func buildDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func monthNumber(name string) int {
	prefix := strings.ToLower(name)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	months := []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}
	for i, m := range months {
		if m == prefix {
			return i + 1
		}
	}
	return 0
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
