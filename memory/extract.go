package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/becomeliminal/memento/core"
)

// Keyword sets per category, checked in precedence order.
var categoryKeywords = []struct {
	category core.Category
	keywords []string
}{
	{core.CategoryMeeting, []string{"meeting", "appointment", "schedule", "call", "conference", "sync", "catch up", "discussion"}},
	{core.CategoryDeadline, []string{"deadline", "due date", "due", "until", "complete by", "finish by"}},
	{core.CategoryDecision, []string{"decided", "agreed", "conclusion", "decision"}},
}

type matcher struct {
	category core.Category
	pattern  *regexp.Regexp
}

var matchers = compileMatchers()

// compileMatchers builds one case-insensitive, word-bounded pattern per
// category. Common inflections are accepted ("meetings", "scheduled",
// "calling") but embedded words are not ("recall").
func compileMatchers() []matcher {
	out := make([]matcher, 0, len(categoryKeywords))
	for _, set := range categoryKeywords {
		alts := make([]string, len(set.keywords))
		for i, kw := range set.keywords {
			alts[i] = strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`)
		}
		expr := `(?i)\b(?:` + strings.Join(alts, "|") + `)(?:s|es|d|ed|ing)?\b`
		out = append(out, matcher{category: set.category, pattern: regexp.MustCompile(expr)})
	}
	return out
}

// Analysis is the result of classifying one message.
type Analysis struct {
	Important     bool
	Category      core.Category
	ExtractedDate *time.Time
}

// Policy decides importance from the keyword category (CategoryOther when no
// keyword matched) and the extracted date, if any.
type Policy func(category core.Category, date *time.Time) (core.Category, bool)

// KeywordPolicy marks a message important only when a keyword set matches.
// Dates are extracted but never decide importance.
func KeywordPolicy(category core.Category, _ *time.Time) (core.Category, bool) {
	return category, category != core.CategoryOther
}

// KeywordOrDatePolicy also treats a recognised date as important on its own,
// filed under CategoryOther.
func KeywordOrDatePolicy(category core.Category, date *time.Time) (core.Category, bool) {
	if category != core.CategoryOther {
		return category, true
	}
	return core.CategoryOther, date != nil
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "keyword":
		return KeywordPolicy, nil
	case "keyword_or_date", "date":
		return KeywordOrDatePolicy, nil
	}
	return nil, fmt.Errorf("unknown memory policy %q", name)
}

// Extractor classifies message text. It is pure and safe for concurrent use.
type Extractor struct {
	policy Policy
}

// NewExtractor returns an Extractor using policy, or KeywordPolicy if nil.
func NewExtractor(policy Policy) *Extractor {
	if policy == nil {
		policy = KeywordPolicy
	}
	return &Extractor{policy: policy}
}

// Analyze classifies text. Relative dates resolve against now.
func (e *Extractor) Analyze(text string, now time.Time) Analysis {
	category := Categorize(text)
	date := ExtractDate(text, now)

	category, important := e.policy(category, date)
	return Analysis{
		Important:     important,
		Category:      category,
		ExtractedDate: date,
	}
}

// Categorize returns the first category whose keywords appear in text, or
// CategoryOther.
func Categorize(text string) core.Category {
	for _, m := range matchers {
		if m.pattern.MatchString(text) {
			return m.category
		}
	}
	return core.CategoryOther
}
