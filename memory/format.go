package memory

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/becomeliminal/memento/core"
)

// maxFormatted bounds the total characters FormatMemories emits.
const maxFormatted = 2000

// FormatMeetings renders dated meetings as one line each, for prompt context.
// It returns "" when there are none.
func FormatMeetings(meetings []core.Memory) string {
	if len(meetings) == 0 {
		return ""
	}

	var b strings.Builder
	for _, mem := range meetings {
		if mem.ExtractedDate == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", mem.ExtractedDate.Format("Mon Jan 2 2006"), mem.Content)
	}
	return b.String()
}

// FormatMemories renders memories as a numbered list, each entry trimmed so
// the whole list stays within a prompt-sized budget.
func FormatMemories(memories []core.Memory) string {
	if len(memories) == 0 {
		return ""
	}

	perMemory := maxFormatted / len(memories)
	if perMemory < 100 {
		perMemory = 100
	}

	parts := make([]string, 0, len(memories))
	for i, mem := range memories {
		line := fmt.Sprintf("%d. [%s] %s", i+1, mem.Category, truncate(mem.Content, perMemory))
		if mem.ExtractedDate != nil {
			line += fmt.Sprintf(" (date: %s)", mem.ExtractedDate.Format("2006-01-02"))
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

// truncate shortens s to at most n bytes on a rune boundary, adding "...".
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
