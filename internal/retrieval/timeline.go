package retrieval

import (
	"fmt"
	"strings"

	"fabula/internal/types"
)

// timelineFill mechanically concatenates the most recent chapter summaries.
// Pure transform; used when the chapter count is small enough that agentic
// retrieval is not worth a model call.
func timelineFill(chapters []types.Chapter, count int) string {
	if len(chapters) == 0 || count <= 0 {
		return ""
	}

	start := 0
	if len(chapters) > count {
		start = len(chapters) - count
	}

	var b strings.Builder
	b.WriteString("[PAST CHAPTERS]")
	for _, ch := range chapters[start:] {
		fmt.Fprintf(&b, "\nChapter %d, %q", ch.Number, ch.Title)
		if ch.StartTime != "" || ch.EndTime != "" {
			fmt.Fprintf(&b, " (%s - %s)", ch.StartTime, ch.EndTime)
		}
		b.WriteString(": ")
		b.WriteString(ch.Summary)
	}
	return b.String()
}
