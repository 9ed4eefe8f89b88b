package telegram

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mtzanidakis/nimbus/internal/dispatch"
)

var boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

// toTelegramMarkdown rewrites **bold** to the single-asterisk form Telegram
// renders.
func toTelegramMarkdown(s string) string {
	return boldPattern.ReplaceAllString(s, "*$1*")
}

// formatOutcome renders one outcome slot as a chat message.
func formatOutcome(name string, o dispatch.Outcome) string {
	var sb strings.Builder
	switch o.Status {
	case dispatch.StatusSuccess:
		fmt.Fprintf(&sb, "✅ %s\n\n%s", name, toTelegramMarkdown(o.Text))
		if len(o.Citations) > 0 {
			sb.WriteString("\n\nSources:")
			for _, c := range o.Citations {
				title := c.Title
				if title == "" {
					title = c.URI
				}
				fmt.Fprintf(&sb, "\n- %s %s", title, c.URI)
			}
		}
	case dispatch.StatusFailure:
		fmt.Fprintf(&sb, "❌ %s failed (%s): %s", name, o.ErrorKind, o.Error)
	default:
		fmt.Fprintf(&sb, "⏳ %s is still working", name)
	}
	return sb.String()
}
