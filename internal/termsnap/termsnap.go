// Package termsnap reconstructs a conversation transcript from a raw
// terminal buffer by recognizing the prompt glyphs a CLI agent prints.
package termsnap

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// Marker glyphs for transcript lines. The assistant marker is U+23FA.
const (
	UserMarker      = ">"
	AssistantMarker = "⏺"
)

// Parse scans a captured terminal buffer and returns the messages it
// contains, in buffer order. A line starting with ">" opens a user message
// and a line starting with "⏺" opens an assistant message; every following
// line until the next marker belongs to the open message. Text is kept
// verbatim, terminal escape sequences included. Lines before the first
// marker are discarded. An empty buffer yields no messages.
func Parse(buffer string) []types.ChatMessage {
	if buffer == "" {
		return []types.ChatMessage{}
	}

	now := time.Now().UnixMilli()
	messages := []types.ChatMessage{}

	var role types.Role
	var lines []string
	open := false

	flush := func() {
		if !open {
			return
		}
		text := strings.Join(lines, "\n")
		messages = append(messages, types.NewTextMessage(ulid.Make().String(), role, text, now))
		lines = nil
	}

	for _, line := range strings.Split(buffer, "\n") {
		switch {
		case strings.HasPrefix(line, UserMarker):
			flush()
			role = types.RoleUser
			lines = []string{strings.TrimPrefix(line, UserMarker)}
			open = true
		case strings.HasPrefix(line, AssistantMarker):
			flush()
			role = types.RoleAssistant
			lines = []string{strings.TrimPrefix(line, AssistantMarker)}
			open = true
		case open:
			lines = append(lines, line)
		}
	}
	flush()

	return messages
}
