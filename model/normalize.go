package model

import (
	"strings"

	"github.com/hupe1980/agentcouncil/core"
)

// PlaceholderUserTurn is synthesized when a sequence does not start with a
// user message.
const PlaceholderUserTurn = "(continuing conversation)"

const mergeSeparator = "\n\n"

// Normalize prepares a conversation for an alternation-strict provider.
//
// System-role entries are folded into the returned system prompt, empty
// entries are dropped, unknown roles are treated as user turns, consecutive
// entries of the same role are merged with a blank line, and a placeholder
// user turn is prepended when the sequence would otherwise not start with the
// user role. The result always contains at least one message.
//
// Normalize is idempotent: feeding its output back in returns it unchanged.
func Normalize(system string, msgs []Message) (string, []Message) {
	systemParts := make([]string, 0, 2)
	if s := strings.TrimSpace(system); s != "" {
		systemParts = append(systemParts, s)
	}

	out := make([]Message, 0, len(msgs)+1)
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := m.Role
		switch role {
		case core.RoleSystem:
			systemParts = append(systemParts, content)
			continue
		case core.RoleUser, core.RoleAssistant:
		default:
			role = core.RoleUser
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += mergeSeparator + content
			continue
		}
		out = append(out, Message{Role: role, Content: content})
	}

	if len(out) == 0 || out[0].Role != core.RoleUser {
		out = append([]Message{{Role: core.RoleUser, Content: PlaceholderUserTurn}}, out...)
	}

	return strings.Join(systemParts, mergeSeparator), out
}

// Compact drops empty entries without changing roles. Flexible providers use
// it in place of Normalize.
func Compact(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// EmergencyTruncate keeps only the first and the last message.
func EmergencyTruncate(msgs []Message) []Message {
	if len(msgs) <= 2 {
		return msgs
	}
	return []Message{msgs[0], msgs[len(msgs)-1]}
}

// TotalChars counts the characters across all message contents.
func TotalChars(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len([]rune(m.Content))
	}
	return n
}
