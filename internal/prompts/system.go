// Package prompts builds the system message for a conversation turn
// from the base instruction, the client profile, and retrieved
// memories. Construction is deterministic: the same inputs always
// produce the same message.
package prompts

import (
	"strings"

	"github.com/marlowe/recall-agent/internal/profile"
	"github.com/marlowe/recall-agent/internal/thread"
)

// DefaultInstruction is used when neither the request nor the
// configuration provides a base instruction.
const DefaultInstruction = "You are a helpful assistant."

// SystemMessage assembles the single system message for a turn.
// Blocks are appended in a fixed order: instruction, then the profile
// block (if a profile is present), then the memories block (if
// memories is non-empty). Absent profile fields are omitted entirely —
// never rendered as blank lines.
func SystemMessage(instruction string, p *profile.Profile, memories string) thread.Message {
	var sb strings.Builder
	sb.WriteString(instruction)

	if p != nil {
		sb.WriteString("\n\nHere is some information about the user you are talking to:\n")
		sb.WriteString(profileLines(p))
	}

	if memories != "" {
		sb.WriteString("\n\nWhat you remember about this user:\n")
		sb.WriteString(memories)
	}

	return thread.Message{Role: thread.RoleSystem, Content: sb.String()}
}

// profileLines renders present-only profile fields, one per line, in a
// fixed order.
func profileLines(p *profile.Profile) string {
	var lines []string

	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		lines = append(lines, "User Name: "+name)
	}
	if p.Email != "" {
		lines = append(lines, "Email: "+p.Email)
	}
	if p.DateOfBirth != "" {
		lines = append(lines, "DOB: "+p.DateOfBirth)
	}
	if p.Gender != "" {
		lines = append(lines, "Gender: "+p.Gender)
	}

	return strings.Join(lines, "\n")
}

// ResolveInstruction picks the effective base instruction: per-request
// override, then the configured default, then [DefaultInstruction].
func ResolveInstruction(override, configured string) string {
	if override != "" {
		return override
	}
	if configured != "" {
		return configured
	}
	return DefaultInstruction
}
