// Package thread manages per-conversation state: the ordered message
// history and the last-fetched client profile.
//
// Nodes never mutate state directly. They return a [Delta] and the
// container merges it: messages append (history is never shortened or
// reordered by this package) and the profile is last-write-wins.
package thread

import "github.com/marlowe/recall-agent/internal/profile"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a role-tagged content unit.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is the conversation state delivered to a node for one turn.
type State struct {
	Messages []Message        `json:"messages"`
	Profile  *profile.Profile `json:"profile,omitempty"`
}

// Delta is a state update returned by a node. Zero-value deltas are
// legal and merge to a no-op.
type Delta struct {
	Messages []Message        `json:"messages,omitempty"`
	Profile  *profile.Profile `json:"profile,omitempty"`
}

// Merge applies a delta to a state and returns the result. Messages
// concatenate; a non-nil delta profile replaces the old one, a nil one
// keeps it.
func Merge(s State, d Delta) State {
	merged := State{
		Messages: make([]Message, 0, len(s.Messages)+len(d.Messages)),
		Profile:  s.Profile,
	}
	merged.Messages = append(merged.Messages, s.Messages...)
	merged.Messages = append(merged.Messages, d.Messages...)
	if d.Profile != nil {
		merged.Profile = d.Profile
	}
	return merged
}

// LastUserMessage returns the most recent user-authored message in the
// state, or false if there is none.
func (s State) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
