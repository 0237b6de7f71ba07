package memory

import (
	"context"
	"strings"
	"time"
)

// triggerWord is the substring that marks a user message as worth
// remembering. The policy is deliberately a plain keyword check; the
// whole message is stored verbatim with no extraction of what to
// remember.
const triggerWord = "remember"

// Triggered reports whether content asks the agent to remember
// something. The match is case-insensitive.
func Triggered(content string) bool {
	return strings.Contains(strings.ToLower(content), triggerWord)
}

// Remember persists content verbatim as a memory for the client,
// keyed by the millisecond timestamp of now. Callers apply this after
// the reply is produced and are expected to treat failures as
// non-fatal.
func Remember(ctx context.Context, store Store, clientID, content string, now time.Time) error {
	item := Item{
		Text:      content,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	return store.Put(ctx, Namespace(clientID), Key(now), item)
}
