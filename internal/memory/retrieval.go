package memory

import (
	"context"
	"strings"
)

// searchLimit caps how many memories are pulled into a single prompt.
const searchLimit = 10

// Status describes how a retrieval went. Empty and Degraded both yield
// no memory text, but observability wants to tell "nothing stored"
// apart from "store unreachable".
type Status int

const (
	// StatusFound means at least one memory was retrieved.
	StatusFound Status = iota
	// StatusEmpty means the search succeeded but returned nothing
	// usable, or no store is configured.
	StatusEmpty
	// StatusDegraded means the store failed; the turn proceeds without
	// memories.
	StatusDegraded
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusEmpty:
		return "empty"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Retrieval is the outcome of a memory lookup. Err is set only when
// Status is StatusDegraded.
type Retrieval struct {
	Text   string
	Status Status
	Err    error
}

// Retrieve searches the client's namespace and formats the results as a
// bullet list for the system prompt. It never returns an error: a nil
// store yields StatusEmpty and a failing store yields StatusDegraded,
// both with empty text.
func Retrieve(ctx context.Context, store Store, clientID string) Retrieval {
	if store == nil {
		return Retrieval{Status: StatusEmpty}
	}

	items, err := store.Search(ctx, Namespace(clientID), searchLimit)
	if err != nil {
		return Retrieval{Status: StatusDegraded, Err: err}
	}

	text := formatBullets(items)
	if text == "" {
		return Retrieval{Status: StatusEmpty}
	}
	return Retrieval{Text: text, Status: StatusFound}
}

// formatBullets joins item texts as "- a\n- b", dropping empty entries.
// Returns "" when nothing survives.
func formatBullets(items []Item) string {
	var texts []string
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		texts = append(texts, item.Text)
	}
	if len(texts) == 0 {
		return ""
	}
	return "- " + strings.Join(texts, "\n- ")
}
