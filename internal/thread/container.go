package thread

import (
	"context"
	"sync"
)

// Container delivers conversation state per thread ID and merges node
// deltas back in. Implementations serialize updates per thread: at most
// one in-flight Apply per thread ID takes effect at a time.
type Container interface {
	// Load returns the current state for a thread. Unknown threads
	// return an empty state, not an error.
	Load(ctx context.Context, threadID string) (State, error)

	// Apply merges a delta into the thread's state and returns the
	// merged result.
	Apply(ctx context.Context, threadID string, d Delta) (State, error)
}

// MemoryContainer keeps thread state in process memory. Nothing
// survives a restart; it backs ephemeral mode and tests.
type MemoryContainer struct {
	mu      sync.RWMutex
	threads map[string]State
}

// NewMemoryContainer creates an empty in-memory container.
func NewMemoryContainer() *MemoryContainer {
	return &MemoryContainer{threads: make(map[string]State)}
}

// Load returns a copy of the thread's state.
func (c *MemoryContainer) Load(ctx context.Context, threadID string) (State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyState(c.threads[threadID]), nil
}

// Apply merges d into the thread's state under lock.
func (c *MemoryContainer) Apply(ctx context.Context, threadID string, d Delta) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := Merge(c.threads[threadID], d)
	c.threads[threadID] = merged
	return copyState(merged), nil
}

// copyState returns a state whose message slice is independent of the
// stored one, so callers cannot mutate container internals.
func copyState(s State) State {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return State{Messages: msgs, Profile: s.Profile}
}
