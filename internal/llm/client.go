// Package llm provides chat-completion client implementations and the
// gateway that routes model names to providers.
package llm

import "context"

// Client is the interface that all chat providers implement.
// Constructing a Client never performs network I/O; the first request does.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
