// Package agent implements the conversation turn nodes.
//
// A turn runs two nodes in sequence under an external host (the web
// server, the CLI, or any other sequencer): [ProfileFetchNode] resolves
// the client profile into thread state, then [ConversationNode]
// assembles the prompt, calls the model, applies the memory write
// policy, and returns the assistant reply as a one-message delta.
//
// Only the model call can fail a turn. Profile lookups and memory store
// operations are best-effort: their failures are logged, published to
// the event bus, and the turn proceeds with reduced context.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marlowe/recall-agent/internal/events"
	"github.com/marlowe/recall-agent/internal/llm"
	"github.com/marlowe/recall-agent/internal/memory"
	"github.com/marlowe/recall-agent/internal/prompts"
	"github.com/marlowe/recall-agent/internal/thread"
)

// DefaultClientID is used when a request names no client.
const DefaultClientID = "default"

// Config carries the per-invocation parameters of a turn. It is
// supplied fresh on each call and never persisted.
type Config struct {
	// ClientID selects the memory namespace and profile record.
	// Empty resolves to [DefaultClientID].
	ClientID string `json:"client_id,omitempty"`

	// Model overrides the configured default model for this turn.
	Model string `json:"model,omitempty"`

	// SystemPrompt overrides the configured base instruction for this
	// turn.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// EffectiveClientID returns the client ID with the default applied.
func (c Config) EffectiveClientID() string {
	if c.ClientID == "" {
		return DefaultClientID
	}
	return c.ClientID
}

// ConversationNode produces exactly one assistant reply per Run. All
// collaborators are injected at construction; there is no hidden
// process-global state.
type ConversationNode struct {
	gateway     *llm.Gateway
	memory      memory.Store // nil runs the turn memory-less
	instruction string       // configured default base instruction
	bus         *events.Bus
	logger      *slog.Logger

	now func() time.Time // injectable for tests
}

// NewConversationNode creates a conversation node. store may be nil
// (no durable memory); bus may be nil (no event publishing).
func NewConversationNode(gateway *llm.Gateway, store memory.Store, instruction string, bus *events.Bus, logger *slog.Logger) *ConversationNode {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationNode{
		gateway:     gateway,
		memory:      store,
		instruction: instruction,
		bus:         bus,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes one conversation turn and returns a delta holding the
// single assistant reply. The host merges it into thread state via
// [thread.Merge], which only ever appends.
//
// A provider failure propagates as the turn's error. Memory retrieval
// and the write policy degrade gracefully and never fail the turn.
func (n *ConversationNode) Run(ctx context.Context, state thread.State, cfg Config) (thread.Delta, error) {
	requestID := newRequestID()
	start := n.now()
	clientID := cfg.EffectiveClientID()

	logger := n.logger.With("request_id", requestID)
	logger.Info("turn started",
		"client", clientID,
		"messages", len(state.Messages),
		"model", cfg.Model,
	)
	n.publish(events.KindTurnStart, map[string]any{
		"request_id": requestID,
		"client_id":  clientID,
	})

	client, model := n.gateway.Resolve(cfg.Model)
	if client == nil {
		return thread.Delta{}, fmt.Errorf("no provider configured for model %q", model)
	}

	retrieval := memory.Retrieve(ctx, n.memory, clientID)
	if retrieval.Status == memory.StatusDegraded {
		logger.Warn("memory retrieval degraded, continuing without memories",
			"client", clientID, "error", retrieval.Err)
		n.publish(events.KindMemoryDegraded, map[string]any{
			"request_id": requestID,
			"client_id":  clientID,
			"error":      retrieval.Err.Error(),
		})
	}

	instruction := prompts.ResolveInstruction(cfg.SystemPrompt, n.instruction)
	system := prompts.SystemMessage(instruction, state.Profile, retrieval.Text)

	llmMessages := make([]llm.Message, 0, len(state.Messages)+1)
	llmMessages = append(llmMessages, llm.Message{Role: system.Role, Content: system.Content})
	for _, m := range state.Messages {
		llmMessages = append(llmMessages, llm.Message{Role: m.Role, Content: m.Content})
	}

	logger.Debug("calling model", "model", model, "messages", len(llmMessages))
	n.publish(events.KindLLMCall, map[string]any{
		"request_id": requestID,
		"model":      model,
	})

	resp, err := client.Chat(ctx, model, llmMessages)
	if err != nil {
		logger.Error("model call failed", "model", model, "error", err)
		return thread.Delta{}, fmt.Errorf("chat: %w", err)
	}

	n.publish(events.KindLLMResponse, map[string]any{
		"request_id": requestID,
		"model":      model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
	})

	n.applyWritePolicy(ctx, logger, requestID, clientID, state)

	elapsed := n.now().Sub(start)
	logger.Info("turn completed",
		"client", clientID,
		"model", model,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	n.publish(events.KindTurnComplete, map[string]any{
		"request_id": requestID,
		"model":      model,
		"elapsed_ms": elapsed.Milliseconds(),
	})

	return thread.Delta{
		Messages: []thread.Message{{
			Role:    thread.RoleAssistant,
			Content: resp.Message.Content,
		}},
	}, nil
}

// applyWritePolicy persists the last pre-existing user message when it
// triggers the remember policy. Runs after the reply is produced; the
// new assistant message is not a candidate. Failures are logged and
// dropped.
func (n *ConversationNode) applyWritePolicy(ctx context.Context, logger *slog.Logger, requestID, clientID string, state thread.State) {
	if n.memory == nil {
		return
	}

	last, ok := state.LastUserMessage()
	if !ok || !memory.Triggered(last.Content) {
		return
	}

	now := n.now()
	if err := memory.Remember(ctx, n.memory, clientID, last.Content, now); err != nil {
		logger.Warn("memory write failed", "client", clientID, "error", err)
		return
	}

	logger.Debug("memory stored", "client", clientID, "key", memory.Key(now))
	n.publish(events.KindMemoryWrite, map[string]any{
		"request_id": requestID,
		"client_id":  clientID,
		"key":        memory.Key(now),
	})
}

func (n *ConversationNode) publish(kind string, data map[string]any) {
	n.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      kind,
		Data:      data,
	})
}

// newRequestID returns a sortable unique ID for turn correlation.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
