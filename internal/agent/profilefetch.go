package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/marlowe/recall-agent/internal/events"
	"github.com/marlowe/recall-agent/internal/profile"
	"github.com/marlowe/recall-agent/internal/thread"
)

// ProfileFetchNode resolves the client profile before the conversation
// node runs. It never raises: lookup failures and unknown clients both
// yield an empty delta, so a directory outage can never block a
// conversation. The fetched profile replaces any previously stored one
// via the container's last-write-wins merge.
type ProfileFetchNode struct {
	source profile.Source // nil disables lookup
	bus    *events.Bus
	logger *slog.Logger
}

// NewProfileFetchNode creates a profile fetch node. source may be nil.
func NewProfileFetchNode(source profile.Source, bus *events.Bus, logger *slog.Logger) *ProfileFetchNode {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileFetchNode{source: source, bus: bus, logger: logger}
}

// Run looks up the profile for the request's client ID. An empty
// client ID skips the lookup entirely — the source is not called.
func (n *ProfileFetchNode) Run(ctx context.Context, state thread.State, cfg Config) thread.Delta {
	if n.source == nil || cfg.ClientID == "" {
		return thread.Delta{}
	}

	p, err := n.source.GetProfile(ctx, cfg.ClientID)
	if err != nil {
		n.logger.Warn("profile lookup failed, continuing without profile",
			"client", cfg.ClientID, "error", err)
		n.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindProfileMiss,
			Data:      map[string]any{"client_id": cfg.ClientID, "error": err.Error()},
		})
		return thread.Delta{}
	}
	if p == nil {
		n.logger.Debug("no profile for client", "client", cfg.ClientID)
		n.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindProfileMiss,
			Data:      map[string]any{"client_id": cfg.ClientID},
		})
		return thread.Delta{}
	}

	return thread.Delta{Profile: p}
}
