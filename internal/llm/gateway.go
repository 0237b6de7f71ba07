package llm

import (
	"context"
	"fmt"
)

// FallbackModel is used when neither the request nor the configuration
// names a model.
const FallbackModel = "claude-sonnet-4-20250514"

// Gateway routes requests to the appropriate provider based on model
// name, and resolves the effective model identifier for a turn:
// per-request override, then the configured default, then
// [FallbackModel]. Constructing a Gateway performs no network I/O.
type Gateway struct {
	providers    map[string]Client // provider name → client
	models       map[string]string // model name → provider name
	fallback     Client            // client for unrouted models
	defaultModel string
}

// NewGateway creates a gateway with a default model name and a fallback
// client for models that are not explicitly routed.
func NewGateway(defaultModel string, fallback Client) *Gateway {
	return &Gateway{
		providers:    make(map[string]Client),
		models:       make(map[string]string),
		fallback:     fallback,
		defaultModel: defaultModel,
	}
}

// AddProvider registers a client for a provider name.
func (g *Gateway) AddProvider(name string, client Client) {
	g.providers[name] = client
}

// AddModel maps a model name to a provider. The provider must already
// be registered.
func (g *Gateway) AddModel(modelName, providerName string) error {
	if _, ok := g.providers[providerName]; !ok {
		return fmt.Errorf("model %q: unknown provider %q", modelName, providerName)
	}
	g.models[modelName] = providerName
	return nil
}

// Resolve returns the client and effective model name for a request.
// override is the per-request model; empty means use the default.
func (g *Gateway) Resolve(override string) (Client, string) {
	model := override
	if model == "" {
		model = g.defaultModel
	}
	if model == "" {
		model = FallbackModel
	}
	return g.clientFor(model), model
}

func (g *Gateway) clientFor(model string) Client {
	if provider, ok := g.models[model]; ok {
		if client, ok := g.providers[provider]; ok {
			return client
		}
	}
	return g.fallback
}

// Chat resolves the model and sends the request to its provider.
func (g *Gateway) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	client, effective := g.Resolve(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", effective)
	}
	return client.Chat(ctx, effective, messages)
}

// Ping checks the fallback provider.
func (g *Gateway) Ping(ctx context.Context) error {
	if g.fallback != nil {
		return g.fallback.Ping(ctx)
	}
	return fmt.Errorf("no fallback client configured")
}
