package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/marlowe/recall-agent/internal/events"
	"github.com/marlowe/recall-agent/internal/llm"
	"github.com/marlowe/recall-agent/internal/memory"
	"github.com/marlowe/recall-agent/internal/thread"
)

// fakeLLM records the requests it receives and returns a canned reply.
type fakeLLM struct {
	calls   [][]llm.Message
	models  []string
	content string
	err     error
}

func (f *fakeLLM) Chat(ctx context.Context, model string, messages []llm.Message) (*llm.ChatResponse, error) {
	f.calls = append(f.calls, messages)
	f.models = append(f.models, model)
	if f.err != nil {
		return nil, f.err
	}
	content := f.content
	if content == "" {
		content = "canned reply"
	}
	return &llm.ChatResponse{
		Model:   model,
		Message: llm.Message{Role: "assistant", Content: content},
	}, nil
}

func (f *fakeLLM) Ping(ctx context.Context) error { return f.err }

// fakeStore is an in-memory memory.Store with failure injection.
type fakeStore struct {
	items     []memory.Item
	searchErr error
	putErr    error

	searches []string // namespaces searched, joined with "/"
	putKeys  []string
	putNS    []string
	putItems []memory.Item
}

func (f *fakeStore) Search(ctx context.Context, namespace []string, limit int) ([]memory.Item, error) {
	f.searches = append(f.searches, strings.Join(namespace, "/"))
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.items, nil
}

func (f *fakeStore) Put(ctx context.Context, namespace []string, key string, item memory.Item) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.putNS = append(f.putNS, strings.Join(namespace, "/"))
	f.putKeys = append(f.putKeys, key)
	f.putItems = append(f.putItems, item)
	return nil
}

func newTestNode(client llm.Client, store memory.Store) *ConversationNode {
	gw := llm.NewGateway("test-model", client)
	return NewConversationNode(gw, store, "", nil, nil)
}

func userState(contents ...string) thread.State {
	var s thread.State
	for i, c := range contents {
		role := thread.RoleUser
		if i%2 == 1 {
			role = thread.RoleAssistant
		}
		s.Messages = append(s.Messages, thread.Message{Role: role, Content: c})
	}
	return s
}

func TestRunReturnsSingleAssistantMessage(t *testing.T) {
	node := newTestNode(&fakeLLM{content: "hello!"}, nil)
	state := userState("hi")

	delta, err := node.Run(context.Background(), state, Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(delta.Messages) != 1 {
		t.Fatalf("delta messages = %d, want exactly 1", len(delta.Messages))
	}
	if delta.Messages[0].Role != thread.RoleAssistant || delta.Messages[0].Content != "hello!" {
		t.Errorf("reply = %+v", delta.Messages[0])
	}

	// Merging only appends — prior entries untouched, in order.
	merged := thread.Merge(state, delta)
	if len(merged.Messages) != 2 || merged.Messages[0].Content != "hi" {
		t.Errorf("merged = %+v", merged.Messages)
	}
}

func TestRunPrependsSystemMessage(t *testing.T) {
	client := &fakeLLM{}
	node := newTestNode(client, nil)

	_, err := node.Run(context.Background(), userState("hi", "hello", "again"), Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := client.calls[0]
	if len(sent) != 4 {
		t.Fatalf("sent = %d messages, want system + 3 history", len(sent))
	}
	if sent[0].Role != "system" {
		t.Errorf("first message role = %q", sent[0].Role)
	}
	if !strings.HasPrefix(sent[0].Content, "You are a helpful assistant.") {
		t.Errorf("system content = %q, want default instruction", sent[0].Content)
	}
	// History follows in original order.
	if sent[1].Content != "hi" || sent[3].Content != "again" {
		t.Errorf("history order disturbed: %+v", sent[1:])
	}
}

func TestRunSystemPromptOverride(t *testing.T) {
	client := &fakeLLM{}
	node := newTestNode(client, nil)

	_, err := node.Run(context.Background(), userState("hi"), Config{SystemPrompt: "Talk like a pirate."})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := client.calls[0][0].Content; got != "Talk like a pirate." {
		t.Errorf("system = %q", got)
	}
}

func TestRunModelResolution(t *testing.T) {
	client := &fakeLLM{}
	node := newTestNode(client, nil)
	ctx := context.Background()

	if _, err := node.Run(ctx, userState("hi"), Config{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := node.Run(ctx, userState("hi"), Config{Model: "override-model"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if client.models[0] != "test-model" {
		t.Errorf("default model = %q", client.models[0])
	}
	if client.models[1] != "override-model" {
		t.Errorf("override model = %q", client.models[1])
	}
}

func TestRunIncludesMemories(t *testing.T) {
	client := &fakeLLM{}
	store := &fakeStore{items: []memory.Item{{Text: "a"}, {Text: ""}, {Text: "b"}}}
	node := newTestNode(client, store)

	_, err := node.Run(context.Background(), userState("hi"), Config{ClientID: "alice"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(store.searches) != 1 || store.searches[0] != "memories/alice" {
		t.Errorf("searches = %v", store.searches)
	}
	system := client.calls[0][0].Content
	if !strings.Contains(system, "What you remember about this user:\n- a\n- b") {
		t.Errorf("system = %q, want memory bullets", system)
	}
}

func TestRunMemoryStoreFailureDegrades(t *testing.T) {
	client := &fakeLLM{}
	store := &fakeStore{searchErr: fmt.Errorf("store unreachable")}

	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	gw := llm.NewGateway("test-model", client)
	node := NewConversationNode(gw, store, "", bus, nil)

	delta, err := node.Run(context.Background(), userState("hi"), Config{ClientID: "alice"})
	if err != nil {
		t.Fatalf("store failure must not fail the turn: %v", err)
	}
	if len(delta.Messages) != 1 {
		t.Fatalf("delta messages = %d", len(delta.Messages))
	}
	if strings.Contains(client.calls[0][0].Content, "What you remember") {
		t.Error("degraded retrieval leaked a memory block into the prompt")
	}

	var sawDegraded bool
	for len(ch) > 0 {
		if e := <-ch; e.Kind == events.KindMemoryDegraded {
			sawDegraded = true
		}
	}
	if !sawDegraded {
		t.Error("expected a memory_degraded event")
	}
}

func TestRunNoStoreConfigured(t *testing.T) {
	node := newTestNode(&fakeLLM{}, nil)

	delta, err := node.Run(context.Background(), userState("Please remember I like tea"), Config{})
	if err != nil {
		t.Fatalf("memory-less run: %v", err)
	}
	if len(delta.Messages) != 1 {
		t.Errorf("delta messages = %d", len(delta.Messages))
	}
}

func TestRunLLMErrorPropagates(t *testing.T) {
	node := newTestNode(&fakeLLM{err: fmt.Errorf("provider down")}, nil)

	_, err := node.Run(context.Background(), userState("hi"), Config{})
	if err == nil {
		t.Fatal("expected provider failure to propagate")
	}
}

func TestWritePolicyTriggers(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantPuts int
	}{
		{"remember triggers", "Please remember I like tea", 1},
		{"uppercase triggers", "REMEMBER this", 1},
		{"no trigger", "What's the weather?", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			node := newTestNode(&fakeLLM{}, store)

			_, err := node.Run(context.Background(), userState(tt.message), Config{ClientID: "alice"})
			if err != nil {
				t.Fatalf("run: %v", err)
			}

			if len(store.putKeys) != tt.wantPuts {
				t.Fatalf("puts = %d, want %d", len(store.putKeys), tt.wantPuts)
			}
			if tt.wantPuts == 1 {
				if store.putNS[0] != "memories/alice" {
					t.Errorf("namespace = %q", store.putNS[0])
				}
				if !strings.HasPrefix(store.putKeys[0], "mem_") {
					t.Errorf("key = %q", store.putKeys[0])
				}
				if store.putItems[0].Text != tt.message {
					t.Errorf("stored text = %q, want verbatim message", store.putItems[0].Text)
				}
			}
		})
	}
}

func TestWritePolicyUsesLastUserMessage(t *testing.T) {
	store := &fakeStore{}
	// Assistant reply contains "remember" but the candidate is the
	// last user message, which does not.
	node := newTestNode(&fakeLLM{content: "I will remember that"}, store)

	state := userState("remember my birthday", "Noted!", "thanks")
	_, err := node.Run(context.Background(), state, Config{ClientID: "alice"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(store.putKeys) != 0 {
		t.Errorf("puts = %d, want 0 (last user message has no trigger)", len(store.putKeys))
	}
}

func TestWritePolicyFailureIgnored(t *testing.T) {
	store := &fakeStore{putErr: fmt.Errorf("disk full")}
	node := newTestNode(&fakeLLM{}, store)

	delta, err := node.Run(context.Background(), userState("remember this"), Config{})
	if err != nil {
		t.Fatalf("write failure must not fail the turn: %v", err)
	}
	if len(delta.Messages) != 1 {
		t.Errorf("delta messages = %d", len(delta.Messages))
	}
}

func TestDefaultClientID(t *testing.T) {
	store := &fakeStore{}
	node := newTestNode(&fakeLLM{}, store)

	_, err := node.Run(context.Background(), userState("remember the milk"), Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if store.searches[0] != "memories/default" {
		t.Errorf("search namespace = %q, want memories/default", store.searches[0])
	}
	if store.putNS[0] != "memories/default" {
		t.Errorf("put namespace = %q, want memories/default", store.putNS[0])
	}
}

func TestRunIdempotentPromptUnderOutage(t *testing.T) {
	client := &fakeLLM{}
	store := &fakeStore{searchErr: fmt.Errorf("down")}
	node := newTestNode(client, store)
	state := userState("hi")

	for i := 0; i < 2; i++ {
		if _, err := node.Run(context.Background(), state, Config{ClientID: "alice"}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if client.calls[0][0].Content != client.calls[1][0].Content {
		t.Errorf("system message differed across identical runs:\n%q\n%q",
			client.calls[0][0].Content, client.calls[1][0].Content)
	}
}
