package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/marlowe/recall-agent/internal/memory"
)

func TestParseListItems(t *testing.T) {
	content := `# Notes about Jane

Some introductory prose that should not become a memory.

- Prefers tea over coffee
- Works as a marine biologist
- Has a dog named Biscuit

More prose between lists.

* Allergic to peanuts
`

	items := ParseListItems([]byte(content))

	want := []string{
		"Prefers tea over coffee",
		"Works as a marine biologist",
		"Has a dog named Biscuit",
		"Allergic to peanuts",
	}
	if len(items) != len(want) {
		t.Fatalf("items = %d, want %d: %v", len(items), len(want), items)
	}
	for i, w := range want {
		if items[i] != w {
			t.Errorf("item %d = %q, want %q", i, items[i], w)
		}
	}
}

func TestParseListItemsSkipsNested(t *testing.T) {
	content := `- Top level item
  - nested detail one
  - nested detail two
- Another top level item
`

	items := ParseListItems([]byte(content))
	if len(items) != 2 {
		t.Fatalf("items = %v, want 2 top-level items", items)
	}
	if items[0] != "Top level item" || items[1] != "Another top level item" {
		t.Errorf("items = %v", items)
	}
	for _, it := range items {
		if strings.Contains(it, "nested") {
			t.Errorf("nested text leaked into %q", it)
		}
	}
}

func TestParseListItemsEmpty(t *testing.T) {
	if items := ParseListItems([]byte("just prose, no lists")); len(items) != 0 {
		t.Errorf("items = %v, want none", items)
	}
}

type recordingStore struct {
	keys  []string
	ns    []string
	items []memory.Item
}

func (r *recordingStore) Search(ctx context.Context, namespace []string, limit int) ([]memory.Item, error) {
	return nil, nil
}

func (r *recordingStore) Put(ctx context.Context, namespace []string, key string, item memory.Item) error {
	r.ns = append(r.ns, strings.Join(namespace, "/"))
	r.keys = append(r.keys, key)
	r.items = append(r.items, item)
	return nil
}

func TestIngestString(t *testing.T) {
	store := &recordingStore{}
	ing := NewMarkdownIngester(store, nil)

	count, err := ing.IngestString(context.Background(), "jane", "- likes tea\n- hates mornings\n")
	if err != nil {
		t.Fatalf("IngestString() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	for _, ns := range store.ns {
		if ns != "memories/jane" {
			t.Errorf("namespace = %q", ns)
		}
	}
	if store.items[0].Text != "likes tea" || store.items[1].Text != "hates mornings" {
		t.Errorf("items = %+v", store.items)
	}

	// Keys are distinct even within the same millisecond.
	if store.keys[0] == store.keys[1] {
		t.Errorf("keys collided: %q", store.keys[0])
	}
	if store.items[0].CreatedAt == "" {
		t.Error("CreatedAt not set")
	}
}
