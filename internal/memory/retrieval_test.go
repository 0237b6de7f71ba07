package memory

import (
	"context"
	"fmt"
	"testing"
)

// stubStore returns canned items or a canned error.
type stubStore struct {
	items []Item
	err   error

	searches int
	puts     []string // keys
	putNS    [][]string
	putItems []Item
}

func (s *stubStore) Search(ctx context.Context, namespace []string, limit int) ([]Item, error) {
	s.searches++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func (s *stubStore) Put(ctx context.Context, namespace []string, key string, item Item) error {
	if s.err != nil {
		return s.err
	}
	s.puts = append(s.puts, key)
	s.putNS = append(s.putNS, namespace)
	s.putItems = append(s.putItems, item)
	return nil
}

func TestRetrieveFormatsBullets(t *testing.T) {
	store := &stubStore{items: []Item{
		{Text: "a"},
		{Text: ""},
		{Text: "b"},
	}}

	r := Retrieve(context.Background(), store, "alice")
	if r.Status != StatusFound {
		t.Errorf("status = %v, want found", r.Status)
	}
	if r.Text != "- a\n- b" {
		t.Errorf("text = %q, want %q", r.Text, "- a\n- b")
	}
}

func TestRetrieveNilStore(t *testing.T) {
	r := Retrieve(context.Background(), nil, "alice")
	if r.Status != StatusEmpty || r.Text != "" || r.Err != nil {
		t.Errorf("retrieval = %+v, want clean empty", r)
	}
}

func TestRetrieveDegradedOnError(t *testing.T) {
	store := &stubStore{err: fmt.Errorf("store unreachable")}

	r := Retrieve(context.Background(), store, "alice")
	if r.Status != StatusDegraded {
		t.Errorf("status = %v, want degraded", r.Status)
	}
	if r.Text != "" {
		t.Errorf("text = %q, want empty", r.Text)
	}
	if r.Err == nil {
		t.Error("expected Err to carry the store failure")
	}
}

func TestRetrieveAllEmptyItems(t *testing.T) {
	store := &stubStore{items: []Item{{Text: ""}, {Text: ""}}}

	r := Retrieve(context.Background(), store, "alice")
	if r.Status != StatusEmpty || r.Text != "" {
		t.Errorf("retrieval = %+v, want empty with no blank bullets", r)
	}
}

func TestFormatBullets(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  string
	}{
		{"none", nil, ""},
		{"single", []Item{{Text: "x"}}, "- x"},
		{"mixed", []Item{{Text: "a"}, {Text: ""}, {Text: "b"}}, "- a\n- b"},
		{"all empty", []Item{{}, {}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatBullets(tt.items); got != tt.want {
				t.Errorf("formatBullets = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if StatusFound.String() != "found" || StatusEmpty.String() != "empty" || StatusDegraded.String() != "degraded" {
		t.Error("status names changed")
	}
}
