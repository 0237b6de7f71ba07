// Package ingest imports markdown documents into the memory store.
//
// Each top-level list item in the document becomes one memory item for
// the target client, so a hand-maintained notes file can seed what the
// agent remembers about a person.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/marlowe/recall-agent/internal/memory"
)

// MarkdownIngester parses markdown documents into memory items.
type MarkdownIngester struct {
	store  memory.Store
	logger *slog.Logger
}

// NewMarkdownIngester creates a markdown ingester writing to store.
func NewMarkdownIngester(store memory.Store, logger *slog.Logger) *MarkdownIngester {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownIngester{store: store, logger: logger}
}

// IngestFile reads a markdown file and stores its top-level list items
// as memories for clientID. Returns the number of items stored.
func (m *MarkdownIngester) IngestFile(ctx context.Context, clientID, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}
	return m.IngestString(ctx, clientID, string(data))
}

// IngestString stores the top-level list items of markdown content as
// memories for clientID.
func (m *MarkdownIngester) IngestString(ctx context.Context, clientID, content string) (int, error) {
	items := ParseListItems([]byte(content))

	namespace := memory.Namespace(clientID)
	now := time.Now().UTC()

	count := 0
	for i, txt := range items {
		// Space keys one millisecond apart so bulk items do not
		// collide on the same timestamp key.
		at := now.Add(time.Duration(i) * time.Millisecond)
		item := memory.Item{
			Text:      txt,
			CreatedAt: at.Format(time.RFC3339),
		}
		if err := m.store.Put(ctx, namespace, memory.Key(at), item); err != nil {
			m.logger.Warn("ingest item failed", "client", clientID, "error", err)
			continue
		}
		count++
	}

	return count, nil
}

// ParseListItems extracts the text of each top-level list item from
// markdown source. Nested lists are flattened into their parent item's
// text only when they share its text block; otherwise they are skipped.
func ParseListItems(source []byte) []string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var items []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		list, ok := node.(*ast.List)
		if !ok {
			continue
		}
		for li := list.FirstChild(); li != nil; li = li.NextSibling() {
			if txt := itemText(source, li); txt != "" {
				items = append(items, txt)
			}
		}
	}
	return items
}

// itemText collects the text of an item's direct blocks, skipping any
// nested list.
func itemText(source []byte, item ast.Node) string {
	var b strings.Builder
	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		if _, ok := child.(*ast.List); ok {
			continue
		}
		lines := child.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
	}
	return strings.TrimSpace(b.String())
}
