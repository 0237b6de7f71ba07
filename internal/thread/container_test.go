package thread

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/marlowe/recall-agent/internal/profile"
)

// containerTest runs the shared Container contract tests against an
// implementation.
func containerTest(t *testing.T, c Container) {
	t.Helper()
	ctx := context.Background()

	// Unknown thread loads empty.
	s, err := c.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.Messages) != 0 || s.Profile != nil {
		t.Fatalf("fresh thread not empty: %+v", s)
	}

	// Appends accumulate in order across Applies.
	_, err = c.Apply(ctx, "t1", Delta{Messages: []Message{
		{Role: RoleUser, Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	s, err = c.Apply(ctx, "t1", Delta{Messages: []Message{
		{Role: RoleAssistant, Content: "hello"},
	}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(s.Messages) != 2 || s.Messages[0].Content != "hi" || s.Messages[1].Content != "hello" {
		t.Fatalf("messages = %+v", s.Messages)
	}

	// Profile is last-write-wins and survives message-only deltas.
	s, err = c.Apply(ctx, "t1", Delta{Profile: &profile.Profile{ID: "c1", FirstName: "Jane"}})
	if err != nil {
		t.Fatalf("apply profile: %v", err)
	}
	if s.Profile == nil || s.Profile.FirstName != "Jane" {
		t.Fatalf("profile = %+v", s.Profile)
	}
	s, err = c.Apply(ctx, "t1", Delta{Messages: []Message{{Role: RoleUser, Content: "more"}}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Profile == nil || s.Profile.FirstName != "Jane" {
		t.Errorf("profile lost on message-only delta: %+v", s.Profile)
	}

	// Threads are isolated.
	other, err := c.Load(ctx, "t2")
	if err != nil {
		t.Fatalf("load t2: %v", err)
	}
	if len(other.Messages) != 0 {
		t.Errorf("t2 sees t1 messages: %+v", other.Messages)
	}
}

func TestMemoryContainer(t *testing.T) {
	containerTest(t, NewMemoryContainer())
}

func TestSQLiteContainer(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c, err := NewSQLiteContainer(db)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	containerTest(t, c)
}

func TestSQLiteContainerPersistsAcrossInstances(t *testing.T) {
	db, err := sql.Open("sqlite", "file:threadtest?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c1, err := NewSQLiteContainer(db)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	ctx := context.Background()
	if _, err := c1.Apply(ctx, "t1", Delta{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// A second container over the same database sees the history.
	c2, err := NewSQLiteContainer(db)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	s, err := c2.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.Messages) != 1 || s.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", s.Messages)
	}
}

func TestMemoryContainerCopyOnRead(t *testing.T) {
	c := NewMemoryContainer()
	ctx := context.Background()

	if _, err := c.Apply(ctx, "t1", Delta{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	s, _ := c.Load(ctx, "t1")
	s.Messages[0].Content = "mutated"

	s2, _ := c.Load(ctx, "t1")
	if s2.Messages[0].Content != "hi" {
		t.Error("container state was mutated through a loaded copy")
	}
}
