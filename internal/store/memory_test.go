package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReadNestsChildRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Write(ctx, "tasks/t1", map[string]any{"title": "Graphs", "themes": []string{"BFS"}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	groupID, err := s.Append(ctx, "tasks/t1/groups", map[string]any{"name": "Alpha", "theme": "BFS"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	snapshot, err := s.Read(ctx, "tasks/t1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var task struct {
		Title  string                       `json:"title"`
		Themes []string                     `json:"themes"`
		Groups map[string]map[string]string `json:"groups"`
	}
	if err := snapshot.Decode(&task); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if task.Title != "Graphs" || len(task.Themes) != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Groups[groupID]["name"] != "Alpha" {
		t.Fatalf("expected group %s nested under groups, got %+v", groupID, task.Groups)
	}

	collection, err := s.Read(ctx, "tasks")
	if err != nil {
		t.Fatalf("Read(tasks) error = %v", err)
	}
	children, err := collection.Children()
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 1 || children[0].Key() != "t1" {
		t.Fatalf("unexpected children: %+v", children)
	}
}

func TestReadMissingPath(t *testing.T) {
	snapshot, err := NewMemoryStore().Read(context.Background(), "tasks/none")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if snapshot.Exists() {
		t.Fatal("expected missing snapshot")
	}
	var target map[string]any
	if err := snapshot.Decode(&target); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidPathsAreRejected(t *testing.T) {
	s := NewMemoryStore()
	for _, path := range []string{"", "/", "tasks//x", "tasks/../users"} {
		if err := s.Write(context.Background(), path, map[string]any{}); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Write(%q) expected ErrInvalidPath, got %v", path, err)
		}
	}
}

func TestWriteReplacesSubtree(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "Old", "criteria": "x"})
	_, _ = s.Append(ctx, "tasks/t1/groups", map[string]any{"name": "Alpha"})

	if err := s.Write(ctx, "tasks/t1", map[string]any{"title": "New"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	snapshot, _ := s.Read(ctx, "tasks/t1")
	var task map[string]any
	_ = snapshot.Decode(&task)
	if task["title"] != "New" {
		t.Fatalf("expected replaced title, got %v", task["title"])
	}
	if _, ok := task["criteria"]; ok {
		t.Fatal("expected criteria to be dropped by full replace")
	}
	if _, ok := task["groups"]; ok {
		t.Fatal("expected child groups to be dropped by full replace")
	}
}

func TestMergeKeepsOtherFieldsAndChildren(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "Old", "criteria": "x", "legacy": true})
	_, _ = s.Append(ctx, "tasks/t1/groups", map[string]any{"name": "Alpha"})

	if err := s.Merge(ctx, "tasks/t1", map[string]any{"title": "New", "legacy": nil}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	snapshot, _ := s.Read(ctx, "tasks/t1")
	var task map[string]any
	_ = snapshot.Decode(&task)
	if task["title"] != "New" || task["criteria"] != "x" {
		t.Fatalf("unexpected merged task: %+v", task)
	}
	if _, ok := task["legacy"]; ok {
		t.Fatal("expected nil field to be removed")
	}
	if _, ok := task["groups"]; !ok {
		t.Fatal("expected child groups to survive merge")
	}
}

func TestMergeIntoScalarFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Write(ctx, "settings/flag", true)
	if err := s.Merge(ctx, "settings/flag", map[string]any{"x": 1}); err == nil {
		t.Fatal("expected merge into scalar to fail")
	}
}

func TestCreateRejectsExistingPath(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, "accounts/a", map[string]any{"email": "a@x.io"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := s.Create(ctx, "accounts/a", map[string]any{"email": "b@x.io"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "create" {
		t.Fatalf("expected StoreError for create, got %#v", err)
	}
}

func TestAppendKeysAreOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	names := []string{"first", "second", "third"}
	for _, name := range names {
		if _, err := s.Append(ctx, "log", map[string]any{"name": name}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	snapshot, _ := s.Read(ctx, "log")
	children, err := snapshot.Children()
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != len(names) {
		t.Fatalf("expected %d children, got %d", len(names), len(children))
	}
	for i, child := range children {
		var item map[string]string
		_ = child.Decode(&item)
		if item["name"] != names[i] {
			t.Fatalf("child %d = %q, want %q", i, item["name"], names[i])
		}
	}
}

func TestAppendUniqueRejectsDuplicateField(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "A"})
	_ = s.Write(ctx, "tasks/t2", map[string]any{"title": "B"})
	if _, err := s.AppendUnique(ctx, "tasks/t1/groups", "theme", "Graphs", map[string]any{"theme": "Graphs"}); err != nil {
		t.Fatalf("AppendUnique() error = %v", err)
	}
	if _, err := s.AppendUnique(ctx, "tasks/t1/groups", "theme", "Graphs", map[string]any{"theme": "Graphs"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.AppendUnique(ctx, "tasks/t1/groups", "theme", "graphs", map[string]any{"theme": "graphs"}); err != nil {
		t.Fatalf("expected case-sensitive match, got %v", err)
	}
	if _, err := s.AppendUnique(ctx, "tasks/t2/groups", "theme", "Graphs", map[string]any{"theme": "Graphs"}); err != nil {
		t.Fatalf("expected other collection to be independent, got %v", err)
	}
}

func TestAppendUniqueConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "A"})

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendUnique(ctx, "tasks/t1/groups", "theme", "Graphs", map[string]any{"theme": "Graphs"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful append, got %d", successes)
	}
}

func TestAppendUniqueRequiresOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "A"})
	if err := s.Delete(ctx, "tasks/t1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := s.AppendUnique(ctx, "tasks/t1/groups", "theme", "Graphs", map[string]any{"theme": "Graphs"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	snapshot, _ := s.Read(ctx, "tasks/t1")
	if snapshot.Exists() {
		t.Fatalf("expected deleted task to stay gone, got %s", snapshot.Value)
	}
}

func TestAppendUniqueRacingOwnerDelete(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 50; round++ {
		s := NewMemoryStore()
		_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "A"})

		var wg sync.WaitGroup
		wg.Add(2)
		var appendErr error
		go func() {
			defer wg.Done()
			_, appendErr = s.AppendUnique(ctx, "tasks/t1/groups", "theme", "Graphs", map[string]any{"theme": "Graphs"})
		}()
		go func() {
			defer wg.Done()
			_ = s.Delete(ctx, "tasks/t1")
		}()
		wg.Wait()

		if appendErr != nil && !errors.Is(appendErr, ErrNotFound) {
			t.Fatalf("round %d: unexpected error %v", round, appendErr)
		}
		snapshot, _ := s.Read(ctx, "tasks/t1")
		if snapshot.Exists() {
			t.Fatalf("round %d: task came back after delete: %s", round, snapshot.Value)
		}
	}
}

func TestMergeMissingPathFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.Merge(ctx, "tasks/ghost", map[string]any{"title": "X"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	snapshot, _ := s.Read(ctx, "tasks/ghost")
	if snapshot.Exists() {
		t.Fatal("expected merge to leave nothing behind")
	}
}

func TestDeleteRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "A"})
	_, _ = s.Append(ctx, "tasks/t1/groups", map[string]any{"name": "Alpha"})
	_ = s.Write(ctx, "tasks/t10", map[string]any{"title": "B"})

	if err := s.Delete(ctx, "tasks/t1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	gone, _ := s.Read(ctx, "tasks/t1")
	if gone.Exists() {
		t.Fatal("expected task subtree to be gone")
	}
	kept, _ := s.Read(ctx, "tasks/t10")
	if !kept.Exists() {
		t.Fatal("expected sibling with shared prefix to survive")
	}
}

func TestSubscribeDeliversCurrentValueThenChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()
	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "Before"})

	snapshots := make(chan Snapshot, 16)
	sub, err := s.Subscribe(ctx, "tasks/t1", func(snapshot Snapshot) {
		snapshots <- snapshot
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	first := waitSnapshot(t, snapshots)
	if titleOf(t, first) != "Before" {
		t.Fatalf("expected initial snapshot, got %s", first.Value)
	}

	_ = s.Merge(ctx, "tasks/t1", map[string]any{"title": "After"})
	if got := waitForTitle(t, snapshots, "After"); got != "After" {
		t.Fatalf("expected updated title, got %q", got)
	}

	// Writes in a child collection reach the parent subscription.
	_, _ = s.Append(ctx, "tasks/t1/groups", map[string]any{"name": "Alpha"})
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot := <-snapshots:
			var task map[string]json.RawMessage
			_ = snapshot.Decode(&task)
			if _, ok := task["groups"]; ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for group snapshot")
		}
	}
}

func TestSubscribeIgnoresUnrelatedPaths(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	snapshots := make(chan Snapshot, 16)
	sub, _ := s.Subscribe(ctx, "tasks/t1", func(snapshot Snapshot) { snapshots <- snapshot })
	defer sub.Close()
	waitSnapshot(t, snapshots)

	_ = s.Write(ctx, "tasks/t2", map[string]any{"title": "Other"})
	_ = s.Write(ctx, "tasks/t10", map[string]any{"title": "Prefix"})
	select {
	case snapshot := <-snapshots:
		t.Fatalf("unexpected snapshot for unrelated write: %s", snapshot.Value)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedSubscriptionStopsDelivering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	snapshots := make(chan Snapshot, 16)
	sub, _ := s.Subscribe(ctx, "tasks/t1", func(snapshot Snapshot) { snapshots <- snapshot })
	waitSnapshot(t, snapshots)
	sub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription was not released")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = s.Write(ctx, "tasks/t1", map[string]any{"title": "Late"})
	select {
	case snapshot := <-snapshots:
		t.Fatalf("unexpected snapshot after close: %s", snapshot.Value)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitSnapshot(t *testing.T, snapshots <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snapshot := <-snapshots:
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func waitForTitle(t *testing.T, snapshots <-chan Snapshot, want string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot := <-snapshots:
			if title := titleOf(t, snapshot); title == want {
				return title
			}
		case <-deadline:
			t.Fatalf("timed out waiting for title %q", want)
		}
	}
}

func titleOf(t *testing.T, snapshot Snapshot) string {
	t.Helper()
	var task map[string]any
	if err := snapshot.Decode(&task); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	title, _ := task["title"].(string)
	return title
}
