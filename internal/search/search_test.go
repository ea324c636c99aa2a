package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"

	"taskboard/api/internal/tasks"
)

type fakeLister struct {
	tasks []tasks.Task
	err   error
}

func (f fakeLister) ListTasks(context.Context) ([]tasks.Task, error) {
	return f.tasks, f.err
}

func sampleTasks() []tasks.Task {
	return []tasks.Task{
		{ID: "t1", Title: "Graph algorithms", Description: "Present a traversal", OwnerID: "usr_a",
			Themes: []tasks.Theme{{Title: "Dijkstra"}, {Title: "BFS"}}},
		{ID: "t2", Title: "Databases", Description: "Normal forms", Instructions: "Use Postgres", OwnerID: "usr_b"},
		{ID: "t3", Title: "Graph databases", Description: "Neo4j versus Postgres", OwnerID: "usr_a"},
	}
}

func TestScanMatchesAllTerms(t *testing.T) {
	scan := NewScan(fakeLister{tasks: sampleTasks()})
	ctx := context.Background()

	results, total, err := scan.Search(ctx, Query{Text: "graph"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 || results[0].ID != "t1" || results[1].ID != "t3" {
		t.Fatalf("unexpected results: %d %+v", total, results)
	}

	results, _, _ = scan.Search(ctx, Query{Text: "dijkstra GRAPH"})
	if len(results) != 1 || results[0].ID != "t1" {
		t.Fatalf("expected theme titles to be searchable, got %+v", results)
	}

	results, _, _ = scan.Search(ctx, Query{Text: "postgres", OwnerID: "usr_b"})
	if len(results) != 1 || results[0].ID != "t2" {
		t.Fatalf("expected owner filter, got %+v", results)
	}
}

func TestScanPaginates(t *testing.T) {
	scan := NewScan(fakeLister{tasks: sampleTasks()})
	results, total, err := scan.Search(context.Background(), Query{Text: "a", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 3 || len(results) != 1 || results[0].ID != "t2" {
		t.Fatalf("unexpected page: %d %+v", total, results)
	}
	results, _, _ = scan.Search(context.Background(), Query{Text: "a", Offset: 10})
	if len(results) != 0 {
		t.Fatalf("expected empty page, got %+v", results)
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, NewScan(fakeLister{tasks: sampleTasks()}))
	resp := svc.Search(context.Background(), Query{Text: "databases"})
	if resp.Total != 2 || resp.Query != "databases" || len(resp.Results) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	empty := svc.Search(context.Background(), Query{Text: "   "})
	if empty.Results == nil || len(empty.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", empty.Results)
	}
}

func TestServiceSwallowsBackendErrors(t *testing.T) {
	svc := NewService(nil, NewScan(fakeLister{err: errors.New("store down")}))
	resp := svc.Search(context.Background(), Query{Text: "graph"})
	if resp.Total != 0 || resp.Results == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// Index calls are no-ops without Meilisearch.
	svc.IndexTask(TaskRecord{ID: "t1"})
	svc.DeleteTask("t1")
	svc.ReindexAll(context.Background(), fakeLister{})
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"t1"`),
		"title":       json.RawMessage(`"Graph algorithms"`),
		"description": json.RawMessage(`"Present a traversal"`),
		"dueDate":     json.RawMessage(`"2026-04-01"`),
		"ownerId":     json.RawMessage(`"usr_a"`),
		"_formatted":  json.RawMessage(`{"title":"<mark>Graph</mark> algorithms","themes":["BFS"]}`),
	}
	result := hitToResult(hit)
	if result.ID != "t1" || result.Title != "<mark>Graph</mark> algorithms" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Snippet != "Present a traversal" || result.DueDate != "2026-04-01" || result.OwnerID != "usr_a" {
		t.Fatalf("unexpected result fields: %+v", result)
	}
}

func TestRecordFromTask(t *testing.T) {
	record := RecordFromTask(sampleTasks()[0])
	if record.ID != "t1" || len(record.Themes) != 2 || record.Themes[1] != "BFS" {
		t.Fatalf("unexpected record: %+v", record)
	}
}
