// Package search finds tasks by title, description, instructions and theme.
package search

import (
	"context"

	"taskboard/api/internal/tasks"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	DueDate string `json:"dueDate"`
	OwnerID string `json:"ownerId"`
}

type Query struct {
	Text string
	// OwnerID restricts results to one professor's tasks when set.
	OwnerID string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Backend executes a full-text search.
type Backend interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Instructions string   `json:"instructions"`
	Themes       []string `json:"themes"`
	DueDate      string   `json:"dueDate"`
	OwnerID      string   `json:"ownerId"`
}

func RecordFromTask(task tasks.Task) TaskRecord {
	themes := make([]string, 0, len(task.Themes))
	for _, theme := range task.Themes {
		themes = append(themes, theme.Title)
	}
	return TaskRecord{
		ID:           task.ID,
		Title:        task.Title,
		Description:  task.Description,
		Instructions: task.Instructions,
		Themes:       themes,
		DueDate:      task.DueDate,
		OwnerID:      task.OwnerID,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
