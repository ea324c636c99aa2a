package search

import (
	"context"
	"strings"

	"taskboard/api/internal/tasks"
)

// TaskLister is the part of the task repository the scan backend reads.
type TaskLister interface {
	ListTasks(ctx context.Context) ([]tasks.Task, error)
}

// Scan matches every query term as a case-insensitive substring of the task
// text. It serves the in-memory store, where there is no index to query.
type Scan struct {
	tasks TaskLister
}

func NewScan(lister TaskLister) *Scan {
	return &Scan{tasks: lister}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	all, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return nil, 0, err
	}

	matches := make([]Result, 0)
	for _, task := range all {
		if q.OwnerID != "" && task.OwnerID != q.OwnerID {
			continue
		}
		record := RecordFromTask(task)
		text := strings.ToLower(strings.Join(append([]string{record.Title, record.Description, record.Instructions}, record.Themes...), " "))
		if !containsAll(text, terms) {
			continue
		}
		matches = append(matches, Result{
			ID:      task.ID,
			Title:   task.Title,
			Snippet: snippet(task.Description, 160),
			DueDate: task.DueDate,
			OwnerID: task.OwnerID,
		})
	}

	total := len(matches)
	offset := q.Offset
	if offset < 0 || offset > total {
		offset = total
	}
	end := offset + normalizeLimit(q.Limit)
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

func snippet(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
