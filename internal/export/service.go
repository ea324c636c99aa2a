package export

import (
	"context"
	"fmt"
	"time"

	"taskboard/api/internal/reconcile"
	"taskboard/api/internal/tasks"
)

// DataSource is the part of the task repository an export reads.
type DataSource interface {
	GetTask(ctx context.Context, taskID string) (tasks.Task, error)
	ListGroups(ctx context.Context, taskID string) ([]tasks.Group, error)
}

type renderFunc func(ctx context.Context, html string, title string) (*Result, error)

type Service struct {
	source DataSource
	now    func() time.Time
	pdf    renderFunc
	docx   renderFunc
}

func NewService(source DataSource) *Service {
	return &Service{
		source: source,
		now:    time.Now,
		pdf:    renderPDF,
		docx:   renderDOCX,
	}
}

// Export renders the task sheet, themes annotated with their current
// availability, in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatPDF && req.Format != FormatDOCX {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	task, err := s.source.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	groups, err := s.source.ListGroups(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	html, err := RenderTaskHTML(TemplateData{
		Title:        task.Title,
		Description:  task.Description,
		DueDate:      task.DueDate,
		Instructions: task.Instructions,
		Criteria:     task.Criteria,
		Todolist:     task.Todolist,
		Materials:    task.Materials,
		Themes:       reconcile.Annotate(task.Themes, groups),
		Groups:       groups,
		GeneratedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	if req.Format == FormatPDF {
		return s.pdf(ctx, html, task.Title)
	}
	return s.docx(ctx, html, task.Title)
}
