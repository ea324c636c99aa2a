package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/api/internal/tasks"
)

// GroupAppender persists a group unless its theme is already claimed, in
// which case it returns tasks.ErrThemeTaken.
type GroupAppender interface {
	AppendGroup(ctx context.Context, taskID string, group tasks.Group) (tasks.Group, error)
}

// Request is a student's registration form. ThemeIndex is negative when no
// theme was picked.
type Request struct {
	ThemeIndex int
	Name       string
	Members    []string
	CreatedBy  string
}

type Registrar struct {
	groups GroupAppender
	now    func() time.Time
}

func NewRegistrar(groups GroupAppender) *Registrar {
	return &Registrar{groups: groups, now: func() time.Time { return time.Now().UTC() }}
}

// Prepare runs the registration checks in order against the last known task
// and groups and returns the group to store. It has no side effects.
func Prepare(task tasks.Task, groups []tasks.Group, req Request) (tasks.Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return tasks.Group{}, &ValidationError{Message: MsgMissingName}
	}
	if len(req.Members) == 0 {
		return tasks.Group{}, &ValidationError{Message: MsgIncompleteMembers}
	}
	members := make([]string, 0, len(req.Members))
	for _, member := range req.Members {
		member = strings.TrimSpace(member)
		if member == "" {
			return tasks.Group{}, &ValidationError{Message: MsgIncompleteMembers}
		}
		members = append(members, member)
	}

	if req.ThemeIndex < 0 || req.ThemeIndex >= len(task.Themes) {
		return tasks.Group{}, &ValidationError{Message: MsgThemeNotSelected}
	}
	annotated := Annotate(task.Themes, groups)
	theme := annotated[req.ThemeIndex]
	if !theme.Available {
		return tasks.Group{}, &ConflictError{Message: MsgThemeUnavailable}
	}

	return tasks.Group{
		Name:      name,
		Members:   members,
		Theme:     theme.Title,
		CreatedBy: req.CreatedBy,
	}, nil
}

// Commit stores a prepared group. A theme claimed since the caller's view
// was taken surfaces as a ConflictError.
func (r *Registrar) Commit(ctx context.Context, taskID string, group tasks.Group) (tasks.Group, error) {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = r.now()
	}
	stored, err := r.groups.AppendGroup(ctx, taskID, group)
	if errors.Is(err, tasks.ErrThemeTaken) {
		return tasks.Group{}, &ConflictError{Message: MsgThemeUnavailable}
	}
	if err != nil {
		return tasks.Group{}, fmt.Errorf("register group: %w", err)
	}
	return stored, nil
}

// RegisterGroup validates req against the caller's view of the task and its
// groups and stores the new group. Nothing is written when it fails.
func (r *Registrar) RegisterGroup(ctx context.Context, task tasks.Task, groups []tasks.Group, req Request) (tasks.Group, error) {
	group, err := Prepare(task, groups, req)
	if err != nil {
		return tasks.Group{}, err
	}
	return r.Commit(ctx, task.ID, group)
}
