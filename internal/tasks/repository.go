// Package tasks maps task, theme, group and user operations onto the path
// store. Layout:
//
//	users/{userId}                    {email, type}
//	tasks/{taskId}                    task record with the ordered themes array
//	tasks/{taskId}/groups/{groupId}   one registered group
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskboard/api/internal/store"
)

var (
	ErrTaskNotFound     = fmt.Errorf("task %w", store.ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", store.ErrNotFound)
	ErrMaterialNotFound = fmt.Errorf("material %w", store.ErrNotFound)

	// ErrThemeTaken is returned by AppendGroup when another group already
	// claims the theme title.
	ErrThemeTaken = errors.New("theme already taken")
)

const tasksRoot = "tasks"

type Repository struct {
	store store.Store
	now   func() time.Time
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func TaskPath(taskID string) string {
	return store.Join(tasksRoot, taskID)
}

func GroupsPath(taskID string) string {
	return store.Join(tasksRoot, taskID, "groups")
}

func userPath(userID string) string {
	return store.Join("users", userID)
}

type taskRecord struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	DueDate      string     `json:"dueDate"`
	Instructions string     `json:"instructions"`
	Criteria     string     `json:"criteria"`
	Materials    []Material `json:"materials"`
	Todolist     []string   `json:"todolist"`
	Themes       []Theme    `json:"themes"`
	OwnerID      string     `json:"ownerId"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type groupRecord struct {
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	Theme     string    `json:"theme"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *Repository) CreateTask(ctx context.Context, ownerID string, input TaskInput) (Task, error) {
	now := r.now()
	record := taskRecord{
		Title:        input.Title,
		Description:  input.Description,
		DueDate:      input.DueDate,
		Instructions: input.Instructions,
		Criteria:     input.Criteria,
		Materials:    []Material{},
		Todolist:     nonNilStrings(input.Todolist),
		Themes:       nonNilThemes(input.Themes),
		OwnerID:      ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := r.store.Append(ctx, tasksRoot, record)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return Task{
		ID:           id,
		Title:        record.Title,
		Description:  record.Description,
		DueDate:      record.DueDate,
		Instructions: record.Instructions,
		Criteria:     record.Criteria,
		Materials:    record.Materials,
		Todolist:     record.Todolist,
		Themes:       record.Themes,
		Groups:       []Group{},
		OwnerID:      ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *Repository) GetTask(ctx context.Context, taskID string) (Task, error) {
	snapshot, err := r.store.Read(ctx, TaskPath(taskID))
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	if !snapshot.Exists() {
		return Task{}, ErrTaskNotFound
	}
	return decodeTask(taskID, snapshot.Value)
}

// ListTasks returns every task in creation order.
func (r *Repository) ListTasks(ctx context.Context) ([]Task, error) {
	snapshot, err := r.store.Read(ctx, tasksRoot)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	children, err := snapshot.Children()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]Task, 0, len(children))
	for _, child := range children {
		task, err := decodeTask(child.Key(), child.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (r *Repository) ListTasksByOwner(ctx context.Context, ownerID string) ([]Task, error) {
	all, err := r.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(all))
	for _, task := range all {
		if task.OwnerID == ownerID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (r *Repository) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (Task, error) {
	if err := r.requireTask(ctx, taskID); err != nil {
		return Task{}, err
	}
	fields := update.fields()
	fields["updatedAt"] = r.now()
	if err := r.store.Merge(ctx, TaskPath(taskID), fields); err != nil {
		return Task{}, taskError("update task", err)
	}
	return r.GetTask(ctx, taskID)
}

// ReplaceThemes swaps the whole theme list. Groups are not touched, so a
// group whose theme title disappears simply stops matching any theme.
func (r *Repository) ReplaceThemes(ctx context.Context, taskID string, themes []Theme) (Task, error) {
	if err := r.requireTask(ctx, taskID); err != nil {
		return Task{}, err
	}
	if err := r.store.Merge(ctx, TaskPath(taskID), map[string]any{
		"themes":    nonNilThemes(themes),
		"updatedAt": r.now(),
	}); err != nil {
		return Task{}, taskError("replace themes", err)
	}
	return r.GetTask(ctx, taskID)
}

func (r *Repository) AddMaterial(ctx context.Context, taskID string, material Material) (Task, error) {
	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	materials := append(task.Materials, material)
	if err := r.store.Merge(ctx, TaskPath(taskID), map[string]any{
		"materials": materials,
		"updatedAt": r.now(),
	}); err != nil {
		return Task{}, taskError("add material", err)
	}
	return r.GetTask(ctx, taskID)
}

// RemoveMaterial drops the material at index and returns it so the caller can
// delete the stored object.
func (r *Repository) RemoveMaterial(ctx context.Context, taskID string, index int) (Material, error) {
	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		return Material{}, err
	}
	if index < 0 || index >= len(task.Materials) {
		return Material{}, ErrMaterialNotFound
	}
	removed := task.Materials[index]
	materials := make([]Material, 0, len(task.Materials)-1)
	materials = append(materials, task.Materials[:index]...)
	materials = append(materials, task.Materials[index+1:]...)
	if err := r.store.Merge(ctx, TaskPath(taskID), map[string]any{
		"materials": materials,
		"updatedAt": r.now(),
	}); err != nil {
		return Material{}, taskError("remove material", err)
	}
	return removed, nil
}

// DeleteTask removes the task together with its groups.
func (r *Repository) DeleteTask(ctx context.Context, taskID string) error {
	if err := r.requireTask(ctx, taskID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, TaskPath(taskID)); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (r *Repository) ListGroups(ctx context.Context, taskID string) ([]Group, error) {
	snapshot, err := r.store.Read(ctx, GroupsPath(taskID))
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return decodeGroups(snapshot.Value)
}

// AppendGroup stores group under a new id unless a group for the same theme
// title already exists, in which case it returns ErrThemeTaken. It returns
// ErrTaskNotFound once the task is gone.
func (r *Repository) AppendGroup(ctx context.Context, taskID string, group Group) (Group, error) {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = r.now()
	}
	record := groupRecord{
		Name:      group.Name,
		Members:   nonNilStrings(group.Members),
		Theme:     group.Theme,
		CreatedBy: group.CreatedBy,
		CreatedAt: group.CreatedAt,
	}
	id, err := r.store.AppendUnique(ctx, GroupsPath(taskID), "theme", group.Theme, record)
	if errors.Is(err, store.ErrConflict) {
		return Group{}, ErrThemeTaken
	}
	if err != nil {
		return Group{}, taskError("append group", err)
	}
	group.ID = id
	group.Members = record.Members
	return group, nil
}

// SubscribeTask calls fn with the current task and again after every change.
func (r *Repository) SubscribeTask(ctx context.Context, taskID string, fn func(TaskEvent)) (store.Subscription, error) {
	return r.store.Subscribe(ctx, TaskPath(taskID), func(snapshot store.Snapshot) {
		if !snapshot.Exists() {
			fn(TaskEvent{})
			return
		}
		task, err := decodeTask(taskID, snapshot.Value)
		if err != nil {
			fn(TaskEvent{Err: err})
			return
		}
		fn(TaskEvent{Task: task, Found: true})
	})
}

func (r *Repository) SubscribeGroups(ctx context.Context, taskID string, fn func(GroupsEvent)) (store.Subscription, error) {
	return r.store.Subscribe(ctx, GroupsPath(taskID), func(snapshot store.Snapshot) {
		groups, err := decodeGroups(snapshot.Value)
		if err != nil {
			fn(GroupsEvent{Err: err})
			return
		}
		fn(GroupsEvent{Groups: groups})
	})
}

func (r *Repository) SaveUser(ctx context.Context, user User) error {
	if err := r.store.Write(ctx, userPath(user.ID), map[string]any{
		"email": user.Email,
		"type":  user.Type,
	}); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, userID string) (User, error) {
	snapshot, err := r.store.Read(ctx, userPath(userID))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	var user User
	if err := snapshot.Decode(&user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.ID = userID
	return user, nil
}

func (r *Repository) requireTask(ctx context.Context, taskID string) error {
	snapshot, err := r.store.Read(ctx, TaskPath(taskID))
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}
	if !snapshot.Exists() {
		return ErrTaskNotFound
	}
	return nil
}

// taskError reports a write that found no task record as ErrTaskNotFound;
// the task was deleted after it was read.
func taskError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrTaskNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nonNilThemes(themes []Theme) []Theme {
	if themes == nil {
		return []Theme{}
	}
	return themes
}
