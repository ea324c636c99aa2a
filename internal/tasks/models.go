package tasks

import (
	"time"
)

type UserType string

const (
	UserProfessor UserType = "professor"
	UserStudent   UserType = "student"
)

func (t UserType) Valid() bool {
	return t == UserProfessor || t == UserStudent
}

type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Type  UserType `json:"type"`
}

// Theme is one topic a group can claim. Title is the join key to Group.Theme.
type Theme struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	Theme     string    `json:"theme"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Material struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
}

type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	DueDate      string     `json:"dueDate"`
	Instructions string     `json:"instructions"`
	Criteria     string     `json:"criteria"`
	Materials    []Material `json:"materials"`
	Todolist     []string   `json:"todolist"`
	Themes       []Theme    `json:"themes"`
	Groups       []Group    `json:"groups"`
	OwnerID      string     `json:"ownerId"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type TaskInput struct {
	Title        string
	Description  string
	DueDate      string
	Instructions string
	Criteria     string
	Todolist     []string
	Themes       []Theme
}

// TaskUpdate names the fields to change; nil fields are left as they are.
type TaskUpdate struct {
	Title        *string
	Description  *string
	DueDate      *string
	Instructions *string
	Criteria     *string
	Todolist     *[]string
}

func (u TaskUpdate) fields() map[string]any {
	fields := map[string]any{}
	if u.Title != nil {
		fields["title"] = *u.Title
	}
	if u.Description != nil {
		fields["description"] = *u.Description
	}
	if u.DueDate != nil {
		fields["dueDate"] = *u.DueDate
	}
	if u.Instructions != nil {
		fields["instructions"] = *u.Instructions
	}
	if u.Criteria != nil {
		fields["criteria"] = *u.Criteria
	}
	if u.Todolist != nil {
		fields["todolist"] = nonNilStrings(*u.Todolist)
	}
	return fields
}

// TaskEvent is delivered by SubscribeTask. Found is false once the task is
// deleted.
type TaskEvent struct {
	Task  Task
	Found bool
	Err   error
}

type GroupsEvent struct {
	Groups []Group
	Err    error
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
