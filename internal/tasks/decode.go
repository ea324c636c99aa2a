package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Tasks written before consolidation keep themes as a child collection and
// groups as an inline array, so every collection field is decoded from
// either shape.

type taskDocument struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	DueDate      string          `json:"dueDate"`
	Instructions string          `json:"instructions"`
	Criteria     string          `json:"criteria"`
	Materials    json.RawMessage `json:"materials"`
	Todolist     json.RawMessage `json:"todolist"`
	Themes       json.RawMessage `json:"themes"`
	Groups       json.RawMessage `json:"groups"`
	LegacyGroups json.RawMessage `json:"legacyGroups"`
	OwnerID      string          `json:"ownerId"`
	CreatedAt    json.RawMessage `json:"createdAt"`
	UpdatedAt    json.RawMessage `json:"updatedAt"`
}

type groupDocument struct {
	Name      string          `json:"name"`
	Members   json.RawMessage `json:"members"`
	Theme     string          `json:"theme"`
	CreatedBy string          `json:"createdBy"`
	CreatedAt json.RawMessage `json:"createdAt"`
}

type element struct {
	key string
	raw json.RawMessage
}

func decodeTask(id string, raw json.RawMessage) (Task, error) {
	var doc taskDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	task := Task{
		ID:           id,
		Title:        doc.Title,
		Description:  doc.Description,
		DueDate:      doc.DueDate,
		Instructions: doc.Instructions,
		Criteria:     doc.Criteria,
		OwnerID:      doc.OwnerID,
		CreatedAt:    decodeTime(doc.CreatedAt),
		UpdatedAt:    decodeTime(doc.UpdatedAt),
	}

	var err error
	if task.Materials, err = decodeMaterials(doc.Materials); err != nil {
		return Task{}, fmt.Errorf("decode task %s materials: %w", id, err)
	}
	if task.Todolist, err = decodeStrings(doc.Todolist); err != nil {
		return Task{}, fmt.Errorf("decode task %s todolist: %w", id, err)
	}
	if task.Themes, err = decodeThemes(doc.Themes); err != nil {
		return Task{}, fmt.Errorf("decode task %s themes: %w", id, err)
	}
	if task.Groups, err = decodeGroups(doc.Groups); err != nil {
		return Task{}, fmt.Errorf("decode task %s groups: %w", id, err)
	}
	return task, nil
}

// elements lists the items of an array, or the children of an object in key
// order. Array items get an empty key.
func elements(raw json.RawMessage) ([]element, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		out := make([]element, 0, len(items))
		for _, item := range items {
			out = append(out, element{raw: item})
		}
		return out, nil
	case '{':
		var children map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &children); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(children))
		for key := range children {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out := make([]element, 0, len(keys))
		for _, key := range keys {
			out = append(out, element{key: key, raw: children[key]})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array or object, got %s", string(trimmed[:1]))
	}
}

func decodeStrings(raw json.RawMessage) ([]string, error) {
	items, err := elements(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var value string
		if err := json.Unmarshal(item.raw, &value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

func decodeThemes(raw json.RawMessage) ([]Theme, error) {
	items, err := elements(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Theme, 0, len(items))
	for _, item := range items {
		var title string
		if err := json.Unmarshal(item.raw, &title); err == nil {
			out = append(out, Theme{Title: title})
			continue
		}
		// Stored availability flags are ignored; availability is derived.
		var theme Theme
		if err := json.Unmarshal(item.raw, &theme); err != nil {
			return nil, err
		}
		out = append(out, theme)
	}
	return out, nil
}

func decodeGroups(raw json.RawMessage) ([]Group, error) {
	items, err := elements(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(items))
	for i, item := range items {
		id := item.key
		if id == "" {
			id = "legacy-" + strconv.Itoa(i)
		}
		group, err := decodeGroup(id, item.raw)
		if err != nil {
			return nil, err
		}
		out = append(out, group)
	}
	return out, nil
}

func decodeGroup(id string, raw json.RawMessage) (Group, error) {
	var doc groupDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Group{}, fmt.Errorf("group %s: %w", id, err)
	}
	members, err := decodeStrings(doc.Members)
	if err != nil {
		return Group{}, fmt.Errorf("group %s members: %w", id, err)
	}
	return Group{
		ID:        id,
		Name:      doc.Name,
		Members:   members,
		Theme:     doc.Theme,
		CreatedBy: doc.CreatedBy,
		CreatedAt: decodeTime(doc.CreatedAt),
	}, nil
}

func decodeMaterials(raw json.RawMessage) ([]Material, error) {
	items, err := elements(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Material, 0, len(items))
	for _, item := range items {
		var url string
		if err := json.Unmarshal(item.raw, &url); err == nil {
			out = append(out, Material{Name: baseName(url), URL: url})
			continue
		}
		var material Material
		if err := json.Unmarshal(item.raw, &material); err != nil {
			return nil, err
		}
		out = append(out, material)
	}
	return out, nil
}

// decodeTime accepts RFC 3339 strings and unix milliseconds. Anything else
// decodes to the zero time.
func decodeTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		parsed, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return time.Time{}
		}
		return parsed.UTC()
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}

func baseName(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}

// isLegacyThemes reports whether themes are stored as a child collection.
func isLegacyThemes(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// isLegacyGroups reports whether groups are stored inline on the task record.
func isLegacyGroups(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
