// Package store implements the hierarchical path store that holds users,
// tasks and groups. Values live at slash separated paths such as
// "tasks/{id}/groups/{groupId}"; reading a path returns the value stored there
// with every descendant nested under its key segment.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrInvalidPath = errors.New("invalid path")
)

// StoreError reports a failed store operation on a path.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StoreError
	if errors.As(err, &existing) {
		return err
	}
	return &StoreError{Op: op, Path: path, Err: err}
}

// Store is the contract every backend satisfies.
type Store interface {
	// Read returns the subtree at path. A missing path yields a snapshot for
	// which Exists reports false.
	Read(ctx context.Context, path string) (Snapshot, error)
	// Subscribe calls fn with the current subtree right away and again after
	// every change that touches it. Bursts of changes may be coalesced; the
	// last delivered snapshot always reflects the latest write.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)
	// Write replaces the subtree at path with value.
	Write(ctx context.Context, path string, value any) error
	// Create writes value at path only if nothing is stored there yet.
	Create(ctx context.Context, path string, value any) error
	// Merge sets the named fields of the object stored at path. A nil field
	// value removes the field. Descendants are left untouched. Merging into a
	// path with no stored value fails with ErrNotFound.
	Merge(ctx context.Context, path string, fields map[string]any) error
	// Append stores value under a new, time ordered child key and returns it.
	Append(ctx context.Context, path string, value any) (string, error)
	// AppendUnique appends like Append unless a direct child of path already
	// has field equal to match, in which case it fails with ErrConflict. The
	// record owning the collection (the parent of path) must exist, otherwise
	// it fails with ErrNotFound.
	AppendUnique(ctx context.Context, path, field, match string, value any) (string, error)
	// Delete removes the subtree at path.
	Delete(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}

// Subscription is an active Subscribe registration.
type Subscription interface {
	Close()
}

// Snapshot is a point in time value of a subtree.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 && !bytes.Equal(bytes.TrimSpace(s.Value), []byte("null"))
}

// Key returns the last segment of the snapshot path.
func (s Snapshot) Key() string {
	idx := strings.LastIndex(s.Path, "/")
	if idx < 0 {
		return s.Path
	}
	return s.Path[idx+1:]
}

func (s Snapshot) Decode(target any) error {
	if !s.Exists() {
		return ErrNotFound
	}
	if err := json.Unmarshal(s.Value, target); err != nil {
		return fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return nil
}

// Children splits an object snapshot into one snapshot per key, ordered by
// key. Append keys sort in creation order.
func (s Snapshot) Children() ([]Snapshot, error) {
	if !s.Exists() {
		return []Snapshot{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(s.Value, &fields); err != nil {
		return nil, fmt.Errorf("decode children of %s: %w", s.Path, err)
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	children := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		children = append(children, Snapshot{Path: Join(s.Path, key), Value: fields[key]})
	}
	return children, nil
}

// Join builds a path from segments.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "/")
}

// CleanPath validates path and strips surrounding slashes.
func CleanPath(path string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", ErrInvalidPath
		}
	}
	return trimmed, nil
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// related reports whether a change at changed is visible from a subscription
// on watched: same path, a descendant, or an ancestor that was replaced.
func related(watched, changed string) bool {
	if watched == changed {
		return true
	}
	return strings.HasPrefix(changed, watched+"/") || strings.HasPrefix(watched, changed+"/")
}
