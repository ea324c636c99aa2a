package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore keeps rows in process. It backs local development when no
// DATABASE_URL is configured, and the package tests of its callers.
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[string]json.RawMessage
	hub   *hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]json.RawMessage),
		hub:   newHub(),
	}
}

func (s *MemoryStore) Read(ctx context.Context, path string) (Snapshot, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, storeError("read", path, err)
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, storeError("read", clean, err)
	}

	s.mu.Lock()
	rows := s.subtreeLocked(clean)
	s.mu.Unlock()

	value, err := assemble(clean, rows)
	if err != nil {
		return Snapshot{}, storeError("read", clean, err)
	}
	return Snapshot{Path: clean, Value: value}, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return nil, storeError("subscribe", path, err)
	}
	return s.hub.subscribe(ctx, clean, s.Read, fn), nil
}

func (s *MemoryStore) Write(ctx context.Context, path string, value any) error {
	clean, raw, err := prepareWrite("write", path, value)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeError("write", clean, err)
	}

	s.mu.Lock()
	s.deleteLocked(clean)
	if !isNull(raw) {
		s.nodes[clean] = raw
	}
	s.mu.Unlock()

	s.hub.publish(clean)
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, path string, value any) error {
	clean, raw, err := prepareWrite("create", path, value)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeError("create", clean, err)
	}

	s.mu.Lock()
	if len(s.subtreeLocked(clean)) > 0 {
		s.mu.Unlock()
		return storeError("create", clean, ErrConflict)
	}
	s.nodes[clean] = raw
	s.mu.Unlock()

	s.hub.publish(clean)
	return nil
}

func (s *MemoryStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	clean, err := CleanPath(path)
	if err != nil {
		return storeError("merge", path, err)
	}
	if err := ctx.Err(); err != nil {
		return storeError("merge", clean, err)
	}

	s.mu.Lock()
	current, ok := s.nodes[clean]
	if !ok {
		s.mu.Unlock()
		return storeError("merge", clean, ErrNotFound)
	}
	merged, err := mergeFields(current, fields)
	if err != nil {
		s.mu.Unlock()
		return storeError("merge", clean, err)
	}
	s.nodes[clean] = merged
	s.mu.Unlock()

	s.hub.publish(clean)
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, path string, value any) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", storeError("append", path, err)
	}
	key := newKey()
	if err := s.Write(ctx, Join(clean, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MemoryStore) AppendUnique(ctx context.Context, path, field, match string, value any) (string, error) {
	clean, raw, err := prepareWrite("append", path, value)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", storeError("append", clean, err)
	}

	key := newKey()
	s.mu.Lock()
	if owner := parentOf(clean); owner != "" {
		if _, ok := s.nodes[owner]; !ok {
			s.mu.Unlock()
			return "", storeError("append", clean, ErrNotFound)
		}
	}
	for nodePath, nodeValue := range s.nodes {
		if parentOf(nodePath) == clean && fieldEquals(nodeValue, field, match) {
			s.mu.Unlock()
			return "", storeError("append", clean, ErrConflict)
		}
	}
	s.nodes[Join(clean, key)] = raw
	s.mu.Unlock()

	s.hub.publish(Join(clean, key))
	return key, nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	clean, err := CleanPath(path)
	if err != nil {
		return storeError("delete", path, err)
	}
	if err := ctx.Err(); err != nil {
		return storeError("delete", clean, err)
	}

	s.mu.Lock()
	s.deleteLocked(clean)
	s.mu.Unlock()

	s.hub.publish(clean)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) subtreeLocked(path string) []node {
	rows := make([]node, 0)
	prefix := path + "/"
	for nodePath, value := range s.nodes {
		if nodePath == path || strings.HasPrefix(nodePath, prefix) {
			rows = append(rows, node{path: nodePath, value: value})
		}
	}
	return rows
}

func (s *MemoryStore) deleteLocked(path string) {
	prefix := path + "/"
	for nodePath := range s.nodes {
		if nodePath == path || strings.HasPrefix(nodePath, prefix) {
			delete(s.nodes, nodePath)
		}
	}
}

func prepareWrite(op, path string, value any) (string, json.RawMessage, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", nil, storeError(op, path, err)
	}
	raw, err := encodeValue(value)
	if err != nil {
		return "", nil, storeError(op, clean, err)
	}
	return clean, raw, nil
}
