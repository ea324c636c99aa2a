package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/xid"
)

// node is one stored row: the value written at exactly one path.
type node struct {
	path  string
	value json.RawMessage
}

func newKey() string {
	return xid.New().String()
}

func encodeValue(value any) (json.RawMessage, error) {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		raw = encoded
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("encode value: invalid JSON")
	}
	return json.RawMessage(raw), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func depth(path string) int {
	return strings.Count(path, "/")
}

// assemble nests every row below root into the value stored at root. Rows
// written deeper in the tree win over inline fields of their ancestors.
func assemble(root string, nodes []node) (json.RawMessage, error) {
	sort.SliceStable(nodes, func(i, j int) bool {
		di, dj := depth(nodes[i].path), depth(nodes[j].path)
		if di != dj {
			return di < dj
		}
		return nodes[i].path < nodes[j].path
	})

	var tree any
	for _, n := range nodes {
		value, err := decodeAny(n.value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", n.path, err)
		}
		if n.path == root {
			tree = value
			continue
		}
		rel := strings.TrimPrefix(n.path, root+"/")
		tree = insert(tree, strings.Split(rel, "/"), value)
	}
	if tree == nil {
		return nil, nil
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", root, err)
	}
	return raw, nil
}

func insert(current any, segments []string, value any) any {
	obj, ok := current.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	if len(segments) == 1 {
		obj[segments[0]] = value
		return obj
	}
	obj[segments[0]] = insert(obj[segments[0]], segments[1:], value)
	return obj
}

func decodeAny(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// mergeFields applies a shallow merge to an object value; nil removes a field.
func mergeFields(current json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	object := map[string]json.RawMessage{}
	if !isNull(current) {
		if err := json.Unmarshal(current, &object); err != nil {
			return nil, fmt.Errorf("merge into non-object value: %w", err)
		}
	}
	for key, value := range fields {
		if value == nil {
			delete(object, key)
			continue
		}
		raw, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		if isNull(raw) {
			delete(object, key)
			continue
		}
		object[key] = raw
	}
	return json.Marshal(object)
}

// fieldEquals reports whether the object in raw holds field as the string match.
func fieldEquals(raw json.RawMessage, field, match string) bool {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return false
	}
	value, ok := object[field]
	if !ok {
		return false
	}
	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		return false
	}
	return text == match
}
