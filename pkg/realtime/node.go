package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

var null = json.RawMessage("null")

// node is either a leaf holding a JSON scalar/array, or a branch with at
// least one child. A branch with no children does not exist.
type node struct {
	leaf     json.RawMessage
	children map[string]*node
}

func (n *node) isLeaf() bool { return n != nil && n.leaf != nil }

func newBranch() *node { return &node{children: make(map[string]*node)} }

// build converts raw JSON into a node. null and {} produce nil.
func build(raw json.RawMessage) (*node, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, null) {
		return nil, nil
	}
	if raw[0] != '{' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("invalid value: %w", err)
		}
		return &node{leaf: buf.Bytes()}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	n := newBranch()
	for k, v := range fields {
		if !validKey(k) {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidPath, k)
		}
		child, err := build(v)
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.children[k] = child
		}
	}
	if len(n.children) == 0 {
		return nil, nil
	}
	return n, nil
}

// encode renders a node back to JSON; a missing node is null.
func (n *node) encode() json.RawMessage {
	if n == nil {
		return null
	}
	if n.leaf != nil {
		return n.leaf
	}
	fields := make(map[string]json.RawMessage, len(n.children))
	for k, c := range n.children {
		fields[k] = c.encode()
	}
	out, _ := json.Marshal(fields)
	return out
}

func (n *node) child(key string) *node {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children[key]
}

func (n *node) sortedKeys() []string {
	if n == nil || n.children == nil {
		return nil
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// merge copies children of src that are absent in dst.
func merge(dst, src *node) *node {
	if dst == nil {
		return src
	}
	if src == nil || dst.isLeaf() || src.isLeaf() {
		return dst
	}
	for k, c := range src.children {
		dst.children[k] = merge(dst.children[k], c)
	}
	return dst
}

func validKey(k string) bool {
	return k != "" && !strings.ContainsAny(k, ".$#[]/")
}

// splitPath validates and splits a tree path. The root is not addressable.
func splitPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if !validKey(s) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return segs, nil
}

// CleanPath validates p and trims its leading and trailing slashes.
func CleanPath(p string) (string, error) {
	segs, err := splitPath(p)
	if err != nil {
		return "", err
	}
	return strings.Join(segs, "/"), nil
}

// hasPrefix reports whether segs starts with prefix.
func hasPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}
