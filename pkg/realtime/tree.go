// Package realtime implements the hierarchical JSON store behind the
// gateway: values addressed by slash separated paths, and listeners that
// are told when children appear, change or disappear.
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/mahaj/devchat/pkg/snowflake"
)

var (
	ErrInvalidPath  = errors.New("realtime: invalid path")
	ErrUnknownEvent = errors.New("realtime: unknown event")
	ErrUnknownOp    = errors.New("realtime: unknown operation")
)

type Event string

const (
	ChildAdded   Event = "child_added"
	ChildRemoved Event = "child_removed"
	ChildChanged Event = "child_changed"
	Value        Event = "value"
)

func (e Event) Valid() bool {
	switch e {
	case ChildAdded, ChildRemoved, ChildChanged, Value:
		return true
	}
	return false
}

// Snapshot is the data handed to a listener. For child events Path and Key
// name the child; for value events they name the listened node. Removed
// children carry their last value.
type Snapshot struct {
	Path  string          `json:"path"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 && !bytes.Equal(s.Value, null)
}

func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return fmt.Errorf("decode %s: no value", s.Path)
	}
	return json.Unmarshal(s.Value, v)
}

type Handler func(Snapshot)

type Listener struct {
	id      uint64
	path    string
	segs    []string
	event   Event
	handler Handler
}

func (l *Listener) Path() string { return l.path }
func (l *Listener) Event() Event { return l.event }

type firing struct {
	handler Handler
	snap    Snapshot
}

func deliver(fs []firing) {
	for _, f := range fs {
		f.handler(f.snap)
	}
}

// Tree is safe for concurrent use. Handlers run on the goroutine that caused
// the event, after the tree lock is released, so they may call back into
// the tree. Events caused by concurrent writers may interleave.
type Tree struct {
	mu         sync.Mutex
	root       *node
	ids        *snowflake.Node
	seq        uint64
	listeners  map[string][]*Listener
	disconnect map[string]map[string]struct{}
}

func NewTree(ids *snowflake.Node) *Tree {
	return &Tree{
		root:       newBranch(),
		ids:        ids,
		listeners:  make(map[string][]*Listener),
		disconnect: make(map[string]map[string]struct{}),
	}
}

func (t *Tree) lookup(segs []string) *node {
	cur := t.root
	for _, s := range segs {
		cur = cur.child(s)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Get returns the value at p and whether it exists.
func (t *Tree) Get(p string) (json.RawMessage, bool) {
	segs, err := splitPath(p)
	if err != nil {
		return null, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(segs)
	return n.encode(), n != nil
}

// Set replaces the value at p; null removes it.
func (t *Tree) Set(p string, raw json.RawMessage) error {
	segs, err := splitPath(p)
	if err != nil {
		return err
	}
	n, err := build(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	fs := t.mutate(segs, n)
	t.mu.Unlock()
	deliver(fs)
	return nil
}

// Update sets each field relative to p, leaving other children alone.
// Field names may contain slashes to reach deeper descendants.
func (t *Tree) Update(p string, fields map[string]json.RawMessage) error {
	base, err := splitPath(p)
	if err != nil {
		return err
	}
	type change struct {
		segs []string
		n    *node
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	changes := make([]change, 0, len(fields))
	for _, k := range names {
		rel, err := splitPath(k)
		if err != nil {
			return err
		}
		n, err := build(fields[k])
		if err != nil {
			return err
		}
		segs := append(append([]string{}, base...), rel...)
		changes = append(changes, change{segs: segs, n: n})
	}

	t.mu.Lock()
	var fs []firing
	for _, c := range changes {
		fs = append(fs, t.mutate(c.segs, c.n)...)
	}
	t.mu.Unlock()
	deliver(fs)
	return nil
}

// Push stores raw under a new time-ordered key and returns the key.
func (t *Tree) Push(p string, raw json.RawMessage) (string, error) {
	key := t.NewKey()
	if err := t.Set(path.Join(p, key), raw); err != nil {
		return "", err
	}
	return key, nil
}

// NewKey returns a push key without writing anything.
func (t *Tree) NewKey() string {
	return t.ids.Key()
}

func (t *Tree) Remove(p string) error {
	return t.Set(p, null)
}

// Load merges raw into p without firing events. Existing values win, so
// loading persisted history never clobbers newer live writes.
func (t *Tree) Load(p string, raw json.RawMessage) error {
	segs, err := splitPath(p)
	if err != nil {
		return err
	}
	n, err := build(raw)
	if err != nil || n == nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.root
	for _, s := range segs[:len(segs)-1] {
		next := cur.child(s)
		if next == nil {
			next = newBranch()
			cur.children[s] = next
		} else if next.isLeaf() {
			return nil
		}
		cur = next
	}
	last := segs[len(segs)-1]
	cur.children[last] = merge(cur.children[last], n)
	return nil
}

// Apply executes a mutation received from the bus.
func (t *Tree) Apply(m Mutation) error {
	switch m.Op {
	case OpSet:
		return t.Set(m.Path, m.Value)
	case OpPush:
		if m.Key == "" {
			_, err := t.Push(m.Path, m.Value)
			return err
		}
		return t.Set(m.Target(), m.Value)
	case OpUpdate:
		return t.Update(m.Path, m.Fields)
	case OpRemove:
		return t.Remove(m.Path)
	}
	return fmt.Errorf("%w: %q", ErrUnknownOp, m.Op)
}

// On registers handler for event at p. child_added replays the existing
// children in key order; value fires at once with the current value.
func (t *Tree) On(p string, event Event, handler Handler) (*Listener, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	segs, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	key := strings.Join(segs, "/")

	t.mu.Lock()
	t.seq++
	l := &Listener{id: t.seq, path: key, segs: segs, event: event, handler: handler}
	t.listeners[key] = append(t.listeners[key], l)

	var initial []firing
	cur := t.lookup(segs)
	switch event {
	case ChildAdded:
		for _, k := range cur.sortedKeys() {
			initial = append(initial, firing{handler, Snapshot{Path: key + "/" + k, Key: k, Value: cur.children[k].encode()}})
		}
	case Value:
		initial = append(initial, firing{handler, Snapshot{Path: key, Key: segs[len(segs)-1], Value: cur.encode()}})
	}
	t.mu.Unlock()

	deliver(initial)
	return l, nil
}

// Off removes a single listener. Removing it twice is a no-op.
func (t *Tree) Off(l *Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ls := t.listeners[l.path]
	for i, x := range ls {
		if x.id == l.id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(t.listeners, l.path)
		return
	}
	t.listeners[l.path] = ls
}

// OffPath removes every listener registered at p.
func (t *Tree) OffPath(p string) {
	segs, err := splitPath(p)
	if err != nil {
		return
	}
	t.mu.Lock()
	delete(t.listeners, strings.Join(segs, "/"))
	t.mu.Unlock()
}

// Listeners counts the listeners registered at p.
func (t *Tree) Listeners(p string) int {
	segs, err := splitPath(p)
	if err != nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners[strings.Join(segs, "/")])
}

// OnDisconnectRemove records p for removal when session goes away.
func (t *Tree) OnDisconnectRemove(session, p string) error {
	segs, err := splitPath(p)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.disconnect[session]
	if !ok {
		set = make(map[string]struct{})
		t.disconnect[session] = set
	}
	set[strings.Join(segs, "/")] = struct{}{}
	return nil
}

func (t *Tree) CancelOnDisconnect(session, p string) {
	segs, err := splitPath(p)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.disconnect[session]; ok {
		delete(set, strings.Join(segs, "/"))
		if len(set) == 0 {
			delete(t.disconnect, session)
		}
	}
}

// TakeOnDisconnect returns and forgets the paths registered for session.
// The caller performs the removals, so they can be routed through the bus.
func (t *Tree) TakeOnDisconnect(session string) []string {
	t.mu.Lock()
	set := t.disconnect[session]
	delete(t.disconnect, session)
	t.mu.Unlock()

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type watch struct {
	path      string
	segs      []string
	keys      []string // nil means every child
	under     bool     // listened node is at or below the mutated path
	before    map[string]json.RawMessage
	beforeVal json.RawMessage
}

func childEncodings(n *node, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	if keys == nil {
		keys = n.sortedKeys()
	}
	for _, k := range keys {
		if c := n.child(k); c != nil {
			out[k] = c.encode()
		}
	}
	return out
}

// mutate places n (nil removes) at segs and returns the events it caused.
// Caller holds t.mu.
func (t *Tree) mutate(segs []string, n *node) []firing {
	paths := make([]string, 0, len(t.listeners))
	for p := range t.listeners {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var watches []*watch
	for _, p := range paths {
		ls := t.listeners[p]
		if len(ls) == 0 {
			continue
		}
		lsegs := ls[0].segs
		var w *watch
		switch {
		case len(lsegs) < len(segs) && hasPrefix(segs, lsegs):
			w = &watch{path: p, segs: lsegs, keys: []string{segs[len(lsegs)]}}
		case hasPrefix(lsegs, segs):
			w = &watch{path: p, segs: lsegs, under: true}
		default:
			continue
		}
		cur := t.lookup(w.segs)
		w.before = childEncodings(cur, w.keys)
		if w.under {
			w.beforeVal = cur.encode()
		}
		watches = append(watches, w)
	}

	t.place(segs, n)

	var out []firing
	for _, w := range watches {
		cur := t.lookup(w.segs)
		keys := w.keys
		if w.under {
			keys = unionKeys(w.before, childEncodings(cur, nil))
		}
		after := childEncodings(cur, keys)

		var added, removed, changed []Snapshot
		for _, k := range keys {
			b, hadB := w.before[k]
			a, hasA := after[k]
			child := Snapshot{Path: w.path + "/" + k, Key: k}
			switch {
			case hadB && !hasA:
				child.Value = b
				removed = append(removed, child)
			case !hadB && hasA:
				child.Value = a
				added = append(added, child)
			case hadB && hasA && !bytes.Equal(a, b):
				child.Value = a
				changed = append(changed, child)
			}
		}
		valueChanged := len(added)+len(removed)+len(changed) > 0
		if w.under && !bytes.Equal(w.beforeVal, cur.encode()) {
			valueChanged = true
		}

		for _, l := range t.listeners[w.path] {
			switch l.event {
			case ChildAdded:
				for _, s := range added {
					out = append(out, firing{l.handler, s})
				}
			case ChildRemoved:
				for _, s := range removed {
					out = append(out, firing{l.handler, s})
				}
			case ChildChanged:
				for _, s := range changed {
					out = append(out, firing{l.handler, s})
				}
			case Value:
				if valueChanged {
					out = append(out, firing{l.handler, Snapshot{Path: w.path, Key: w.segs[len(w.segs)-1], Value: cur.encode()}})
				}
			}
		}
	}
	return out
}

func unionKeys(a, b map[string]json.RawMessage) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// place writes n at segs, creating branches on the way and pruning
// branches left empty by a removal.
func (t *Tree) place(segs []string, n *node) {
	last := segs[len(segs)-1]
	if n != nil {
		cur := t.root
		for _, s := range segs[:len(segs)-1] {
			next := cur.child(s)
			if next == nil || next.isLeaf() {
				next = newBranch()
				cur.children[s] = next
			}
			cur = next
		}
		cur.children[last] = n
		return
	}

	stack := []*node{t.root}
	cur := t.root
	for _, s := range segs[:len(segs)-1] {
		cur = cur.child(s)
		if cur == nil || cur.isLeaf() {
			return
		}
		stack = append(stack, cur)
	}
	delete(cur.children, last)
	for i := len(stack) - 1; i > 0; i-- {
		if len(stack[i].children) > 0 {
			break
		}
		delete(stack[i-1].children, segs[i-1])
	}
}
