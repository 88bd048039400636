package realtime

import (
	"bytes"
	"encoding/json"
	"path"
	"time"
)

type Op string

const (
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpPush   Op = "push"
	OpRemove Op = "remove"
)

// Mutation is a write as it travels over the bus. Push mutations carry the
// key chosen by the originating gateway so every replica agrees on it.
type Mutation struct {
	Op     Op                         `json:"op"`
	Path   string                     `json:"path"`
	Key    string                     `json:"key,omitempty"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
	Origin string                     `json:"origin,omitempty"` // uid of the writer
	Time   time.Time                  `json:"time"`
}

// Target is the path the mutation writes to.
func (m Mutation) Target() string {
	if m.Op == OpPush && m.Key != "" {
		return path.Join(m.Path, m.Key)
	}
	return m.Path
}

// Touched lists every path written by the mutation.
func (m Mutation) Touched() []string {
	if m.Op != OpUpdate {
		return []string{m.Target()}
	}
	out := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		out = append(out, path.Join(m.Path, k))
	}
	return out
}

var serverTimestamp = []byte(`{".sv":"timestamp"}`)

// ResolveServerValues replaces every {".sv":"timestamp"} placeholder in raw
// with now in epoch milliseconds.
func ResolveServerValues(raw json.RawMessage, now time.Time) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, err
	}
	if bytes.Equal(compact.Bytes(), serverTimestamp) {
		return json.Marshal(now.UnixMilli())
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		resolved, err := ResolveServerValues(v, now)
		if err != nil {
			return nil, err
		}
		fields[k] = resolved
	}
	return json.Marshal(fields)
}
