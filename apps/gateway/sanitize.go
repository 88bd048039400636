package main

import (
	"encoding/json"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

// Everything users type is stored as plain text.
var textPolicy = bluemonday.StrictPolicy()

// maxSanitizePasses bounds how many layers of entity encoding are peeled.
const maxSanitizePasses = 8

// sanitizeText strips markup and decodes entities. Decoding can reveal
// markup that was entity encoded, so it repeats until the text is stable;
// text that never settles keeps its escaped form.
func sanitizeText(s string) string {
	for range maxSanitizePasses {
		clean := html.UnescapeString(textPolicy.Sanitize(s))
		if clean == s {
			return clean
		}
		s = clean
	}
	return textPolicy.Sanitize(s)
}

// Text fields that are sanitized, by the root of the path they live under.
var textFields = map[string][]string{
	model.MessagesRoot:        {"content"},
	model.PrivateMessagesRoot: {"content"},
	model.ChannelsRoot:        {"name", "details"},
	model.UsersRoot:           {"name"},
}

// sanitize strips markup from user supplied text and checks that messages
// are attributed to their writer.
func sanitize(uid string, m *realtime.Mutation) error {
	if m.Op == realtime.OpUpdate {
		for k, v := range m.Fields {
			clean, err := sanitizeValue(uid, m.Path+"/"+k, v)
			if err != nil {
				return err
			}
			m.Fields[k] = clean
		}
		return nil
	}
	if m.Op == realtime.OpRemove {
		return nil
	}
	clean, err := sanitizeValue(uid, m.Target(), m.Value)
	if err != nil {
		return err
	}
	m.Value = clean
	return nil
}

func sanitizeValue(uid, p string, raw json.RawMessage) (json.RawMessage, error) {
	segs := model.SplitPath(p)
	if len(segs) == 0 {
		return raw, nil
	}
	if segs[0] == model.TypingRoot {
		return sanitizeString(raw), nil
	}
	fields, ok := textFields[segs[0]]
	if !ok {
		return raw, nil
	}

	// a single text field written directly, e.g. users/{uid}/name
	last := segs[len(segs)-1]
	for _, f := range fields {
		if last == f {
			return sanitizeString(raw), nil
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw, nil
	}
	var err error
	changed := false
	if isMessagePath(segs) {
		if changed, err = checkAuthor(uid, p, obj); err != nil {
			return nil, err
		}
	}
	for _, f := range fields {
		v, ok := obj[f]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if clean := sanitizeText(s); clean != s {
			obj[f], _ = json.Marshal(clean)
			changed = true
		}
	}
	if !changed {
		return raw, nil
	}
	return json.Marshal(obj)
}

func isMessagePath(segs []string) bool {
	return len(segs) == 3 && (segs[0] == model.MessagesRoot || segs[0] == model.PrivateMessagesRoot)
}

// checkAuthor rejects messages attributed to someone else and reports
// whether it rewrote the author.
func checkAuthor(uid, p string, obj map[string]json.RawMessage) (bool, error) {
	raw, ok := obj["user"]
	if !ok {
		return false, nil
	}
	var author model.Author
	if err := json.Unmarshal(raw, &author); err != nil {
		return false, forbidden("%s has a malformed author", p)
	}
	if author.ID != "" && author.ID != uid {
		return false, forbidden("%s is attributed to %s", p, author.ID)
	}
	name := strings.TrimSpace(sanitizeText(author.Name))
	if name == author.Name {
		return false, nil
	}
	author.Name = name
	obj["user"], _ = json.Marshal(author)
	return true, nil
}

func sanitizeString(raw json.RawMessage) json.RawMessage {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	clean := sanitizeText(s)
	if clean == s {
		return raw
	}
	out, _ := json.Marshal(clean)
	return out
}
