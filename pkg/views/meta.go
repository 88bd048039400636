package views

import (
	"sort"

	"github.com/mahaj/devchat/pkg/model"
)

type Poster struct {
	Name   string
	Avatar string
	Count  int
}

// TopPosters returns the n most active authors, highest count first and
// by name among equals.
func TopPosters(posts model.UserPosts, n int) []Poster {
	out := make([]Poster, 0, len(posts))
	for name, s := range posts {
		out = append(out, Poster{Name: name, Avatar: s.Avatar, Count: s.Count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
