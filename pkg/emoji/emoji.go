// Package emoji converts :shortcode: tokens in composed messages into
// their unicode characters.
package emoji

import (
	"regexp"
	"sort"
	"strings"

	kemoji "github.com/kyokomi/emoji/v2"
)

// A shortcode is any run between two colons without spaces; the code map
// decides whether it is an emoji.
var shortcode = regexp.MustCompile(`:[^:\s]+:`)

func wrap(code string) string {
	return ":" + strings.Trim(code, ":") + ":"
}

// Lookup returns the character for a shortcode given with or without colons.
func Lookup(code string) (string, bool) {
	r, ok := kemoji.CodeMap()[wrap(code)]
	return r, ok
}

// ColonToUnicode replaces every known :shortcode: in s. Unknown shortcodes
// are left exactly as written.
func ColonToUnicode(s string) string {
	codes := kemoji.CodeMap()
	return shortcode.ReplaceAllStringFunc(s, func(tok string) string {
		if r, ok := codes[tok]; ok {
			return r
		}
		return tok
	})
}

// Append adds a shortcode to a draft the way the picker does: separated by
// a space, then converted.
func Append(draft, code string) string {
	return ColonToUnicode(draft + " " + wrap(code))
}

// Codes lists the known shortcodes, without colons, in order.
func Codes() []string {
	codes := kemoji.CodeMap()
	out := make([]string, 0, len(codes))
	for k := range codes {
		out = append(out, strings.Trim(k, ":"))
	}
	sort.Strings(out)
	return out
}
