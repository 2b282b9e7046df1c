package dispatch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits content into a callname and arguments. Content must start with prefix;
// the callname runs up to the first whitespace and the rest is split on whitespace runs.
func Tokenize(prefix, content string) (string, []string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	body := content[len(prefix):]
	if first, _ := utf8.DecodeRuneInString(body); body == "" || unicode.IsSpace(first) {
		return "", nil, false
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil, false
	}
	args := fields[1:]
	if len(args) == 0 {
		args = nil
	}
	return fields[0], args, true
}
