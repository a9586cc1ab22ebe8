package telegram

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/mtzanidakis/realtymesh/internal/swarm"
)

// maxKeyLen bounds what still looks like a field name in "key: value".
const maxKeyLen = 32

// ParseRequest turns a chat message into a request. Lines of the form
// "key: value" (or "key=value" segments separated by ';') become fields;
// anything else is joined into the "requirements" field. Numeric values are
// kept as numbers.
func ParseRequest(text string) swarm.Request {
	fields := make(map[string]any)
	var free []string

	for _, line := range strings.Split(text, "\n") {
		for _, seg := range strings.Split(line, ";") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			key, value, ok := splitField(seg)
			if !ok {
				free = append(free, seg)
				continue
			}
			fields[key] = parseValue(value)
		}
	}

	if len(free) > 0 {
		req := strings.Join(free, " ")
		if prev, ok := fields["requirements"].(string); ok && prev != "" {
			req = prev + " " + req
		}
		fields["requirements"] = req
	}
	return swarm.NewRequest(fields)
}

func splitField(seg string) (key, value string, ok bool) {
	idx := strings.IndexAny(seg, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key = normalizeKey(seg[:idx])
	value = strings.TrimSpace(seg[idx+1:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

// normalizeKey lowercases and joins words with underscores. It returns ""
// for anything that does not look like a field name.
func normalizeKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxKeyLen {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-':
			b.WriteByte('_')
		default:
			return ""
		}
	}
	return b.String()
}

func parseValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}
