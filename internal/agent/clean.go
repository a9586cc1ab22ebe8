package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// CleanResponse strips the code fence a model may wrap its JSON in: a
// leading ```json or ```, then a trailing ```. Surrounding whitespace goes
// both before and after.
func CleanResponse(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// RepairJSON removes trailing commas before a closing brace or bracket.
func RepairJSON(s string) string {
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

var errNotObject = errors.New("reply is not a JSON object")

// parseObject decodes cleaned model output. Output that only parses after
// RepairJSON is accepted.
func parseObject(cleaned string) (map[string]any, error) {
	var v any
	err := json.Unmarshal([]byte(cleaned), &v)
	if err != nil {
		if rerr := json.Unmarshal([]byte(RepairJSON(cleaned)), &v); rerr != nil {
			return nil, fmt.Errorf("decode model output: %w", err)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// itemsFor reads the array stored under key. A missing key is an empty
// result; a single object is taken as a one-item array; entries that are
// not objects are dropped.
func itemsFor(obj map[string]any, key string) []map[string]any {
	switch t := obj[key].(type) {
	case []any:
		items := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items
	case map[string]any:
		return []map[string]any{t}
	default:
		return []map[string]any{}
	}
}
