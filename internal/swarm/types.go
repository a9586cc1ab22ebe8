package swarm

import (
	"encoding/json"
	"fmt"

	"github.com/mtzanidakis/realtymesh/internal/format"
)

// Request is one user query: a free-form JSON object. It is immutable; the
// constructor and the JSON decoder take private copies of their input.
type Request struct {
	fields map[string]any
}

func NewRequest(fields map[string]any) Request {
	return Request{fields: deepCopy(fields)}
}

// Get returns the raw value for key. Nested maps and slices are copies.
func (r Request) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// String renders the value for key as display text, or def when the key is
// missing or null.
func (r Request) String(key, def string) string {
	v, ok := r.fields[key]
	if !ok || v == nil {
		return def
	}
	return format.Display(v)
}

// Fields returns a copy of all fields.
func (r Request) Fields() map[string]any {
	return deepCopy(r.fields)
}

func (r Request) Len() int {
	return len(r.fields)
}

func (r Request) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("request must be a JSON object: %w", err)
	}
	r.fields = m
	return nil
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// Item is one unit of role output. Every field is optional.
type Item map[string]any

func (it Item) Clone() Item {
	return Item(deepCopy(it))
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// WorkerResult is what a Worker Adapter produces for one request.
type WorkerResult struct {
	Role    string
	Status  Status
	Items   []Item
	Message string
	// Degraded marks a success built from local fallback data after the
	// generation capability failed.
	Degraded bool
}

// MarshalJSON emits the worker wire shape: the items array is keyed by the
// role name.
func (r WorkerResult) MarshalJSON() ([]byte, error) {
	items := r.Items
	if items == nil {
		items = []Item{}
	}
	out := map[string]any{
		r.Role:   items,
		"status": r.Status,
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Degraded {
		out["degraded"] = true
	}
	return json.Marshal(out)
}

// Outcome summarizes how one role fared inside an aggregation.
type Outcome struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Items     int    `json:"items"`
	Attempts  int    `json:"attempts"`
	Degraded  bool   `json:"degraded,omitempty"`
	Exhausted bool   `json:"exhausted,omitempty"`
}

// Response is the aggregated answer. Results always holds exactly the roles
// that were configured when the aggregation started.
type Response struct {
	ID string `json:"id"`
	// Roles lists the configured roles in display order.
	Roles    []string           `json:"roles"`
	Results  map[string]string  `json:"results"`
	Outcomes map[string]Outcome `json:"outcomes,omitempty"`
	Failed   bool               `json:"failed,omitempty"`
}
