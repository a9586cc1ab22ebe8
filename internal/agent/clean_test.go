package agent

import (
	"reflect"
	"testing"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json {\"a\":1}```  ", `{"a":1}`},
		{"{\"a\":1}\n```", `{"a":1}`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanResponse(tt.in); got != tt.want {
			t.Errorf("CleanResponse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFenceRoundTrip(t *testing.T) {
	payloads := []string{
		`{"buyer": [{"name": "A", "price": 100, "features": ["x", "y"]}]}`,
		`{"price": []}`,
		"{\"neighborhood\": [{\"text\": \"has ``` inside\"}]}",
	}
	for _, p := range payloads {
		plain, err := parseObject(CleanResponse(p))
		if err != nil {
			t.Fatalf("plain %s: %v", p, err)
		}
		fenced, err := parseObject(CleanResponse("```json\n" + p + "\n```"))
		if err != nil {
			t.Fatalf("fenced %s: %v", p, err)
		}
		if !reflect.DeepEqual(plain, fenced) {
			t.Errorf("round trip mismatch for %s", p)
		}
	}
}

func TestRepairJSON(t *testing.T) {
	obj, err := parseObject("{\"seller\": [{\"title\": \"A\",},],\n}")
	if err != nil {
		t.Fatalf("expected trailing commas to be repaired: %v", err)
	}
	if len(itemsFor(obj, "seller")) != 1 {
		t.Errorf("unexpected object %v", obj)
	}

	// Valid JSON is parsed as is, even when a string holds ",}"
	obj, err = parseObject(`{"buyer": [{"name": "a ,} b"}]}`)
	if err != nil {
		t.Fatal(err)
	}
	if itemsFor(obj, "buyer")[0]["name"] != "a ,} b" {
		t.Errorf("string content altered: %v", obj)
	}
}

func TestParseObjectRejectsNonObjects(t *testing.T) {
	for _, in := range []string{`[1,2]`, `"text"`, `not json`} {
		if _, err := parseObject(in); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
}

func TestItemsFor(t *testing.T) {
	obj := map[string]any{
		"buyer":  []any{map[string]any{"name": "A"}, "junk", map[string]any{"name": "B"}},
		"seller": map[string]any{"title": "single"},
	}
	if got := itemsFor(obj, "buyer"); len(got) != 2 || got[1]["name"] != "B" {
		t.Errorf("buyer items %v", got)
	}
	if got := itemsFor(obj, "seller"); len(got) != 1 {
		t.Errorf("seller items %v", got)
	}
	if got := itemsFor(obj, "price"); got == nil || len(got) != 0 {
		t.Errorf("missing key should be empty, got %#v", got)
	}
}
