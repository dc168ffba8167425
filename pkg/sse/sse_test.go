package sse

import (
	"strings"
	"testing"
)

func TestParseStreamJoinsAndSkipsDone(t *testing.T) {
	input := "data: {\"a\":1}\n\n" +
		": this is a comment\n" +
		"data: [DONE]\n\n" +
		"data: {\"a\":2,\n" +
		"data:  \"b\":3}\n\n"

	var got []string
	err := ParseStream(strings.NewReader(input), func(ev Event) error {
		got = append(got, string(ev.Raw))
		return nil
	})
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(got), got)
	}
	if got[0] != `{"a":1}` {
		t.Fatalf("unexpected first event: %q", got[0])
	}
	if !strings.Contains(got[1], `"a":2,`) || !strings.Contains(got[1], `"b":3}`) {
		t.Fatalf("unexpected joined event: %q", got[1])
	}
}

func TestDecodeJSON(t *testing.T) {
	ev := Event{Raw: []byte(`{"x":5}`)}
	var v struct {
		X int `json:"x"`
	}
	if !DecodeJSON(ev, &v) {
		t.Fatal("expected ok=true")
	}
	if v.X != 5 {
		t.Fatalf("expected 5, got %d", v.X)
	}

	if DecodeJSON(Event{Raw: []byte("not json")}, &v) {
		t.Fatal("expected ok=false for malformed payload")
	}
}
