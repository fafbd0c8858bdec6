package copilot

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEmbeddingInputDecode(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"single string", `"hello"`, []string{"hello"}, false},
		{"string list", `["a","b"]`, []string{"a", "b"}, false},
		{"mixed list", `["a",42,true]`, []string{"a", "42", "true"}, false},
		{"nested value", `[{"k":"v"}]`, []string{`{"k":"v"}`}, false},
		{"object", `{"k":"v"}`, nil, true},
		{"number", `42`, nil, true},
		{"null", `null`, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var in EmbeddingInput
			err := json.Unmarshal([]byte(tc.raw), &in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidEmbeddingInput) {
					t.Fatalf("expected ErrInvalidEmbeddingInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got := in.Texts()
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("item %d: got %q want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestEmbeddingInputSingleRoundtrip(t *testing.T) {
	var in EmbeddingInput
	if err := json.Unmarshal([]byte(`"solo"`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"solo"` {
		t.Fatalf("single input must stay a bare string, got %s", out)
	}
}
