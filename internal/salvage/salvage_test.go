package salvage

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	got, ok := ExtractJSON("Here is your data:\n```json\n{\"move\": \"strike\"}\n```")
	if !ok || got != `{"move": "strike"}` {
		t.Fatalf("ExtractJSON = %q, %v", got, ok)
	}
	if _, ok := ExtractJSON("no braces here"); ok {
		t.Fatal("extracted JSON from braceless text")
	}
	if _, ok := ExtractJSON("} backwards {"); ok {
		t.Fatal("extracted JSON from reversed braces")
	}
}

func TestCloseJSONValidPassthrough(t *testing.T) {
	in := `{"move": "strike", "stats": {"iron": 2}}`
	if got := CloseJSON(in); got != in {
		t.Fatalf("valid input changed: %q", got)
	}
}

func TestCloseJSONMidString(t *testing.T) {
	got := CloseJSON(`{"move": "stri`)
	if !json.Valid([]byte(got)) {
		t.Fatalf("not valid JSON: %q", got)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["move"] != "stri" {
		t.Fatalf("move = %q", out["move"])
	}
}

func TestCloseJSONDropsDanglingKey(t *testing.T) {
	// Cut off after an open nested scope with one key lacking a value.
	in := `{"npc_updates": {"npc_1": {"bond": 2, "disposition"`
	got := CloseJSON(in)
	if !json.Valid([]byte(got)) {
		t.Fatalf("not valid JSON: %q", got)
	}
	var out struct {
		Updates map[string]struct {
			Bond        int     `json:"bond"`
			Disposition *string `json:"disposition"`
		} `json:"npc_updates"`
	}
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	inner, ok := out.Updates["npc_1"]
	if !ok {
		t.Fatalf("prior valid structure lost: %q", got)
	}
	if inner.Bond != 2 {
		t.Fatalf("bond = %d, want 2", inner.Bond)
	}
	if inner.Disposition != nil {
		t.Fatal("dangling key was given a fabricated value")
	}
}

func TestCloseJSONDropsFirstKeyOfScope(t *testing.T) {
	// Cut off right after the opening key of a nested object, with no
	// comma in front to anchor on.
	tests := map[string]string{
		`{"npc_updates": {"npc_1"`: `{"npc_updates": {}}`,
		`{"guidance"`:              `{}`,
		`["a", {"bond"`:            `["a", {}]`,
	}
	for in, want := range tests {
		got := CloseJSON(in)
		if got != want {
			t.Errorf("CloseJSON(%q) = %q, want %q", in, got, want)
		}
		if !json.Valid([]byte(got)) {
			t.Errorf("CloseJSON(%q) = %q, not valid", in, got)
		}
	}
}

func TestCloseJSONTrailingColonAndComma(t *testing.T) {
	tests := []string{
		`{"a": 1, "b":`,
		`{"a": 1,`,
		`{"a": [1, 2,`,
		`{"a": {"b": [1, {"c": "d"`,
	}
	for _, in := range tests {
		got := CloseJSON(in)
		if !json.Valid([]byte(got)) {
			t.Errorf("CloseJSON(%q) = %q, not valid", in, got)
		}
		if !strings.Contains(got, `"a"`) {
			t.Errorf("CloseJSON(%q) lost prior key: %q", in, got)
		}
	}
}

func TestCloseJSONIdempotent(t *testing.T) {
	inputs := []string{
		`{"move": "stri`,
		`{"a": 1, "b":`,
		`{"a": {"b": [1, 2`,
		`{"done": true}`,
	}
	for _, in := range inputs {
		once := CloseJSON(in)
		twice := CloseJSON(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestRepairJSONControlChars(t *testing.T) {
	in := "{\"text\": \"line one\nline two\ttabbed\"}"
	got := RepairJSON(in)
	if !json.Valid([]byte(got)) {
		t.Fatalf("not valid JSON: %q", got)
	}
	var out map[string]string
	json.Unmarshal([]byte(got), &out)
	if out["text"] != "line one\nline two\ttabbed" {
		t.Fatalf("text = %q", out["text"])
	}
}

func TestRepairJSONMissingCommas(t *testing.T) {
	tests := []string{
		"{\"a\": \"x\"\n\"b\": \"y\"}",
		"{\"a\": {\"x\": 1}\n\"b\": 2}",
		"{\"a\": 12\n\"b\": 3}",
		"{\"a\": true\n\"b\": null}",
	}
	for _, in := range tests {
		got := RepairJSON(in)
		if !json.Valid([]byte(got)) {
			t.Errorf("RepairJSON(%q) = %q, not valid", in, got)
		}
	}
}

func TestRepairJSONTrailingCommas(t *testing.T) {
	got := RepairJSON(`{"a": [1, 2,], "b": {"c": 3,},}`)
	if !json.Valid([]byte(got)) {
		t.Fatalf("not valid JSON: %q", got)
	}
}

func TestRepairJSONPreservesEscapes(t *testing.T) {
	in := `{"text": "she said \"wait\" twice"}`
	if got := RepairJSON(in); got != in {
		t.Fatalf("escaped quotes mangled: %q", got)
	}
}

func TestTrimProseMidSentence(t *testing.T) {
	in := "The gate creaks open. Rain hammers the courtyard stones. You step thro"
	got := TrimProse(in)
	want := "The gate creaks open. Rain hammers the courtyard stones."
	if got != want {
		t.Fatalf("TrimProse = %q, want %q", got, want)
	}
}

func TestTrimProseIdempotent(t *testing.T) {
	in := "The gate creaks open. Rain hammers the courtyard. You step thro"
	once := TrimProse(in)
	if twice := TrimProse(once); twice != once {
		t.Fatalf("not idempotent: %q vs %q", once, twice)
	}
}

func TestTrimProseDropsUnterminatedMetadata(t *testing.T) {
	in := "You win the fight. The guard yields.\n<game_data>{\"momentum\": 2"
	got := TrimProse(in)
	if strings.Contains(got, "<game_data>") {
		t.Fatalf("unterminated tag survived: %q", got)
	}
	if !strings.Contains(got, "The guard yields.") {
		t.Fatalf("prose lost: %q", got)
	}
}

func TestTrimProseKeepsCompleteMetadata(t *testing.T) {
	in := "You win the fight. The guard yields.<game_data>{\"momentum\": 2}</game_data>"
	if got := TrimProse(in); got != in {
		t.Fatalf("complete metadata changed: %q", got)
	}
}

func TestTrimProseDialogueBoundary(t *testing.T) {
	in := `"Stay back from the gate, all of you!" she shouts. The torch gutters and the dark pres`
	got := TrimProse(in)
	if !strings.HasSuffix(got, "she shouts.") {
		t.Fatalf("TrimProse = %q", got)
	}
}

func TestTrimProseParagraphFallback(t *testing.T) {
	in := "a fragment with no sentence ending at all\n\nand another danglin"
	got := TrimProse(in)
	if got != "a fragment with no sentence ending at all" {
		t.Fatalf("TrimProse = %q", got)
	}
}

func TestTrimProseShortFragmentUntouched(t *testing.T) {
	// Under the guard length the cutoff is kept rather than trimmed to
	// almost nothing.
	in := "Too short. And then it cu"
	if got := TrimProse(in); got != in {
		t.Fatalf("short prose trimmed: %q", got)
	}
}
