// Package salvage recovers usable content from malformed or truncated
// generator output: JSON cut off mid-token, JSON with common structural
// mistakes, and prose that stops mid-sentence.
package salvage

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON returns the outermost object in text, which may be wrapped
// in prose or markdown fences.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

var (
	trailingKeyRe  = regexp.MustCompile(`,?\s*"[^"]*"\s*:\s*$`)
	danglingKeyRe  = regexp.MustCompile(`,\s*"[^"]*"\s*$`)
	firstKeyRe     = regexp.MustCompile(`\{\s*"[^"]*"\s*$`)
	stringCommaRe  = regexp.MustCompile(`("[ \t]*)\n(\s*")`)
	bracketCommaRe = regexp.MustCompile(`([}\]][ \t]*)\n(\s*["{\[])`)
	numberCommaRe  = regexp.MustCompile(`(\d[ \t]*)\n(\s*")`)
	literalCommaRe = regexp.MustCompile(`((?:true|false|null)[ \t]*)\n(\s*")`)
	trailingComma  = regexp.MustCompile(`,(\s*[}\]])`)
)

// CloseJSON closes JSON that was cut off by a token limit: an open string
// is terminated, structurally incomplete trailing content is stripped, and
// open brackets are closed innermost first. Valid input passes through
// untouched, so the function is idempotent.
func CloseJSON(text string) string {
	text = strings.TrimRight(text, " \t\r\n")
	if gjson.Valid(text) {
		return text
	}

	if inOpenString(text) {
		text += `"`
	}

	// Strip back to the last structurally complete point. A handful of
	// passes is enough; each pass removes at most one dangling fragment.
	for i := 0; i < 5; i++ {
		stripped := strings.TrimRight(text, " \t\r\n")
		if strings.HasSuffix(stripped, ":") {
			text = trailingKeyRe.ReplaceAllString(stripped, "")
			continue
		}
		if strings.HasSuffix(stripped, ",") {
			text = stripped[:len(stripped)-1]
			continue
		}
		// A dangling key or incomplete array element after a comma is
		// safe to remove in both objects and arrays.
		if loc := danglingKeyRe.FindStringIndex(stripped); loc != nil {
			text = stripped[:loc[0]]
			continue
		}
		// A dangling key with no comma before it is the first key of its
		// object; keep the brace.
		if loc := firstKeyRe.FindStringIndex(stripped); loc != nil {
			text = stripped[:loc[0]+1]
			continue
		}
		break
	}

	return text + closingBrackets(text)
}

// inOpenString reports whether text ends inside an unterminated string.
func inOpenString(text string) bool {
	in := false
	esc := false
	for _, ch := range text {
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			esc = true
		case '"':
			in = !in
		}
	}
	return in
}

// closingBrackets returns the braces and brackets needed to close text,
// innermost first.
func closingBrackets(text string) string {
	var stack []byte
	in := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch {
		case ch == '\\':
			esc = true
		case ch == '"':
			in = !in
		case in:
		case ch == '{':
			stack = append(stack, '}')
		case ch == '[':
			stack = append(stack, ']')
		case (ch == '}' || ch == ']') && len(stack) > 0:
			stack = stack[:len(stack)-1]
		}
	}
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// RepairJSON fixes the structural mistakes the generator makes most often:
// raw control characters inside strings, missing commas between values,
// and trailing commas before a closing bracket. Callers run it only after
// validation has already failed.
func RepairJSON(text string) string {
	text = escapeControlChars(text)

	text = stringCommaRe.ReplaceAllString(text, "$1,\n$2")
	text = bracketCommaRe.ReplaceAllString(text, "$1,\n$2")
	text = numberCommaRe.ReplaceAllString(text, "$1,\n$2")
	text = literalCommaRe.ReplaceAllString(text, "$1,\n$2")

	return trailingComma.ReplaceAllString(text, "$1")
}

// escapeControlChars escapes newlines, carriage returns, and tabs that
// appear raw inside string values.
func escapeControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	in := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			b.WriteByte(ch)
			esc = false
			continue
		}
		switch {
		case ch == '\\':
			b.WriteByte(ch)
			esc = true
		case ch == '"':
			in = !in
			b.WriteByte(ch)
		case in && ch == '\n':
			b.WriteString(`\n`)
		case in && ch == '\r':
			b.WriteString(`\r`)
		case in && ch == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// metadataTags are the structured blocks the narrator appends after prose.
var metadataTags = []string{
	"<game_data>",
	"<npc_rename>",
	"<new_npcs>",
	"<memory_updates>",
	"<scene_context>",
}

// sentenceEnds are the boundaries prose may be trimmed back to, longest
// match winning.
var sentenceEnds = []string{
	". ", `." `, ".\"\n", `."`, ".»", ".\n\n",
	"! ", `!" `, `!"`, "!\n\n",
	"? ", `?" `, `?"`, "?\n\n",
	"…", `…"`, "… ",
}

// TrimProse cleans a truncated narration so it ends at a natural break.
// Complete metadata tags are preserved; a tag opened but never closed is
// dropped entirely. Prose is trimmed back to the last full sentence when
// doing so keeps a meaningful amount of text. Already-clean input is
// returned unchanged, so the function is idempotent.
func TrimProse(raw string) string {
	for _, tag := range metadataTags {
		closeTag := "</" + tag[1:]
		lastOpen := strings.LastIndex(raw, tag)
		if lastOpen != -1 && !strings.Contains(raw[lastOpen:], closeTag) {
			raw = strings.TrimRight(raw[:lastOpen], " \t\r\n")
		}
	}

	proseEnd := len(raw)
	for _, tag := range metadataTags {
		if idx := strings.Index(raw, tag); idx != -1 && idx < proseEnd {
			proseEnd = idx
		}
	}
	prose := raw[:proseEnd]
	metadata := raw[proseEnd:]

	lastSentence := -1
	for _, pattern := range sentenceEnds {
		if idx := strings.LastIndex(prose, pattern); idx != -1 {
			if end := idx + len(pattern); end > lastSentence {
				lastSentence = end
			}
		}
	}
	stripped := strings.TrimRight(prose, " \t\r\n")
	if endsAtSentence(stripped) && len(stripped) > lastSentence {
		lastSentence = len(stripped)
	}

	switch {
	case lastSentence > 30 && lastSentence < len(prose):
		// Only trim when enough prose survives; a tiny fragment reads
		// worse than a mid-sentence cutoff.
		prose = strings.TrimRight(prose[:lastSentence], " \t\r\n")
	case lastSentence == -1:
		// No sentence boundary anywhere. Keep the first paragraph if the
		// text has one.
		if idx := strings.Index(prose, "\n\n"); idx > 0 {
			prose = prose[:idx]
		}
	}

	return prose + metadata
}

func endsAtSentence(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	for _, suffix := range []string{`."`, `!"`, `?"`, ".»", "!»", "?»"} {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
