// Package npc models the characters the player meets and the memories
// those characters accumulate across scenes.
package npc

import (
	"strings"
)

// Disposition is how an NPC currently feels about the player character.
type Disposition string

const (
	DispositionHostile     Disposition = "hostile"
	DispositionDistrustful Disposition = "distrustful"
	DispositionNeutral     Disposition = "neutral"
	DispositionFriendly    Disposition = "friendly"
	DispositionLoyal       Disposition = "loyal"
)

// Status controls whether an NPC is included in generation prompts.
type Status string

const (
	StatusActive     Status = "active"
	StatusBackground Status = "background"
	StatusInactive   Status = "inactive"
)

// MemoryKind separates raw observations from consolidated reflections.
type MemoryKind string

const (
	KindObservation MemoryKind = "observation"
	KindReflection  MemoryKind = "reflection"
)

// MemoryEvent is a single remembered moment. Immutable once recorded;
// consolidation may drop it but never edits it.
type MemoryEvent struct {
	Text            string
	EmotionalWeight string
	Importance      int
	Scene           int
	Turn            int
	Kind            MemoryKind
}

// BondMax is the ceiling for the bond track.
const BondMax = 4

// NPC is a non-player character with a relationship track and memory.
type NPC struct {
	ID          string
	Name        string
	Description string
	Aliases     []string
	Agenda      string
	Instinct    string
	Disposition Disposition
	Bond        int
	Status      Status
	Memory      []MemoryEvent
	Keywords    []string

	ImportanceAccumulator int
	LastReflectionScene   int
	IntroducedScene       int

	// NeedsReflection is transient. The storage layer's record types do
	// not carry it, so it can never survive a save/load round trip.
	NeedsReflection bool
}

// Clone deep-copies the NPC.
func (n *NPC) Clone() *NPC {
	out := *n
	out.Aliases = append([]string(nil), n.Aliases...)
	out.Memory = append([]MemoryEvent(nil), n.Memory...)
	out.Keywords = append([]string(nil), n.Keywords...)
	return &out
}

// LastMemoryScene returns the scene of the most recent memory, or 0.
func (n *NPC) LastMemoryScene() int {
	last := 0
	for _, m := range n.Memory {
		if m.Scene > last {
			last = m.Scene
		}
	}
	return last
}

// dispositionLadder orders dispositions from worst to best for shifts.
var dispositionLadder = []Disposition{
	DispositionHostile,
	DispositionDistrustful,
	DispositionNeutral,
	DispositionFriendly,
	DispositionLoyal,
}

// ShiftDisposition moves the NPC's disposition by steps along the ladder,
// clamped at both ends.
func (n *NPC) ShiftDisposition(steps int) {
	idx := 0
	for i, d := range dispositionLadder {
		if d == n.Disposition {
			idx = i
			break
		}
	}
	idx += steps
	if idx < 0 {
		idx = 0
	}
	if idx >= len(dispositionLadder) {
		idx = len(dispositionLadder) - 1
	}
	n.Disposition = dispositionLadder[idx]
}

// AdjustBond moves the bond track by delta, clamped to [-BondMax, BondMax].
func (n *NPC) AdjustBond(delta int) {
	n.Bond += delta
	if n.Bond > BondMax {
		n.Bond = BondMax
	}
	if n.Bond < -BondMax {
		n.Bond = -BondMax
	}
}

// dispositionAliases maps the vocabulary the generator tends to emit onto
// the five canonical dispositions.
var dispositionAliases = map[string]Disposition{
	"hostile": DispositionHostile, "aggressive": DispositionHostile,
	"antagonistic": DispositionHostile, "hateful": DispositionHostile,
	"violent": DispositionHostile, "murderous": DispositionHostile,
	"vengeful": DispositionHostile, "enraged": DispositionHostile,

	"distrustful": DispositionDistrustful, "wary": DispositionDistrustful,
	"suspicious": DispositionDistrustful, "cautious": DispositionDistrustful,
	"guarded": DispositionDistrustful, "threatening": DispositionDistrustful,
	"menacing": DispositionDistrustful, "cold": DispositionDistrustful,
	"dismissive": DispositionDistrustful, "resentful": DispositionDistrustful,
	"annoyed": DispositionDistrustful, "bitter": DispositionDistrustful,
	"fearful": DispositionDistrustful, "afraid": DispositionDistrustful,
	"nervous": DispositionDistrustful, "terrified": DispositionDistrustful,
	"anxious": DispositionDistrustful, "scared": DispositionDistrustful,
	"uneasy": DispositionDistrustful, "reluctant": DispositionDistrustful,
	"skeptical": DispositionDistrustful,

	"neutral": DispositionNeutral, "indifferent": DispositionNeutral,
	"curious": DispositionNeutral, "amused": DispositionNeutral,
	"intrigued": DispositionNeutral, "professional": DispositionNeutral,
	"reserved": DispositionNeutral, "formal": DispositionNeutral,
	"uncertain": DispositionNeutral, "confused": DispositionNeutral,
	"surprised": DispositionNeutral, "pragmatic": DispositionNeutral,

	"friendly": DispositionFriendly, "sympathetic": DispositionFriendly,
	"helpful": DispositionFriendly, "warm": DispositionFriendly,
	"trusting": DispositionFriendly, "grateful": DispositionFriendly,
	"respectful": DispositionFriendly, "kind": DispositionFriendly,
	"hopeful": DispositionFriendly, "compassionate": DispositionFriendly,
	"cooperative": DispositionFriendly, "welcoming": DispositionFriendly,
	"caring": DispositionFriendly, "supportive": DispositionFriendly,
	"admiring": DispositionFriendly,

	"loyal": DispositionLoyal, "devoted": DispositionLoyal,
	"protective": DispositionLoyal, "loving": DispositionLoyal,
	"faithful": DispositionLoyal, "bonded": DispositionLoyal,
}

// NormalizeDisposition maps free-form generator output to a canonical
// disposition. Unknown values fall back to neutral.
func NormalizeDisposition(raw string) Disposition {
	if d, ok := dispositionAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return d
	}
	return DispositionNeutral
}

const maxKeywords = 20

// GenerateKeywords derives activation keywords from an NPC's name, aliases,
// description, and agenda. Used for retrieval relevance scoring.
func GenerateKeywords(n *NPC) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(w string) {
		w = strings.ToLower(strings.Trim(w, ".,;:!?\"'()-"))
		if w == "" {
			return
		}
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	add(n.Name)
	for _, part := range strings.Fields(n.Name) {
		if len(part) >= 3 {
			add(part)
		}
	}
	for _, alias := range n.Aliases {
		add(alias)
		for _, part := range strings.Fields(alias) {
			if len(part) >= 3 {
				add(part)
			}
		}
	}
	for _, word := range strings.Fields(n.Description) {
		clean := strings.Trim(word, ".,;:!?\"'()-")
		if len(clean) >= 4 && clean[0] >= 'A' && clean[0] <= 'Z' {
			add(clean)
		}
	}
	for _, word := range strings.Fields(n.Agenda) {
		if clean := strings.Trim(word, ".,;:!?\"'()-"); len(clean) >= 5 {
			add(clean)
		}
	}

	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}
