package npc

import (
	"math"
	"sort"
	"strings"
)

// emotionalWeightBase maps the generator's emotional-weight vocabulary to a
// base importance on the 1-10 scale. Unknown weights score 3.
var emotionalWeightBase = map[string]int{
	"neutral": 2, "polite": 2, "casual": 2, "indifferent": 2,
	"formal": 2, "calm": 2, "bored": 2,

	"amused": 3, "curious": 3, "interested": 3, "pleased": 3,
	"annoyed": 4, "wary": 4, "uneasy": 4, "concerned": 4,
	"frustrated": 4, "confused": 4, "nervous": 4,

	"grateful": 5, "impressed": 5, "suspicious": 5, "angry": 5,
	"disappointed": 5, "protective": 5, "trusting": 5,
	"hopeful": 5, "jealous": 5, "guilty": 5,

	"defiant": 6, "loyal": 6, "conflicted": 6,
	"awed": 7, "devoted": 7, "terrified": 7, "furious": 7,
	"heartbroken": 7, "inspired": 7, "grief": 7,

	"euphoric": 8, "sworn": 8,
	"betrayed": 9, "devastated": 9,
	"transformed": 10, "sacrificial": 10, "reborn": 10,
}

// importanceBoosts raises importance when the event text names a
// high-stakes subject, regardless of the stated emotional weight.
var importanceBoosts = []struct {
	floor    int
	keywords []string
}{
	{7, []string{"saved", "death", "killed", "died", "life", "murder", "sacrifice"}},
	{5, []string{"secret", "revealed", "betrayed", "trust", "oath", "sworn", "love"}},
	{3, []string{"gift", "helped", "fought", "protected", "warned", "lied"}},
}

// ScoreImportance rates a memory event 1-10 from its emotional weight and
// the keywords in its text.
func ScoreImportance(emotionalWeight, text string) int {
	base, ok := emotionalWeightBase[strings.ToLower(strings.TrimSpace(emotionalWeight))]
	if !ok {
		base = 3
	}
	lower := strings.ToLower(text)
	for _, boost := range importanceBoosts {
		matched := false
		for _, kw := range boost.keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if matched {
			if boost.floor > base {
				base = boost.floor
			}
			break
		}
	}
	if base < 1 {
		base = 1
	}
	if base > 10 {
		base = 10
	}
	return base
}

// RecordEvent stores an observation on the NPC, scoring its importance and
// feeding the reflection accumulator. Consolidation runs before the memory
// budget would be exceeded, so the cap always holds on return.
func (s *Store) RecordEvent(ref, text, emotionalWeight string, scene, turn int) (MemoryEvent, error) {
	n, err := s.Find(ref)
	if err != nil {
		return MemoryEvent{}, err
	}
	ev := MemoryEvent{
		Text:            strings.TrimSpace(text),
		EmotionalWeight: strings.ToLower(strings.TrimSpace(emotionalWeight)),
		Importance:      ScoreImportance(emotionalWeight, text),
		Scene:           scene,
		Turn:            turn,
		Kind:            KindObservation,
	}
	n.Memory = append(n.Memory, ev)
	n.ImportanceAccumulator += ev.Importance
	if n.ImportanceAccumulator >= s.cfg.ReflectionThreshold && scene > n.LastReflectionScene {
		n.NeedsReflection = true
	}
	if n.Status == StatusBackground {
		n.Status = StatusActive
	}
	s.consolidate(n)
	return ev, nil
}

// RecordReflection stores a reflection produced by the background analysis
// pass and clears the pending flag.
func (s *Store) RecordReflection(ref, text string, scene, turn int) (MemoryEvent, error) {
	n, err := s.Find(ref)
	if err != nil {
		return MemoryEvent{}, err
	}
	ev := MemoryEvent{
		Text:       strings.TrimSpace(text),
		Importance: 8,
		Scene:      scene,
		Turn:       turn,
		Kind:       KindReflection,
	}
	n.Memory = append(n.Memory, ev)
	n.NeedsReflection = false
	n.ImportanceAccumulator = 0
	n.LastReflectionScene = scene
	s.consolidate(n)
	return ev, nil
}

// PendingReflection returns the first NPC flagged for a reflection pass.
func (s *Store) PendingReflection() (*NPC, bool) {
	for _, n := range s.npcs {
		if n.NeedsReflection {
			return n, true
		}
	}
	return nil, false
}

// Retrieve selects up to budget memories for the prompt, blending recency,
// importance, and relevance to the given context text. A reflection is
// always included when one exists, even if it scores below the cut.
func (s *Store) Retrieve(ref, contextText string, budget, currentScene int) ([]MemoryEvent, error) {
	n, err := s.Find(ref)
	if err != nil {
		return nil, err
	}
	if len(n.Memory) == 0 || budget <= 0 {
		return nil, nil
	}

	contextWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(contextText)) {
		if len(w) >= 3 {
			contextWords[w] = struct{}{}
		}
	}
	npcKeywords := make(map[string]struct{}, len(n.Keywords))
	for _, kw := range n.Keywords {
		npcKeywords[strings.ToLower(kw)] = struct{}{}
	}

	score := func(m MemoryEvent) float64 {
		gap := currentScene - m.Scene
		if gap < 0 {
			gap = 0
		}
		recency := math.Pow(s.cfg.RecencyDecay, float64(gap))
		if m.Kind == KindReflection && recency < s.cfg.ReflectionRecencyFloor {
			recency = s.cfg.ReflectionRecencyFloor
		}

		importance := float64(m.Importance) / 10.0

		relevance := 0.0
		if len(contextWords) > 0 {
			overlap := 0
			for _, w := range strings.Fields(strings.ToLower(m.Text)) {
				if len(w) < 3 {
					continue
				}
				if _, ok := contextWords[w]; ok {
					overlap++
				}
			}
			for w := range npcKeywords {
				if _, ok := contextWords[w]; ok {
					overlap++
				}
			}
			if overlap > 0 {
				denom := len(contextWords)
				if denom < 3 {
					denom = 3
				}
				relevance = float64(overlap) / float64(denom) * 2
				if relevance > 1 {
					relevance = 1
				}
			}
		}

		return s.cfg.RecencyWeight*recency +
			s.cfg.ImportanceWeight*importance +
			s.cfg.RelevanceWeight*relevance
	}

	type scored struct {
		ev    MemoryEvent
		score float64
	}
	all := make([]scored, len(n.Memory))
	for i, m := range n.Memory {
		all[i] = scored{m, score(m)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	if budget > len(all) {
		budget = len(all)
	}
	result := make([]MemoryEvent, 0, budget)
	hasReflection := false
	for _, sc := range all[:budget] {
		result = append(result, sc.ev)
		if sc.ev.Kind == KindReflection {
			hasReflection = true
		}
	}

	if !hasReflection {
		var best *MemoryEvent
		for i := range n.Memory {
			m := &n.Memory[i]
			if m.Kind != KindReflection {
				continue
			}
			if best == nil || m.Importance > best.Importance {
				best = m
			}
		}
		if best != nil && len(result) > 0 {
			result[len(result)-1] = *best
		}
	}
	return result, nil
}

// consolidate trims each memory kind to its budget, keeping the
// highest-importance entries. Ties go to the more recent entry. The kept
// memories are re-sorted chronologically so prompts read in story order.
func (s *Store) consolidate(n *NPC) {
	var observations, reflections []MemoryEvent
	for _, m := range n.Memory {
		if m.Kind == KindReflection {
			reflections = append(reflections, m)
		} else {
			observations = append(observations, m)
		}
	}
	if len(observations) <= s.cfg.MaxObservations && len(reflections) <= s.cfg.MaxReflections {
		return
	}

	observations = keepTop(observations, s.cfg.MaxObservations)
	reflections = keepTop(reflections, s.cfg.MaxReflections)

	kept := append(observations, reflections...)
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Scene != kept[j].Scene {
			return kept[i].Scene < kept[j].Scene
		}
		return kept[i].Turn < kept[j].Turn
	})
	n.Memory = kept
}

func keepTop(events []MemoryEvent, budget int) []MemoryEvent {
	if len(events) <= budget {
		return events
	}
	sorted := append([]MemoryEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Importance != sorted[j].Importance {
			return sorted[i].Importance > sorted[j].Importance
		}
		if sorted[i].Scene != sorted[j].Scene {
			return sorted[i].Scene > sorted[j].Scene
		}
		return sorted[i].Turn > sorted[j].Turn
	})
	return sorted[:budget]
}
