package npc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates no NPC matched the reference.
var ErrNotFound = errors.New("npc not found")

// Config holds the tunable limits of the store.
type Config struct {
	// MaxActive is the soft limit on NPCs with StatusActive. Exceeding it
	// demotes the least relevant ones to background.
	MaxActive int
	// MaxObservations and MaxReflections cap memory per NPC and kind.
	MaxObservations int
	MaxReflections  int
	// ReflectionThreshold is the importance accumulator value at which an
	// NPC is flagged for a reflection pass.
	ReflectionThreshold int
	// Retrieval blend weights. They should sum to 1.
	RecencyWeight    float64
	ImportanceWeight float64
	RelevanceWeight  float64
	// RecencyDecay is the per-scene exponential decay of recency.
	RecencyDecay float64
	// ReflectionRecencyFloor keeps reflections retrievable long after the
	// scene they were written in.
	ReflectionRecencyFloor float64
}

// DefaultConfig returns the store limits used in play.
func DefaultConfig() Config {
	return Config{
		MaxActive:              12,
		MaxObservations:        15,
		MaxReflections:         8,
		ReflectionThreshold:    30,
		RecencyWeight:          0.40,
		ImportanceWeight:       0.35,
		RelevanceWeight:        0.25,
		RecencyDecay:           0.92,
		ReflectionRecencyFloor: 0.6,
	}
}

// Store owns the NPCs of one game session. It is not safe for concurrent
// use; the turn coordinator serializes access.
//
// Lookups go through a canonical id map plus secondary name and alias
// indexes keyed on the lowercased, trimmed form. The slice keeps
// introduction order.
type Store struct {
	cfg    Config
	npcs   []*NPC
	nextID int

	byID    map[string]*NPC
	byName  map[string]string
	byAlias map[string]string
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	if cfg.MaxActive <= 0 {
		cfg = DefaultConfig()
	}
	return &Store{
		cfg:     cfg,
		byID:    make(map[string]*NPC),
		byName:  make(map[string]string),
		byAlias: make(map[string]string),
	}
}

// nameKey is the canonical lookup form of a name or alias.
func nameKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// index registers an NPC's id, name, and aliases. Earlier entries keep
// their claim on a contested key, matching introduction order.
func (s *Store) index(n *NPC) {
	s.byID[n.ID] = n
	if key := nameKey(n.Name); key != "" {
		if _, taken := s.byName[key]; !taken {
			s.byName[key] = n.ID
		}
	}
	for _, alias := range n.Aliases {
		if key := nameKey(alias); key != "" {
			if _, taken := s.byAlias[key]; !taken {
				s.byAlias[key] = n.ID
			}
		}
	}
}

// Config returns the store's limits.
func (s *Store) Config() Config { return s.cfg }

// All returns the NPCs in introduction order.
func (s *Store) All() []*NPC { return s.npcs }

// Active returns NPCs with StatusActive in introduction order.
func (s *Store) Active() []*NPC {
	var out []*NPC
	for _, n := range s.npcs {
		if n.Status == StatusActive {
			out = append(out, n)
		}
	}
	return out
}

// Add registers a new NPC, assigning it a stable id, canonical disposition,
// and activation keywords. The scene is recorded so the NPC is protected
// from retirement for a grace window.
func (s *Store) Add(n NPC, scene int) *NPC {
	s.nextID++
	n.ID = fmt.Sprintf("npc_%d", s.nextID)
	n.Disposition = NormalizeDisposition(string(n.Disposition))
	if n.Status == "" {
		n.Status = StatusActive
	}
	n.IntroducedScene = scene
	if len(n.Keywords) == 0 {
		n.Keywords = GenerateKeywords(&n)
	}
	s.npcs = append(s.npcs, &n)
	s.index(&n)
	return &n
}

// Restore re-attaches a loaded NPC, keeping id allocation ahead of it.
// Transient flags are reset regardless of what the caller passes.
func (s *Store) Restore(n NPC) *NPC {
	n.NeedsReflection = false
	var num int
	if _, err := fmt.Sscanf(n.ID, "npc_%d", &num); err == nil && num > s.nextID {
		s.nextID = num
	}
	if len(n.Keywords) == 0 {
		n.Keywords = GenerateKeywords(&n)
	}
	clone := n
	s.npcs = append(s.npcs, &clone)
	s.index(&clone)
	return &clone
}

// Find resolves an NPC reference that may be an id, a display name, an
// alias, or a fragment of either. The generator emits all four forms.
//
// Search order: exact id, exact name, exact alias, then substring match.
// Substring matching requires at least 4 characters to avoid short
// fragments matching unrelated names.
func (s *Store) Find(ref string) (*NPC, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNotFound
	}
	if n, ok := s.byID[ref]; ok {
		return n, nil
	}
	lower := nameKey(ref)
	if id, ok := s.byName[lower]; ok {
		return s.byID[id], nil
	}
	if id, ok := s.byAlias[lower]; ok {
		return s.byID[id], nil
	}
	if len(lower) >= 4 {
		var best *NPC
		bestScore := 0
		score := func(candidate string) int {
			candidate = strings.ToLower(strings.TrimSpace(candidate))
			if strings.Contains(candidate, lower) || strings.Contains(lower, candidate) {
				if len(candidate) < len(lower) {
					return len(candidate)
				}
				return len(lower)
			}
			return 0
		}
		for _, n := range s.npcs {
			if sc := score(n.Name); sc > bestScore {
				bestScore, best = sc, n
				continue
			}
			for _, alias := range n.Aliases {
				if sc := score(alias); sc > bestScore {
					bestScore, best = sc, n
				}
			}
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, ErrNotFound
}

// MergeCandidate checks whether a supposedly new NPC name is an identity
// reveal of an existing NPC, like a generic epithet resolving to a proper
// name. Exact name matches are left to Find.
func (s *Store) MergeCandidate(newName string) (*NPC, bool) {
	newName = strings.ToLower(strings.TrimSpace(newName))
	if len(newName) < 3 {
		return nil, false
	}
	newWords := fieldsSet(newName)

	var best *NPC
	bestScore := 0
	for _, n := range s.npcs {
		name := strings.ToLower(strings.TrimSpace(n.Name))
		if name == newName {
			continue
		}
		if strings.Contains(name, newName) || strings.Contains(newName, name) {
			sc := len(name)
			if len(newName) < sc {
				sc = len(newName)
			}
			if sc >= 3 && sc > bestScore {
				bestScore, best = sc, n
			}
			continue
		}
		// Word overlap handles reordered or partially shared names.
		overlap := 0
		for w := range fieldsSet(name) {
			if _, ok := newWords[w]; ok && len(w) >= 4 {
				overlap += len(w)
			}
		}
		if overlap >= 4 && overlap > bestScore {
			bestScore, best = overlap, n
		}
	}
	return best, best != nil
}

// Rename changes an NPC's display name, recording the old name as an alias
// so prior references keep resolving.
func (s *Store) Rename(ref, newName string) error {
	n, err := s.Find(ref)
	if err != nil {
		return err
	}
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == n.Name {
		return nil
	}
	if key := nameKey(n.Name); s.byName[key] == n.ID {
		delete(s.byName, key)
		if _, taken := s.byAlias[key]; !taken {
			s.byAlias[key] = n.ID
		}
	}
	n.Aliases = append(n.Aliases, n.Name)
	n.Name = newName
	n.Keywords = GenerateKeywords(n)
	if key := nameKey(newName); key != "" {
		if _, taken := s.byName[key]; !taken {
			s.byName[key] = n.ID
		}
	}
	return nil
}

// Reactivate promotes a background NPC to active.
func (s *Store) Reactivate(ref string) error {
	n, err := s.Find(ref)
	if err != nil {
		return err
	}
	if n.Status == StatusBackground {
		n.Status = StatusActive
	}
	return nil
}

// retirementProtection keeps brand-new NPCs from being demoted before the
// player has had a chance to interact with them.
const retirementProtection = 1000

// RetireExcess demotes the least relevant active NPCs to background when
// the active count exceeds the soft limit. Relevance blends last-memory
// recency with bond strength; NPCs introduced this scene or without any
// memories yet are protected.
func (s *Store) RetireExcess(currentScene int) []*NPC {
	active := s.Active()
	if len(active) <= s.cfg.MaxActive {
		return nil
	}

	relevance := func(n *NPC) int {
		last := n.LastMemoryScene()
		score := last + n.Bond*3
		if len(n.Memory) == 0 || last >= currentScene || n.IntroducedScene >= currentScene {
			score += retirementProtection
		}
		return score
	}

	// Selection sort over the small active slice, least relevant first.
	for i := 0; i < len(active); i++ {
		min := i
		for j := i + 1; j < len(active); j++ {
			if relevance(active[j]) < relevance(active[min]) {
				min = j
			}
		}
		active[i], active[min] = active[min], active[i]
	}

	demote := len(active) - s.cfg.MaxActive
	demoted := active[:demote]
	for _, n := range demoted {
		n.Status = StatusBackground
	}
	return demoted
}

// Clone deep-copies the store, rebuilding the lookup indexes over the
// copied NPCs.
func (s *Store) Clone() *Store {
	out := &Store{
		cfg:     s.cfg,
		nextID:  s.nextID,
		byID:    make(map[string]*NPC, len(s.npcs)),
		byName:  make(map[string]string, len(s.npcs)),
		byAlias: make(map[string]string),
	}
	out.npcs = make([]*NPC, len(s.npcs))
	for i, n := range s.npcs {
		clone := n.Clone()
		out.npcs[i] = clone
		out.index(clone)
	}
	return out
}

func fieldsSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}
