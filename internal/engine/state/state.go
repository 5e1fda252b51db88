// Package state defines the mutable narrative state of one game session.
package state

import (
	"strings"

	"github.com/louisbranch/edgetales/internal/engine/clock"
	"github.com/louisbranch/edgetales/internal/engine/npc"
)

// Stat caps and budgets.
const (
	StatMin    = 0
	StatMax    = 3
	StatBudget = 7

	TrackMax = 5

	maxSessionLog       = 50
	maxNarrationHistory = 6
)

// Stats are the five approaches a player can lean on when acting.
type Stats struct {
	Edge   int
	Heart  int
	Iron   int
	Shadow int
	Wits   int
}

// DefaultStats returns the starting distribution.
func DefaultStats() Stats {
	return Stats{Edge: 1, Heart: 2, Iron: 1, Shadow: 1, Wits: 2}
}

// Sum returns the total distributed points.
func (s Stats) Sum() int {
	return s.Edge + s.Heart + s.Iron + s.Shadow + s.Wits
}

// Get returns the named stat, case-insensitively. Unknown names return the
// lowest stat rather than an error, since the generator occasionally emits
// approaches outside the canonical five.
func (s Stats) Get(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "edge":
		return s.Edge
	case "heart":
		return s.Heart
	case "iron":
		return s.Iron
	case "shadow":
		return s.Shadow
	case "wits":
		return s.Wits
	}
	min := s.Edge
	for _, v := range []int{s.Heart, s.Iron, s.Shadow, s.Wits} {
		if v < min {
			min = v
		}
	}
	return min
}

// Normalize clamps each stat to [StatMin, StatMax]. If clamping breaks the
// point budget the whole distribution reverts to defaults, so the budget
// invariant holds unconditionally.
func (s Stats) Normalize() Stats {
	clamp := func(v int) int {
		if v < StatMin {
			return StatMin
		}
		if v > StatMax {
			return StatMax
		}
		return v
	}
	out := Stats{
		Edge:   clamp(s.Edge),
		Heart:  clamp(s.Heart),
		Iron:   clamp(s.Iron),
		Shadow: clamp(s.Shadow),
		Wits:   clamp(s.Wits),
	}
	if out.Sum() != StatBudget {
		return DefaultStats()
	}
	return out
}

// Character is the player character.
type Character struct {
	Name       string
	Background string
	Stats      Stats
	Health     int
	Spirit     int
	Supply     int
}

// LogEntry summarizes one completed scene for long-range context.
type LogEntry struct {
	Scene   int
	Summary string
}

// NarrationEntry is one exchange kept for short-range prompt continuity.
type NarrationEntry struct {
	PlayerInput string
	Narration   string
}

// Guidance is the pacing note produced by the background analysis pass.
type Guidance struct {
	Scene int
	Note  string
}

// GameState is the complete session state. It has a single logical owner;
// only the turn coordinator and its agent adapters mutate it.
type GameState struct {
	Character Character

	Momentum    int
	MaxMomentum int
	ChaosFactor int

	NPCs   *npc.Store
	Clocks *clock.Set

	SceneCount   int
	TurnCount    int
	Location     string
	TimeOfDay    string
	SceneContext string

	SessionLog       []LogEntry
	NarrationHistory []NarrationEntry

	ChapterNumber   int
	CampaignHistory []string

	DirectorGuidance *Guidance

	// LastDirectorScene is the scene count at the most recent director
	// pass; the interval trigger measures from it.
	LastDirectorScene int

	CrisisMode      bool
	GameOver        bool
	EpilogueOffered bool
	EpilogueDone    bool

	// TurnGeneration is a monotonic counter used to detect results computed
	// against a state the player has since moved past.
	TurnGeneration uint64
}

// New returns a fresh session with default character tracks.
func New(npcCfg npc.Config) *GameState {
	return &GameState{
		Character: Character{
			Stats:  DefaultStats(),
			Health: TrackMax,
			Spirit: TrackMax,
			Supply: TrackMax,
		},
		MaxMomentum:   10,
		ChaosFactor:   3,
		NPCs:          npc.NewStore(npcCfg),
		Clocks:        clock.NewSet(),
		SceneCount:    1,
		ChapterNumber: 1,
	}
}

// AppendLog records a scene summary, trimming the oldest entries past cap.
func (g *GameState) AppendLog(e LogEntry) {
	g.SessionLog = append(g.SessionLog, e)
	if len(g.SessionLog) > maxSessionLog {
		g.SessionLog = g.SessionLog[len(g.SessionLog)-maxSessionLog:]
	}
}

// AppendNarration records an exchange for prompt continuity, keeping only
// the most recent entries.
func (g *GameState) AppendNarration(e NarrationEntry) {
	g.NarrationHistory = append(g.NarrationHistory, e)
	if len(g.NarrationHistory) > maxNarrationHistory {
		g.NarrationHistory = g.NarrationHistory[len(g.NarrationHistory)-maxNarrationHistory:]
	}
}

// RecentNarration returns up to n of the latest exchanges, oldest first.
func (g *GameState) RecentNarration(n int) []NarrationEntry {
	if n <= 0 || len(g.NarrationHistory) == 0 {
		return nil
	}
	if n > len(g.NarrationHistory) {
		n = len(g.NarrationHistory)
	}
	return g.NarrationHistory[len(g.NarrationHistory)-n:]
}

// Clone deep-copies the session state. Turns run against a clone and swap
// it in on success, so a failed turn leaves the original untouched.
func (g *GameState) Clone() *GameState {
	out := *g
	out.NPCs = g.NPCs.Clone()
	out.Clocks = g.Clocks.Clone()
	out.SessionLog = append([]LogEntry(nil), g.SessionLog...)
	out.NarrationHistory = append([]NarrationEntry(nil), g.NarrationHistory...)
	out.CampaignHistory = append([]string(nil), g.CampaignHistory...)
	if g.DirectorGuidance != nil {
		guidance := *g.DirectorGuidance
		out.DirectorGuidance = &guidance
	}
	return &out
}
