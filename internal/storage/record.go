package storage

import (
	"github.com/louisbranch/edgetales/internal/engine/clock"
	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
)

// StateRecord is the persisted form of a session. It deliberately has no
// field for turn generation (owned by the coordinator) or for NPC
// reflection flags (recomputed from the accumulator after load).
type StateRecord struct {
	Character CharacterRecord `json:"character"`

	Momentum    int `json:"momentum"`
	MaxMomentum int `json:"max_momentum"`
	ChaosFactor int `json:"chaos_factor"`

	NPCs   []NPCRecord   `json:"npcs,omitempty"`
	Clocks []ClockRecord `json:"clocks,omitempty"`

	SceneCount        int    `json:"scene_count"`
	TurnCount         int    `json:"turn_count"`
	LastDirectorScene int    `json:"last_director_scene,omitempty"`
	Location          string `json:"location"`
	TimeOfDay         string `json:"time_of_day,omitempty"`
	SceneContext      string `json:"scene_context,omitempty"`

	SessionLog       []LogRecord       `json:"session_log,omitempty"`
	NarrationHistory []NarrationRecord `json:"narration_history,omitempty"`

	ChapterNumber   int      `json:"chapter_number"`
	CampaignHistory []string `json:"campaign_history,omitempty"`

	CrisisMode      bool `json:"crisis_mode,omitempty"`
	GameOver        bool `json:"game_over,omitempty"`
	EpilogueOffered bool `json:"epilogue_offered,omitempty"`
	EpilogueDone    bool `json:"epilogue_done,omitempty"`
}

// CharacterRecord is the persisted player character.
type CharacterRecord struct {
	Name       string `json:"name"`
	Background string `json:"background,omitempty"`
	Edge       int    `json:"edge"`
	Heart      int    `json:"heart"`
	Iron       int    `json:"iron"`
	Shadow     int    `json:"shadow"`
	Wits       int    `json:"wits"`
	Health     int    `json:"health"`
	Spirit     int    `json:"spirit"`
	Supply     int    `json:"supply"`
}

// NPCRecord is the persisted form of an NPC.
type NPCRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Agenda      string   `json:"agenda,omitempty"`
	Instinct    string   `json:"instinct,omitempty"`
	Disposition string   `json:"disposition"`
	Bond        int      `json:"bond"`
	Status      string   `json:"status"`
	Keywords    []string `json:"keywords,omitempty"`

	Memory []MemoryRecord `json:"memory,omitempty"`

	ImportanceAccumulator int `json:"importance_accumulator,omitempty"`
	LastReflectionScene   int `json:"last_reflection_scene,omitempty"`
	IntroducedScene       int `json:"introduced_scene,omitempty"`
}

// MemoryRecord is one persisted memory event.
type MemoryRecord struct {
	Text            string `json:"text"`
	EmotionalWeight string `json:"emotional_weight,omitempty"`
	Importance      int    `json:"importance"`
	Scene           int    `json:"scene"`
	Turn            int    `json:"turn"`
	Kind            string `json:"kind"`
}

// ClockRecord is one persisted clock.
type ClockRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Filled   int    `json:"filled"`
	Segments int    `json:"segments"`
	Trigger  string `json:"trigger,omitempty"`
	Fired    bool   `json:"fired,omitempty"`
}

// LogRecord is one persisted session log entry.
type LogRecord struct {
	Scene   int    `json:"scene"`
	Summary string `json:"summary"`
}

// NarrationRecord is one persisted narration exchange.
type NarrationRecord struct {
	PlayerInput string `json:"player_input"`
	Narration   string `json:"narration"`
}

// EncodeState converts a live session into its persisted form.
func EncodeState(g *state.GameState) StateRecord {
	rec := StateRecord{
		Character: CharacterRecord{
			Name:       g.Character.Name,
			Background: g.Character.Background,
			Edge:       g.Character.Stats.Edge,
			Heart:      g.Character.Stats.Heart,
			Iron:       g.Character.Stats.Iron,
			Shadow:     g.Character.Stats.Shadow,
			Wits:       g.Character.Stats.Wits,
			Health:     g.Character.Health,
			Spirit:     g.Character.Spirit,
			Supply:     g.Character.Supply,
		},
		Momentum:          g.Momentum,
		MaxMomentum:       g.MaxMomentum,
		ChaosFactor:       g.ChaosFactor,
		SceneCount:        g.SceneCount,
		TurnCount:         g.TurnCount,
		LastDirectorScene: g.LastDirectorScene,
		Location:          g.Location,
		TimeOfDay:         g.TimeOfDay,
		SceneContext:      g.SceneContext,
		ChapterNumber:     g.ChapterNumber,
		CampaignHistory:   append([]string(nil), g.CampaignHistory...),
		CrisisMode:        g.CrisisMode,
		GameOver:          g.GameOver,
		EpilogueOffered:   g.EpilogueOffered,
		EpilogueDone:      g.EpilogueDone,
	}

	for _, n := range g.NPCs.All() {
		nr := NPCRecord{
			ID:                    n.ID,
			Name:                  n.Name,
			Description:           n.Description,
			Aliases:               append([]string(nil), n.Aliases...),
			Agenda:                n.Agenda,
			Instinct:              n.Instinct,
			Disposition:           string(n.Disposition),
			Bond:                  n.Bond,
			Status:                string(n.Status),
			Keywords:              append([]string(nil), n.Keywords...),
			ImportanceAccumulator: n.ImportanceAccumulator,
			LastReflectionScene:   n.LastReflectionScene,
			IntroducedScene:       n.IntroducedScene,
		}
		for _, m := range n.Memory {
			nr.Memory = append(nr.Memory, MemoryRecord{
				Text:            m.Text,
				EmotionalWeight: m.EmotionalWeight,
				Importance:      m.Importance,
				Scene:           m.Scene,
				Turn:            m.Turn,
				Kind:            string(m.Kind),
			})
		}
		rec.NPCs = append(rec.NPCs, nr)
	}

	for _, c := range g.Clocks.All() {
		rec.Clocks = append(rec.Clocks, ClockRecord{
			ID:       c.ID,
			Name:     c.Name,
			Kind:     string(c.Kind),
			Filled:   c.Filled,
			Segments: c.Segments,
			Trigger:  c.Trigger,
			Fired:    c.Fired,
		})
	}

	for _, e := range g.SessionLog {
		rec.SessionLog = append(rec.SessionLog, LogRecord{Scene: e.Scene, Summary: e.Summary})
	}
	for _, e := range g.NarrationHistory {
		rec.NarrationHistory = append(rec.NarrationHistory, NarrationRecord{
			PlayerInput: e.PlayerInput,
			Narration:   e.Narration,
		})
	}

	return rec
}

// DecodeState rebuilds a live session from its persisted form. Stats are
// normalized on the way in so a tampered or stale save cannot break the
// point budget invariant.
func DecodeState(rec StateRecord, npcCfg npc.Config) *state.GameState {
	g := state.New(npcCfg)

	g.Character = state.Character{
		Name:       rec.Character.Name,
		Background: rec.Character.Background,
		Stats: state.Stats{
			Edge:   rec.Character.Edge,
			Heart:  rec.Character.Heart,
			Iron:   rec.Character.Iron,
			Shadow: rec.Character.Shadow,
			Wits:   rec.Character.Wits,
		}.Normalize(),
		Health: rec.Character.Health,
		Spirit: rec.Character.Spirit,
		Supply: rec.Character.Supply,
	}

	g.Momentum = rec.Momentum
	if rec.MaxMomentum > 0 {
		g.MaxMomentum = rec.MaxMomentum
	}
	if rec.ChaosFactor > 0 {
		g.ChaosFactor = rec.ChaosFactor
	}
	if rec.SceneCount > 0 {
		g.SceneCount = rec.SceneCount
	}
	g.TurnCount = rec.TurnCount
	g.LastDirectorScene = rec.LastDirectorScene
	g.Location = rec.Location
	g.TimeOfDay = rec.TimeOfDay
	g.SceneContext = rec.SceneContext
	if rec.ChapterNumber > 0 {
		g.ChapterNumber = rec.ChapterNumber
	}
	g.CampaignHistory = append([]string(nil), rec.CampaignHistory...)
	g.CrisisMode = rec.CrisisMode
	g.GameOver = rec.GameOver
	g.EpilogueOffered = rec.EpilogueOffered
	g.EpilogueDone = rec.EpilogueDone

	for _, nr := range rec.NPCs {
		n := npc.NPC{
			ID:                    nr.ID,
			Name:                  nr.Name,
			Description:           nr.Description,
			Aliases:               append([]string(nil), nr.Aliases...),
			Agenda:                nr.Agenda,
			Instinct:              nr.Instinct,
			Disposition:           npc.NormalizeDisposition(nr.Disposition),
			Bond:                  nr.Bond,
			Status:                npc.Status(nr.Status),
			Keywords:              append([]string(nil), nr.Keywords...),
			ImportanceAccumulator: nr.ImportanceAccumulator,
			LastReflectionScene:   nr.LastReflectionScene,
			IntroducedScene:       nr.IntroducedScene,
		}
		if n.Status != npc.StatusActive && n.Status != npc.StatusBackground && n.Status != npc.StatusInactive {
			n.Status = npc.StatusActive
		}
		for _, m := range nr.Memory {
			kind := npc.MemoryKind(m.Kind)
			if kind != npc.KindReflection {
				kind = npc.KindObservation
			}
			n.Memory = append(n.Memory, npc.MemoryEvent{
				Text:            m.Text,
				EmotionalWeight: m.EmotionalWeight,
				Importance:      m.Importance,
				Scene:           m.Scene,
				Turn:            m.Turn,
				Kind:            kind,
			})
		}
		g.NPCs.Restore(n)
	}

	for _, cr := range rec.Clocks {
		kind := clock.Kind(cr.Kind)
		if kind != clock.KindProgress {
			kind = clock.KindThreat
		}
		g.Clocks.Restore(clock.Clock{
			ID:       cr.ID,
			Name:     cr.Name,
			Kind:     kind,
			Filled:   cr.Filled,
			Segments: cr.Segments,
			Trigger:  cr.Trigger,
			Fired:    cr.Fired,
		})
	}

	for _, e := range rec.SessionLog {
		g.SessionLog = append(g.SessionLog, state.LogEntry{Scene: e.Scene, Summary: e.Summary})
	}
	for _, e := range rec.NarrationHistory {
		g.NarrationHistory = append(g.NarrationHistory, state.NarrationEntry{
			PlayerInput: e.PlayerInput,
			Narration:   e.Narration,
		})
	}

	return g
}
