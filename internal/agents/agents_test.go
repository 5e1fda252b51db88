package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/louisbranch/edgetales/internal/engine/dice"
	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
	"github.com/louisbranch/edgetales/internal/modelclient"
)

// scriptedCaller returns canned responses in order.
type scriptedCaller struct {
	responses []string
	requests  []modelclient.Request
}

func (s *scriptedCaller) Call(_ context.Context, req modelclient.Request) (string, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return "", nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, nil
}

func newGame() *state.GameState {
	g := state.New(npc.DefaultConfig())
	g.Character.Name = "Ash"
	g.Location = "the river crossing"
	g.SceneContext = "fleeing the burned village"
	return g
}

func TestParseBrainResultFull(t *testing.T) {
	raw := `{"type":"action","move":"strike","stat":"iron","approach":"swing hard",
		"target_npc":"npc_1","dialog_only":false,"player_intent":"Attack the guard",
		"position":"desperate","effect":"great","dramatic_question":"Can Ash break through?",
		"location_change":null,"time_progression":"short"}`
	got := ParseBrainResult(raw)

	if got.Move != "strike" || got.Stat != "iron" {
		t.Fatalf("move/stat = %q/%q", got.Move, got.Stat)
	}
	if got.Position != dice.PositionDesperate || got.Effect != dice.EffectGreat {
		t.Fatalf("position/effect = %q/%q", got.Position, got.Effect)
	}
	if got.TargetNPC != "npc_1" || got.LocationChange != "" {
		t.Fatalf("target/location = %q/%q", got.TargetNPC, got.LocationChange)
	}
}

func TestParseBrainResultDefaults(t *testing.T) {
	got := ParseBrainResult(`{"player_intent":"do something"}`)
	if got.Move != "face_danger" {
		t.Fatalf("default move = %q", got.Move)
	}
	if got.Stat != "wits" {
		t.Fatalf("default stat = %q", got.Stat)
	}
	if got.Position != dice.PositionRisky || got.Effect != dice.EffectStandard {
		t.Fatalf("default position/effect = %q/%q", got.Position, got.Effect)
	}
}

func TestParseBrainResultDialogMove(t *testing.T) {
	got := ParseBrainResult(`{"move":"dialog","stat":"none"}`)
	if !got.DialogOnly {
		t.Fatal("dialog move did not set DialogOnly")
	}
}

func TestBrainClassifyBuildsPromptFromState(t *testing.T) {
	g := newGame()
	g.NPCs.Add(npc.NPC{Name: "Mireille", Agenda: "find her brother"}, 1)
	bg := g.NPCs.Add(npc.NPC{Name: "Old Brennis"}, 1)
	bg.Status = npc.StatusBackground
	fake := &scriptedCaller{responses: []string{`{"move":"compel","stat":"heart","target_npc":"npc_1"}`}}
	brain := NewBrain(fake, DefaultConfig())

	got, err := brain.Classify(context.Background(), g, "I plead with Mireille to help us")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Move != "compel" || got.TargetNPC != "npc_1" {
		t.Fatalf("result = %+v", got)
	}

	req := fake.requests[0]
	if req.Agent != modelclient.AgentBrain || req.Format != modelclient.FormatJSON {
		t.Fatalf("request agent/format = %v/%v", req.Agent, req.Format)
	}
	// Active and background NPCs both appear, in their own sections.
	for _, want := range []string{"Mireille", "Old Brennis", "the river crossing", "I plead with Mireille"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestParseNarrationAppliesMetadata(t *testing.T) {
	g := newGame()
	g.SceneCount = 4
	g.NPCs.Add(npc.NPC{Name: "Mireille"}, 1)
	narrator := NewNarrator(&scriptedCaller{}, DefaultConfig())

	raw := `The ferryman eyes you warily before waving you aboard.
<new_npcs>[{"name":"Old Brennis","description":"a scarred ferryman","disposition":"wary","agenda":"stay out of trouble"}]</new_npcs>
<memory_updates>[{"npc_id":"Mireille","event":"saw the player bargain for passage","emotional_weight":"curious"}]</memory_updates>
<scene_context>crossing the river at dusk</scene_context>`

	prose := narrator.ParseNarration(g, raw)

	if strings.Contains(prose, "<") {
		t.Fatalf("metadata left in prose: %q", prose)
	}
	if !strings.Contains(prose, "ferryman eyes you") {
		t.Fatalf("prose lost: %q", prose)
	}
	brennis, err := g.NPCs.Find("Old Brennis")
	if err != nil {
		t.Fatalf("new NPC not added: %v", err)
	}
	if brennis.Disposition != npc.DispositionDistrustful {
		t.Fatalf("disposition not normalized: %q", brennis.Disposition)
	}
	mireille, _ := g.NPCs.Find("Mireille")
	if len(mireille.Memory) != 1 || mireille.Memory[0].Scene != 4 {
		t.Fatalf("memory not recorded: %+v", mireille.Memory)
	}
	if g.SceneContext != "crossing the river at dusk" {
		t.Fatalf("scene context = %q", g.SceneContext)
	}
}

func TestParseNarrationOpeningGameData(t *testing.T) {
	g := newGame()
	g.SceneCount = 1
	narrator := NewNarrator(&scriptedCaller{}, DefaultConfig())

	raw := `Smoke rises from the ruin as two figures approach.
<game_data>{"npcs":[{"name":"Hauptmann Krahe","description":"a border captain","disposition":"suspicious"},{"name":"Ash","description":"the player"}],"clocks":[{"name":"Pursuit","clock_type":"threat","segments":6,"filled":1,"trigger_description":"they catch up"}],"location":"the border watchtower","scene_context":"interrogated at the gate","time_of_day":"evening"}</game_data>`

	narrator.ParseNarration(g, raw)

	if _, err := g.NPCs.Find("Hauptmann Krahe"); err != nil {
		t.Fatalf("game_data NPC not added: %v", err)
	}
	// The player character must never be added as an NPC.
	if _, err := g.NPCs.Find("Ash"); err == nil {
		t.Fatal("player character added as NPC")
	}
	c, err := g.Clocks.Get("clock_1")
	if err != nil || c.Name != "Pursuit" || c.Filled != 1 {
		t.Fatalf("clock = %v, %v", c, err)
	}
	if g.Location != "the border watchtower" || g.TimeOfDay != "evening" {
		t.Fatalf("location/time = %q/%q", g.Location, g.TimeOfDay)
	}
}

func TestParseNarrationMidGameGameDataMergesOnly(t *testing.T) {
	g := newGame()
	g.SceneCount = 7
	g.Location = "the deep forest"
	g.NPCs.Add(npc.NPC{Name: "Mireille"}, 1)
	narrator := NewNarrator(&scriptedCaller{}, DefaultConfig())

	raw := `You press on.
<game_data>{"npcs":[{"name":"Invented Stranger"}],"location":"hallucinated plaza"}</game_data>`

	narrator.ParseNarration(g, raw)

	// Mid-game game_data is usually hallucinated: no cast replacement, no
	// new NPCs, no location override.
	if _, err := g.NPCs.Find("Invented Stranger"); err == nil {
		t.Fatal("mid-game game_data added an NPC")
	}
	if len(g.NPCs.All()) != 1 {
		t.Fatalf("npc count = %d", len(g.NPCs.All()))
	}
	if g.Location != "the deep forest" {
		t.Fatalf("location overridden: %q", g.Location)
	}
}

func TestParseNarrationRenameIsIdentityReveal(t *testing.T) {
	g := newGame()
	g.NPCs.Add(npc.NPC{Name: "Unknown Mercenary"}, 1)
	narrator := NewNarrator(&scriptedCaller{}, DefaultConfig())

	raw := `He pulls back his hood.
<npc_rename>[{"npc_id":"npc_1","new_name":"Hauptmann Krahe","description":"a disgraced border captain"}]</npc_rename>`

	narrator.ParseNarration(g, raw)

	renamed, err := g.NPCs.Find("Hauptmann Krahe")
	if err != nil {
		t.Fatalf("rename not applied: %v", err)
	}
	if renamed.Description != "a disgraced border captain" {
		t.Fatalf("description = %q", renamed.Description)
	}
	// The old name still resolves as an alias.
	if _, err := g.NPCs.Find("Unknown Mercenary"); err != nil {
		t.Fatalf("old name no longer resolves: %v", err)
	}
}

func TestParseNarrationMemoryUpdateCreatesStub(t *testing.T) {
	g := newGame()
	g.SceneCount = 3
	narrator := NewNarrator(&scriptedCaller{}, DefaultConfig())

	raw := `A stranger watched the whole exchange.
<memory_updates>[{"npc_id":"Veiled Watcher","event":"observed the player lie to the guards","emotional_weight":"intrigued"},{"npc_id":"world","event":"ignored"},{"npc_id":"Ash","event":"ignored"}]</memory_updates>`

	narrator.ParseNarration(g, raw)

	stub, err := g.NPCs.Find("Veiled Watcher")
	if err != nil {
		t.Fatalf("stub NPC not created: %v", err)
	}
	if len(stub.Memory) != 1 {
		t.Fatalf("stub memory = %d entries", len(stub.Memory))
	}
	// world/player refs never become NPCs.
	if len(g.NPCs.All()) != 1 {
		t.Fatalf("npc count = %d, want 1", len(g.NPCs.All()))
	}
}

func TestNarrateSendsRecentHistory(t *testing.T) {
	g := newGame()
	g.AppendNarration(state.NarrationEntry{PlayerInput: "I knock", Narration: "No answer."})
	g.AppendNarration(state.NarrationEntry{PlayerInput: "I knock louder", Narration: "The door opens."})
	fake := &scriptedCaller{responses: []string{"A hallway stretches before you."}}
	narrator := NewNarrator(fake, DefaultConfig())

	_, err := narrator.Narrate(context.Background(), g, NarrationBundle{
		PlayerInput: "I step inside",
		Roll:        dice.ActionResult{Move: "face_danger", Outcome: dice.OutcomeWeakHit, Position: dice.PositionRisky, Effect: dice.EffectStandard},
	})
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	req := fake.requests[0]
	if len(req.History) != 2 {
		t.Fatalf("history = %d exchanges, want 2", len(req.History))
	}
	if req.History[1].Assistant != "The door opens." {
		t.Fatalf("history order wrong: %+v", req.History)
	}
	if !strings.Contains(req.Prompt, "I step inside") {
		t.Fatal("prompt missing player action")
	}
}

func TestDirectorShouldRun(t *testing.T) {
	d := NewDirector(&scriptedCaller{}, DefaultConfig())
	g := newGame()
	g.SceneCount = 2

	if d.ShouldRun(g, dice.OutcomeWeakHit, false, false, false) {
		t.Fatal("ran with no trigger")
	}
	if !d.ShouldRun(g, dice.OutcomeMiss, false, false, false) {
		t.Fatal("miss did not trigger")
	}
	if !d.ShouldRun(g, dice.OutcomeWeakHit, true, false, false) {
		t.Fatal("match did not trigger")
	}
	if !d.ShouldRun(g, dice.OutcomeWeakHit, false, true, false) {
		t.Fatal("interrupt did not trigger")
	}
	if !d.ShouldRun(g, dice.OutcomeWeakHit, false, false, true) {
		t.Fatal("new NPC did not trigger")
	}

	g.SceneCount = 6
	if !d.ShouldRun(g, dice.OutcomeWeakHit, false, false, false) {
		t.Fatal("interval did not trigger")
	}

	g.SceneCount = 2
	n := g.NPCs.Add(npc.NPC{Name: "Mireille"}, 1)
	n.NeedsReflection = true
	if !d.ShouldRun(g, dice.OutcomeWeakHit, false, false, false) {
		t.Fatal("pending reflection did not trigger")
	}
}

func TestDirectorIntervalMeasuresFromLastRun(t *testing.T) {
	d := NewDirector(&scriptedCaller{}, DefaultConfig())
	g := newGame()
	g.SceneCount = 3

	if !d.ShouldRun(g, dice.OutcomeWeakHit, false, false, false) {
		t.Fatal("interval did not trigger at scene 3")
	}
	d.Apply(g, DirectorResult{Guidance: "slow down"})
	if g.LastDirectorScene != 3 {
		t.Fatalf("last director scene = %d, want 3", g.LastDirectorScene)
	}

	// The scene can sit at a multiple of the interval for many turns;
	// only scene progress re-arms the trigger.
	for i := 0; i < 10; i++ {
		if d.ShouldRun(g, dice.OutcomeWeakHit, false, false, false) {
			t.Fatalf("interval re-fired on turn %d without scene progress", i+1)
		}
	}

	g.SceneCount = 5
	if d.ShouldRun(g, dice.OutcomeWeakHit, false, false, false) {
		t.Fatal("interval fired two scenes after the last run")
	}
	g.SceneCount = 6
	if !d.ShouldRun(g, dice.OutcomeWeakHit, false, false, false) {
		t.Fatal("interval did not re-arm three scenes after the last run")
	}
}

func TestDirectorApply(t *testing.T) {
	d := NewDirector(&scriptedCaller{}, DefaultConfig())
	g := newGame()
	g.SceneCount = 5
	g.AppendLog(state.LogEntry{Scene: 5, Summary: "short summary"})
	target := g.NPCs.Add(npc.NPC{Name: "Mireille", Description: "a refugee"}, 1)
	target.NeedsReflection = true
	target.ImportanceAccumulator = 31
	stale := g.NPCs.Add(npc.NPC{Name: "Corvan"}, 1)
	stale.NeedsReflection = true
	stale.ImportanceAccumulator = 33

	notes := d.Apply(g, DirectorResult{
		Guidance:     "Krahe should demand payment before the crossing",
		Pacing:       "escalate",
		SceneSummary: "the party bargains for river passage under threat",
		Reflections: []Reflection{{
			NPCRef:             "mireille",
			Text:               "she has begun to see the player as her only anchor",
			UpdatedDescription: "a refugee who now trusts the player",
		}},
	})

	if g.DirectorGuidance == nil || !strings.Contains(g.DirectorGuidance.Note, "demand payment") {
		t.Fatalf("guidance = %+v", g.DirectorGuidance)
	}
	if g.SessionLog[len(g.SessionLog)-1].Summary != "the party bargains for river passage under threat" {
		t.Fatal("log entry not enriched")
	}
	if target.NeedsReflection || target.ImportanceAccumulator != 0 {
		t.Fatalf("reflection bookkeeping: needs=%v acc=%d", target.NeedsReflection, target.ImportanceAccumulator)
	}
	if len(target.Memory) != 1 || target.Memory[0].Kind != npc.KindReflection {
		t.Fatalf("reflection memory = %+v", target.Memory)
	}
	if target.Description != "a refugee who now trusts the player" {
		t.Fatalf("description = %q", target.Description)
	}
	// Unaddressed flags are cleared but keep their accumulators.
	if stale.NeedsReflection {
		t.Fatal("stale flag not cleared")
	}
	if stale.ImportanceAccumulator != 33 {
		t.Fatalf("stale accumulator = %d, want 33", stale.ImportanceAccumulator)
	}
	if len(notes.ReflectedNPCs) != 1 || notes.ReflectedNPCs[0] != "Mireille" {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestDirectorApplyRejectsSnapshotDescription(t *testing.T) {
	d := NewDirector(&scriptedCaller{}, DefaultConfig())
	g := newGame()
	target := g.NPCs.Add(npc.NPC{Name: "Mireille", Description: "a refugee"}, 1)

	long := strings.Repeat("she stands by the river watching the water ", 6)
	d.Apply(g, DirectorResult{Reflections: []Reflection{{
		NPCRef:             "npc_1",
		Text:               "some insight",
		UpdatedDescription: long,
	}}})

	if target.Description != "a refugee" {
		t.Fatalf("over-long description applied: %q", target.Description)
	}
}

func TestParseDirectorResultTolerant(t *testing.T) {
	got := parseDirectorResult(`{"narrator_guidance":"press the pursuit","npc_reflections":[{"npc_id":"","reflection":"dropped"},{"npc_id":"npc_2","reflection":""}]}`)
	if got.Guidance != "press the pursuit" {
		t.Fatalf("guidance = %q", got.Guidance)
	}
	if len(got.Reflections) != 0 {
		t.Fatalf("incomplete reflections kept: %+v", got.Reflections)
	}
}
