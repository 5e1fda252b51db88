package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/louisbranch/edgetales/internal/engine/dice"
	"github.com/louisbranch/edgetales/internal/engine/state"
	"github.com/louisbranch/edgetales/internal/modelclient"
)

const directorSystem = `You are the Director of a solo RPG story. You do NOT write narration.
Your job is strategic: analyze what just happened and guide what should happen next.

Think like a showrunner, not a writer:
- What tensions are building? What should pay off soon?
- Which NPCs have untapped potential? Who should appear next?
- Is the pacing right? Does the player need a breather or escalation?
- Are there narrative threads that risk being forgotten?

For NPC reflections: Synthesize their accumulated memories into a higher-level
insight about how they view the player character. Focus on relationship
evolution, not event recaps.

Be SPECIFIC in narrator_guidance. Not "make things interesting" but
"Borin should test the player's loyalty with a dangerous request before
revealing the secret passage."

Always reply with valid JSON only. No markdown, no backticks.
{"narrator_guidance":"","pacing":"","scene_summary":"","npc_reflections":[{"npc_id":"","reflection":"","updated_description":""}]}`

// directorInterval is how many scenes may pass since the last director
// pass without any other trigger before the director runs anyway.
const directorInterval = 3

// maxDescriptionLen rejects descriptions that are scene snapshots rather
// than character summaries.
const maxDescriptionLen = 200

// Reflection is one NPC insight produced by the director.
type Reflection struct {
	NPCRef             string
	Text               string
	UpdatedDescription string
}

// DirectorResult is the strategic output of one background analysis.
type DirectorResult struct {
	Guidance     string
	Pacing       string
	SceneSummary string
	Reflections  []Reflection
}

// DirectorNotes reports what applying a result changed, for presentation.
type DirectorNotes struct {
	Guidance           string
	ReflectedNPCs      []string
	DescriptionUpdates []string
}

// Director analyzes completed scenes in the background and produces
// pacing guidance and NPC reflections.
type Director struct {
	client caller
	cfg    Config
}

// NewDirector builds the analysis agent.
func NewDirector(client caller, cfg Config) *Director {
	return &Director{client: client, cfg: cfg}
}

// ShouldRun decides whether this turn warrants a director pass. Runs on a
// miss, a match, a chaos interrupt, a new NPC, a pending reflection, or
// once the scene count pulls far enough ahead of the last pass.
func (d *Director) ShouldRun(g *state.GameState, outcome dice.Outcome, match, interrupted, newNPCs bool) bool {
	if outcome == dice.OutcomeMiss || match || interrupted || newNPCs {
		return true
	}
	if _, ok := g.NPCs.PendingReflection(); ok {
		return true
	}
	return g.SceneCount-g.LastDirectorScene >= directorInterval
}

// Analyze asks the generator for strategic guidance on the latest scene.
// The prompt is built from a snapshot taken under the coordinator's lock;
// the call itself runs unlocked.
func (d *Director) Analyze(ctx context.Context, g *state.GameState, latestNarration string) (DirectorResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<scene n=\"%d\">\n<narration>%s</narration>\n", g.SceneCount, latestNarration)
	fmt.Fprintf(&b, "<npcs>%s</npcs>\n<clocks>%s</clocks>\n<recent>%s</recent>\n",
		npcSummary(g), clockSummary(g), recentScenes(g, 5))
	if pending, ok := g.NPCs.PendingReflection(); ok {
		fmt.Fprintf(&b, "<reflection_due npc_id=%q name=%q>\n", pending.ID, pending.Name)
		for _, m := range pending.Memory {
			fmt.Fprintf(&b, "- %s\n", m.Text)
		}
		b.WriteString("</reflection_due>\n")
	}
	b.WriteString("</scene>")

	raw, err := d.client.Call(ctx, modelclient.Request{
		Agent:     modelclient.AgentDirector,
		Model:     d.cfg.DirectorModel,
		System:    directorSystem,
		Prompt:    b.String(),
		MaxTokens: d.cfg.DirectorMaxTokens,
		Format:    modelclient.FormatJSON,
	})
	if err != nil {
		return DirectorResult{}, fmt.Errorf("analyze scene: %w", err)
	}
	return parseDirectorResult(raw), nil
}

func parseDirectorResult(raw string) DirectorResult {
	out := DirectorResult{
		Guidance:     strings.TrimSpace(gjson.Get(raw, "narrator_guidance").String()),
		Pacing:       strings.TrimSpace(gjson.Get(raw, "pacing").String()),
		SceneSummary: strings.TrimSpace(gjson.Get(raw, "scene_summary").String()),
	}
	gjson.Get(raw, "npc_reflections").ForEach(func(_, r gjson.Result) bool {
		ref := Reflection{
			NPCRef:             strings.TrimSpace(r.Get("npc_id").String()),
			Text:               strings.TrimSpace(r.Get("reflection").String()),
			UpdatedDescription: strings.TrimSpace(r.Get("updated_description").String()),
		}
		if ref.NPCRef != "" && ref.Text != "" {
			out.Reflections = append(out.Reflections, ref)
		}
		return true
	})
	return out
}

// Apply writes a director result into the state. The caller holds the
// coordinator lock and has already verified the generation matches.
func (d *Director) Apply(g *state.GameState, result DirectorResult) DirectorNotes {
	notes := DirectorNotes{Guidance: result.Guidance}
	g.LastDirectorScene = g.SceneCount

	if result.Guidance != "" || result.Pacing != "" {
		note := result.Guidance
		if result.Pacing != "" {
			note = strings.TrimSpace(note + "\npacing: " + result.Pacing)
		}
		g.DirectorGuidance = &state.Guidance{Scene: g.SceneCount, Note: note}
	}

	// Enrich the latest log entry with the richer summary.
	if result.SceneSummary != "" && len(g.SessionLog) > 0 {
		g.SessionLog[len(g.SessionLog)-1].Summary = result.SceneSummary
	}

	reflected := make(map[string]bool)
	for _, ref := range result.Reflections {
		target, err := g.NPCs.Find(ref.NPCRef)
		if err != nil {
			continue
		}
		if _, err := g.NPCs.RecordReflection(target.ID, ref.Text, g.SceneCount, g.TurnCount); err != nil {
			continue
		}
		reflected[target.ID] = true
		notes.ReflectedNPCs = append(notes.ReflectedNPCs, target.Name)

		// Over-long descriptions are scene snapshots, not character
		// summaries; keep the old one.
		if len(ref.UpdatedDescription) > 10 && len(ref.UpdatedDescription) <= maxDescriptionLen {
			target.Description = ref.UpdatedDescription
			notes.DescriptionUpdates = append(notes.DescriptionUpdates, target.Name)
		}
	}

	// Clear pending flags the director did not address, or they would
	// trigger a director pass every turn from now on. The accumulator is
	// kept so the next threshold crossing re-raises the flag.
	for _, n := range g.NPCs.All() {
		if n.NeedsReflection && !reflected[n.ID] {
			n.NeedsReflection = false
		}
	}
	return notes
}
