package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/louisbranch/edgetales/internal/engine/clock"
	"github.com/louisbranch/edgetales/internal/engine/dice"
	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
	"github.com/louisbranch/edgetales/internal/modelclient"
)

const narratorSystem = `You narrate a solo RPG in second person, present tense. The engine has
already decided what happened mechanically; your job is to dramatize it.
Never contradict the mechanical outcome. Never speak for the player
character's decisions. 2-4 paragraphs.

After the prose, append structured metadata when relevant:
<new_npcs>[{"name":"","description":"","disposition":"neutral","agenda":"","instinct":""}]</new_npcs>
<npc_rename>[{"npc_id":"","new_name":"","description":""}]</npc_rename>
<memory_updates>[{"npc_id":"","event":"","emotional_weight":"neutral"}]</memory_updates>
<scene_context>one line describing the situation going forward</scene_context>`

// NarrationBundle is everything the narrator needs about a resolved turn.
type NarrationBundle struct {
	PlayerInput    string
	Brain          BrainResult
	Roll           dice.ActionResult
	Consequences   []string
	ClockEvents    []clock.FireEvent
	ChaosInterrupt string
	MomentumBurn   bool
}

// Narrator turns resolved outcomes into prose and applies the structured
// metadata the generator appends to it.
type Narrator struct {
	client caller
	cfg    Config
}

// NewNarrator builds the prose agent.
func NewNarrator(client caller, cfg Config) *Narrator {
	return &Narrator{client: client, cfg: cfg}
}

// Narrate requests prose for a resolved action. Recent exchanges ride
// along as conversation history for continuity.
func (n *Narrator) Narrate(ctx context.Context, g *state.GameState, bundle NarrationBundle) (string, error) {
	var history []modelclient.Exchange
	for _, e := range g.RecentNarration(3) {
		history = append(history, modelclient.Exchange{User: e.PlayerInput, Assistant: e.Narration})
	}

	raw, err := n.client.Call(ctx, modelclient.Request{
		Agent:     modelclient.AgentNarrator,
		Model:     n.cfg.NarratorModel,
		System:    narratorSystem,
		Prompt:    n.buildActionPrompt(g, bundle),
		History:   history,
		MaxTokens: n.cfg.NarratorMaxTokens,
		Format:    modelclient.FormatProse,
	})
	if err != nil {
		return "", fmt.Errorf("narrate turn: %w", err)
	}
	return raw, nil
}

// buildActionPrompt assembles the scene bundle: state, target NPC context
// with retrieved memories, the mechanical outcome, and pacing signals.
func (n *Narrator) buildActionPrompt(g *state.GameState, bundle NarrationBundle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<scene n=\"%d\">\n", g.SceneCount)
	fmt.Fprintf(&b, "<location>%s</location>\n<situation>%s</situation>\n", g.Location, g.SceneContext)
	if g.TimeOfDay != "" {
		fmt.Fprintf(&b, "<time>%s</time>\n", g.TimeOfDay)
	}
	fmt.Fprintf(&b, "<status h=\"%d\" sp=\"%d\" su=\"%d\" m=\"%d\"/>\n",
		g.Character.Health, g.Character.Spirit, g.Character.Supply, g.Momentum)
	if g.CrisisMode {
		b.WriteString("<crisis>Character at breaking point.</crisis>\n")
	}

	if target, err := g.NPCs.Find(bundle.Brain.TargetNPC); err == nil {
		fmt.Fprintf(&b, "<npc id=%q name=%q disposition=%q bond=\"%d\" agenda=%q instinct=%q>\n",
			target.ID, target.Name, target.Disposition, target.Bond,
			target.Agenda, target.Instinct)
		memories, _ := g.NPCs.Retrieve(target.ID, bundle.PlayerInput, 5, g.SceneCount)
		for _, m := range memories {
			fmt.Fprintf(&b, "- remembers: %s\n", m.Text)
		}
		b.WriteString("</npc>\n")
	}

	fmt.Fprintf(&b, "<roll move=%q outcome=%q match=\"%t\" position=%q effect=%q/>\n",
		bundle.Roll.Move, bundle.Roll.Outcome, bundle.Roll.Match,
		bundle.Roll.Position, bundle.Roll.Effect)
	if len(bundle.Consequences) > 0 {
		fmt.Fprintf(&b, "<consequences>%s</consequences>\n", strings.Join(bundle.Consequences, "; "))
	}
	for _, ev := range bundle.ClockEvents {
		fmt.Fprintf(&b, "<clock_fired name=%q>%s</clock_fired>\n", ev.Name, ev.Trigger)
	}
	if bundle.ChaosInterrupt != "" {
		fmt.Fprintf(&b, "<chaos_interrupt type=%q>Weave this disruption naturally into the scene.</chaos_interrupt>\n", bundle.ChaosInterrupt)
	}
	if bundle.MomentumBurn {
		b.WriteString("<momentum_burn>Character digs deep, turns the tide.</momentum_burn>\n")
	}
	if g.DirectorGuidance != nil && g.DirectorGuidance.Note != "" {
		fmt.Fprintf(&b, "<guidance>%s</guidance>\n", g.DirectorGuidance.Note)
	}
	if bundle.Brain.DramaticQuestion != "" {
		fmt.Fprintf(&b, "<dramatic_question>%s</dramatic_question>\n", bundle.Brain.DramaticQuestion)
	}
	b.WriteString("</scene>\n")

	fmt.Fprintf(&b, "<player_action intent=%q approach=%q>%s</player_action>",
		bundle.Brain.PlayerIntent, bundle.Brain.Approach, bundle.PlayerInput)
	return b.String()
}

var (
	gameDataRe     = regexp.MustCompile(`<game_data>([\s\S]*?)</game_data>`)
	npcRenameRe    = regexp.MustCompile(`<npc_rename>([\s\S]*?)</npc_rename>`)
	newNPCsRe      = regexp.MustCompile(`<new_npcs>([\s\S]*?)</new_npcs>`)
	memoryUpdateRe = regexp.MustCompile(`<memory_updates>([\s\S]*?)</memory_updates>`)
	sceneContextRe = regexp.MustCompile(`<scene_context>([\s\S]*?)</scene_context>`)
	pairedTagRe    = regexp.MustCompile(`<[^>]+>[\s\S]*?</[^>]+>`)
	selfClosedRe   = regexp.MustCompile(`<[^>]+/>`)
)

// ParseNarration strips the structured metadata blocks from a narrator
// response, applies them to the state, and returns the clean prose. Every
// block is best-effort: a malformed one is dropped, never fatal.
func (n *Narrator) ParseNarration(g *state.GameState, raw string) string {
	narration := raw

	if m := gameDataRe.FindStringSubmatch(narration); m != nil {
		// Mid-game game_data is usually hallucinated; merge instead of
		// replacing the cast.
		applyGameData(g, m[1], g.SceneCount <= 1)
		narration = gameDataRe.ReplaceAllString(narration, "")
	}
	if m := npcRenameRe.FindStringSubmatch(narration); m != nil {
		applyRenames(g, m[1])
		narration = npcRenameRe.ReplaceAllString(narration, "")
	}
	if m := newNPCsRe.FindStringSubmatch(narration); m != nil {
		applyNewNPCs(g, m[1])
		narration = newNPCsRe.ReplaceAllString(narration, "")
	}
	if m := memoryUpdateRe.FindStringSubmatch(narration); m != nil {
		applyMemoryUpdates(g, m[1])
		narration = memoryUpdateRe.ReplaceAllString(narration, "")
	}
	if m := sceneContextRe.FindStringSubmatch(narration); m != nil {
		if ctx := strings.TrimSpace(m[1]); ctx != "" {
			g.SceneContext = ctx
		}
		narration = sceneContextRe.ReplaceAllString(narration, "")
	}

	narration = pairedTagRe.ReplaceAllString(narration, "")
	narration = selfClosedRe.ReplaceAllString(narration, "")
	return strings.TrimSpace(narration)
}

// applyGameData handles the opening-scene world bundle. When full is false
// only unknown NPCs and clocks are merged in.
func applyGameData(g *state.GameState, jsonText string, full bool) {
	data := gjson.Parse(strings.TrimSpace(jsonText))
	if !data.IsObject() {
		return
	}

	data.Get("npcs").ForEach(func(_, nd gjson.Result) bool {
		addNPCFromResult(g, nd, full)
		return true
	})
	data.Get("clocks").ForEach(func(_, cd gjson.Result) bool {
		name := strings.TrimSpace(cd.Get("name").String())
		if name == "" {
			return true
		}
		for _, existing := range g.Clocks.All() {
			if strings.EqualFold(existing.Name, name) {
				return true
			}
		}
		segments := int(cd.Get("segments").Int())
		if segments <= 0 {
			segments = 6
		}
		kind := clock.Kind(cd.Get("clock_type").String())
		c, err := g.Clocks.Add(name, kind, segments, cd.Get("trigger_description").String())
		if err == nil {
			if filled := int(cd.Get("filled").Int()); filled > 0 {
				g.Clocks.SetFill(c.ID, filled)
			}
		}
		return true
	})

	if full {
		if loc := strings.TrimSpace(data.Get("location").String()); loc != "" {
			g.Location = loc
		}
		if ctx := strings.TrimSpace(data.Get("scene_context").String()); ctx != "" {
			g.SceneContext = ctx
		}
		if tod := strings.TrimSpace(data.Get("time_of_day").String()); tod != "" {
			g.TimeOfDay = tod
		}
	}
}

// addNPCFromResult adds one generator-described NPC, skipping the player
// character, reactivating returning NPCs, and merging identity reveals.
func addNPCFromResult(g *state.GameState, nd gjson.Result, allowNew bool) {
	name := strings.TrimSpace(nd.Get("name").String())
	if name == "" || strings.EqualFold(name, g.Character.Name) {
		return
	}

	if existing, err := g.NPCs.Find(name); err == nil && strings.EqualFold(existing.Name, name) {
		g.NPCs.Reactivate(existing.ID)
		return
	}
	if hit, ok := g.NPCs.MergeCandidate(name); ok {
		g.NPCs.Rename(hit.ID, name)
		if desc := strings.TrimSpace(nd.Get("description").String()); desc != "" {
			hit.Description = desc
		}
		return
	}
	if !allowNew {
		return
	}

	g.NPCs.Add(npc.NPC{
		Name:        name,
		Description: nd.Get("description").String(),
		Agenda:      nd.Get("agenda").String(),
		Instinct:    nd.Get("instinct").String(),
		Disposition: npc.Disposition(nd.Get("disposition").String()),
	}, g.SceneCount)
	g.NPCs.RetireExcess(g.SceneCount)
}

// applyNewNPCs handles mid-game NPC discovery. Unlike game_data merging,
// genuinely new NPCs are always allowed here.
func applyNewNPCs(g *state.GameState, jsonText string) {
	gjson.Parse(strings.TrimSpace(jsonText)).ForEach(func(_, nd gjson.Result) bool {
		addNPCFromResult(g, nd, true)
		return true
	})
}

// applyRenames handles identity reveals, keeping the old name resolvable.
func applyRenames(g *state.GameState, jsonText string) {
	gjson.Parse(strings.TrimSpace(jsonText)).ForEach(func(_, r gjson.Result) bool {
		newName := strings.TrimSpace(r.Get("new_name").String())
		if newName == "" || strings.EqualFold(newName, g.Character.Name) {
			return true
		}
		ref := r.Get("npc_id").String()
		target, err := g.NPCs.Find(ref)
		if err != nil {
			if target, err = g.NPCs.Find(r.Get("old_name").String()); err != nil {
				return true
			}
		}
		g.NPCs.Rename(target.ID, newName)
		if desc := strings.TrimSpace(r.Get("description").String()); desc != "" {
			target.Description = desc
		}
		return true
	})
}

// applyMemoryUpdates records observations on the named NPCs. A reference
// that resolves to nobody gets a stub NPC so the memory is not lost, the
// safety net for a generator that skipped the new_npcs block.
func applyMemoryUpdates(g *state.GameState, jsonText string) {
	gjson.Parse(strings.TrimSpace(jsonText)).ForEach(func(_, u gjson.Result) bool {
		ref := strings.TrimSpace(u.Get("npc_id").String())
		if ref == "" || ref == "world" || ref == "player" || strings.EqualFold(ref, g.Character.Name) {
			return true
		}
		event := u.Get("event").String()
		weight := u.Get("emotional_weight").String()

		target, err := g.NPCs.Find(ref)
		if err != nil {
			if hit, ok := g.NPCs.MergeCandidate(ref); ok {
				target = hit
			} else {
				target = g.NPCs.Add(npc.NPC{Name: ref}, g.SceneCount)
			}
		}
		g.NPCs.RecordEvent(target.ID, event, weight, g.SceneCount, g.TurnCount)
		return true
	})
}
