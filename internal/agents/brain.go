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

// BrainResult is the mechanical classification of one player action.
type BrainResult struct {
	Move             string
	Stat             string
	Approach         string
	TargetNPC        string
	DialogOnly       bool
	PlayerIntent     string
	Position         dice.Position
	Effect           dice.Effect
	DramaticQuestion string
	LocationChange   string
	TimeProgression  string
}

const brainSystem = `<role>RPG engine parser. Convert player input to a game move as JSON.</role>
<rules>
- Accept ALL player input including world-building declarations
- Pick the move that best fits the player's ACTION, not their words
- dialog = pure talking, no risk. Everything else = a move with a stat
- Assess POSITION based on fictional circumstances (not player skill):
  controlled = advantage/safety, risky = uncertain/standard, desperate = severe disadvantage/high stakes
- Assess EFFECT based on potential impact:
  limited = minor even on success, standard = meaningful, great = could change everything
- Formulate a DRAMATIC QUESTION that this scene must answer (1 sentence, yes/no answerable)
- If the player's action implies moving to a NEW location, set location_change to a short location name. null if staying.
- Assess time_progression: does this action take significant time? "none"=same moment, "short"=minutes, "moderate"=hours, "long"=half a day or more
</rules>
<moves>
face_danger:edge|heart|iron|shadow|wits
compel:heart|iron|shadow
gather_information:wits
secure_advantage:edge|heart|iron|shadow|wits
clash:iron|edge
strike:iron|edge
endure_harm:iron
endure_stress:heart
make_connection:heart
test_bond:heart
resupply:wits
world_shaping:wits|heart|shadow
dialog:none
</moves>
<stats>edge=speed/stealth heart=empathy/charm iron=force shadow=cunning wits=knowledge</stats>
<output>
Return ONLY valid JSON, no other text:
{"type":"action","move":"name","stat":"stat","approach":"how(5w)","target_npc":"id|null","dialog_only":false,"player_intent":"1 sentence","position":"controlled|risky|desperate","effect":"limited|standard|great","dramatic_question":"Can/Will...?","location_change":"new location|null","time_progression":"none|short|moderate|long"}
</output>`

// Brain classifies free-text player input into a move, stat, position,
// and effect.
type Brain struct {
	client caller
	cfg    Config
}

// NewBrain builds the classification agent.
func NewBrain(client caller, cfg Config) *Brain {
	return &Brain{client: client, cfg: cfg}
}

// Classify asks the generator to turn player input into mechanics. Retry
// and salvage live in the client; an error here means the attempt budget
// is spent and the turn cannot proceed.
func (b *Brain) Classify(ctx context.Context, g *state.GameState, playerInput string) (BrainResult, error) {
	prompt := fmt.Sprintf(`<state>
loc:%s | ctx:%s
time:%s
%s
</state>
<npcs>%s</npcs>
<clocks>%s</clocks>
<recent>%s</recent>
<input>%s</input>`,
		g.Location, g.SceneContext, orUnspecified(g.TimeOfDay), statusLine(g),
		npcSummary(g), clockSummary(g), recentScenes(g, 3), playerInput)

	raw, err := b.client.Call(ctx, modelclient.Request{
		Agent:     modelclient.AgentBrain,
		Model:     b.cfg.BrainModel,
		System:    brainSystem,
		Prompt:    prompt,
		MaxTokens: b.cfg.BrainMaxTokens,
		Format:    modelclient.FormatJSON,
	})
	if err != nil {
		return BrainResult{}, fmt.Errorf("classify input: %w", err)
	}
	return ParseBrainResult(raw), nil
}

// ParseBrainResult reads the classification JSON, substituting documented
// defaults for missing or invalid fields: move face_danger, stat wits,
// position risky, effect standard.
func ParseBrainResult(raw string) BrainResult {
	get := func(key, fallback string) string {
		if v := gjson.Get(raw, key); v.Exists() && strings.TrimSpace(v.String()) != "" {
			s := strings.ToLower(strings.TrimSpace(v.String()))
			if s == "null" {
				return fallback
			}
			return s
		}
		return fallback
	}

	out := BrainResult{
		Move:             get("move", "face_danger"),
		Stat:             get("stat", "wits"),
		Approach:         gjson.Get(raw, "approach").String(),
		TargetNPC:        get("target_npc", ""),
		DialogOnly:       gjson.Get(raw, "dialog_only").Bool(),
		PlayerIntent:     gjson.Get(raw, "player_intent").String(),
		DramaticQuestion: gjson.Get(raw, "dramatic_question").String(),
		LocationChange:   get("location_change", ""),
		TimeProgression:  get("time_progression", "none"),
	}
	if out.Move == "dialog" {
		out.DialogOnly = true
	}

	switch get("position", "risky") {
	case "controlled":
		out.Position = dice.PositionControlled
	case "desperate":
		out.Position = dice.PositionDesperate
	default:
		out.Position = dice.PositionRisky
	}
	switch get("effect", "standard") {
	case "limited":
		out.Effect = dice.EffectLimited
	case "great":
		out.Effect = dice.EffectGreat
	default:
		out.Effect = dice.EffectStandard
	}
	return out
}

func orUnspecified(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}
