// Package momentum applies the mechanical consequences of a roll to the
// session state: momentum and chaos updates, track damage, bond shifts,
// threat clock ticks, and the momentum burn that reverses them.
package momentum

import (
	"fmt"
	"math/rand"

	"github.com/louisbranch/edgetales/internal/engine/clock"
	"github.com/louisbranch/edgetales/internal/engine/dice"
	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
)

// Config bounds the momentum and chaos tracks.
type Config struct {
	MomentumMin int
	// ResetFloor is where momentum lands after a burn.
	ResetFloor int
	ChaosMin   int
	ChaosMax   int
	// InterruptOffset shifts the chaos interrupt probability. An interrupt
	// fires when d10 <= chaos - offset, so offset 3 means chaos 3 never
	// interrupts and chaos 9 interrupts 60% of the time.
	InterruptOffset int
}

// DefaultConfig returns the bounds used in play.
func DefaultConfig() Config {
	return Config{
		MomentumMin:     -6,
		ResetFloor:      0,
		ChaosMin:        1,
		ChaosMax:        9,
		InterruptOffset: 3,
	}
}

// Move families determine which track a miss damages.
var (
	combatMoves = map[string]bool{"clash": true, "strike": true}
	socialMoves = map[string]bool{"compel": true, "make_connection": true, "test_bond": true}
)

// interruptKinds are the disruption flavors a chaos interrupt can take.
var interruptKinds = []string{
	"npc_unexpected",
	"threat_escalation",
	"twist",
	"discovery",
	"environment_shift",
	"remote_event",
	"positive_windfall",
	"callback",
	"dilemma",
	"ticking_clock",
}

// Tracker applies roll outcomes to a game state.
type Tracker struct {
	cfg Config
}

// NewTracker creates a tracker with the given bounds.
func NewTracker(cfg Config) *Tracker {
	if cfg.ChaosMax <= 0 {
		cfg = DefaultConfig()
	}
	return &Tracker{cfg: cfg}
}

// Snapshot captures every field a consequence pass can touch, taken before
// the pass runs so a momentum burn can reverse it completely.
type Snapshot struct {
	Health     int
	Spirit     int
	Supply     int
	Momentum   int
	Chaos      int
	CrisisMode bool
	GameOver   bool
	NPCBonds   map[string]int
	ClockFills map[string]int
}

// CaptureSnapshot records the reversible parts of the state.
func (t *Tracker) CaptureSnapshot(g *state.GameState) Snapshot {
	snap := Snapshot{
		Health:     g.Character.Health,
		Spirit:     g.Character.Spirit,
		Supply:     g.Character.Supply,
		Momentum:   g.Momentum,
		Chaos:      g.ChaosFactor,
		CrisisMode: g.CrisisMode,
		GameOver:   g.GameOver,
		NPCBonds:   make(map[string]int),
		ClockFills: make(map[string]int),
	}
	for _, n := range g.NPCs.All() {
		snap.NPCBonds[n.ID] = n.Bond
	}
	for _, c := range g.Clocks.All() {
		snap.ClockFills[c.ID] = c.Filled
	}
	return snap
}

// RestoreSnapshot puts every captured field back. Clock fills are set
// directly so reversing a tick never re-fires a trigger.
func (t *Tracker) RestoreSnapshot(g *state.GameState, snap Snapshot) {
	g.Character.Health = snap.Health
	g.Character.Spirit = snap.Spirit
	g.Character.Supply = snap.Supply
	g.Momentum = snap.Momentum
	g.ChaosFactor = snap.Chaos
	g.CrisisMode = snap.CrisisMode
	g.GameOver = snap.GameOver
	for _, n := range g.NPCs.All() {
		if bond, ok := snap.NPCBonds[n.ID]; ok {
			n.Bond = bond
		}
	}
	for _, c := range g.Clocks.All() {
		if fill, ok := snap.ClockFills[c.ID]; ok {
			g.Clocks.SetFill(c.ID, fill)
		}
	}
}

// ApplyConsequences mutates the state per the roll outcome. The target
// reference may be empty; an unresolvable target skips bond effects rather
// than failing the turn. Returned strings are player-facing deltas.
func (t *Tracker) ApplyConsequences(g *state.GameState, roll dice.ActionResult, targetRef string) ([]string, []clock.FireEvent) {
	var consequences []string
	var fires []clock.FireEvent

	target, err := g.NPCs.Find(targetRef)
	if err != nil {
		target = nil
	}

	switch roll.Outcome {
	case dice.OutcomeMiss:
		consequences = append(consequences, t.applyMissDamage(g, roll, target)...)

		loss := 2
		if roll.Position == dice.PositionDesperate {
			loss = 3
		}
		g.Momentum -= loss
		if g.Momentum < t.cfg.MomentumMin {
			g.Momentum = t.cfg.MomentumMin
		}
		consequences = append(consequences, fmt.Sprintf("momentum -%d", loss))

		if threat, ok := g.Clocks.FirstOpenThreat(); ok {
			ticks := 1
			if roll.Position == dice.PositionDesperate {
				ticks = 2
			}
			if ev, fired, err := g.Clocks.Advance(threat.ID, ticks); err == nil && fired {
				fires = append(fires, ev)
			}
		}

	case dice.OutcomeWeakHit:
		if g.Momentum < g.MaxMomentum {
			g.Momentum++
		}
		if target != nil && roll.Move == "make_connection" {
			target.AdjustBond(1)
		}

	case dice.OutcomeStrongHit:
		gain := 2
		if roll.Effect == dice.EffectGreat {
			gain = 3
		}
		g.Momentum += gain
		if g.Momentum > g.MaxMomentum {
			g.Momentum = g.MaxMomentum
		}
		if target != nil && (roll.Move == "make_connection" || roll.Move == "compel") {
			target.AdjustBond(1)
			target.ShiftDisposition(1)
		}
	}

	t.recomputeCrisis(g)
	return consequences, fires
}

// applyMissDamage picks the track a miss hurts from the move family and
// scales the damage by position.
func (t *Tracker) applyMissDamage(g *state.GameState, roll dice.ActionResult, target *npc.NPC) []string {
	var out []string
	desperate := roll.Position == dice.PositionDesperate

	damage := func(track *int, amount int, name string) {
		old := *track
		*track -= amount
		if *track < 0 {
			*track = 0
		}
		if *track < old {
			out = append(out, fmt.Sprintf("%s -%d", name, old-*track))
		}
	}

	switch {
	case roll.Move == "endure_harm":
		amount := 1
		if desperate {
			amount = 2
		}
		damage(&g.Character.Health, amount, "health")

	case roll.Move == "endure_stress":
		amount := 1
		if desperate {
			amount = 2
		}
		damage(&g.Character.Spirit, amount, "spirit")

	case combatMoves[roll.Move]:
		amount := 2
		switch roll.Position {
		case dice.PositionControlled:
			amount = 1
		case dice.PositionDesperate:
			amount = 3
		}
		damage(&g.Character.Health, amount, "health")

	case socialMoves[roll.Move]:
		if target != nil && target.Bond > 0 {
			target.Bond--
			out = append(out, fmt.Sprintf("%s bond -1", target.Name))
		}
		amount := 1
		if desperate {
			amount = 2
		}
		damage(&g.Character.Spirit, amount, "spirit")

	default:
		damage(&g.Character.Supply, 1, "supply")
		if desperate {
			damage(&g.Character.Health, 2, "health")
		} else if roll.Position != dice.PositionControlled {
			damage(&g.Character.Health, 1, "health")
		}
	}
	return out
}

// recomputeCrisis derives the crisis and game-over flags from the tracks.
// Recovery clears crisis mode; game over is terminal.
func (t *Tracker) recomputeCrisis(g *state.GameState) {
	switch {
	case g.Character.Health <= 0 && g.Character.Spirit <= 0:
		g.GameOver = true
		g.CrisisMode = true
	case g.Character.Health <= 0 || g.Character.Spirit <= 0:
		g.CrisisMode = true
	default:
		g.CrisisMode = false
	}
}

// UpdateChaos shifts the chaos factor after narration. A miss raises it,
// one extra on a match, a strong hit releases tension, and a threat clock
// firing escalates regardless of outcome.
func (t *Tracker) UpdateChaos(g *state.GameState, outcome dice.Outcome, match, threatFired bool) {
	switch outcome {
	case dice.OutcomeMiss:
		g.ChaosFactor++
		if match {
			g.ChaosFactor++
		}
	case dice.OutcomeStrongHit:
		g.ChaosFactor--
	}
	if threatFired {
		g.ChaosFactor++
	}
	t.clampChaos(g)
}

func (t *Tracker) clampChaos(g *state.GameState) {
	if g.ChaosFactor > t.cfg.ChaosMax {
		g.ChaosFactor = t.cfg.ChaosMax
	}
	if g.ChaosFactor < t.cfg.ChaosMin {
		g.ChaosFactor = t.cfg.ChaosMin
	}
}

// ChaosInterrupt rolls a d10 against the chaos factor. On a trigger the
// tension releases: chaos drops by one and a disruption kind is returned.
func (t *Tracker) ChaosInterrupt(g *state.GameState, seed int64) (string, bool) {
	threshold := g.ChaosFactor - t.cfg.InterruptOffset
	if threshold <= 0 {
		return "", false
	}
	rng := rand.New(rand.NewSource(seed))
	if rng.Intn(10)+1 > threshold {
		return "", false
	}
	g.ChaosFactor--
	t.clampChaos(g)
	return interruptKinds[rng.Intn(len(interruptKinds))], true
}

// CanBurn reports whether burning momentum would upgrade the outcome, and
// to what. Momentum must beat a challenge die outright to cancel it.
func (t *Tracker) CanBurn(g *state.GameState, roll dice.ActionResult) (dice.Outcome, bool) {
	if g.Momentum <= t.cfg.ResetFloor {
		return dice.OutcomeUnspecified, false
	}
	beatsFirst := g.Momentum > roll.Challenge[0]
	beatsSecond := g.Momentum > roll.Challenge[1]
	switch roll.Outcome {
	case dice.OutcomeMiss:
		if beatsFirst && beatsSecond {
			return dice.OutcomeStrongHit, true
		}
		if beatsFirst || beatsSecond {
			return dice.OutcomeWeakHit, true
		}
	case dice.OutcomeWeakHit:
		if beatsFirst && beatsSecond {
			return dice.OutcomeStrongHit, true
		}
	}
	return dice.OutcomeUnspecified, false
}

// Burn reverses the consequence pass using the pre-consequence snapshot,
// then spends all momentum down to the reset floor. Memories recorded in
// the given scene are dropped; the re-narration will write their
// replacements.
func (t *Tracker) Burn(g *state.GameState, snap Snapshot, scene int) {
	t.RestoreSnapshot(g, snap)
	g.Momentum = t.cfg.ResetFloor

	for _, n := range g.NPCs.All() {
		kept := n.Memory[:0]
		for _, m := range n.Memory {
			if m.Scene != scene {
				kept = append(kept, m)
			}
		}
		n.Memory = kept
	}
}
