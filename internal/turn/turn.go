// Package turn coordinates one player turn: classification, dice, consequence
// rules, narration, and the detached analysis pass that follows.
package turn

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/edgetales/internal/agents"
	"github.com/louisbranch/edgetales/internal/apperrors"
	"github.com/louisbranch/edgetales/internal/engine/clock"
	"github.com/louisbranch/edgetales/internal/engine/dice"
	"github.com/louisbranch/edgetales/internal/engine/momentum"
	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
	"github.com/louisbranch/edgetales/internal/random"
)

type brainAgent interface {
	Classify(ctx context.Context, g *state.GameState, playerInput string) (agents.BrainResult, error)
}

type narratorAgent interface {
	Narrate(ctx context.Context, g *state.GameState, bundle agents.NarrationBundle) (string, error)
	ParseNarration(g *state.GameState, raw string) string
}

type directorAgent interface {
	ShouldRun(g *state.GameState, outcome dice.Outcome, match, interrupted, newNPCs bool) bool
	Analyze(ctx context.Context, g *state.GameState, latestNarration string) (agents.DirectorResult, error)
	Apply(g *state.GameState, result agents.DirectorResult) agents.DirectorNotes
}

// Options configures a Coordinator. Brain, Narrator, and Tracker are
// required; a nil Director disables the background analysis pass.
type Options struct {
	Brain    brainAgent
	Narrator narratorAgent
	Director directorAgent
	Tracker  *momentum.Tracker
	Logger   *log.Logger

	// Seed supplies dice entropy. Defaults to crypto-backed seeds; tests
	// inject fixed values for deterministic rolls.
	Seed func() (int64, error)

	// OnDirector is called after a background analysis result is applied,
	// under the coordinator lock. Stale results never reach it.
	OnDirector func(agents.DirectorNotes)
}

// Coordinator owns the session state and serializes every mutation of it.
// The foreground turn pipeline holds a processing flag for its full
// duration; the background analysis task mutates state only under the
// coordinator lock and only when its captured generation is still current.
type Coordinator struct {
	brain      brainAgent
	narrator   narratorAgent
	director   directorAgent
	tracker    *momentum.Tracker
	logger     *log.Logger
	tracer     trace.Tracer
	seed       func() (int64, error)
	onDirector func(agents.DirectorNotes)

	mu          sync.Mutex
	game        *state.GameState
	processing  bool
	generation  uint64
	pendingBurn *pendingBurn
	directorWG  sync.WaitGroup
}

// pendingBurn holds everything needed to replay the last roll at the
// upgraded outcome if the player spends their momentum.
type pendingBurn struct {
	generation uint64
	snapshot   momentum.Snapshot
	roll       dice.ActionResult
	upgraded   dice.Outcome
	input      string
	brain      agents.BrainResult
	// scene the replaced narration was recorded against; its memories are
	// dropped on burn.
	scene int
}

// NewCoordinator wires a coordinator around an existing session state.
func NewCoordinator(game *state.GameState, opts Options) *Coordinator {
	c := &Coordinator{
		brain:      opts.Brain,
		narrator:   opts.Narrator,
		director:   opts.Director,
		tracker:    opts.Tracker,
		logger:     opts.Logger,
		tracer:     otel.Tracer("edgetales/turn"),
		seed:       opts.Seed,
		onDirector: opts.OnDirector,
		game:       game,
		generation: game.TurnGeneration,
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	if c.seed == nil {
		c.seed = random.NewSeed
	}
	return c
}

// BurnOffer describes an available momentum burn: what the outcome was and
// what spending all momentum would upgrade it to.
type BurnOffer struct {
	From     dice.Outcome
	To       dice.Outcome
	Momentum int
}

// NPCSnapshot is the sidebar view of one NPC.
type NPCSnapshot struct {
	ID          string
	Name        string
	Disposition npc.Disposition
	Bond        int
}

// ClockSnapshot is the sidebar view of one clock.
type ClockSnapshot struct {
	ID       string
	Name     string
	Kind     clock.Kind
	Filled   int
	Segments int
}

// Sidebar is the post-turn state summary handed to the presentation layer.
type Sidebar struct {
	Health   int
	Spirit   int
	Supply   int
	Momentum int
	Chaos    int
	Scene    int
	Crisis   bool
	GameOver bool
	NPCs     []NPCSnapshot
	Clocks   []ClockSnapshot
}

// TurnResult is everything a completed foreground turn produces. The
// background analysis result, if any, arrives later through OnDirector.
type TurnResult struct {
	Narration      string
	DialogOnly     bool
	Roll           dice.ActionResult
	Consequences   []string
	ClockEvents    []clock.FireEvent
	ChaosInterrupt string
	BurnOffer      *BurnOffer
	Sidebar        Sidebar
}

// ProcessTurn runs one full player turn. A second call while a turn is in
// flight fails fast with a TURN_IN_PROGRESS error; the processing flag is
// released on every exit path, so a failed turn can be resubmitted as-is.
//
// The pipeline runs against a clone of the session state and swaps it in
// only on success. A turn that fails at any agent leaves the visible state
// exactly as it was.
func (c *Coordinator) ProcessTurn(ctx context.Context, playerInput string) (TurnResult, error) {
	ctx, span := c.tracer.Start(ctx, "turn.ProcessTurn")
	defer span.End()

	result, err := c.processTurn(ctx, playerInput)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(attribute.Bool("dialog_only", result.DialogOnly))
	return result, nil
}

func (c *Coordinator) processTurn(ctx context.Context, playerInput string) (TurnResult, error) {
	work, gen, err := c.begin()
	if err != nil {
		return TurnResult{}, err
	}
	defer c.release()

	brainRes, err := c.brain.Classify(ctx, work, playerInput)
	if err != nil {
		return TurnResult{}, fmt.Errorf("process turn: %w", err)
	}

	if brainRes.TargetNPC != "" {
		if target, ferr := work.NPCs.Find(brainRes.TargetNPC); ferr == nil {
			work.NPCs.Reactivate(target.ID)
		}
	}

	bundle := agents.NarrationBundle{PlayerInput: playerInput, Brain: brainRes}
	var snap momentum.Snapshot
	var interrupted bool

	if !brainRes.DialogOnly {
		seed, err := c.seed()
		if err != nil {
			return TurnResult{}, fmt.Errorf("process turn: %w", err)
		}
		roll, err := dice.Resolve(dice.ActionRequest{
			Move:      brainRes.Move,
			StatName:  brainRes.Stat,
			StatValue: work.Character.Stats.Get(brainRes.Stat),
			Position:  brainRes.Position,
			Effect:    brainRes.Effect,
			Seed:      seed,
		})
		if err != nil {
			return TurnResult{}, fmt.Errorf("process turn: %w", err)
		}

		snap = c.tracker.CaptureSnapshot(work)
		consequences, fired := c.tracker.ApplyConsequences(work, roll, brainRes.TargetNPC)
		c.tracker.UpdateChaos(work, roll.Outcome, roll.Match, len(fired) > 0)

		interruptSeed, err := c.seed()
		if err != nil {
			return TurnResult{}, fmt.Errorf("process turn: %w", err)
		}
		kind, hit := c.tracker.ChaosInterrupt(work, interruptSeed)
		interrupted = hit

		bundle.Roll = roll
		bundle.Consequences = consequences
		bundle.ClockEvents = fired
		bundle.ChaosInterrupt = kind
	} else {
		// Chaos interrupts fire on dialog turns too.
		interruptSeed, err := c.seed()
		if err != nil {
			return TurnResult{}, fmt.Errorf("process turn: %w", err)
		}
		kind, hit := c.tracker.ChaosInterrupt(work, interruptSeed)
		interrupted = hit
		bundle.ChaosInterrupt = kind
	}

	prose, err := c.narrator.Narrate(ctx, work, bundle)
	if err != nil {
		return TurnResult{}, fmt.Errorf("process turn: %w", err)
	}

	npcsBefore := len(work.NPCs.All())
	narration := c.narrator.ParseNarration(work, prose)
	newNPCs := len(work.NPCs.All()) > npcsBefore
	narratedScene := work.SceneCount

	// Guidance rides along in exactly one narration prompt.
	work.DirectorGuidance = nil

	work.TurnCount++
	advanceScene(work, brainRes)
	work.AppendNarration(state.NarrationEntry{PlayerInput: playerInput, Narration: narration})
	work.AppendLog(state.LogEntry{Scene: work.SceneCount, Summary: logSummary(brainRes, bundle.Roll)})

	var offer *BurnOffer
	var burn *pendingBurn
	if !brainRes.DialogOnly {
		if to, ok := c.tracker.CanBurn(work, bundle.Roll); ok {
			offer = &BurnOffer{From: bundle.Roll.Outcome, To: to, Momentum: work.Momentum}
			burn = &pendingBurn{
				generation: gen,
				snapshot:   snap,
				roll:       bundle.Roll,
				upgraded:   to,
				input:      playerInput,
				brain:      brainRes,
				scene:      narratedScene,
			}
		}
	}

	sidebar, runDirector, view := c.commit(work, burn, bundle.Roll, interrupted, newNPCs)
	if runDirector {
		c.directorWG.Add(1)
		go c.runDirector(context.WithoutCancel(ctx), gen, view, narration)
	}

	return TurnResult{
		Narration:      narration,
		DialogOnly:     brainRes.DialogOnly,
		Roll:           bundle.Roll,
		Consequences:   bundle.Consequences,
		ClockEvents:    bundle.ClockEvents,
		ChaosInterrupt: bundle.ChaosInterrupt,
		BurnOffer:      offer,
		Sidebar:        sidebar,
	}, nil
}

// ResolveBurn answers an outstanding burn offer. Accepting rewinds the
// consequence pass to its pre-roll snapshot, spends all momentum down to
// the reset floor, replays the roll at the upgraded outcome, and replaces
// the narration it produced. Declining just clears the offer.
//
// The offer is only valid for the generation that produced it; a new turn
// or a save switch in between voids it.
func (c *Coordinator) ResolveBurn(ctx context.Context, accept bool) (TurnResult, error) {
	ctx, span := c.tracer.Start(ctx, "turn.ResolveBurn",
		trace.WithAttributes(attribute.Bool("accept", accept)))
	defer span.End()

	result, err := c.resolveBurn(ctx, accept)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (c *Coordinator) resolveBurn(ctx context.Context, accept bool) (TurnResult, error) {
	c.mu.Lock()
	pb := c.pendingBurn
	if pb == nil || pb.generation != c.generation {
		c.mu.Unlock()
		return TurnResult{}, apperrors.New(apperrors.CodeNotFound, "no momentum burn on offer")
	}
	if c.processing {
		c.mu.Unlock()
		return TurnResult{}, apperrors.New(apperrors.CodeTurnInProgress, "a turn is already being processed")
	}
	c.pendingBurn = nil
	if !accept {
		sidebar := buildSidebar(c.game)
		c.mu.Unlock()
		return TurnResult{Sidebar: sidebar}, nil
	}
	c.processing = true
	c.generation++
	c.game.TurnGeneration = c.generation
	gen := c.generation
	work := c.game.Clone()
	c.mu.Unlock()
	defer c.release()

	// The replayed roll replaces the narration it upgrades.
	if n := len(work.NarrationHistory); n > 0 {
		work.NarrationHistory = work.NarrationHistory[:n-1]
	}
	if n := len(work.SessionLog); n > 0 {
		work.SessionLog = work.SessionLog[:n-1]
	}

	c.tracker.Burn(work, pb.snapshot, pb.scene)
	roll := dice.Upgrade(pb.roll, pb.upgraded)
	consequences, fired := c.tracker.ApplyConsequences(work, roll, pb.brain.TargetNPC)
	c.tracker.UpdateChaos(work, roll.Outcome, roll.Match, len(fired) > 0)

	bundle := agents.NarrationBundle{
		PlayerInput:  pb.input,
		Brain:        pb.brain,
		Roll:         roll,
		Consequences: consequences,
		ClockEvents:  fired,
		MomentumBurn: true,
	}
	prose, err := c.narrator.Narrate(ctx, work, bundle)
	if err != nil {
		return TurnResult{}, fmt.Errorf("resolve burn: %w", err)
	}
	narration := c.narrator.ParseNarration(work, prose)
	work.DirectorGuidance = nil
	work.AppendNarration(state.NarrationEntry{PlayerInput: pb.input, Narration: narration})
	work.AppendLog(state.LogEntry{Scene: work.SceneCount, Summary: logSummary(pb.brain, roll)})

	sidebar, runDirector, view := c.commit(work, nil, roll, false, false)
	if runDirector {
		c.directorWG.Add(1)
		go c.runDirector(context.WithoutCancel(ctx), gen, view, narration)
	}

	return TurnResult{
		Narration:    narration,
		Roll:         roll,
		Consequences: consequences,
		ClockEvents:  fired,
		Sidebar:      sidebar,
	}, nil
}

// ReplaceState swaps in a different session, such as a loaded save. The
// generation bump voids any in-flight background result and burn offer
// computed against the old session.
func (c *Coordinator) ReplaceState(g *state.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	g.TurnGeneration = c.generation
	c.game = g
	c.pendingBurn = nil
}

// SnapshotState returns a deep copy of the current session, safe to
// serialize while turns continue.
func (c *Coordinator) SnapshotState() *state.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game.Clone()
}

// Sidebar returns the current presentation snapshot without running a turn.
func (c *Coordinator) Sidebar() Sidebar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return buildSidebar(c.game)
}

// Wait blocks until any in-flight background analysis task finishes. Used
// on shutdown and by tests that need a deterministic interleaving.
func (c *Coordinator) Wait() {
	c.directorWG.Wait()
}

func (c *Coordinator) begin() (*state.GameState, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return nil, 0, apperrors.New(apperrors.CodeTurnInProgress, "a turn is already being processed")
	}
	c.processing = true
	c.generation++
	c.game.TurnGeneration = c.generation
	return c.game.Clone(), c.generation, nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.processing = false
	c.mu.Unlock()
}

// commit swaps the worked clone in as the visible session and decides,
// under the lock, whether the background pass should run. The director
// reads its own clone so foreground reads never race it.
func (c *Coordinator) commit(work *state.GameState, burn *pendingBurn, roll dice.ActionResult, interrupted, newNPCs bool) (Sidebar, bool, *state.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.game = work
	c.pendingBurn = burn
	sidebar := buildSidebar(work)

	runDirector := c.director != nil &&
		c.director.ShouldRun(work, roll.Outcome, roll.Match, interrupted, newNPCs)
	var view *state.GameState
	if runDirector {
		view = work.Clone()
	}
	return sidebar, runDirector, view
}

func (c *Coordinator) runDirector(ctx context.Context, gen uint64, view *state.GameState, narration string) {
	defer c.directorWG.Done()

	result, err := c.director.Analyze(ctx, view, narration)
	if err != nil {
		// Non-fatal: the visible turn already returned.
		c.logger.Printf("level=warn msg=\"director pass skipped\" generation=%d err=%q", gen, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		c.logger.Printf("level=debug msg=\"stale director result discarded\" computed=%d current=%d", gen, c.generation)
		return
	}
	notes := c.director.Apply(c.game, result)
	if c.onDirector != nil {
		c.onDirector(notes)
	}
}

// advanceScene moves the scene counter when the fiction moved: a location
// change or a meaningful passage of time.
func advanceScene(g *state.GameState, brain agents.BrainResult) {
	moved := brain.LocationChange != ""
	if moved {
		g.Location = brain.LocationChange
	}
	if moved || brain.TimeProgression == "moderate" || brain.TimeProgression == "long" {
		g.SceneCount++
	}
}

func logSummary(brain agents.BrainResult, roll dice.ActionResult) string {
	intent := brain.PlayerIntent
	if intent == "" {
		intent = brain.Move
	}
	if brain.DialogOnly || roll.Outcome == dice.OutcomeUnspecified {
		return intent
	}
	return fmt.Sprintf("%s (%s: %s)", intent, roll.Move, roll.Outcome)
}

func buildSidebar(g *state.GameState) Sidebar {
	sb := Sidebar{
		Health:   g.Character.Health,
		Spirit:   g.Character.Spirit,
		Supply:   g.Character.Supply,
		Momentum: g.Momentum,
		Chaos:    g.ChaosFactor,
		Scene:    g.SceneCount,
		Crisis:   g.CrisisMode,
		GameOver: g.GameOver,
	}
	for _, n := range g.NPCs.Active() {
		sb.NPCs = append(sb.NPCs, NPCSnapshot{
			ID:          n.ID,
			Name:        n.Name,
			Disposition: n.Disposition,
			Bond:        n.Bond,
		})
	}
	for _, cl := range g.Clocks.All() {
		sb.Clocks = append(sb.Clocks, ClockSnapshot{
			ID:       cl.ID,
			Name:     cl.Name,
			Kind:     cl.Kind,
			Filled:   cl.Filled,
			Segments: cl.Segments,
		})
	}
	return sb
}
