// Package dice implements the action-roll mechanics for the narrative engine.
package dice

import (
	"errors"
	"math/rand"
)

// Outcome represents the outcome of an action roll.
type Outcome int

const (
	OutcomeUnspecified Outcome = iota
	OutcomeStrongHit
	OutcomeWeakHit
	OutcomeMiss
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStrongHit:
		return "STRONG_HIT"
	case OutcomeWeakHit:
		return "WEAK_HIT"
	case OutcomeMiss:
		return "MISS"
	default:
		return "UNSPECIFIED"
	}
}

// Position frames how risky the fictional circumstances are before the roll.
type Position string

const (
	PositionControlled Position = "controlled"
	PositionRisky      Position = "risky"
	PositionDesperate  Position = "desperate"
)

// Effect frames how much a success could change before the roll.
type Effect string

const (
	EffectLimited  Effect = "limited"
	EffectStandard Effect = "standard"
	EffectGreat    Effect = "great"
)

const (
	actionDieSides    = 6
	challengeDieSides = 10
	// actionScoreCap bounds the action score so high stats cannot make
	// strong hits automatic against mid-range challenge dice.
	actionScoreCap = 10
)

// ErrInvalidStatValue indicates a negative stat value was supplied.
var ErrInvalidStatValue = errors.New("stat value must be non-negative")

// ErrInvalidChallengeDie indicates a challenge die outside the 1-10 range.
var ErrInvalidChallengeDie = errors.New("challenge dice must be between 1 and 10")

// ErrInvalidActionDie indicates an action die outside the 1-6 range.
var ErrInvalidActionDie = errors.New("action dice must be between 1 and 6")

// ActionRequest describes an action roll request.
type ActionRequest struct {
	Move      string
	StatName  string
	StatValue int
	Position  Position
	Effect    Effect
	Seed      int64
}

// ActionResult contains the full outcome of an action roll.
//
// Match is orthogonal to Outcome: it reports whether the two challenge dice
// landed on the same value, which amplifies the narrative stakes of whatever
// the outcome was. Consumers must read Match before branching on Outcome.
type ActionResult struct {
	Move        string
	StatName    string
	StatValue   int
	ActionDice  [2]int
	Challenge   [2]int
	ActionScore int
	Outcome     Outcome
	Match       bool
	Position    Position
	Effect      Effect
}

// OutcomeRequest describes a deterministic outcome evaluation with forced dice.
type OutcomeRequest struct {
	Move       string
	StatName   string
	StatValue  int
	ActionDice [2]int
	Challenge  [2]int
	Position   Position
	Effect     Effect
}

// EvaluateOutcome deterministically classifies an action roll from known dice.
//
// The action score is the sum of both action dice plus the stat, capped at 10.
// Beating both challenge dice is a strong hit, beating exactly one is a weak
// hit, beating neither is a miss. Ties go to the challenge dice.
func EvaluateOutcome(request OutcomeRequest) (ActionResult, error) {
	if request.StatValue < 0 {
		return ActionResult{}, ErrInvalidStatValue
	}
	for _, d := range request.ActionDice {
		if d < 1 || d > actionDieSides {
			return ActionResult{}, ErrInvalidActionDie
		}
	}
	for _, c := range request.Challenge {
		if c < 1 || c > challengeDieSides {
			return ActionResult{}, ErrInvalidChallengeDie
		}
	}

	score := request.ActionDice[0] + request.ActionDice[1] + request.StatValue
	if score > actionScoreCap {
		score = actionScoreCap
	}

	match := request.Challenge[0] == request.Challenge[1]

	var outcome Outcome
	switch {
	case score > request.Challenge[0] && score > request.Challenge[1]:
		outcome = OutcomeStrongHit
	case score > request.Challenge[0] || score > request.Challenge[1]:
		outcome = OutcomeWeakHit
	default:
		outcome = OutcomeMiss
	}

	return ActionResult{
		Move:        request.Move,
		StatName:    request.StatName,
		StatValue:   request.StatValue,
		ActionDice:  request.ActionDice,
		Challenge:   request.Challenge,
		ActionScore: score,
		Outcome:     outcome,
		Match:       match,
		Position:    request.Position,
		Effect:      request.Effect,
	}, nil
}

// Resolve performs an action roll from the provided request.
//
// Resolve is deterministic with respect to the Seed field: given the same
// Seed and inputs it always produces the same ActionResult. Dice order is
// fixed: two action dice first, then two challenge dice.
func Resolve(request ActionRequest) (ActionResult, error) {
	if request.StatValue < 0 {
		return ActionResult{}, ErrInvalidStatValue
	}

	rng := rand.New(rand.NewSource(request.Seed))
	a1 := rollDie(rng, actionDieSides)
	a2 := rollDie(rng, actionDieSides)
	c1 := rollDie(rng, challengeDieSides)
	c2 := rollDie(rng, challengeDieSides)

	return EvaluateOutcome(OutcomeRequest{
		Move:       request.Move,
		StatName:   request.StatName,
		StatValue:  request.StatValue,
		ActionDice: [2]int{a1, a2},
		Challenge:  [2]int{c1, c2},
		Position:   request.Position,
		Effect:     request.Effect,
	})
}

// Upgrade returns a copy of the result reclassified to the given outcome.
// Dice values and match status are preserved; only the classification moves.
func Upgrade(result ActionResult, outcome Outcome) ActionResult {
	result.Outcome = outcome
	return result
}

// rollDie rolls a die with the provided number of sides.
func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}
