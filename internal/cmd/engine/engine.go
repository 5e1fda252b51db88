// Package engine parses engine command flags and runs the interactive
// play loop.
package engine

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/louisbranch/edgetales/internal/agents"
	"github.com/louisbranch/edgetales/internal/apperrors"
	"github.com/louisbranch/edgetales/internal/engine/dice"
	"github.com/louisbranch/edgetales/internal/engine/momentum"
	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
	"github.com/louisbranch/edgetales/internal/modelclient"
	entrypoint "github.com/louisbranch/edgetales/internal/platform/cmd"
	"github.com/louisbranch/edgetales/internal/save"
	"github.com/louisbranch/edgetales/internal/storage"
	"github.com/louisbranch/edgetales/internal/storage/sqlite"
	"github.com/louisbranch/edgetales/internal/turn"
)

// Config holds engine command configuration. Every gameplay tunable is
// externally supplied; the env defaults match the shipped balance.
type Config struct {
	AnthropicAPIKey string `env:"EDGETALES_ANTHROPIC_API_KEY"`
	DBPath          string `env:"EDGETALES_DB_PATH" envDefault:"edgetales.db"`
	PlayerID        string `env:"EDGETALES_PLAYER_ID" envDefault:"local"`

	BrainModel    string `env:"EDGETALES_BRAIN_MODEL"`
	NarratorModel string `env:"EDGETALES_NARRATOR_MODEL"`
	DirectorModel string `env:"EDGETALES_DIRECTOR_MODEL"`

	BrainMaxTokens    int64 `env:"EDGETALES_BRAIN_MAX_TOKENS"`
	NarratorMaxTokens int64 `env:"EDGETALES_NARRATOR_MAX_TOKENS"`
	DirectorMaxTokens int64 `env:"EDGETALES_DIRECTOR_MAX_TOKENS"`

	GeneratorAttempts uint          `env:"EDGETALES_GENERATOR_ATTEMPTS" envDefault:"3"`
	GeneratorBackoff  time.Duration `env:"EDGETALES_GENERATOR_BACKOFF" envDefault:"500ms"`

	MaxActiveNPCs       int `env:"EDGETALES_NPC_MAX_ACTIVE" envDefault:"12"`
	MaxObservations     int `env:"EDGETALES_NPC_MAX_OBSERVATIONS" envDefault:"15"`
	MaxReflections      int `env:"EDGETALES_NPC_MAX_REFLECTIONS" envDefault:"8"`
	ReflectionThreshold int `env:"EDGETALES_NPC_REFLECTION_THRESHOLD" envDefault:"30"`

	RecencyWeight    float64 `env:"EDGETALES_MEMORY_RECENCY_WEIGHT" envDefault:"0.40"`
	ImportanceWeight float64 `env:"EDGETALES_MEMORY_IMPORTANCE_WEIGHT" envDefault:"0.35"`
	RelevanceWeight  float64 `env:"EDGETALES_MEMORY_RELEVANCE_WEIGHT" envDefault:"0.25"`

	ChaosMin        int `env:"EDGETALES_CHAOS_MIN" envDefault:"1"`
	ChaosMax        int `env:"EDGETALES_CHAOS_MAX" envDefault:"9"`
	MomentumMin     int `env:"EDGETALES_MOMENTUM_MIN" envDefault:"-6"`
	InterruptOffset int `env:"EDGETALES_CHAOS_INTERRUPT_OFFSET" envDefault:"3"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the save database")
	fs.StringVar(&cfg.PlayerID, "player", cfg.PlayerID, "Player id that owns the save slots")
	fs.UintVar(&cfg.GeneratorAttempts, "attempts", cfg.GeneratorAttempts, "Generator retry attempts per call")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) agentConfig() agents.Config {
	agentCfg := agents.DefaultConfig()
	if c.BrainModel != "" {
		agentCfg.BrainModel = c.BrainModel
	}
	if c.NarratorModel != "" {
		agentCfg.NarratorModel = c.NarratorModel
	}
	if c.DirectorModel != "" {
		agentCfg.DirectorModel = c.DirectorModel
	}
	if c.BrainMaxTokens > 0 {
		agentCfg.BrainMaxTokens = c.BrainMaxTokens
	}
	if c.NarratorMaxTokens > 0 {
		agentCfg.NarratorMaxTokens = c.NarratorMaxTokens
	}
	if c.DirectorMaxTokens > 0 {
		agentCfg.DirectorMaxTokens = c.DirectorMaxTokens
	}
	return agentCfg
}

func (c Config) npcConfig() npc.Config {
	npcCfg := npc.DefaultConfig()
	if c.MaxActiveNPCs > 0 {
		npcCfg.MaxActive = c.MaxActiveNPCs
	}
	if c.MaxObservations > 0 {
		npcCfg.MaxObservations = c.MaxObservations
	}
	if c.MaxReflections > 0 {
		npcCfg.MaxReflections = c.MaxReflections
	}
	if c.ReflectionThreshold > 0 {
		npcCfg.ReflectionThreshold = c.ReflectionThreshold
	}
	if c.RecencyWeight > 0 {
		npcCfg.RecencyWeight = c.RecencyWeight
	}
	if c.ImportanceWeight > 0 {
		npcCfg.ImportanceWeight = c.ImportanceWeight
	}
	if c.RelevanceWeight > 0 {
		npcCfg.RelevanceWeight = c.RelevanceWeight
	}
	return npcCfg
}

func (c Config) momentumConfig() momentum.Config {
	trackerCfg := momentum.DefaultConfig()
	if c.ChaosMin > 0 {
		trackerCfg.ChaosMin = c.ChaosMin
	}
	if c.ChaosMax > 0 {
		trackerCfg.ChaosMax = c.ChaosMax
	}
	if c.MomentumMin < 0 {
		trackerCfg.MomentumMin = c.MomentumMin
	}
	if c.InterruptOffset > 0 {
		trackerCfg.InterruptOffset = c.InterruptOffset
	}
	return trackerCfg
}

// Run wires the engine together and drives the interactive play loop until
// the context is cancelled or input ends.
func Run(ctx context.Context, cfg Config) error {
	if cfg.AnthropicAPIKey == "" {
		return errors.New("EDGETALES_ANTHROPIC_API_KEY is required")
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		logger := log.Default()
		client := modelclient.NewClient(
			modelclient.NewAnthropicCompleter(cfg.AnthropicAPIKey),
			cfg.GeneratorAttempts, cfg.GeneratorBackoff, logger,
		)

		agentCfg := cfg.agentConfig()
		npcCfg := cfg.npcConfig()
		manager := save.NewManager(store, npcCfg)

		slot, game, err := resumeOrCreate(ctx, manager, store, cfg.PlayerID, npcCfg)
		if err != nil {
			return err
		}

		coordinator := turn.NewCoordinator(game, turn.Options{
			Brain:    agents.NewBrain(client, agentCfg),
			Narrator: agents.NewNarrator(client, agentCfg),
			Director: agents.NewDirector(client, agentCfg),
			Tracker:  momentum.NewTracker(cfg.momentumConfig()),
			Logger:   logger,
			OnDirector: func(notes agents.DirectorNotes) {
				if len(notes.ReflectedNPCs) > 0 {
					logger.Printf("level=info msg=\"npc reflections recorded\" npcs=%q", notes.ReflectedNPCs)
				}
			},
		})
		defer coordinator.Wait()

		return playLoop(ctx, os.Stdin, os.Stdout, coordinator, manager, slot, cfg.PlayerID)
	})
}

// resumeOrCreate loads the player's active slot, or starts a fresh session
// when there is none.
func resumeOrCreate(ctx context.Context, manager *save.Manager, store storage.SaveStore, playerID string, npcCfg npc.Config) (storage.SaveSlot, *state.GameState, error) {
	slots, err := store.List(ctx, playerID)
	if err != nil {
		return storage.SaveSlot{}, nil, err
	}
	for _, slot := range slots {
		if slot.Active {
			loaded, game, err := manager.Load(ctx, slot.ID)
			if err != nil {
				return storage.SaveSlot{}, nil, err
			}
			return loaded, game, nil
		}
	}

	game := state.New(npcCfg)
	slot, err := manager.Create(ctx, playerID, "New campaign", game)
	if err != nil {
		return storage.SaveSlot{}, nil, err
	}
	return slot, game, nil
}

// playLoop reads player input line by line. Slash commands manage saves
// and burn offers; everything else is a turn.
func playLoop(ctx context.Context, in io.Reader, out io.Writer, coordinator *turn.Coordinator, manager *save.Manager, slot storage.SaveSlot, playerID string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprintf(out, "Playing %q (scene %d). Type your action, or /help.\n", slot.Name, slot.Scene)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := runCommand(ctx, out, line, coordinator, manager, &slot, playerID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		result, err := coordinator.ProcessTurn(ctx, line)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeTurnInProgress {
				fmt.Fprintln(out, "Still resolving the previous action.")
				continue
			}
			fmt.Fprintf(out, "The story falters: %v\nYour input was not lost; send it again.\n", err)
			continue
		}
		printTurn(out, result)

		if slot, err = manager.Persist(ctx, slot, coordinator); err != nil {
			fmt.Fprintf(out, "warning: save failed: %v\n", err)
		}
	}
	return scanner.Err()
}

func runCommand(ctx context.Context, out io.Writer, line string, coordinator *turn.Coordinator, manager *save.Manager, slot *storage.SaveSlot, playerID string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, "/saves lists slots, /switch <id> changes slot, /burn accepts the standing offer, /pass declines it, /quit exits.")
		return false, nil
	case "/saves":
		slots, err := manager.List(ctx, playerID)
		if err != nil {
			return false, err
		}
		for _, s := range slots {
			marker := " "
			if s.Active {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s  %s (scene %d, %s)\n", marker, s.ID, s.Name, s.Scene, s.Location)
		}
		return false, nil
	case "/switch":
		if len(fields) < 2 {
			return false, errors.New("usage: /switch <save id>")
		}
		switched, err := manager.Switch(ctx, playerID, fields[1], coordinator)
		if err != nil {
			return false, err
		}
		*slot = switched
		fmt.Fprintf(out, "Switched to %q (scene %d).\n", switched.Name, switched.Scene)
		return false, nil
	case "/burn", "/pass":
		result, err := coordinator.ResolveBurn(ctx, fields[0] == "/burn")
		if err != nil {
			return false, err
		}
		if result.Narration != "" {
			printTurn(out, result)
			if updated, err := manager.Persist(ctx, *slot, coordinator); err == nil {
				*slot = updated
			}
		} else {
			fmt.Fprintln(out, "The moment passes.")
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func printTurn(out io.Writer, result turn.TurnResult) {
	if !result.DialogOnly && result.Roll.Outcome != dice.OutcomeUnspecified {
		fmt.Fprintf(out, "[%s +%s = %d vs %d/%d: %s",
			result.Roll.Move, result.Roll.StatName, result.Roll.ActionScore,
			result.Roll.Challenge[0], result.Roll.Challenge[1], result.Roll.Outcome)
		if result.Roll.Match {
			fmt.Fprint(out, ", match")
		}
		fmt.Fprintln(out, "]")
	}
	fmt.Fprintln(out, result.Narration)
	for _, c := range result.Consequences {
		fmt.Fprintf(out, "  - %s\n", c)
	}
	for _, ev := range result.ClockEvents {
		fmt.Fprintf(out, "  ! %s: %s\n", ev.Name, ev.Trigger)
	}
	if result.BurnOffer != nil {
		fmt.Fprintf(out, "Momentum %d could turn this %s into a %s. /burn or /pass.\n",
			result.BurnOffer.Momentum, result.BurnOffer.From, result.BurnOffer.To)
	}
	sb := result.Sidebar
	fmt.Fprintf(out, "[health %d | spirit %d | supply %d | momentum %d | chaos %d]\n",
		sb.Health, sb.Spirit, sb.Supply, sb.Momentum, sb.Chaos)
}
