// Package agents adapts the three generator roles to the game engine: the
// Brain classifies player input into a move, the Narrator dramatizes the
// resolved outcome, and the Director analyzes scenes in the background.
// Agents never decide mechanics; that stays in the engine packages.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
	"github.com/louisbranch/edgetales/internal/modelclient"
)

// Config carries the per-agent model names and token budgets.
type Config struct {
	BrainModel    string
	NarratorModel string
	DirectorModel string

	BrainMaxTokens    int64
	NarratorMaxTokens int64
	DirectorMaxTokens int64
}

// DefaultConfig returns the models and budgets used in play.
func DefaultConfig() Config {
	return Config{
		BrainModel:        "claude-haiku-4-5-20251001",
		NarratorModel:     "claude-sonnet-4-5-20250929",
		DirectorModel:     "claude-haiku-4-5-20251001",
		BrainMaxTokens:    512,
		NarratorMaxTokens: 2500,
		DirectorMaxTokens: 1200,
	}
}

// caller is the slice of modelclient.Client the agents need. Tests swap in
// a scripted implementation.
type caller interface {
	Call(ctx context.Context, req modelclient.Request) (string, error)
}

// statusLine renders the character tracks the way prompts expect them.
func statusLine(g *state.GameState) string {
	c := g.Character
	return fmt.Sprintf("%s H%d Sp%d Su%d M%d chaos:%d | E%d H%d I%d Sh%d W%d",
		c.Name, c.Health, c.Spirit, c.Supply, g.Momentum, g.ChaosFactor,
		c.Stats.Edge, c.Stats.Heart, c.Stats.Iron, c.Stats.Shadow, c.Stats.Wits)
}

// npcSummary lists active NPCs one per line, with background NPCs condensed
// below so the generator can recognize returning characters.
func npcSummary(g *state.GameState) string {
	var active, background []string
	for _, n := range g.NPCs.All() {
		switch n.Status {
		case npc.StatusActive:
			line := fmt.Sprintf("- %s (id:%s): %s, bond=%d/%d, agenda=%q",
				n.Name, n.ID, n.Disposition, n.Bond, 4, n.Agenda)
			if len(n.Aliases) > 0 {
				line += " aliases:" + strings.Join(n.Aliases, ",")
			}
			active = append(active, line)
		case npc.StatusBackground:
			background = append(background, fmt.Sprintf("- %s (id:%s): %s, bond=%d",
				n.Name, n.ID, n.Disposition, n.Bond))
		}
	}
	out := strings.Join(active, "\n")
	if out == "" {
		out = "(none)"
	}
	if len(background) > 0 {
		out += "\n(background, not currently present but known):\n" + strings.Join(background, "\n")
	}
	return out
}

// clockSummary lists unfilled clocks.
func clockSummary(g *state.GameState) string {
	var lines []string
	for _, c := range g.Clocks.All() {
		if !c.Full() {
			lines = append(lines, fmt.Sprintf("- %s (%s): %d/%d", c.Name, c.Kind, c.Filled, c.Segments))
		}
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

// recentScenes renders the last few session log entries.
func recentScenes(g *state.GameState, n int) string {
	logs := g.SessionLog
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	if len(logs) == 0 {
		return "(start)"
	}
	var lines []string
	for _, e := range logs {
		lines = append(lines, fmt.Sprintf("Scene %d: %s", e.Scene, e.Summary))
	}
	return strings.Join(lines, "\n")
}
