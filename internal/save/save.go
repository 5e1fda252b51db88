// Package save manages save slots on top of the storage layer, keeping the
// single-active-slot invariant and the coordinator's generation guard in
// agreement when the player switches saves.
package save

import (
	"context"
	"fmt"

	"github.com/louisbranch/edgetales/internal/engine/npc"
	"github.com/louisbranch/edgetales/internal/engine/state"
	"github.com/louisbranch/edgetales/internal/platform/id"
	"github.com/louisbranch/edgetales/internal/storage"
)

// sessionHolder is the coordinator surface the manager needs: read the
// live session for persisting and swap in a loaded one.
type sessionHolder interface {
	SnapshotState() *state.GameState
	ReplaceState(g *state.GameState)
}

// Manager owns the mapping between the live session and save slots.
type Manager struct {
	store  storage.SaveStore
	npcCfg npc.Config
	newID  func() (string, error)
}

// NewManager builds a manager. The NPC config is applied to every loaded
// session so tuning changes take effect on old saves.
func NewManager(store storage.SaveStore, npcCfg npc.Config) *Manager {
	return &Manager{store: store, npcCfg: npcCfg, newID: id.NewID}
}

// Create persists a brand-new session as the player's active slot and
// returns its metadata.
func (m *Manager) Create(ctx context.Context, playerID, name string, g *state.GameState) (storage.SaveSlot, error) {
	slotID, err := m.newID()
	if err != nil {
		return storage.SaveSlot{}, fmt.Errorf("create save: %w", err)
	}
	slot := storage.SaveSlot{
		ID:       slotID,
		PlayerID: playerID,
		Name:     name,
		Scene:    g.SceneCount,
		Turn:     g.TurnCount,
		Location: g.Location,
	}
	if err := m.store.Put(ctx, slot, storage.EncodeState(g)); err != nil {
		return storage.SaveSlot{}, fmt.Errorf("create save: %w", err)
	}
	if err := m.store.SetActive(ctx, playerID, slotID); err != nil {
		return storage.SaveSlot{}, fmt.Errorf("create save: %w", err)
	}
	slot.Active = true
	return slot, nil
}

// Persist writes the coordinator's current session into an existing slot.
// Called at the end of every completed turn.
func (m *Manager) Persist(ctx context.Context, slot storage.SaveSlot, holder sessionHolder) (storage.SaveSlot, error) {
	g := holder.SnapshotState()
	slot.Scene = g.SceneCount
	slot.Turn = g.TurnCount
	slot.Location = g.Location
	if err := m.store.Put(ctx, slot, storage.EncodeState(g)); err != nil {
		return storage.SaveSlot{}, fmt.Errorf("persist save %s: %w", slot.ID, err)
	}
	return slot, nil
}

// Load reads a slot's session without activating it. Transient fields never
// round-trip: the record types do not carry them.
func (m *Manager) Load(ctx context.Context, slotID string) (storage.SaveSlot, *state.GameState, error) {
	slot, record, err := m.store.Get(ctx, slotID)
	if err != nil {
		return storage.SaveSlot{}, nil, fmt.Errorf("load save %s: %w", slotID, err)
	}
	return slot, storage.DecodeState(record, m.npcCfg), nil
}

// Switch makes the given slot the player's active save and swaps its
// session into the coordinator. The swap bumps the turn generation, so any
// background result still pending for the old save is discarded on arrival.
func (m *Manager) Switch(ctx context.Context, playerID, slotID string, holder sessionHolder) (storage.SaveSlot, error) {
	slot, g, err := m.Load(ctx, slotID)
	if err != nil {
		return storage.SaveSlot{}, err
	}
	if err := m.store.SetActive(ctx, playerID, slotID); err != nil {
		return storage.SaveSlot{}, fmt.Errorf("switch save %s: %w", slotID, err)
	}
	holder.ReplaceState(g)
	slot.Active = true
	return slot, nil
}

// List returns the player's slots, most recent first.
func (m *Manager) List(ctx context.Context, playerID string) ([]storage.SaveSlot, error) {
	slots, err := m.store.List(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	return slots, nil
}

// Delete removes a slot.
func (m *Manager) Delete(ctx context.Context, slotID string) error {
	if err := m.store.Delete(ctx, slotID); err != nil {
		return fmt.Errorf("delete save %s: %w", slotID, err)
	}
	return nil
}
