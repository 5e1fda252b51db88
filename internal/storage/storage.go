// Package storage defines the persistence contract for game saves.
//
// Persisted records are separate types from the in-memory session state:
// transient fields are excluded by construction rather than stripped on
// load, so they can never survive a save/load round trip. Implementations
// live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested save slot is missing.
var ErrNotFound = errors.New("save not found")

// SaveSlot is the listing metadata for one save, cheap to load without the
// full state blob.
type SaveSlot struct {
	ID        string
	PlayerID  string
	Name      string
	Active    bool
	Scene     int
	Turn      int
	Location  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveStore persists save slots. Exactly one slot per player is active at
// any time; SetActive reassigns the flag atomically.
type SaveStore interface {
	Put(ctx context.Context, slot SaveSlot, record StateRecord) error
	Get(ctx context.Context, id string) (SaveSlot, StateRecord, error)
	List(ctx context.Context, playerID string) ([]SaveSlot, error)
	SetActive(ctx context.Context, playerID, id string) error
	Delete(ctx context.Context, id string) error
	Close() error
}
