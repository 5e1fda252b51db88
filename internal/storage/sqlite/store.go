// Package sqlite implements the save store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/edgetales/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/edgetales/internal/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists save slots in a single SQLite database file.
type Store struct {
	db *sql.DB
}

var _ storage.SaveStore = (*Store)(nil)

// Open opens or creates the database at path and applies pending
// migrations. WAL mode keeps the save write at the end of a turn from
// blocking concurrent slot listings.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := sqlitemigrate.Apply(db, migrationFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts a save. The creation time of an existing slot is kept.
func (s *Store) Put(ctx context.Context, slot storage.SaveSlot, record storage.StateRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode save state: %w", err)
	}

	now := time.Now().UTC()
	created := slot.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO saves (id, player_id, name, active, scene_count, turn_count, location, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    scene_count = excluded.scene_count,
    turn_count = excluded.turn_count,
    location = excluded.location,
    state = excluded.state,
    updated_at = excluded.updated_at`,
		slot.ID, slot.PlayerID, slot.Name, boolInt(slot.Active),
		slot.Scene, slot.Turn, slot.Location, blob,
		created.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put save %s: %w", slot.ID, err)
	}
	return nil
}

// Get loads one save with its full state record.
func (s *Store) Get(ctx context.Context, id string) (storage.SaveSlot, storage.StateRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, player_id, name, active, scene_count, turn_count, location, state, created_at, updated_at
FROM saves WHERE id = ?`, id)

	var slot storage.SaveSlot
	var active int
	var blob []byte
	var createdAt, updatedAt int64
	err := row.Scan(&slot.ID, &slot.PlayerID, &slot.Name, &active,
		&slot.Scene, &slot.Turn, &slot.Location, &blob, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return storage.SaveSlot{}, storage.StateRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SaveSlot{}, storage.StateRecord{}, fmt.Errorf("get save %s: %w", id, err)
	}
	slot.Active = active != 0
	slot.CreatedAt = time.UnixMilli(createdAt).UTC()
	slot.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	var record storage.StateRecord
	if err := json.Unmarshal(blob, &record); err != nil {
		return storage.SaveSlot{}, storage.StateRecord{}, fmt.Errorf("decode save state %s: %w", id, err)
	}
	return slot, record, nil
}

// List returns a player's slots, most recently written first, without the
// state blobs.
func (s *Store) List(ctx context.Context, playerID string) ([]storage.SaveSlot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, player_id, name, active, scene_count, turn_count, location, created_at, updated_at
FROM saves WHERE player_id = ? ORDER BY updated_at DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list saves for %s: %w", playerID, err)
	}
	defer rows.Close()

	var slots []storage.SaveSlot
	for rows.Next() {
		var slot storage.SaveSlot
		var active int
		var createdAt, updatedAt int64
		if err := rows.Scan(&slot.ID, &slot.PlayerID, &slot.Name, &active,
			&slot.Scene, &slot.Turn, &slot.Location, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan save slot: %w", err)
		}
		slot.Active = active != 0
		slot.CreatedAt = time.UnixMilli(createdAt).UTC()
		slot.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list saves for %s: %w", playerID, err)
	}
	return slots, nil
}

// SetActive flags one slot active and all the player's others inactive, in
// one transaction so the single-active invariant holds even on failure.
func (s *Store) SetActive(ctx context.Context, playerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE saves SET active = 0 WHERE player_id = ?", playerID); err != nil {
		return fmt.Errorf("clear active flags: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE saves SET active = 1 WHERE id = ? AND player_id = ?", id, playerID)
	if err != nil {
		return fmt.Errorf("set active flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set active flag: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return tx.Commit()
}

// Delete removes a save.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM saves WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete save %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete save %s: %w", id, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
