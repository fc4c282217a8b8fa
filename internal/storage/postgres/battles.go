package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cormorant-games/skirmish/internal/game/battle"
)

// ErrBattleNotFound is returned when a battle lookup yields no results.
var ErrBattleNotFound = errors.New("battle not found")

// BattleRepository persists battle snapshots as JSONB documents. One row
// per battle, overwritten on every checkpoint.
type BattleRepository struct {
	db *pgxpool.Pool
}

// NewBattleRepository creates a BattleRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewBattleRepository(db *pgxpool.Pool) *BattleRepository {
	return &BattleRepository{db: db}
}

// SaveSession upserts a checkpoint for the snapshot's battle.
//
// Precondition: snap must be non-nil with a non-empty ID.
// Postcondition: A later LoadSession for the same id returns this snapshot.
func (r *BattleRepository) SaveSession(ctx context.Context, snap *battle.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot must be non-nil with an id")
	}
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("encoding snapshot for battle %q: %w", snap.ID, err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO battles (id, status, winner_id, end_reason, snapshot, saved_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status,
		     winner_id = EXCLUDED.winner_id,
		     end_reason = EXCLUDED.end_reason,
		     snapshot = EXCLUDED.snapshot,
		     saved_at = now()`,
		snap.ID, string(snap.Status), snap.WinnerID, snap.EndReason, data,
	)
	if err != nil {
		return fmt.Errorf("upserting battle %q: %w", snap.ID, err)
	}
	return nil
}

// LoadSession returns the latest checkpoint for the battle.
//
// Postcondition: Returns ErrBattleNotFound when no row exists.
func (r *BattleRepository) LoadSession(ctx context.Context, battleID string) (*battle.Snapshot, error) {
	var data []byte
	err := r.db.QueryRow(ctx,
		`SELECT snapshot FROM battles WHERE id = $1`,
		battleID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBattleNotFound
		}
		return nil, fmt.Errorf("selecting battle %q: %w", battleID, err)
	}

	snap, err := battle.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot for battle %q: %w", battleID, err)
	}
	return snap, nil
}

// DeleteSession removes the battle's checkpoint.
//
// Postcondition: Returns ErrBattleNotFound when no row was deleted.
func (r *BattleRepository) DeleteSession(ctx context.Context, battleID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM battles WHERE id = $1`, battleID)
	if err != nil {
		return fmt.Errorf("deleting battle %q: %w", battleID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBattleNotFound
	}
	return nil
}

// MarkEnded records the final verdict without rewriting the snapshot.
//
// Postcondition: Returns ErrBattleNotFound when no row was updated.
func (r *BattleRepository) MarkEnded(ctx context.Context, battleID, winnerID, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE battles
		 SET status = $2, winner_id = $3, end_reason = $4, saved_at = now()
		 WHERE id = $1`,
		battleID, string(battle.StatusEnded), winnerID, reason,
	)
	if err != nil {
		return fmt.Errorf("marking battle %q ended: %w", battleID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBattleNotFound
	}
	return nil
}

// ListActive returns the ids of battles checkpointed mid-fight, for
// crash recovery at startup.
func (r *BattleRepository) ListActive(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM battles WHERE status = $1 ORDER BY saved_at`,
		string(battle.StatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("listing active battles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning battle id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active battles: %w", err)
	}
	return ids, nil
}
