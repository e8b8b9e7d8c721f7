package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/store"
)

var _ store.EncounterIndex = (*Encounters)(nil)

// Encounters implements store.EncounterIndex. Timestamps are stored as
// milliseconds since the epoch; identical samples are stored once.
type Encounters struct{ db *sqlx.DB }

// NewEncounters returns an Encounters using db.
func NewEncounters(db *sqlx.DB) *Encounters { return &Encounters{db: db} }

type encounterRow struct {
	ObservedAt int64   `db:"observed_at"`
	Token      string  `db:"token"`
	HasCoords  int     `db:"has_coords"`
	Lat        float64 `db:"lat"`
	Long       float64 `db:"long"`
}

func (r encounterRow) sample() domain.EncounterSample {
	s := domain.EncounterSample{Timestamp: time.UnixMilli(r.ObservedAt).UTC(), Token: r.Token}
	if r.HasCoords == 1 {
		s.Coordinates = &domain.Coordinates{Lat: r.Lat, Long: r.Long}
	}
	return s
}

// Append stores samples in one transaction and returns how many were new.
func (e *Encounters) Append(ctx context.Context, samples []domain.EncounterSample) (n int, err error) {
	if len(samples) == 0 {
		return 0, nil
	}
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	const ins = `INSERT OR IGNORE INTO encounters (observed_at, token, has_coords, lat, long) VALUES (?, ?, ?, ?, ?)`
	stmt, err := tx.PreparexContext(ctx, ins)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, s := range samples {
		hasCoords, lat, long := 0, 0.0, 0.0
		if s.Coordinates != nil {
			hasCoords, lat, long = 1, s.Coordinates.Lat, s.Coordinates.Long
		}
		res, execErr := stmt.ExecContext(ctx, s.Timestamp.UnixMilli(), s.Token, hasCoords, lat, long)
		if execErr != nil {
			err = fmt.Errorf("insert encounter: %w", execErr)
			return 0, err
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return 0, err
		}
		n += int(affected)
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Samples returns samples observed at or after since, oldest first.
func (e *Encounters) Samples(ctx context.Context, since time.Time) ([]domain.EncounterSample, error) {
	const q = `SELECT observed_at, token, has_coords, lat, long FROM encounters WHERE observed_at >= ? ORDER BY observed_at, id`
	var rows []encounterRow
	if err := e.db.SelectContext(ctx, &rows, q, since.UnixMilli()); err != nil {
		return nil, err
	}
	out := make([]domain.EncounterSample, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.sample())
	}
	return out, nil
}

// DeleteBefore removes samples observed before t.
func (e *Encounters) DeleteBefore(ctx context.Context, t time.Time) (int, error) {
	const q = `DELETE FROM encounters WHERE observed_at < ?`
	res, err := e.db.ExecContext(ctx, q, t.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
