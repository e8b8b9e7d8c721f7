package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/store"
)

var _ store.ExposureIndex = (*Exposures)(nil)

// Exposures implements store.ExposureIndex. A fingerprint is stored once; a
// repeated match keeps the first matched_at.
type Exposures struct{ db *sqlx.DB }

// NewExposures returns an Exposures using db.
func NewExposures(db *sqlx.DB) *Exposures { return &Exposures{db: db} }

type exposureRow struct {
	Fingerprint string  `db:"fingerprint"`
	Kind        string  `db:"kind"`
	Properties  string  `db:"properties"`
	SampleAt    int64   `db:"sample_at"`
	DistanceM   float64 `db:"distance_m"`
	MatchedAt   int64   `db:"matched_at"`
}

func (r exposureRow) record() (domain.ExposureRecord, error) {
	var props map[string]any
	if err := json.Unmarshal([]byte(r.Properties), &props); err != nil {
		return domain.ExposureRecord{}, fmt.Errorf("%w: exposure %s properties: %v", domain.ErrParse, r.Fingerprint, err)
	}
	return domain.ExposureRecord{
		Properties: props,
		Match: domain.MatchMetadata{
			Kind:            domain.MatchKind(r.Kind),
			Fingerprint:     r.Fingerprint,
			SampleTimestamp: time.UnixMilli(r.SampleAt).UTC(),
			DistanceMeters:  r.DistanceM,
			MatchedAt:       time.UnixMilli(r.MatchedAt).UTC(),
		},
	}, nil
}

// Upsert stores records whose fingerprint is new and returns how many were added.
func (x *Exposures) Upsert(ctx context.Context, records []domain.ExposureRecord) (n int, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	const ins = `INSERT INTO exposures (fingerprint, kind, properties, sample_at, distance_m, matched_at)
VALUES (:fingerprint, :kind, :properties, :sample_at, :distance_m, :matched_at)
ON CONFLICT(fingerprint) DO NOTHING`
	for _, rec := range records {
		props, mErr := json.Marshal(rec.Properties)
		if mErr != nil {
			err = mErr
			return 0, err
		}
		row := exposureRow{
			Fingerprint: rec.Match.Fingerprint,
			Kind:        string(rec.Match.Kind),
			Properties:  string(props),
			SampleAt:    rec.Match.SampleTimestamp.UnixMilli(),
			DistanceM:   rec.Match.DistanceMeters,
			MatchedAt:   rec.Match.MatchedAt.UnixMilli(),
		}
		res, execErr := tx.NamedExecContext(ctx, ins, row)
		if execErr != nil {
			err = fmt.Errorf("upsert exposure: %w", execErr)
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

// List returns every cached exposure, most recent sample first.
func (x *Exposures) List(ctx context.Context) ([]domain.ExposureRecord, error) {
	const q = `SELECT fingerprint, kind, properties, sample_at, distance_m, matched_at FROM exposures ORDER BY sample_at DESC, fingerprint`
	var rows []exposureRow
	if err := x.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]domain.ExposureRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteBefore removes exposures whose matched sample precedes t.
func (x *Exposures) DeleteBefore(ctx context.Context, t time.Time) (int, error) {
	const q = `DELETE FROM exposures WHERE sample_at < ?`
	res, err := x.db.ExecContext(ctx, q, t.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
