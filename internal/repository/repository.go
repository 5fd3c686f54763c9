package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

const columns = `id, meter_id, observed_at, value_kwh, amount_milli, reading_kind, source, status, tx_id, attempts, error, created_at`

func (r *Repos) InsertSubmission(ctx context.Context, rec domain.SubmissionRecord) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO submissions(`+columns+`)
		VALUES (:id, :meter_id, :observed_at, :value_kwh, :amount_milli, :reading_kind, :source, :status, :tx_id, :attempts, :error, :created_at)
		ON CONFLICT (id) DO NOTHING`, rec)
	return err
}

func (r *Repos) RecentSubmissions(ctx context.Context, limit int) ([]domain.SubmissionRecord, error) {
	out := []domain.SubmissionRecord{}
	err := r.db.SelectContext(ctx, &out, `SELECT `+columns+` FROM submissions ORDER BY created_at DESC LIMIT $1`, limit)
	return out, err
}

// MeterSubmissions returns a meter's records created at or after since, newest first.
func (r *Repos) MeterSubmissions(ctx context.Context, meterID string, since time.Time, limit int) ([]domain.SubmissionRecord, error) {
	out := []domain.SubmissionRecord{}
	err := r.db.SelectContext(ctx, &out, `SELECT `+columns+` FROM submissions
		WHERE meter_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3`, meterID, since, limit)
	return out, err
}
