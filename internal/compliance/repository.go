package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists finished reports. The findings and violations travel as
// one JSONB payload; the scalar columns exist for listing and retention.
type Repository struct {
	db DBTX
}

// NewRepository constructs a repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

type reportPayload struct {
	Findings   []Finding   `json:"findings"`
	Violations []Violation `json:"violations"`
	Sections   []string    `json:"sections"`
}

// Save stores one report.
func (r *Repository) Save(ctx context.Context, report Report) error {
	payload, err := json.Marshal(reportPayload{
		Findings:   report.Findings,
		Violations: report.Violations,
		Sections:   report.Sections,
	})
	if err != nil {
		return fmt.Errorf("compliance: marshal report payload: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO compliance_reports (id, generated_at, window_from, window_to, score, degraded, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ReportID, report.GeneratedAt, report.Window.From, report.Window.To,
		report.Score, report.Degraded, payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrDuplicate
		}
		return fmt.Errorf("compliance: save report: %w", err)
	}
	return nil
}

// Get fetches one report by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Report, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, generated_at, window_from, window_to, score, degraded, payload
		FROM compliance_reports WHERE id = $1`, id)
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, shared.ErrNotFound
	}
	return report, err
}

// List returns the most recent reports, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, generated_at, window_from, window_to, score, degraded, payload
		FROM compliance_reports
		ORDER BY generated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reports []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// DeleteOlderThan prunes reports past the retention horizon. Returns how many
// were removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM compliance_reports WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("compliance: prune reports: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanReport(row pgx.Row) (Report, error) {
	var report Report
	var raw []byte
	err := row.Scan(&report.ReportID, &report.GeneratedAt, &report.Window.From, &report.Window.To,
		&report.Score, &report.Degraded, &raw)
	if err != nil {
		return Report{}, err
	}
	var payload reportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Report{}, fmt.Errorf("compliance: decode report payload: %w", err)
	}
	report.Findings = payload.Findings
	report.Violations = payload.Violations
	report.Sections = payload.Sections
	return report, nil
}
