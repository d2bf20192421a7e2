package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReportStore is the persistence slice the service needs. Repository
// satisfies it.
type ReportStore interface {
	Save(ctx context.Context, report Report) error
	Get(ctx context.Context, id uuid.UUID) (Report, error)
	List(ctx context.Context, limit int) ([]Report, error)
}

// Service runs the analyzer, persists the outcome, and fans the report out to
// the notifier.
type Service struct {
	analyzer *Analyzer
	store    ReportStore
	notifier Notifier
}

// NewService constructs the service. notifier may be nil.
func NewService(analyzer *Analyzer, store ReportStore, notifier Notifier) *Service {
	return &Service{analyzer: analyzer, store: store, notifier: notifier}
}

// Generate produces and stores a report for the window.
func (s *Service) Generate(ctx context.Context, from, to time.Time) (Report, error) {
	report, err := s.analyzer.Generate(ctx, Window{From: from, To: to})
	if err != nil {
		return Report{}, err
	}
	if err := s.store.Save(ctx, report); err != nil {
		return Report{}, err
	}
	if s.notifier != nil {
		s.notifier.ReportGenerated(ctx, report)
	}
	return report, nil
}

// Get fetches a stored report.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Report, error) {
	return s.store.Get(ctx, id)
}

// List returns recent reports.
func (s *Service) List(ctx context.Context, limit int) ([]Report, error) {
	return s.store.List(ctx, limit)
}
