package catalog

import (
	"context"
	"fmt"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// RepositoryPort defines data access methods for the permission registry.
type RepositoryPort interface {
	Ensure(ctx context.Context, p Permission) (Permission, error)
	Get(ctx context.Context, code string) (Permission, error)
	List(ctx context.Context) ([]Permission, error)
	CriticalCodes(ctx context.Context) (map[string]bool, error)
}

// Service handles permission registry business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Ensure registers a permission code idempotently. Re-registering an existing
// code returns the stored row; metadata of existing codes never changes.
func (s *Service) Ensure(ctx context.Context, code, description string, systemCritical bool) (Permission, error) {
	code = NormalizeCode(code)
	resource, action, err := SplitCode(code)
	if err != nil {
		return Permission{}, err
	}
	return s.repo.Ensure(ctx, Permission{
		Code:             code,
		Resource:         resource,
		Action:           action,
		Description:      description,
		IsSystemCritical: systemCritical,
	})
}

// Get fetches a permission by code.
func (s *Service) Get(ctx context.Context, code string) (Permission, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Permission{}, fmt.Errorf("%w: permission code required", shared.ErrValidation)
	}
	return s.repo.Get(ctx, code)
}

// List returns the full registry.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// CriticalCodes returns codes flagged system-critical, used by the conflict
// severity classifier.
func (s *Service) CriticalCodes(ctx context.Context) (map[string]bool, error) {
	return s.repo.CriticalCodes(ctx)
}
