package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// SnapshotRunner executes fn against one consistent snapshot of all sources.
// Every read inside fn observes the same logical state; implementations back
// this with a single read-only transaction.
type SnapshotRunner func(ctx context.Context, fn func(Sources) error) error

// MetricsSink receives evaluation counters. Nil-safe via noopMetrics.
type MetricsSink interface {
	EvaluationObserved(granted bool)
	ConflictObserved(kind ConflictKind, severity Severity)
	DecisionCacheHit()
	DecisionCacheMiss()
}

type noopMetrics struct{}

func (noopMetrics) EvaluationObserved(bool)                 {}
func (noopMetrics) ConflictObserved(ConflictKind, Severity) {}
func (noopMetrics) DecisionCacheHit()                       {}
func (noopMetrics) DecisionCacheMiss()                      {}

// Service is the evaluation facade: collect, resolve, detect, explain. The
// path is read-only and safe for unlimited concurrent callers.
type Service struct {
	snapshot SnapshotRunner
	resolver *Resolver
	detector *Detector
	tree     *TreeBuilder
	cache    *Cache
	clock    shared.Clock
	metrics  MetricsSink
	group    singleflight.Group
}

// NewService builds the evaluation service. cache may be nil to disable
// caching; metrics may be nil.
func NewService(snapshot SnapshotRunner, cache *Cache, clock shared.Clock, metrics MetricsSink) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		snapshot: snapshot,
		resolver: NewResolver(),
		detector: NewDetector(),
		tree:     NewTreeBuilder(),
		cache:    cache,
		clock:    clock,
		metrics:  metrics,
	}
}

// Evaluate computes the effective permission for one user and code. A zero
// `at` means "now" and may be served from the decision cache; explicit
// historical timestamps always hit the snapshot.
func (s *Service) Evaluate(ctx context.Context, userID int64, code string, at time.Time) (EffectivePermission, error) {
	cacheable := at.IsZero()
	if cacheable {
		at = s.clock.Now()
		if decisions, ok := s.cache.Get(ctx, userID); ok {
			s.metrics.DecisionCacheHit()
			return pickDecision(decisions, code, at), nil
		}
		s.metrics.DecisionCacheMiss()
	}

	decisions, err := s.evaluateUser(ctx, userID, at, cacheable)
	if err != nil {
		return EffectivePermission{}, err
	}
	result := pickDecision(decisions, code, at)
	s.observe(result)
	return result, nil
}

// EvaluateAll computes effective permissions for every code the user's
// sources assert. Codes without any assertion are implicit default deny and
// are not enumerated.
func (s *Service) EvaluateAll(ctx context.Context, userID int64, at time.Time) ([]EffectivePermission, error) {
	cacheable := at.IsZero()
	if cacheable {
		at = s.clock.Now()
		if decisions, ok := s.cache.Get(ctx, userID); ok {
			s.metrics.DecisionCacheHit()
			return decisions, nil
		}
		s.metrics.DecisionCacheMiss()
	}
	decisions, err := s.evaluateUser(ctx, userID, at, cacheable)
	if err != nil {
		return nil, err
	}
	for _, d := range decisions {
		s.observe(d)
	}
	return decisions, nil
}

// Explain renders the inheritance tree for one user and code at the logical
// timestamp. Purely a projection: it never influences evaluation.
func (s *Service) Explain(ctx context.Context, userID int64, code string, at time.Time) (InheritanceNode, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	var node InheritanceNode
	err := s.snapshot(ctx, func(src Sources) error {
		asserts, err := NewCollector(src).Collect(ctx, userID, at)
		if err != nil {
			return err
		}
		node = s.tree.Explain(code, asserts)
		return nil
	})
	if err != nil {
		return InheritanceNode{}, err
	}
	return node, nil
}

// Conflicts evaluates the user and returns only the decisions carrying
// conflicts, used by the compliance analyzer's critical-conflict section.
func (s *Service) Conflicts(ctx context.Context, userID int64, at time.Time) ([]Conflict, error) {
	decisions, err := s.EvaluateAll(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	var conflicts []Conflict
	for _, d := range decisions {
		conflicts = append(conflicts, d.Conflicts...)
	}
	return conflicts, nil
}

// InvalidateUser drops cached decisions after a mutation.
func (s *Service) InvalidateUser(ctx context.Context, userID int64) {
	s.cache.Invalidate(ctx, userID)
}

// evaluateUser runs the full collect/detect/resolve pipeline against one
// snapshot. Concurrent cache misses for the same user collapse into one
// snapshot read via singleflight.
func (s *Service) evaluateUser(ctx context.Context, userID int64, at time.Time, cacheable bool) ([]EffectivePermission, error) {
	key := fmt.Sprintf("%d@%d", userID, at.UnixNano())
	v, err, _ := s.group.Do(key, func() (any, error) {
		var decisions []EffectivePermission
		err := s.snapshot(ctx, func(src Sources) error {
			asserts, err := NewCollector(src).Collect(ctx, userID, at)
			if err != nil {
				return err
			}
			grouped := GroupByCode(asserts)
			codes := make([]string, 0, len(grouped))
			for code := range grouped {
				codes = append(codes, code)
			}
			sort.Strings(codes)
			decisions = make([]EffectivePermission, 0, len(codes))
			for _, code := range codes {
				conflicts := s.detector.Detect(code, grouped[code])
				decisions = append(decisions, s.resolver.Resolve(code, grouped[code], conflicts, at))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.cache.Set(ctx, userID, decisions)
		}
		return decisions, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]EffectivePermission), nil
}

func (s *Service) observe(d EffectivePermission) {
	s.metrics.EvaluationObserved(d.IsGranted)
	for _, c := range d.Conflicts {
		s.metrics.ConflictObserved(c.Kind, c.Severity)
	}
}

func pickDecision(decisions []EffectivePermission, code string, at time.Time) EffectivePermission {
	for _, d := range decisions {
		if d.PermissionCode == code {
			return d
		}
	}
	return EffectivePermission{
		PermissionCode: code,
		IsGranted:      false,
		WinningSource:  SourceRef{Type: SourceDefault},
		Tier:           TierDefaultDeny,
		EvaluatedAt:    at,
	}
}
