package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// Cache holds recently evaluated decision sets per user. It is an explicit
// component owned by the evaluation service: TTL and clock are injected so
// tests control time, and mutations invalidate per user. Only evaluations at
// the current instant are cached; historical `at` queries always miss.
type Cache struct {
	client *redis.Client
	clock  shared.Clock
	ttl    time.Duration
}

// NewCache constructs the cache. A nil client disables caching.
func NewCache(client *redis.Client, clock shared.Clock, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Cache{client: client, clock: clock, ttl: ttl}
}

type cachedDecisions struct {
	EvaluatedAt time.Time             `json:"evaluatedAt"`
	Decisions   []EffectivePermission `json:"decisions"`
}

func decisionKey(userID int64) string {
	return fmt.Sprintf("authz:decisions:%d", userID)
}

// Get returns the cached decision set for userID if present and fresh.
func (c *Cache) Get(ctx context.Context, userID int64) ([]EffectivePermission, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, decisionKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var entry cachedDecisions
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	// Redis expiry already bounds staleness; the clock check keeps the bound
	// honest under a frozen or adjusted test clock.
	if c.clock.Now().Sub(entry.EvaluatedAt) > c.ttl {
		return nil, false
	}
	return entry.Decisions, true
}

// Set stores the decision set for userID.
func (c *Cache) Set(ctx context.Context, userID int64, decisions []EffectivePermission) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(cachedDecisions{EvaluatedAt: c.clock.Now(), Decisions: decisions})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, decisionKey(userID), raw, c.ttl).Err()
}

// Invalidate drops the cached decisions for userID. Called after every
// mutation touching the user.
func (c *Cache) Invalidate(ctx context.Context, userID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, decisionKey(userID)).Err()
}
