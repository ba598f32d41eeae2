package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type FeatureGate interface {
	HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error)
}

type PgFeatureGate struct {
	db db.Querier
}

func NewPgFeatureGate(q db.Querier) *PgFeatureGate {
	return &PgFeatureGate{db: q}
}

func (g *PgFeatureGate) HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	var enabled bool
	err := g.db.QueryRow(ctx, `
		SELECT enabled
		FROM tenant_features
		WHERE tenant_id = $1 AND feature = $2
	`, tenantID, feature).Scan(&enabled)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("load tenant feature: %w", err)
	}
	return enabled, nil
}

// CachedFeatureGate answers from Redis when it can and falls through to next
// otherwise. A Redis failure is not an error; it only costs a database read.
type CachedFeatureGate struct {
	next FeatureGate
	rdb  *redis.Client
	ttl  time.Duration
}

func NewCachedFeatureGate(next FeatureGate, rdb *redis.Client, ttl time.Duration) *CachedFeatureGate {
	return &CachedFeatureGate{next: next, rdb: rdb, ttl: ttl}
}

func featureKey(tenantID uuid.UUID, feature string) string {
	return "feature:" + tenantID.String() + ":" + feature
}

func (g *CachedFeatureGate) HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	key := featureKey(tenantID, feature)

	v, err := g.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return v == "1", nil
	case !errors.Is(err, redis.Nil):
		return g.next.HasFeature(ctx, tenantID, feature)
	}

	enabled, err := g.next.HasFeature(ctx, tenantID, feature)
	if err != nil {
		return false, err
	}
	val := "0"
	if enabled {
		val = "1"
	}
	_ = g.rdb.Set(ctx, key, val, g.ttl).Err()
	return enabled, nil
}

// StaticFeatureGate enables a fixed set of features per tenant.
type StaticFeatureGate map[uuid.UUID][]string

func (g StaticFeatureGate) HasFeature(_ context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	for _, f := range g[tenantID] {
		if f == feature {
			return true, nil
		}
	}
	return false, nil
}
