package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/squadex/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: team rows (price lookups) and per-user
// positions (portfolio views). Writes go to the primary store and
// invalidate the affected keys; reads check Redis first and fall back to
// the primary. The ledger itself is never cached — it is the source of
// truth and always read from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func teamKey(id string) string       { return fmt.Sprintf("team:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }

// --- Read-through ---

func (s *CachedStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	data, err := s.rdb.Get(ctx, teamKey(id)).Bytes()
	if err == nil {
		var t model.Team
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheTeam(ctx, t)
	return t, nil
}

func (s *CachedStore) PositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.PositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) cacheTeam(ctx context.Context, t *model.Team) {
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, teamKey(t.ID), data, s.ttl)
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateTeam(ctx context.Context, t *model.Team, initial *model.LedgerEntry) error {
	if err := s.primary.CreateTeam(ctx, t, initial); err != nil {
		return err
	}
	s.cacheTeam(ctx, t)
	return nil
}

func (s *CachedStore) ApplySettlement(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.ApplySettlement(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, teamKey(st.HomeEntry.TeamID), teamKey(st.AwayEntry.TeamID))
	return nil
}

func (s *CachedStore) ApplyOrder(ctx context.Context, userID, teamID string, intent OrderIntent) (*model.Order, *model.Position, error) {
	ord, pos, err := s.primary.ApplyOrder(ctx, userID, teamID, intent)
	if err != nil {
		return nil, nil, err
	}
	s.rdb.Del(ctx, teamKey(teamID), positionsKey(userID))
	return ord, pos, nil
}

func (s *CachedStore) ApplyCapOverride(ctx context.Context, entry *model.LedgerEntry) error {
	if err := s.primary.ApplyCapOverride(ctx, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, teamKey(entry.TeamID))
	return nil
}

func (s *CachedStore) RewriteLedgerChain(ctx context.Context, teamID string, rewrite RewriteFunc) error {
	if err := s.primary.RewriteLedgerChain(ctx, teamID, rewrite); err != nil {
		return err
	}
	s.rdb.Del(ctx, teamKey(teamID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	return s.primary.ListTeams(ctx)
}

func (s *CachedStore) CreateFixture(ctx context.Context, fx *model.Fixture) error {
	return s.primary.CreateFixture(ctx, fx)
}

func (s *CachedStore) GetFixture(ctx context.Context, id string) (*model.Fixture, error) {
	return s.primary.GetFixture(ctx, id)
}

func (s *CachedStore) ListFixturesByTeam(ctx context.Context, teamID string) ([]model.Fixture, error) {
	return s.primary.ListFixturesByTeam(ctx, teamID)
}

func (s *CachedStore) ListFixturesDue(ctx context.Context, now time.Time) ([]model.Fixture, error) {
	return s.primary.ListFixturesDue(ctx, now)
}

func (s *CachedStore) CloseFixture(ctx context.Context, fixtureID string, homeCap, awayCap int64) error {
	return s.primary.CloseFixture(ctx, fixtureID, homeCap, awayCap)
}

func (s *CachedStore) PostponeFixture(ctx context.Context, fixtureID string) error {
	return s.primary.PostponeFixture(ctx, fixtureID)
}

func (s *CachedStore) LatestLedgerEntry(ctx context.Context, teamID string) (*model.LedgerEntry, error) {
	return s.primary.LatestLedgerEntry(ctx, teamID)
}

func (s *CachedStore) LedgerHistory(ctx context.Context, teamID string, from, to *time.Time) ([]model.LedgerEntry, error) {
	return s.primary.LedgerHistory(ctx, teamID, from, to)
}

func (s *CachedStore) LedgerEntriesByTrigger(ctx context.Context, trigger model.TriggerType, eventID string) ([]model.LedgerEntry, error) {
	return s.primary.LedgerEntriesByTrigger(ctx, trigger, eventID)
}

func (s *CachedStore) OrdersByUserTeam(ctx context.Context, userID, teamID string) ([]model.Order, error) {
	return s.primary.OrdersByUserTeam(ctx, userID, teamID)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, teamID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, teamID)
}
