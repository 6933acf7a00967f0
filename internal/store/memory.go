package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/squadex/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). A single
// mutex serializes the atomic multi-writes, which gives them the same
// all-or-nothing behavior the Postgres store gets from transactions.
type MemoryStore struct {
	mu           sync.RWMutex
	teams        map[string]*model.Team
	fixtures     map[string]*model.Fixture
	ledger       []model.LedgerEntry
	nextLedgerID int64
	orders       []model.Order
	positions    map[string]*model.Position // key: userID + "/" + teamID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams:        make(map[string]*model.Team),
		fixtures:     make(map[string]*model.Fixture),
		positions:    make(map[string]*model.Position),
		nextLedgerID: 1,
	}
}

func posKey(userID, teamID string) string { return userID + "/" + teamID }

// --- Teams ---

func (s *MemoryStore) CreateTeam(_ context.Context, t *model.Team, initial *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[t.ID]; ok {
		return fmt.Errorf("team %s already exists", t.ID)
	}
	cp := *t
	s.teams[t.ID] = &cp
	s.appendEntryLocked(initial)
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]model.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, *t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

// --- Fixtures ---

func (s *MemoryStore) CreateFixture(_ context.Context, fx *model.Fixture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fixtures[fx.ID]; ok {
		return fmt.Errorf("fixture %s already exists", fx.ID)
	}
	if _, ok := s.teams[fx.HomeTeamID]; !ok {
		return fmt.Errorf("home team %s: %w", fx.HomeTeamID, ErrNotFound)
	}
	if _, ok := s.teams[fx.AwayTeamID]; !ok {
		return fmt.Errorf("away team %s: %w", fx.AwayTeamID, ErrNotFound)
	}
	cp := *fx
	s.fixtures[fx.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFixture(_ context.Context, id string) (*model.Fixture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fx, ok := s.fixtures[id]
	if !ok {
		return nil, fmt.Errorf("fixture %s: %w", id, ErrNotFound)
	}
	cp := *fx
	return &cp, nil
}

func (s *MemoryStore) ListFixturesByTeam(_ context.Context, teamID string) ([]model.Fixture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fixturesByTeamLocked(teamID), nil
}

func (s *MemoryStore) fixturesByTeamLocked(teamID string) []model.Fixture {
	var out []model.Fixture
	for _, fx := range s.fixtures {
		if fx.HomeTeamID == teamID || fx.AwayTeamID == teamID {
			out = append(out, *fx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KickoffAt.Before(out[j].KickoffAt) })
	return out
}

func (s *MemoryStore) ListFixturesDue(_ context.Context, now time.Time) ([]model.Fixture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Fixture
	for _, fx := range s.fixtures {
		if fx.Status == model.FixtureScheduled && !fx.BuyCloseAt.After(now) {
			out = append(out, *fx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KickoffAt.Before(out[j].KickoffAt) })
	return out, nil
}

func (s *MemoryStore) CloseFixture(_ context.Context, fixtureID string, homeCap, awayCap int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fx, ok := s.fixtures[fixtureID]
	if !ok {
		return fmt.Errorf("fixture %s: %w", fixtureID, ErrNotFound)
	}
	if fx.Status != model.FixtureScheduled {
		return fmt.Errorf("close fixture %s in status %s: %w", fixtureID, fx.Status, ErrFixtureTerminal)
	}
	// Snapshots are write-once.
	if fx.SnapshotHomeCap == nil {
		fx.SnapshotHomeCap = &homeCap
	}
	if fx.SnapshotAwayCap == nil {
		fx.SnapshotAwayCap = &awayCap
	}
	fx.Status = model.FixtureClosed
	return nil
}

func (s *MemoryStore) PostponeFixture(_ context.Context, fixtureID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fx, ok := s.fixtures[fixtureID]
	if !ok {
		return fmt.Errorf("fixture %s: %w", fixtureID, ErrNotFound)
	}
	if fx.Status != model.FixtureScheduled {
		return fmt.Errorf("postpone fixture %s in status %s: %w", fixtureID, fx.Status, ErrFixtureTerminal)
	}
	fx.Status = model.FixturePostponed
	return nil
}

// --- Ledger ---

func (s *MemoryStore) appendEntryLocked(e *model.LedgerEntry) {
	e.ID = s.nextLedgerID
	s.nextLedgerID++
	s.ledger = append(s.ledger, *e)
}

func (s *MemoryStore) LatestLedgerEntry(_ context.Context, teamID string) (*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.LedgerEntry
	for i := range s.ledger {
		e := &s.ledger[i]
		if e.TeamID != teamID {
			continue
		}
		if latest == nil || e.EventDate.After(latest.EventDate) ||
			(e.EventDate.Equal(latest.EventDate) && e.ID > latest.ID) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) LedgerHistory(_ context.Context, teamID string, from, to *time.Time) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEntry
	for _, e := range s.ledger {
		if e.TeamID != teamID {
			continue
		}
		if from != nil && e.EventDate.Before(*from) {
			continue
		}
		if to != nil && e.EventDate.After(*to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].EventDate.Before(out[j].EventDate)
	})
	return out, nil
}

func (s *MemoryStore) LedgerEntriesByTrigger(_ context.Context, trigger model.TriggerType, eventID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEntry
	for _, e := range s.ledger {
		if e.TriggerEventType == trigger && e.TriggerEventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Atomic multi-writes ---

func (s *MemoryStore) ApplySettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fx, ok := s.fixtures[st.FixtureID]
	if !ok {
		return fmt.Errorf("fixture %s: %w", st.FixtureID, ErrNotFound)
	}
	switch fx.Status {
	case model.FixtureApplied:
		return ErrAlreadySettled
	case model.FixturePostponed:
		return fmt.Errorf("settle fixture %s: %w", st.FixtureID, ErrFixtureTerminal)
	}
	for _, e := range s.ledger {
		if e.TriggerEventType == model.TriggerFixture && e.TriggerEventID == st.FixtureID {
			return ErrAlreadySettled
		}
	}

	home, ok := s.teams[st.HomeEntry.TeamID]
	if !ok {
		return fmt.Errorf("team %s: %w", st.HomeEntry.TeamID, ErrNotFound)
	}
	away, ok := s.teams[st.AwayEntry.TeamID]
	if !ok {
		return fmt.Errorf("team %s: %w", st.AwayEntry.TeamID, ErrNotFound)
	}

	// Without frozen snapshots the engine read live caps; refuse to apply
	// if they moved in between.
	if !st.UsedSnapshots {
		if home.MarketCap != st.HomeEntry.MarketCapBefore || away.MarketCap != st.AwayEntry.MarketCapBefore {
			return ErrCapDrift
		}
	}

	homeEntry := st.HomeEntry
	awayEntry := st.AwayEntry
	s.appendEntryLocked(&homeEntry)
	s.appendEntryLocked(&awayEntry)
	home.MarketCap = homeEntry.MarketCapAfter
	away.MarketCap = awayEntry.MarketCapAfter
	fx.Status = model.FixtureApplied
	fx.Result = st.Result
	return nil
}

func (s *MemoryStore) ApplyOrder(_ context.Context, userID, teamID string, intent OrderIntent) (*model.Order, *model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, ok := s.teams[teamID]
	if !ok {
		return nil, nil, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	fixtures := s.fixturesByTeamLocked(teamID)

	current := model.Position{UserID: userID, TeamID: teamID}
	if p, ok := s.positions[posKey(userID, teamID)]; ok {
		current = *p
	}

	teamView := *team
	ord, pos, err := intent(&teamView, fixtures, current)
	if err != nil {
		return nil, nil, err
	}

	s.orders = append(s.orders, *ord)

	// A trade moves inventory and shares, never the cap: its ledger entry
	// records before == after.
	price := ord.PricePerShare
	s.appendEntryLocked(&model.LedgerEntry{
		TeamID:           teamID,
		Type:             model.LedgerTrade,
		TriggerEventID:   ord.ID,
		TriggerEventType: model.TriggerOrder,
		MarketCapBefore:  team.MarketCap,
		MarketCapAfter:   team.MarketCap,
		SharePriceBefore: price,
		SharePriceAfter:  price,
		EventDate:        ord.CreatedAt,
	})

	switch ord.Side {
	case model.SideBuy:
		team.AvailableShares -= ord.Quantity
	case model.SideSell:
		team.AvailableShares += ord.Quantity
	}

	cp := *pos
	s.positions[posKey(userID, teamID)] = &cp

	ordCp := *ord
	posCp := *pos
	return &ordCp, &posCp, nil
}

func (s *MemoryStore) ApplyCapOverride(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, ok := s.teams[entry.TeamID]
	if !ok {
		return fmt.Errorf("team %s: %w", entry.TeamID, ErrNotFound)
	}
	if team.MarketCap != entry.MarketCapBefore {
		return ErrCapDrift
	}
	s.appendEntryLocked(entry)
	team.MarketCap = entry.MarketCapAfter
	return nil
}

func (s *MemoryStore) RewriteLedgerChain(_ context.Context, teamID string, rewrite RewriteFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, ok := s.teams[teamID]
	if !ok {
		return fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}

	var history []model.LedgerEntry
	for _, e := range s.ledger {
		if e.TeamID == teamID {
			history = append(history, e)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		if history[i].EventDate.Equal(history[j].EventDate) {
			return history[i].ID < history[j].ID
		}
		return history[i].EventDate.Before(history[j].EventDate)
	})

	entries, err := rewrite(history)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("rewrite chain for %s: empty chain", teamID)
	}

	kept := s.ledger[:0]
	for _, e := range s.ledger {
		if e.TeamID != teamID {
			kept = append(kept, e)
		}
	}
	s.ledger = kept
	for i := range entries {
		e := entries[i]
		s.appendEntryLocked(&e)
	}
	team.MarketCap = entries[len(entries)-1].MarketCapAfter
	return nil
}

// --- Orders & positions ---

func (s *MemoryStore) OrdersByUserTeam(_ context.Context, userID, teamID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID && o.TeamID == teamID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, teamID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(userID, teamID)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", userID, teamID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) PositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out, nil
}
