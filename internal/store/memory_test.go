package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/squadex/market-engine/internal/model"
)

func seedTeam(t *testing.T, s *MemoryStore, id string, capCents int64) {
	t.Helper()
	now := time.Now().UTC().Add(-time.Hour)
	team := &model.Team{ID: id, Name: id, MarketCap: capCents, TotalShares: 1000, AvailableShares: 1000, LaunchPrice: 100, CreatedAt: now}
	initial := &model.LedgerEntry{
		TeamID: id, Type: model.LedgerInitialState,
		TriggerEventID: id, TriggerEventType: model.TriggerTeam,
		MarketCapBefore: capCents, MarketCapAfter: capCents,
		EventDate: now,
	}
	if err := s.CreateTeam(context.Background(), team, initial); err != nil {
		t.Fatalf("seed team: %v", err)
	}
}

func seedFixture(t *testing.T, s *MemoryStore, id, home, away string, kickoff time.Time) {
	t.Helper()
	fx := &model.Fixture{
		ID: id, HomeTeamID: home, AwayTeamID: away,
		KickoffAt: kickoff, BuyCloseAt: kickoff.Add(-time.Hour),
		Status: model.FixtureScheduled, Result: model.ResultPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateFixture(context.Background(), fx); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
}

func settlement(fixtureID string, result model.FixtureResult, homeEntry, awayEntry model.LedgerEntry, snapshots bool) *model.Settlement {
	return &model.Settlement{
		FixtureID: fixtureID, Result: result,
		HomeEntry: homeEntry, AwayEntry: awayEntry,
		UsedSnapshots: snapshots,
	}
}

func matchEntry(teamID, fixtureID string, typ model.LedgerType, before, after int64) model.LedgerEntry {
	return model.LedgerEntry{
		TeamID: teamID, Type: typ,
		TriggerEventID: fixtureID, TriggerEventType: model.TriggerFixture,
		MarketCapBefore: before, MarketCapAfter: after,
		EventDate: time.Now().UTC(),
	}
}

func TestApplySettlementRejectsCapDrift(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTeam(t, s, "a", 100_000)
	seedTeam(t, s, "b", 50_000)
	seedFixture(t, s, "fx1", "a", "b", time.Now().UTC().Add(-2*time.Hour))

	// Entries computed from a cap that is no longer the live one.
	st := settlement("fx1", model.ResultHomeWin,
		matchEntry("a", "fx1", model.LedgerMatchWin, 99_000, 104_000),
		matchEntry("b", "fx1", model.LedgerMatchLoss, 50_000, 45_000),
		false)
	if err := s.ApplySettlement(ctx, st); !errors.Is(err, ErrCapDrift) {
		t.Fatalf("err = %v, want ErrCapDrift", err)
	}

	// Nothing was written.
	team, _ := s.GetTeam(ctx, "a")
	if team.MarketCap != 100_000 {
		t.Errorf("cap = %d, want untouched 100000", team.MarketCap)
	}
	fx, _ := s.GetFixture(ctx, "fx1")
	if fx.Status != model.FixtureScheduled {
		t.Errorf("fixture status = %s, want still scheduled", fx.Status)
	}
	entries, _ := s.LedgerEntriesByTrigger(ctx, model.TriggerFixture, "fx1")
	if len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(entries))
	}
}

func TestApplySettlementDetectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTeam(t, s, "a", 100_000)
	seedTeam(t, s, "b", 50_000)
	seedFixture(t, s, "fx1", "a", "b", time.Now().UTC().Add(-2*time.Hour))

	st := settlement("fx1", model.ResultHomeWin,
		matchEntry("a", "fx1", model.LedgerMatchWin, 100_000, 105_000),
		matchEntry("b", "fx1", model.LedgerMatchLoss, 50_000, 45_000),
		false)
	if err := s.ApplySettlement(ctx, st); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := s.ApplySettlement(ctx, st); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second apply err = %v, want ErrAlreadySettled", err)
	}
}

func TestApplyOrderAbortedIntentWritesNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTeam(t, s, "a", 100_000)

	rejection := errors.New("rejected")
	intent := func(team *model.Team, fixtures []model.Fixture, pos model.Position) (*model.Order, *model.Position, error) {
		return nil, nil, rejection
	}
	if _, _, err := s.ApplyOrder(ctx, "u1", "a", intent); !errors.Is(err, rejection) {
		t.Fatalf("err = %v, want intent rejection", err)
	}

	team, _ := s.GetTeam(ctx, "a")
	if team.AvailableShares != 1000 {
		t.Errorf("available shares = %d, want untouched 1000", team.AvailableShares)
	}
	if orders, _ := s.OrdersByUserTeam(ctx, "u1", "a"); len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
	if _, err := s.GetPosition(ctx, "u1", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("position err = %v, want ErrNotFound", err)
	}
}

func TestApplyOrderWritesLedgerAndPosition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTeam(t, s, "a", 100_000)

	now := time.Now().UTC()
	intent := func(team *model.Team, fixtures []model.Fixture, pos model.Position) (*model.Order, *model.Position, error) {
		pos.Quantity += 10
		pos.TotalInvested += 1000
		pos.UpdatedAt = now
		return &model.Order{
			ID: "ord1", UserID: "u1", TeamID: "a",
			Side: model.SideBuy, Quantity: 10,
			PricePerShare: 100, TotalAmount: 1000,
			Status:          model.OrderFilled,
			MarketCapBefore: team.MarketCap, MarketCapAfter: team.MarketCap,
			CreatedAt: now,
		}, &pos, nil
	}
	ord, pos, err := s.ApplyOrder(ctx, "u1", "a", intent)
	if err != nil {
		t.Fatalf("apply order: %v", err)
	}
	if ord.ID != "ord1" || pos.Quantity != 10 {
		t.Fatalf("order/position = %+v / %+v", ord, pos)
	}

	team, _ := s.GetTeam(ctx, "a")
	if team.AvailableShares != 990 {
		t.Errorf("available shares = %d, want 990", team.AvailableShares)
	}
	entries, _ := s.LedgerEntriesByTrigger(ctx, model.TriggerOrder, "ord1")
	if len(entries) != 1 {
		t.Fatalf("trade ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Type != model.LedgerTrade || entries[0].Delta() != 0 {
		t.Errorf("trade entry = %s delta %d, want trade/0", entries[0].Type, entries[0].Delta())
	}
}

func TestCloseFixtureSnapshotsWriteOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTeam(t, s, "a", 100_000)
	seedTeam(t, s, "b", 50_000)
	seedFixture(t, s, "fx1", "a", "b", time.Now().UTC().Add(time.Hour))

	if err := s.CloseFixture(ctx, "fx1", 100_000, 50_000); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.CloseFixture(ctx, "fx1", 1, 2); !errors.Is(err, ErrFixtureTerminal) {
		t.Fatalf("second close err = %v, want ErrFixtureTerminal", err)
	}
	fx, _ := s.GetFixture(ctx, "fx1")
	if *fx.SnapshotHomeCap != 100_000 || *fx.SnapshotAwayCap != 50_000 {
		t.Errorf("snapshots = %d/%d, want first write preserved", *fx.SnapshotHomeCap, *fx.SnapshotAwayCap)
	}
}

func TestRewriteLedgerChainReplacesOnlyTargetTeam(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTeam(t, s, "a", 100_000)
	seedTeam(t, s, "b", 50_000)

	now := time.Now().UTC()
	chain := []model.LedgerEntry{
		{
			TeamID: "a", Type: model.LedgerInitialState,
			TriggerEventID: "a", TriggerEventType: model.TriggerTeam,
			MarketCapBefore: 100_000, MarketCapAfter: 100_000,
			EventDate: now.Add(-time.Hour),
		},
		{
			TeamID: "a", Type: model.LedgerMatchLoss,
			TriggerEventID: "fx1", TriggerEventType: model.TriggerFixture,
			MarketCapBefore: 100_000, MarketCapAfter: 90_000,
			EventDate: now,
		},
	}
	if err := s.RewriteLedgerChain(ctx, "a", func([]model.LedgerEntry) ([]model.LedgerEntry, error) {
		return chain, nil
	}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	entriesA, _ := s.LedgerHistory(ctx, "a", nil, nil)
	if len(entriesA) != 2 {
		t.Errorf("team a entries = %d, want 2", len(entriesA))
	}
	team, _ := s.GetTeam(ctx, "a")
	if team.MarketCap != 90_000 {
		t.Errorf("cap = %d, want chain tail 90000", team.MarketCap)
	}

	// Team b's chain is untouched.
	entriesB, _ := s.LedgerHistory(ctx, "b", nil, nil)
	if len(entriesB) != 1 || entriesB[0].Type != model.LedgerInitialState {
		t.Errorf("team b entries = %d, want its single initial entry", len(entriesB))
	}
}

func TestRewriteLedgerChainSeesEntriesPastStaleRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTeam(t, s, "a", 100_000)

	// A caller captures the chain, then a trade commits before the
	// rewrite runs. The rewrite callback must receive the live chain,
	// not the caller's stale copy, so the trade entry survives.
	stale, err := s.LedgerHistory(ctx, "a", nil, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	now := time.Now().UTC()
	intent := func(team *model.Team, fixtures []model.Fixture, pos model.Position) (*model.Order, *model.Position, error) {
		pos.Quantity += 5
		pos.TotalInvested += 500
		pos.UpdatedAt = now
		return &model.Order{
			ID: "ord-mid", UserID: "u1", TeamID: "a",
			Side: model.SideBuy, Quantity: 5,
			PricePerShare: 100, TotalAmount: 500,
			Status:          model.OrderFilled,
			MarketCapBefore: team.MarketCap, MarketCapAfter: team.MarketCap,
			CreatedAt: now,
		}, &pos, nil
	}
	if _, _, err := s.ApplyOrder(ctx, "u1", "a", intent); err != nil {
		t.Fatalf("apply order: %v", err)
	}

	if err := s.RewriteLedgerChain(ctx, "a", func(history []model.LedgerEntry) ([]model.LedgerEntry, error) {
		if len(history) != len(stale)+1 {
			t.Errorf("rewrite saw %d entries, want %d including the trade", len(history), len(stale)+1)
		}
		return history, nil
	}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	entries, _ := s.LedgerEntriesByTrigger(ctx, model.TriggerOrder, "ord-mid")
	if len(entries) != 1 {
		t.Fatalf("trade ledger entries after rewrite = %d, want 1", len(entries))
	}
}
