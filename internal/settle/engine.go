// Package settle applies finalized match results as market-cap transfers.
//
// Settlement for a team is serialized by per-team locks and must proceed in
// kickoff order; the ledger chain (each entry's before equals the previous
// entry's after) is checked before every transfer. A broken chain
// quarantines the team — further settlement is refused, rather than
// compounded, until the repair procedure replays the chain forward from its
// initial_state entry.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/squadex/market-engine/internal/metrics"
	"github.com/squadex/market-engine/internal/model"
	"github.com/squadex/market-engine/internal/money"
	"github.com/squadex/market-engine/internal/store"
)

var (
	// ErrPendingResult is returned when settlement is requested with a
	// result that is not final.
	ErrPendingResult = errors.New("settle: result must be final")

	// ErrOutOfOrder is returned when an earlier fixture for either team has
	// not been settled or postponed yet. Settling out of chronological
	// order would compute the transfer from a cap that has not absorbed the
	// earlier match.
	ErrOutOfOrder = errors.New("settle: earlier fixture for team not yet settled")

	// ErrQuarantined is returned while a team's ledger chain is broken.
	// RepairChain must be invoked explicitly before settlement resumes.
	ErrQuarantined = errors.New("settle: team ledger quarantined until repaired")
)

// SequencingError reports a broken ledger chain: an entry whose
// market_cap_before does not equal its predecessor's market_cap_after.
type SequencingError struct {
	TeamID         string
	EntryID        int64
	ExpectedBefore int64
	FoundBefore    int64
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("settle: ledger chain broken for team %s at entry %d: expected before %d, found %d",
		e.TeamID, e.EntryID, e.ExpectedBefore, e.FoundBefore)
}

// Config carries the economic parameters of the engine.
type Config struct {
	// TransferRate is the fraction of the loser's cap moved to the winner.
	TransferRate decimal.Decimal

	// MinMarketCap is the floor a loser's cap is clamped to. When the clamp
	// fires, total capital strictly increases by the clamped amount — a
	// known property of the economic model, reproduced deliberately.
	MinMarketCap int64

	// BuyCloseOffset is how long before kickoff the buy window closes.
	BuyCloseOffset time.Duration
}

// Engine is the settlement engine. Per-team mutexes serialize settlement
// (single-instance; the Postgres store adds row locks for multi-instance
// deployments).
type Engine struct {
	store store.Store
	cfg   Config

	mu          sync.Mutex
	teamLocks   map[string]*sync.Mutex
	quarantined map[string]string // teamID → detail
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, cfg Config) *Engine {
	return &Engine{
		store:       st,
		cfg:         cfg,
		teamLocks:   make(map[string]*sync.Mutex),
		quarantined: make(map[string]string),
	}
}

// Outcome describes one applied settlement.
type Outcome struct {
	FixtureID       string              `json:"fixture_id"`
	Result          model.FixtureResult `json:"result"`
	WinnerTeamID    string              `json:"winner_team_id,omitempty"`
	LoserTeamID     string              `json:"loser_team_id,omitempty"`
	Transfer        int64               `json:"transfer"`         // cents
	FloorAdjustment int64               `json:"floor_adjustment"` // cents created by the cap floor
	HomeEntry       model.LedgerEntry   `json:"home_entry"`
	AwayEntry       model.LedgerEntry   `json:"away_entry"`
}

// --- Locking & quarantine ---

func (e *Engine) teamLock(teamID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.teamLocks[teamID]
	if !ok {
		m = &sync.Mutex{}
		e.teamLocks[teamID] = m
	}
	return m
}

// lockTeams acquires both team locks in sorted id order to avoid deadlock
// with a concurrent settlement locking the same pair.
func (e *Engine) lockTeams(a, b string) func() {
	ids := []string{a, b}
	sort.Strings(ids)
	first, second := e.teamLock(ids[0]), e.teamLock(ids[1])
	first.Lock()
	if second != first {
		second.Lock()
	}
	return func() {
		if second != first {
			second.Unlock()
		}
		first.Unlock()
	}
}

func (e *Engine) quarantine(teamID, detail string) {
	e.mu.Lock()
	e.quarantined[teamID] = detail
	e.mu.Unlock()
}

// Quarantined reports whether a team is refusing settlement, and why.
func (e *Engine) Quarantined(teamID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	detail, ok := e.quarantined[teamID]
	return detail, ok
}

func (e *Engine) clearQuarantine(teamID string) {
	e.mu.Lock()
	delete(e.quarantined, teamID)
	e.mu.Unlock()
}

// --- Fixture lifecycle ---

// CreateFixture schedules a match. The buy window closes a fixed offset
// before kickoff.
func (e *Engine) CreateFixture(ctx context.Context, homeTeamID, awayTeamID string, kickoff time.Time) (*model.Fixture, error) {
	if homeTeamID == awayTeamID {
		return nil, errors.New("settle: a team cannot play itself")
	}
	if _, err := e.store.GetTeam(ctx, homeTeamID); err != nil {
		return nil, err
	}
	if _, err := e.store.GetTeam(ctx, awayTeamID); err != nil {
		return nil, err
	}

	fx := &model.Fixture{
		ID:         uuid.New().String(),
		HomeTeamID: homeTeamID,
		AwayTeamID: awayTeamID,
		KickoffAt:  kickoff.UTC(),
		BuyCloseAt: kickoff.UTC().Add(-e.cfg.BuyCloseOffset),
		Status:     model.FixtureScheduled,
		Result:     model.ResultPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateFixture(ctx, fx); err != nil {
		return nil, err
	}
	slog.Info("fixture scheduled",
		"fixture", fx.ID, "home", homeTeamID, "away", awayTeamID,
		"kickoff", fx.KickoffAt, "buy_close", fx.BuyCloseAt)
	return fx, nil
}

// CloseDueFixtures transitions every scheduled fixture past its buy-close
// time to closed, freezing both teams' market caps as settlement
// snapshots. Invoked by an external timer owned by the process supervisor.
func (e *Engine) CloseDueFixtures(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.ListFixturesDue(ctx, now)
	if err != nil {
		return 0, err
	}

	closed := 0
	var errs []error
	for _, fx := range due {
		home, err := e.store.GetTeam(ctx, fx.HomeTeamID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		away, err := e.store.GetTeam(ctx, fx.AwayTeamID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.store.CloseFixture(ctx, fx.ID, home.MarketCap, away.MarketCap); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
		slog.Info("buy window closed",
			"fixture", fx.ID, "home_cap", home.MarketCap, "away_cap", away.MarketCap)
	}
	return closed, errors.Join(errs...)
}

// PostponeFixture cancels a scheduled fixture. Terminal.
func (e *Engine) PostponeFixture(ctx context.Context, fixtureID string) error {
	if err := e.store.PostponeFixture(ctx, fixtureID); err != nil {
		return err
	}
	slog.Info("fixture postponed", "fixture", fixtureID)
	return nil
}

// --- Settlement ---

// SettleFixture applies a finalized result: it computes the cap transfer
// from the buy-close snapshots (or the live caps when no snapshot was
// taken), writes one ledger entry per team, updates both caps, and marks
// the fixture applied — atomically. Re-invocation on an applied fixture is
// a detectable no-op (store.ErrAlreadySettled), never a double transfer.
func (e *Engine) SettleFixture(ctx context.Context, fixtureID string, result model.FixtureResult) (*Outcome, error) {
	switch result {
	case model.ResultHomeWin, model.ResultAwayWin, model.ResultDraw:
	default:
		return nil, fmt.Errorf("%w: %q", ErrPendingResult, result)
	}

	fx, err := e.store.GetFixture(ctx, fixtureID)
	if err != nil {
		return nil, err
	}
	switch fx.Status {
	case model.FixtureApplied:
		return nil, store.ErrAlreadySettled
	case model.FixturePostponed:
		return nil, fmt.Errorf("settle fixture %s: %w", fixtureID, store.ErrFixtureTerminal)
	}

	unlock := e.lockTeams(fx.HomeTeamID, fx.AwayTeamID)
	defer unlock()

	for _, teamID := range []string{fx.HomeTeamID, fx.AwayTeamID} {
		if detail, ok := e.Quarantined(teamID); ok {
			return nil, fmt.Errorf("%w: team %s (%s)", ErrQuarantined, teamID, detail)
		}
	}
	if err := e.checkOrder(ctx, fx); err != nil {
		return nil, err
	}

	home, err := e.store.GetTeam(ctx, fx.HomeTeamID)
	if err != nil {
		return nil, err
	}
	away, err := e.store.GetTeam(ctx, fx.AwayTeamID)
	if err != nil {
		return nil, err
	}
	for _, t := range []*model.Team{home, away} {
		if err := e.checkChainHead(ctx, t); err != nil {
			return nil, err
		}
	}

	homeCap, awayCap := home.MarketCap, away.MarketCap
	usedSnapshots := fx.SnapshotHomeCap != nil && fx.SnapshotAwayCap != nil
	if usedSnapshots {
		homeCap, awayCap = *fx.SnapshotHomeCap, *fx.SnapshotAwayCap
	}

	out := e.computeOutcome(fx, result, home, away, homeCap, awayCap)

	st := &model.Settlement{
		FixtureID:     fixtureID,
		Result:        result,
		HomeEntry:     out.HomeEntry,
		AwayEntry:     out.AwayEntry,
		UsedSnapshots: usedSnapshots,
	}
	if err := e.store.ApplySettlement(ctx, st); err != nil {
		if errors.Is(err, store.ErrAlreadySettled) {
			return nil, err
		}
		return nil, fmt.Errorf("settle fixture %s: %w", fixtureID, err)
	}
	out.HomeEntry, out.AwayEntry = st.HomeEntry, st.AwayEntry

	metrics.SettlementsTotal.WithLabelValues(string(result)).Inc()
	if out.FloorAdjustment > 0 {
		metrics.FloorClampsTotal.Inc()
	}
	slog.Info("fixture settled",
		"fixture", fixtureID,
		"result", result,
		"winner", out.WinnerTeamID,
		"loser", out.LoserTeamID,
		"transfer", out.Transfer,
		"floor_adjustment", out.FloorAdjustment,
		"from_snapshots", usedSnapshots)
	return out, nil
}

// checkOrder rejects settlement while an earlier fixture for either team is
// still in play: its transfer has not landed in the cap yet.
func (e *Engine) checkOrder(ctx context.Context, fx *model.Fixture) error {
	for _, teamID := range []string{fx.HomeTeamID, fx.AwayTeamID} {
		fixtures, err := e.store.ListFixturesByTeam(ctx, teamID)
		if err != nil {
			return err
		}
		for _, other := range fixtures {
			if other.ID == fx.ID || !other.KickoffAt.Before(fx.KickoffAt) {
				continue
			}
			if other.Status == model.FixtureScheduled || other.Status == model.FixtureClosed {
				return fmt.Errorf("%w: fixture %s (kickoff %s) precedes %s",
					ErrOutOfOrder, other.ID, other.KickoffAt.Format(time.RFC3339), fx.ID)
			}
		}
	}
	return nil
}

// checkChainHead verifies the team's live cap matches the tail of its
// ledger chain. A mismatch means a write landed without its ledger row (or
// vice versa); the team is quarantined for explicit repair.
func (e *Engine) checkChainHead(ctx context.Context, t *model.Team) error {
	latest, err := e.store.LatestLedgerEntry(ctx, t.ID)
	if err != nil {
		return err
	}
	if latest == nil || latest.MarketCapAfter == t.MarketCap {
		return nil
	}
	seqErr := &SequencingError{
		TeamID:         t.ID,
		EntryID:        latest.ID,
		ExpectedBefore: latest.MarketCapAfter,
		FoundBefore:    t.MarketCap,
	}
	e.quarantine(t.ID, seqErr.Error())
	slog.Error("ledger chain head mismatch, team quarantined",
		"team", t.ID, "ledger_cap", latest.MarketCapAfter, "team_cap", t.MarketCap)
	return seqErr
}

func (e *Engine) computeOutcome(fx *model.Fixture, result model.FixtureResult,
	home, away *model.Team, homeCap, awayCap int64) *Outcome {

	now := time.Now().UTC()
	entry := func(t *model.Team, typ model.LedgerType, before, after int64) model.LedgerEntry {
		return model.LedgerEntry{
			TeamID:           t.ID,
			Type:             typ,
			TriggerEventID:   fx.ID,
			TriggerEventType: model.TriggerFixture,
			MarketCapBefore:  before,
			MarketCapAfter:   after,
			SharePriceBefore: money.SharePrice(before, t.TotalShares, t.LaunchPrice),
			SharePriceAfter:  money.SharePrice(after, t.TotalShares, t.LaunchPrice),
			EventDate:        now,
		}
	}

	out := &Outcome{FixtureID: fx.ID, Result: result}

	if result == model.ResultDraw {
		out.HomeEntry = entry(home, model.LedgerMatchDraw, homeCap, homeCap)
		out.AwayEntry = entry(away, model.LedgerMatchDraw, awayCap, awayCap)
		return out
	}

	winner, loser := home, away
	winnerCap, loserCap := homeCap, awayCap
	if result == model.ResultAwayWin {
		winner, loser = away, home
		winnerCap, loserCap = awayCap, homeCap
	}

	transfer := money.TransferAmount(loserCap, e.cfg.TransferRate)
	winnerAfter := winnerCap + transfer
	loserAfter := loserCap - transfer
	if loserAfter < e.cfg.MinMarketCap {
		// The winner still receives the full transfer; the clamp mints the
		// difference instead of deepening the loser's cap.
		out.FloorAdjustment = e.cfg.MinMarketCap - loserAfter
		loserAfter = e.cfg.MinMarketCap
	}

	out.WinnerTeamID = winner.ID
	out.LoserTeamID = loser.ID
	out.Transfer = transfer

	winEntry := entry(winner, model.LedgerMatchWin, winnerCap, winnerAfter)
	lossEntry := entry(loser, model.LedgerMatchLoss, loserCap, loserAfter)
	if winner.ID == home.ID {
		out.HomeEntry, out.AwayEntry = winEntry, lossEntry
	} else {
		out.HomeEntry, out.AwayEntry = lossEntry, winEntry
	}
	return out
}

// ResultEvent pairs a fixture with its final result, for batch settlement.
type ResultEvent struct {
	FixtureID string              `json:"fixture_id"`
	Result    model.FixtureResult `json:"result"`
}

// SettleBatch applies a backfill of results in kickoff order, regardless of
// delivery order. Already-settled fixtures are skipped; other failures are
// collected and do not stop the batch (later fixtures of an affected team
// fail the ordering guard on their own).
func (e *Engine) SettleBatch(ctx context.Context, events []ResultEvent) (int, error) {
	type item struct {
		ev      ResultEvent
		kickoff time.Time
	}
	items := make([]item, 0, len(events))
	for _, ev := range events {
		fx, err := e.store.GetFixture(ctx, ev.FixtureID)
		if err != nil {
			return 0, err
		}
		items = append(items, item{ev: ev, kickoff: fx.KickoffAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].kickoff.Before(items[j].kickoff) })

	applied := 0
	var errs []error
	for _, it := range items {
		_, err := e.SettleFixture(ctx, it.ev.FixtureID, it.ev.Result)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, store.ErrAlreadySettled):
			// Re-delivered result; nothing to do.
		default:
			errs = append(errs, fmt.Errorf("fixture %s: %w", it.ev.FixtureID, err))
		}
	}
	return applied, errors.Join(errs...)
}

// --- Chain verification & repair ---

// VerifyChain walks a team's ledger and returns a SequencingError at the
// first entry whose before does not match its predecessor's after, or
// whose tail disagrees with the live cap.
func (e *Engine) VerifyChain(ctx context.Context, teamID string) error {
	history, err := e.store.LedgerHistory(ctx, teamID, nil, nil)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	for i := 1; i < len(history); i++ {
		if history[i].MarketCapBefore != history[i-1].MarketCapAfter {
			return &SequencingError{
				TeamID:         teamID,
				EntryID:        history[i].ID,
				ExpectedBefore: history[i-1].MarketCapAfter,
				FoundBefore:    history[i].MarketCapBefore,
			}
		}
	}
	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if tail := history[len(history)-1].MarketCapAfter; tail != team.MarketCap {
		return &SequencingError{
			TeamID:         teamID,
			EntryID:        history[len(history)-1].ID,
			ExpectedBefore: tail,
			FoundBefore:    team.MarketCap,
		}
	}
	return nil
}

// RepairReport summarizes a chain repair.
type RepairReport struct {
	TeamID    string `json:"team_id"`
	Entries   int    `json:"entries"`
	Corrected int    `json:"corrected"`
	FinalCap  int64  `json:"final_cap"`
}

// RepairChain rebuilds a team's ledger chain forward from its initial_state
// entry: each entry keeps its recorded cap delta but is re-based on its
// predecessor's corrected after-value (clamped at the floor), and share
// prices are recomputed. The live cap is set to the rebuilt tail. Clears
// the team's quarantine on success.
//
// Replaying forward from initial_state — never backward from the current
// cap — keeps the repair stable under concurrent reads of a half-broken
// chain.
func (e *Engine) RepairChain(ctx context.Context, teamID string) (*RepairReport, error) {
	lock := e.teamLock(teamID)
	lock.Lock()
	defer lock.Unlock()

	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	price := func(capCents int64) int64 {
		return money.SharePrice(capCents, team.TotalShares, team.LaunchPrice)
	}

	// The rebase runs inside the store's rewrite transaction, against the
	// chain as it exists there. An order committing mid-repair lands
	// either in the history we rebase or after the rewrite; either way
	// its entry survives.
	report := &RepairReport{TeamID: teamID}
	rebase := func(history []model.LedgerEntry) ([]model.LedgerEntry, error) {
		if len(history) == 0 {
			return nil, fmt.Errorf("repair chain for %s: no ledger entries", teamID)
		}
		if history[0].Type != model.LedgerInitialState {
			return nil, fmt.Errorf("repair chain for %s: first entry is %s, not %s",
				teamID, history[0].Type, model.LedgerInitialState)
		}

		running := history[0].MarketCapAfter
		for i := 1; i < len(history); i++ {
			entry := &history[i]
			after := running + entry.Delta()
			if after < e.cfg.MinMarketCap {
				after = e.cfg.MinMarketCap
			}
			if entry.MarketCapBefore != running || entry.MarketCapAfter != after {
				report.Corrected++
			}
			entry.MarketCapBefore = running
			entry.MarketCapAfter = after
			entry.SharePriceBefore = price(running)
			entry.SharePriceAfter = price(after)
			running = after
		}
		report.Entries = len(history)
		report.FinalCap = running
		return history, nil
	}

	if err := e.store.RewriteLedgerChain(ctx, teamID, rebase); err != nil {
		return nil, err
	}
	e.clearQuarantine(teamID)

	slog.Warn("ledger chain repaired",
		"team", teamID, "entries", report.Entries, "corrected", report.Corrected, "final_cap", report.FinalCap)
	return report, nil
}

// --- Administrative override ---

// OverrideCap sets a team's market cap directly. The change is itself
// ledgered as an admin_adjustment entry; un-ledgered cap writes do not
// exist in this system.
func (e *Engine) OverrideCap(ctx context.Context, teamID string, newCap int64, reason string) (*model.LedgerEntry, error) {
	if newCap < e.cfg.MinMarketCap {
		return nil, fmt.Errorf("settle: override cap %d below floor %d", newCap, e.cfg.MinMarketCap)
	}

	lock := e.teamLock(teamID)
	lock.Lock()
	defer lock.Unlock()

	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	entry := &model.LedgerEntry{
		TeamID:           teamID,
		Type:             model.LedgerAdminAdjustment,
		TriggerEventID:   uuid.New().String(),
		TriggerEventType: model.TriggerAdmin,
		MarketCapBefore:  team.MarketCap,
		MarketCapAfter:   newCap,
		SharePriceBefore: money.SharePrice(team.MarketCap, team.TotalShares, team.LaunchPrice),
		SharePriceAfter:  money.SharePrice(newCap, team.TotalShares, team.LaunchPrice),
		EventDate:        time.Now().UTC(),
	}
	if err := e.store.ApplyCapOverride(ctx, entry); err != nil {
		return nil, err
	}
	slog.Warn("market cap overridden",
		"team", teamID, "before", entry.MarketCapBefore, "after", newCap, "reason", reason)
	return entry, nil
}
