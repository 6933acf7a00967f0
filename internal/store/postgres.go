package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/squadex/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary columns are BIGINT minor units. Every atomic multi-write
// runs in a single transaction with the affected team rows locked
// FOR UPDATE, so a team cap can never be updated without its ledger row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const teamColumns = `id, name, market_cap, total_shares, available_shares, launch_price, created_at`

func scanTeam(row rowScanner) (*model.Team, error) {
	var t model.Team
	err := row.Scan(&t.ID, &t.Name, &t.MarketCap, &t.TotalShares, &t.AvailableShares, &t.LaunchPrice, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const fixtureColumns = `id, home_team_id, away_team_id, kickoff_at, buy_close_at, status, result, snapshot_home_cap, snapshot_away_cap, created_at`

func scanFixture(row rowScanner) (*model.Fixture, error) {
	var fx model.Fixture
	err := row.Scan(&fx.ID, &fx.HomeTeamID, &fx.AwayTeamID, &fx.KickoffAt, &fx.BuyCloseAt,
		&fx.Status, &fx.Result, &fx.SnapshotHomeCap, &fx.SnapshotAwayCap, &fx.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &fx, nil
}

const ledgerColumns = `id, team_id, ledger_type, trigger_event_id, trigger_event_type,
	market_cap_before, market_cap_after, share_price_before, share_price_after, event_date`

func scanLedgerEntry(row rowScanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(&e.ID, &e.TeamID, &e.Type, &e.TriggerEventID, &e.TriggerEventType,
		&e.MarketCapBefore, &e.MarketCapAfter, &e.SharePriceBefore, &e.SharePriceAfter, &e.EventDate)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, e *model.LedgerEntry) error {
	return tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (team_id, ledger_type, trigger_event_id, trigger_event_type,
		         market_cap_before, market_cap_after, share_price_before, share_price_after, event_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		e.TeamID, e.Type, e.TriggerEventID, e.TriggerEventType,
		e.MarketCapBefore, e.MarketCapAfter, e.SharePriceBefore, e.SharePriceAfter, e.EventDate,
	).Scan(&e.ID)
}

// --- Teams ---

func (s *PostgresStore) CreateTeam(ctx context.Context, t *model.Team, initial *model.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO teams (`+teamColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.MarketCap, t.TotalShares, t.AvailableShares, t.LaunchPrice, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create team %s: %w", t.ID, err)
	}
	if err := insertLedgerEntry(ctx, tx, initial); err != nil {
		return fmt.Errorf("create team %s: initial ledger entry: %w", t.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	t, err := scanTeam(s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get team %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

// --- Fixtures ---

func (s *PostgresStore) CreateFixture(ctx context.Context, fx *model.Fixture) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fixtures (`+fixtureColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		fx.ID, fx.HomeTeamID, fx.AwayTeamID, fx.KickoffAt, fx.BuyCloseAt,
		fx.Status, fx.Result, fx.SnapshotHomeCap, fx.SnapshotAwayCap, fx.CreatedAt)
	if err != nil {
		return fmt.Errorf("create fixture %s: %w", fx.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetFixture(ctx context.Context, id string) (*model.Fixture, error) {
	fx, err := scanFixture(s.pool.QueryRow(ctx, `SELECT `+fixtureColumns+` FROM fixtures WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fixture %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fixture %s: %w", id, err)
	}
	return fx, nil
}

func (s *PostgresStore) ListFixturesByTeam(ctx context.Context, teamID string) ([]model.Fixture, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fixtureColumns+` FROM fixtures
		 WHERE home_team_id = $1 OR away_team_id = $1
		 ORDER BY kickoff_at`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFixtures(rows)
}

func (s *PostgresStore) ListFixturesDue(ctx context.Context, now time.Time) ([]model.Fixture, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fixtureColumns+` FROM fixtures
		 WHERE status = $1 AND buy_close_at <= $2
		 ORDER BY kickoff_at`, model.FixtureScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFixtures(rows)
}

func collectFixtures(rows pgx.Rows) ([]model.Fixture, error) {
	var fixtures []model.Fixture
	for rows.Next() {
		fx, err := scanFixture(rows)
		if err != nil {
			return nil, err
		}
		fixtures = append(fixtures, *fx)
	}
	return fixtures, rows.Err()
}

func (s *PostgresStore) CloseFixture(ctx context.Context, fixtureID string, homeCap, awayCap int64) error {
	// COALESCE keeps snapshots write-once even if the sweep ever runs twice.
	tag, err := s.pool.Exec(ctx,
		`UPDATE fixtures
		 SET status = $2,
		     snapshot_home_cap = COALESCE(snapshot_home_cap, $3),
		     snapshot_away_cap = COALESCE(snapshot_away_cap, $4)
		 WHERE id = $1 AND status = $5`,
		fixtureID, model.FixtureClosed, homeCap, awayCap, model.FixtureScheduled)
	if err != nil {
		return fmt.Errorf("close fixture %s: %w", fixtureID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close fixture %s: %w", fixtureID, ErrFixtureTerminal)
	}
	return nil
}

func (s *PostgresStore) PostponeFixture(ctx context.Context, fixtureID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fixtures SET status = $2 WHERE id = $1 AND status = $3`,
		fixtureID, model.FixturePostponed, model.FixtureScheduled)
	if err != nil {
		return fmt.Errorf("postpone fixture %s: %w", fixtureID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postpone fixture %s: %w", fixtureID, ErrFixtureTerminal)
	}
	return nil
}

// --- Ledger ---

func (s *PostgresStore) LatestLedgerEntry(ctx context.Context, teamID string) (*model.LedgerEntry, error) {
	e, err := scanLedgerEntry(s.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		 WHERE team_id = $1
		 ORDER BY event_date DESC, id DESC
		 LIMIT 1`, teamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest ledger entry for %s: %w", teamID, err)
	}
	return e, nil
}

func (s *PostgresStore) LedgerHistory(ctx context.Context, teamID string, from, to *time.Time) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		 WHERE team_id = $1
		   AND ($2::TIMESTAMPTZ IS NULL OR event_date >= $2)
		   AND ($3::TIMESTAMPTZ IS NULL OR event_date <= $3)
		 ORDER BY event_date, id`, teamID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgerEntries(rows)
}

func (s *PostgresStore) LedgerEntriesByTrigger(ctx context.Context, trigger model.TriggerType, eventID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		 WHERE trigger_event_type = $1 AND trigger_event_id = $2
		 ORDER BY id`, trigger, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgerEntries(rows)
}

func collectLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// --- Atomic multi-writes ---

func (s *PostgresStore) ApplySettlement(ctx context.Context, st *model.Settlement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock both team rows in id order to avoid lock-order inversion with a
	// concurrent settlement of the reverse pairing.
	caps := make(map[string]int64, 2)
	rows, err := tx.Query(ctx,
		`SELECT id, market_cap FROM teams WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]string{st.HomeEntry.TeamID, st.AwayEntry.TeamID})
	if err != nil {
		return fmt.Errorf("settle %s: lock teams: %w", st.FixtureID, err)
	}
	for rows.Next() {
		var id string
		var cap int64
		if err := rows.Scan(&id, &cap); err != nil {
			rows.Close()
			return err
		}
		caps[id] = cap
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(caps) != 2 {
		return fmt.Errorf("settle %s: %w", st.FixtureID, ErrNotFound)
	}

	var status model.FixtureStatus
	err = tx.QueryRow(ctx, `SELECT status FROM fixtures WHERE id = $1 FOR UPDATE`, st.FixtureID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("fixture %s: %w", st.FixtureID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	switch status {
	case model.FixtureApplied:
		return ErrAlreadySettled
	case model.FixturePostponed:
		return fmt.Errorf("settle fixture %s: %w", st.FixtureID, ErrFixtureTerminal)
	}

	var dup bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE trigger_event_type = $1 AND trigger_event_id = $2)`,
		model.TriggerFixture, st.FixtureID).Scan(&dup)
	if err != nil {
		return err
	}
	if dup {
		return ErrAlreadySettled
	}

	if !st.UsedSnapshots {
		if caps[st.HomeEntry.TeamID] != st.HomeEntry.MarketCapBefore ||
			caps[st.AwayEntry.TeamID] != st.AwayEntry.MarketCapBefore {
			return ErrCapDrift
		}
	}

	for _, e := range []*model.LedgerEntry{&st.HomeEntry, &st.AwayEntry} {
		if err := insertLedgerEntry(ctx, tx, e); err != nil {
			return fmt.Errorf("settle %s: ledger entry for %s: %w", st.FixtureID, e.TeamID, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE teams SET market_cap = $2 WHERE id = $1`, e.TeamID, e.MarketCapAfter); err != nil {
			return fmt.Errorf("settle %s: update cap for %s: %w", st.FixtureID, e.TeamID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE fixtures SET status = $2, result = $3 WHERE id = $1`,
		st.FixtureID, model.FixtureApplied, st.Result); err != nil {
		return fmt.Errorf("settle %s: mark applied: %w", st.FixtureID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyOrder(ctx context.Context, userID, teamID string, intent OrderIntent) (*model.Order, *model.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	team, err := scanTeam(tx.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1 FOR UPDATE`, teamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	fxRows, err := tx.Query(ctx,
		`SELECT `+fixtureColumns+` FROM fixtures
		 WHERE home_team_id = $1 OR away_team_id = $1
		 ORDER BY kickoff_at`, teamID)
	if err != nil {
		return nil, nil, err
	}
	fixtures, err := collectFixtures(fxRows)
	fxRows.Close()
	if err != nil {
		return nil, nil, err
	}

	current := model.Position{UserID: userID, TeamID: teamID}
	err = tx.QueryRow(ctx,
		`SELECT user_id, team_id, quantity, total_invested, total_pnl, updated_at
		 FROM positions WHERE user_id = $1 AND team_id = $2 FOR UPDATE`, userID, teamID).
		Scan(&current.UserID, &current.TeamID, &current.Quantity, &current.TotalInvested,
			&current.TotalPnL, &current.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	ord, pos, err := intent(team, fixtures, current)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, team_id, side, quantity, price_per_share, total_amount, status,
		         market_cap_before, market_cap_after, shares_outstanding_before, shares_outstanding_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ord.ID, ord.UserID, ord.TeamID, ord.Side, ord.Quantity, ord.PricePerShare, ord.TotalAmount, ord.Status,
		ord.MarketCapBefore, ord.MarketCapAfter, ord.SharesOutstandingBefore, ord.SharesOutstandingAfter, ord.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert order %s: %w", ord.ID, err)
	}

	// A trade moves inventory, never the cap: before == after.
	entry := &model.LedgerEntry{
		TeamID:           teamID,
		Type:             model.LedgerTrade,
		TriggerEventID:   ord.ID,
		TriggerEventType: model.TriggerOrder,
		MarketCapBefore:  team.MarketCap,
		MarketCapAfter:   team.MarketCap,
		SharePriceBefore: ord.PricePerShare,
		SharePriceAfter:  ord.PricePerShare,
		EventDate:        ord.CreatedAt,
	}
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, nil, fmt.Errorf("order %s: trade ledger entry: %w", ord.ID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO positions (user_id, team_id, quantity, total_invested, total_pnl, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, team_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity,
		               total_invested = EXCLUDED.total_invested,
		               total_pnl = EXCLUDED.total_pnl,
		               updated_at = EXCLUDED.updated_at`,
		pos.UserID, pos.TeamID, pos.Quantity, pos.TotalInvested, pos.TotalPnL, pos.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("order %s: upsert position: %w", ord.ID, err)
	}

	delta := -ord.Quantity
	if ord.Side == model.SideSell {
		delta = ord.Quantity
	}
	if _, err := tx.Exec(ctx,
		`UPDATE teams SET available_shares = available_shares + $2 WHERE id = $1`,
		teamID, delta); err != nil {
		return nil, nil, fmt.Errorf("order %s: update inventory: %w", ord.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return ord, pos, nil
}

func (s *PostgresStore) ApplyCapOverride(ctx context.Context, entry *model.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var marketCap int64
	err = tx.QueryRow(ctx, `SELECT market_cap FROM teams WHERE id = $1 FOR UPDATE`, entry.TeamID).Scan(&marketCap)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("team %s: %w", entry.TeamID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if marketCap != entry.MarketCapBefore {
		return ErrCapDrift
	}

	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("cap override for %s: %w", entry.TeamID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE teams SET market_cap = $2 WHERE id = $1`, entry.TeamID, entry.MarketCapAfter); err != nil {
		return fmt.Errorf("cap override for %s: %w", entry.TeamID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RewriteLedgerChain(ctx context.Context, teamID string, rewrite RewriteFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var marketCap int64
	err = tx.QueryRow(ctx, `SELECT market_cap FROM teams WHERE id = $1 FOR UPDATE`, teamID).Scan(&marketCap)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	// Read under the team row lock: a concurrent order commits either
	// before this read (its entry is in the history handed to rewrite)
	// or after the whole rewrite.
	rows, err := tx.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		 WHERE team_id = $1 ORDER BY event_date, id`, teamID)
	if err != nil {
		return fmt.Errorf("rewrite chain for %s: %w", teamID, err)
	}
	history, err := collectLedgerEntries(rows)
	rows.Close()
	if err != nil {
		return fmt.Errorf("rewrite chain for %s: %w", teamID, err)
	}

	entries, err := rewrite(history)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("rewrite chain for %s: empty chain", teamID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM ledger_entries WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("rewrite chain for %s: %w", teamID, err)
	}
	for i := range entries {
		if err := insertLedgerEntry(ctx, tx, &entries[i]); err != nil {
			return fmt.Errorf("rewrite chain for %s: entry %d: %w", teamID, i, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE teams SET market_cap = $2 WHERE id = $1`,
		teamID, entries[len(entries)-1].MarketCapAfter); err != nil {
		return fmt.Errorf("rewrite chain for %s: %w", teamID, err)
	}
	return tx.Commit(ctx)
}

// --- Orders & positions ---

func (s *PostgresStore) OrdersByUserTeam(ctx context.Context, userID, teamID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, team_id, side, quantity, price_per_share, total_amount, status,
		        market_cap_before, market_cap_after, shares_outstanding_before, shares_outstanding_after, created_at
		 FROM orders WHERE user_id = $1 AND team_id = $2 ORDER BY created_at, id`, userID, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TeamID, &o.Side, &o.Quantity, &o.PricePerShare,
			&o.TotalAmount, &o.Status, &o.MarketCapBefore, &o.MarketCapAfter,
			&o.SharesOutstandingBefore, &o.SharesOutstandingAfter, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, teamID string) (*model.Position, error) {
	var p model.Position
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, team_id, quantity, total_invested, total_pnl, updated_at
		 FROM positions WHERE user_id = $1 AND team_id = $2`, userID, teamID).
		Scan(&p.UserID, &p.TeamID, &p.Quantity, &p.TotalInvested, &p.TotalPnL, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s: %w", userID, teamID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) PositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, team_id, quantity, total_invested, total_pnl, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY team_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.UserID, &p.TeamID, &p.Quantity, &p.TotalInvested, &p.TotalPnL, &p.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
