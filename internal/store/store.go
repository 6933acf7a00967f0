// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Ledger entries and orders are append-only. The multi-write operations
// (ApplySettlement, ApplyOrder, ApplyCapOverride, RewriteLedgerChain) are
// atomic: every implementation must make partial application structurally
// impossible, because a team cap updated without its ledger row is a fatal
// invariant breach, not a recoverable error.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/squadex/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadySettled is returned when a settlement targets a fixture
	// that already has ledger entries keyed to it, or is already applied.
	// Re-delivered results are a detectable no-op, never a double transfer.
	ErrAlreadySettled = errors.New("store: fixture already settled")

	// ErrFixtureTerminal is returned on any transition out of a terminal
	// fixture state (applied, postponed).
	ErrFixtureTerminal = errors.New("store: fixture is in a terminal state")

	// ErrCapDrift is returned when a write carries a market_cap_before that
	// no longer matches the team row inside the transaction.
	ErrCapDrift = errors.New("store: market cap changed since it was read")
)

// OrderIntent builds the order and resulting position from state read under
// the store's transaction (team row locked, fixtures and position freshly
// loaded). Running validation here — not before the transaction — is what
// closes the race between window-closing and order acceptance. Returning an
// error aborts the transaction with nothing written.
type OrderIntent func(team *model.Team, fixtures []model.Fixture, pos model.Position) (*model.Order, *model.Position, error)

// RewriteFunc receives a team's current ledger chain, ordered by event date
// then id, and returns the replacement chain. It runs inside the store's
// rewrite transaction with the team row locked, against a history that is
// current at that instant.
type RewriteFunc func(history []model.LedgerEntry) ([]model.LedgerEntry, error)

// Store is the persistence interface.
type Store interface {
	// --- Teams ---

	// CreateTeam persists a team together with its initial_state ledger
	// entry in one atomic write.
	CreateTeam(ctx context.Context, t *model.Team, initial *model.LedgerEntry) error
	GetTeam(ctx context.Context, id string) (*model.Team, error)
	ListTeams(ctx context.Context) ([]model.Team, error)

	// --- Fixtures ---

	CreateFixture(ctx context.Context, fx *model.Fixture) error
	GetFixture(ctx context.Context, id string) (*model.Fixture, error)
	ListFixturesByTeam(ctx context.Context, teamID string) ([]model.Fixture, error)

	// ListFixturesDue returns scheduled fixtures whose buy-close time has
	// passed, ordered by kickoff.
	ListFixturesDue(ctx context.Context, now time.Time) ([]model.Fixture, error)

	// CloseFixture transitions scheduled → closed and freezes both cap
	// snapshots. Snapshots, once written, are never overwritten.
	CloseFixture(ctx context.Context, fixtureID string, homeCap, awayCap int64) error

	// PostponeFixture transitions scheduled → postponed (terminal).
	PostponeFixture(ctx context.Context, fixtureID string) error

	// --- Immutable ledger ---

	// LatestLedgerEntry returns the chronologically last entry for a team,
	// or (nil, nil) when the team has no entries.
	LatestLedgerEntry(ctx context.Context, teamID string) (*model.LedgerEntry, error)

	// LedgerHistory returns a team's entries ordered by event date,
	// optionally bounded by [from, to].
	LedgerHistory(ctx context.Context, teamID string, from, to *time.Time) ([]model.LedgerEntry, error)

	// LedgerEntriesByTrigger returns the entries caused by one event.
	LedgerEntriesByTrigger(ctx context.Context, trigger model.TriggerType, eventID string) ([]model.LedgerEntry, error)

	// --- Atomic multi-writes ---

	// ApplySettlement writes both ledger rows, both team caps, and the
	// fixture's terminal applied transition as one unit. Fails with
	// ErrAlreadySettled when ledger rows for the fixture already exist.
	ApplySettlement(ctx context.Context, s *model.Settlement) error

	// ApplyOrder executes intent against locked team state and, if it
	// succeeds, writes the order, the trade ledger entry, the position,
	// and the team's available-share inventory as one unit.
	ApplyOrder(ctx context.Context, userID, teamID string, intent OrderIntent) (*model.Order, *model.Position, error)

	// ApplyCapOverride applies a ledgered administrative cap change.
	ApplyCapOverride(ctx context.Context, entry *model.LedgerEntry) error

	// RewriteLedgerChain replaces a team's whole chain with the result of
	// rewrite and sets its cap to the final entry's market_cap_after. The
	// current chain is read inside the same lock or transaction that
	// performs the replacement, so entries committed after the caller
	// last looked (a trade landing mid-repair) are in the history the
	// rewrite sees and cannot be dropped. A rewrite error aborts with
	// nothing written. This is the only mutation of existing ledger rows
	// in the system and exists solely for the explicit chain-repair
	// procedure.
	RewriteLedgerChain(ctx context.Context, teamID string, rewrite RewriteFunc) error

	// --- Orders & positions ---

	OrdersByUserTeam(ctx context.Context, userID, teamID string) ([]model.Order, error)
	GetPosition(ctx context.Context, userID, teamID string) (*model.Position, error)
	PositionsByUser(ctx context.Context, userID string) ([]model.Position, error)
}
