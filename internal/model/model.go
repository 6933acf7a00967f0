// Package model defines the core domain types shared across the market engine.
// All monetary values are int64 minor units (cents) — never float64 for money.
package model

import "time"

// LedgerType tags the kind of market-cap mutation a ledger entry records.
type LedgerType string

const (
	LedgerInitialState    LedgerType = "initial_state"
	LedgerMatchWin        LedgerType = "match_win"
	LedgerMatchLoss       LedgerType = "match_loss"
	LedgerMatchDraw       LedgerType = "match_draw"
	LedgerTrade           LedgerType = "trade"
	LedgerAdminAdjustment LedgerType = "admin_adjustment"
)

// TriggerType identifies the kind of event a ledger entry links back to.
type TriggerType string

const (
	TriggerTeam    TriggerType = "team"
	TriggerFixture TriggerType = "fixture"
	TriggerOrder   TriggerType = "order"
	TriggerAdmin   TriggerType = "admin"
)

// FixtureStatus is the fixture lifecycle state machine:
// scheduled → closed → applied, with scheduled → postponed as the only
// other transition. applied and postponed are terminal.
type FixtureStatus string

const (
	FixtureScheduled FixtureStatus = "scheduled"
	FixtureClosed    FixtureStatus = "closed"
	FixtureApplied   FixtureStatus = "applied"
	FixturePostponed FixtureStatus = "postponed"
)

// FixtureResult transitions away from pending at most once.
type FixtureResult string

const (
	ResultPending FixtureResult = "pending"
	ResultHomeWin FixtureResult = "home_win"
	ResultAwayWin FixtureResult = "away_win"
	ResultDraw    FixtureResult = "draw"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Team is a tradable entity. market_cap moves only through settlement and
// ledgered admin overrides; trades shift inventory, never the cap.
type Team struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	MarketCap       int64     `json:"market_cap" db:"market_cap"`             // cents
	TotalShares     int64     `json:"total_shares" db:"total_shares"`         // fixed at creation
	AvailableShares int64     `json:"available_shares" db:"available_shares"` // inventory for sale
	LaunchPrice     int64     `json:"launch_price" db:"launch_price"`         // cents
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Fixture is one match between two teams. Cap snapshots are frozen at
// buy-close and never overwritten.
type Fixture struct {
	ID              string        `json:"id" db:"id"`
	HomeTeamID      string        `json:"home_team_id" db:"home_team_id"`
	AwayTeamID      string        `json:"away_team_id" db:"away_team_id"`
	KickoffAt       time.Time     `json:"kickoff_at" db:"kickoff_at"`
	BuyCloseAt      time.Time     `json:"buy_close_at" db:"buy_close_at"`
	Status          FixtureStatus `json:"status" db:"status"`
	Result          FixtureResult `json:"result" db:"result"`
	SnapshotHomeCap *int64        `json:"snapshot_home_cap,omitempty" db:"snapshot_home_cap"`
	SnapshotAwayCap *int64        `json:"snapshot_away_cap,omitempty" db:"snapshot_away_cap"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// LedgerEntry is an immutable record of one team's market-cap mutation.
// Once created, these are never modified or deleted (the only exception is
// the explicit chain-repair procedure, which rewrites a whole chain).
//
// Chain invariant: for a fixed team, ordered by event_date, each entry's
// MarketCapBefore equals the previous entry's MarketCapAfter.
type LedgerEntry struct {
	ID               int64       `json:"id" db:"id"`
	TeamID           string      `json:"team_id" db:"team_id"`
	Type             LedgerType  `json:"ledger_type" db:"ledger_type"`
	TriggerEventID   string      `json:"trigger_event_id" db:"trigger_event_id"`
	TriggerEventType TriggerType `json:"trigger_event_type" db:"trigger_event_type"`
	MarketCapBefore  int64       `json:"market_cap_before" db:"market_cap_before"`
	MarketCapAfter   int64       `json:"market_cap_after" db:"market_cap_after"`
	SharePriceBefore int64       `json:"share_price_before" db:"share_price_before"`
	SharePriceAfter  int64       `json:"share_price_after" db:"share_price_after"`
	EventDate        time.Time   `json:"event_date" db:"event_date"`
}

// Delta is the signed cap change this entry records.
func (e LedgerEntry) Delta() int64 { return e.MarketCapAfter - e.MarketCapBefore }

// Order is a write-once record of a trade execution. The before/after
// snapshot fields are captured at execution time and never recomputed.
type Order struct {
	ID                      string      `json:"id" db:"id"`
	UserID                  string      `json:"user_id" db:"user_id"`
	TeamID                  string      `json:"team_id" db:"team_id"`
	Side                    OrderSide   `json:"side" db:"side"`
	Quantity                int64       `json:"quantity" db:"quantity"`
	PricePerShare           int64       `json:"price_per_share" db:"price_per_share"` // cents
	TotalAmount             int64       `json:"total_amount" db:"total_amount"`       // cents
	Status                  OrderStatus `json:"status" db:"status"`
	MarketCapBefore         int64       `json:"market_cap_before" db:"market_cap_before"`
	MarketCapAfter          int64       `json:"market_cap_after" db:"market_cap_after"`
	SharesOutstandingBefore int64       `json:"shares_outstanding_before" db:"shares_outstanding_before"`
	SharesOutstandingAfter  int64       `json:"shares_outstanding_after" db:"shares_outstanding_after"`
	CreatedAt               time.Time   `json:"created_at" db:"created_at"`
}

// Position is the per (user, team) aggregate. It is the only mutable
// aggregate in the system and must always be reproducible by replaying the
// user's filled orders for the team.
type Position struct {
	UserID        string    `json:"user_id" db:"user_id"`
	TeamID        string    `json:"team_id" db:"team_id"`
	Quantity      int64     `json:"quantity" db:"quantity"`
	TotalInvested int64     `json:"total_invested" db:"total_invested"` // cents
	TotalPnL      int64     `json:"total_pnl" db:"total_pnl"`           // realized, cents
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Settlement is the full write set of one fixture settlement, applied
// atomically by the store: two ledger rows, two cap updates, and the
// fixture's terminal transition.
type Settlement struct {
	FixtureID string
	Result    FixtureResult

	// HomeEntry and AwayEntry carry the new caps in MarketCapAfter.
	HomeEntry LedgerEntry
	AwayEntry LedgerEntry

	// UsedSnapshots is false when the caps were read live instead of from
	// buy-close snapshots; the store then asserts the caps have not drifted
	// between the engine's read and the transaction's row locks.
	//
	// On the snapshot path that assertion is deliberately skipped: the
	// settlement is owed against the caps as of buy-close, so a cap
	// override landing between buy-close and settlement leaves a pair
	// whose before no longer chains off the override's after. VerifyChain
	// reports exactly that entry and RepairChain rebases the chain.
	UsedSnapshots bool
}

// Holding is one portfolio row: a position valued at the current price.
type Holding struct {
	Team          Team  `json:"team"`
	Quantity      int64 `json:"quantity"`
	AvgCost       int64 `json:"avg_cost"`       // cents per share
	CurrentPrice  int64 `json:"current_price"`  // cents per share
	CurrentValue  int64 `json:"current_value"`  // cents
	UnrealizedPnL int64 `json:"unrealized_pnl"` // cents
	RealizedPnL   int64 `json:"realized_pnl"`   // cents
}

// Portfolio aggregates all holdings for a user.
type Portfolio struct {
	UserID             string    `json:"user_id"`
	Holdings           []Holding `json:"holdings"`
	TotalValue         int64     `json:"total_value"`
	TotalRealizedPnL   int64     `json:"total_realized_pnl"`
	TotalUnrealizedPnL int64     `json:"total_unrealized_pnl"`
}
