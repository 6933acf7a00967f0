// Package window derives, per team, whether trading is currently allowed.
//
// The decision is a pure function of the team's fixtures and a clock; no
// boolean is ever persisted or cached, so the answer can never be stale
// relative to the fixture rows it was computed from. When the lifecycle
// signal is ambiguous (kickoff passed but the ingestion feed has not yet
// moved the fixture out of scheduled), the window fails closed: admitting a
// trade during an undetected live match is the costlier error.
package window

import (
	"time"

	"github.com/squadex/market-engine/internal/model"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonMatchInProgress Reason = "match_in_progress"
	ReasonBuyWindowClosed Reason = "buy_window_closed"
	ReasonOpenUntilClose  Reason = "open_until_buy_close"
	ReasonNoUpcoming      Reason = "no_upcoming_fixture"
)

// Decision is the tradability verdict for one team at one instant.
type Decision struct {
	Open     bool       `json:"open"`
	Reason   Reason     `json:"reason"`
	ClosesAt *time.Time `json:"closes_at,omitempty"`
}

// Evaluate applies the window rules, in priority order, to a team's
// fixtures:
//
//  1. A fixture that is closed — or still scheduled with its kickoff
//     already passed — whose result is pending means a match is (or may
//     be) in progress: trading is closed.
//  2. Otherwise the nearest future scheduled fixture governs: closed once
//     its buy-close time has passed, open until then.
//  3. With no upcoming fixture, trading is open unconditionally.
func Evaluate(fixtures []model.Fixture, now time.Time) Decision {
	var next *model.Fixture

	for i := range fixtures {
		fx := &fixtures[i]
		if fx.Result == model.ResultPending {
			if fx.Status == model.FixtureClosed ||
				(fx.Status == model.FixtureScheduled && !fx.KickoffAt.After(now)) {
				return Decision{Open: false, Reason: ReasonMatchInProgress}
			}
		}
		if fx.Status == model.FixtureScheduled && fx.KickoffAt.After(now) {
			if next == nil || fx.KickoffAt.Before(next.KickoffAt) {
				next = fx
			}
		}
	}

	if next == nil {
		return Decision{Open: true, Reason: ReasonNoUpcoming}
	}
	if !next.BuyCloseAt.After(now) {
		return Decision{Open: false, Reason: ReasonBuyWindowClosed}
	}
	closes := next.BuyCloseAt
	return Decision{Open: true, Reason: ReasonOpenUntilClose, ClosesAt: &closes}
}
