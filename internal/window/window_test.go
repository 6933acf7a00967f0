package window

import (
	"testing"
	"time"

	"github.com/squadex/market-engine/internal/model"
)

var now = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

func fx(status model.FixtureStatus, result model.FixtureResult, kickoff time.Time) model.Fixture {
	return model.Fixture{
		ID:         "fx1",
		Status:     status,
		Result:     result,
		KickoffAt:  kickoff,
		BuyCloseAt: kickoff.Add(-time.Hour),
	}
}

func TestEvaluate_NoFixtures(t *testing.T) {
	d := Evaluate(nil, now)
	if !d.Open {
		t.Fatal("expected open with no fixtures")
	}
	if d.Reason != ReasonNoUpcoming {
		t.Errorf("expected %s, got %s", ReasonNoUpcoming, d.Reason)
	}
}

func TestEvaluate_OpenUntilBuyClose(t *testing.T) {
	d := Evaluate([]model.Fixture{fx(model.FixtureScheduled, model.ResultPending, now.Add(3*time.Hour))}, now)
	if !d.Open {
		t.Fatal("expected open before buy close")
	}
	if d.Reason != ReasonOpenUntilClose {
		t.Errorf("expected %s, got %s", ReasonOpenUntilClose, d.Reason)
	}
	if d.ClosesAt == nil || !d.ClosesAt.Equal(now.Add(2*time.Hour)) {
		t.Errorf("expected closes_at 2h from now, got %v", d.ClosesAt)
	}
}

func TestEvaluate_BuyWindowClosed(t *testing.T) {
	// Kickoff in 30m, buy close was 30m ago.
	d := Evaluate([]model.Fixture{fx(model.FixtureScheduled, model.ResultPending, now.Add(30*time.Minute))}, now)
	if d.Open {
		t.Fatal("expected closed after buy close")
	}
	if d.Reason != ReasonBuyWindowClosed {
		t.Errorf("expected %s, got %s", ReasonBuyWindowClosed, d.Reason)
	}
}

func TestEvaluate_ClosedFixturePendingResult(t *testing.T) {
	d := Evaluate([]model.Fixture{fx(model.FixtureClosed, model.ResultPending, now.Add(-time.Hour))}, now)
	if d.Open {
		t.Fatal("expected closed while match in progress")
	}
	if d.Reason != ReasonMatchInProgress {
		t.Errorf("expected %s, got %s", ReasonMatchInProgress, d.Reason)
	}
}

func TestEvaluate_FailsClosedOnStaleStatus(t *testing.T) {
	// Kickoff one second ago, result still pending, but the ingestion feed
	// has not moved the fixture out of scheduled. Must fail closed.
	d := Evaluate([]model.Fixture{fx(model.FixtureScheduled, model.ResultPending, now.Add(-time.Second))}, now)
	if d.Open {
		t.Fatal("expected fail-closed for stale scheduled fixture")
	}
	if d.Reason != ReasonMatchInProgress {
		t.Errorf("expected %s, got %s", ReasonMatchInProgress, d.Reason)
	}
}

func TestEvaluate_AppliedFixtureDoesNotBlock(t *testing.T) {
	d := Evaluate([]model.Fixture{fx(model.FixtureApplied, model.ResultHomeWin, now.Add(-24*time.Hour))}, now)
	if !d.Open {
		t.Fatalf("settled fixture should not block trading: %+v", d)
	}
}

func TestEvaluate_PostponedFixtureDoesNotBlock(t *testing.T) {
	d := Evaluate([]model.Fixture{fx(model.FixturePostponed, model.ResultPending, now.Add(-time.Hour))}, now)
	if !d.Open {
		t.Fatalf("postponed fixture should not block trading: %+v", d)
	}
}

func TestEvaluate_NearestFutureFixtureGoverns(t *testing.T) {
	far := fx(model.FixtureScheduled, model.ResultPending, now.Add(72*time.Hour))
	near := fx(model.FixtureScheduled, model.ResultPending, now.Add(4*time.Hour))
	d := Evaluate([]model.Fixture{far, near}, now)
	if !d.Open {
		t.Fatalf("expected open: %+v", d)
	}
	if d.ClosesAt == nil || !d.ClosesAt.Equal(near.BuyCloseAt) {
		t.Errorf("nearest fixture's buy close should govern, got %v", d.ClosesAt)
	}
}

func TestEvaluate_InProgressBeatsUpcoming(t *testing.T) {
	live := fx(model.FixtureClosed, model.ResultPending, now.Add(-time.Hour))
	upcoming := fx(model.FixtureScheduled, model.ResultPending, now.Add(48*time.Hour))
	d := Evaluate([]model.Fixture{upcoming, live}, now)
	if d.Open || d.Reason != ReasonMatchInProgress {
		t.Errorf("in-progress match must take priority, got %+v", d)
	}
}
