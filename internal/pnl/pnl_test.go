package pnl

import (
	"testing"
	"time"

	"github.com/squadex/market-engine/internal/model"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func order(side model.OrderSide, qty, price int64, at time.Time) model.Order {
	return model.Order{
		ID:            "ord",
		UserID:        "u1",
		TeamID:        "t1",
		Side:          side,
		Quantity:      qty,
		PricePerShare: price,
		TotalAmount:   qty * price,
		Status:        model.OrderFilled,
		CreatedAt:     at,
	}
}

func TestReplay_BuyThenSellAll(t *testing.T) {
	// BUY 10 @ 5.00, SELL 10 @ 6.00 → realized 10.00, flat, avg cost zero.
	orders := []model.Order{
		order(model.SideBuy, 10, 500, base),
		order(model.SideSell, 10, 600, base.Add(time.Hour)),
	}

	v := Replay(orders, 600)

	if v.RealizedPnL != 1000 {
		t.Errorf("expected realized 1000, got %d", v.RealizedPnL)
	}
	if v.Quantity != 0 {
		t.Errorf("expected flat position, got %d", v.Quantity)
	}
	if v.AvgCost != 0 {
		t.Errorf("expected avg cost 0 when flat, got %d", v.AvgCost)
	}
	if v.UnrealizedPnL != 0 {
		t.Errorf("expected unrealized 0 when flat, got %d", v.UnrealizedPnL)
	}
	if v.TotalInvested != 0 {
		t.Errorf("expected invested 0 after full exit, got %d", v.TotalInvested)
	}
}

func TestReplay_AverageCostAcrossBuys(t *testing.T) {
	// 10 @ 4.00 then 10 @ 6.00 → avg 5.00 on 20 shares.
	orders := []model.Order{
		order(model.SideBuy, 10, 400, base),
		order(model.SideBuy, 10, 600, base.Add(time.Minute)),
	}

	v := Replay(orders, 700)

	if v.AvgCost != 500 {
		t.Errorf("expected avg cost 500, got %d", v.AvgCost)
	}
	if v.UnrealizedPnL != 20*(700-500) {
		t.Errorf("expected unrealized 4000, got %d", v.UnrealizedPnL)
	}
}

func TestReplay_PartialSellReleasesProportionalBasis(t *testing.T) {
	orders := []model.Order{
		order(model.SideBuy, 10, 400, base),
		order(model.SideBuy, 10, 600, base.Add(time.Minute)),
		order(model.SideSell, 5, 550, base.Add(2*time.Minute)),
	}

	v := Replay(orders, 550)

	// Avg cost 500; selling 5 releases 2500 of basis, proceeds 2750.
	if v.RealizedPnL != 250 {
		t.Errorf("expected realized 250, got %d", v.RealizedPnL)
	}
	if v.Quantity != 15 {
		t.Errorf("expected 15 remaining, got %d", v.Quantity)
	}
	if v.TotalInvested != 7500 {
		t.Errorf("expected invested 7500, got %d", v.TotalInvested)
	}
	if v.AvgCost != 500 {
		t.Errorf("partial sell must not move avg cost, got %d", v.AvgCost)
	}
}

func TestReplay_RepeatingFractionBasis(t *testing.T) {
	// 3 shares for 1000 cents: raw avg 333.33... Selling all 3 must release
	// the full 1000 basis, not 3 × 333 = 999.
	orders := []model.Order{
		{UserID: "u1", TeamID: "t1", Side: model.SideBuy, Quantity: 3,
			PricePerShare: 333, TotalAmount: 1000, Status: model.OrderFilled, CreatedAt: base},
		{UserID: "u1", TeamID: "t1", Side: model.SideSell, Quantity: 3,
			PricePerShare: 400, TotalAmount: 1200, Status: model.OrderFilled, CreatedAt: base.Add(time.Hour)},
	}

	v := Replay(orders, 400)

	if v.RealizedPnL != 200 {
		t.Errorf("expected realized 200, got %d", v.RealizedPnL)
	}
	if v.TotalInvested != 0 {
		t.Errorf("expected invested 0, got %d", v.TotalInvested)
	}
}

func TestReplay_IgnoresUnfilledOrders(t *testing.T) {
	cancelled := order(model.SideBuy, 100, 500, base)
	cancelled.Status = model.OrderCancelled

	v := Replay([]model.Order{cancelled, order(model.SideBuy, 10, 500, base.Add(time.Minute))}, 500)

	if v.Quantity != 10 {
		t.Errorf("cancelled order must not count, got quantity %d", v.Quantity)
	}
}

func TestReplay_SortsOutOfOrderInput(t *testing.T) {
	// Sell delivered before the buy in slice order; replay sorts by time.
	orders := []model.Order{
		order(model.SideSell, 10, 600, base.Add(time.Hour)),
		order(model.SideBuy, 10, 500, base),
	}

	v := Replay(orders, 600)

	if v.RealizedPnL != 1000 {
		t.Errorf("expected realized 1000, got %d", v.RealizedPnL)
	}
	if v.Quantity != 0 {
		t.Errorf("expected flat, got %d", v.Quantity)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	orders := []model.Order{
		order(model.SideBuy, 7, 333, base),
		order(model.SideBuy, 5, 417, base.Add(time.Minute)),
		order(model.SideSell, 3, 501, base.Add(2*time.Minute)),
		order(model.SideSell, 4, 299, base.Add(3*time.Minute)),
	}

	first := Replay(orders, 450)
	for i := 0; i < 100; i++ {
		if got := Replay(orders, 450); got != first {
			t.Fatalf("iteration %d: %+v != %+v", i, got, first)
		}
	}
}
