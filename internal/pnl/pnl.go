// Package pnl reconstructs a holder's cost basis and profit from order
// history. It replays the chronological filled orders for one (user, team)
// pair through the arithmetic layer, producing the same numbers — to the
// cent — that the trade-execution path maintains incrementally on the
// Position aggregate. Divergence between the two is a correctness defect,
// which is why both paths share the money package's rounding helpers.
package pnl

import (
	"sort"

	"github.com/squadex/market-engine/internal/model"
	"github.com/squadex/market-engine/internal/money"
)

// Valuation is the result of replaying one holder's order history.
type Valuation struct {
	Quantity      int64 `json:"quantity"`
	TotalInvested int64 `json:"total_invested"` // cents
	AvgCost       int64 `json:"avg_cost"`       // cents per share, 0 when flat
	RealizedPnL   int64 `json:"realized_pnl"`   // cents
	UnrealizedPnL int64 `json:"unrealized_pnl"` // cents
}

// Replay runs the average-cost method over a user's filled orders for one
// team, oldest first:
//
//	BUY:  totalInvested += order.total_amount; quantity += order.quantity
//	SELL: costBasisSold = avgCost × quantity sold (avgCost kept at full
//	      precision, one rounding on the product);
//	      realized += proceeds − costBasisSold;
//	      totalInvested −= costBasisSold; quantity −= quantity sold
//
// Unrealized P&L marks the remaining quantity to currentPrice against the
// rounded average cost. Orders that are not FILLED are ignored.
func Replay(orders []model.Order, currentPrice int64) Valuation {
	sorted := make([]model.Order, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var v Valuation
	for _, o := range sorted {
		if o.Status != model.OrderFilled {
			continue
		}
		switch o.Side {
		case model.SideBuy:
			v.TotalInvested += o.TotalAmount
			v.Quantity += o.Quantity
		case model.SideSell:
			if v.Quantity == 0 {
				// Nothing held; a sell here is a data defect upstream, but
				// the replay stays total: proceeds are pure realized gain.
				v.RealizedPnL += o.TotalAmount
				continue
			}
			avg := money.AvgCost(v.TotalInvested, v.Quantity)
			costSold := money.CostOfShares(avg, o.Quantity)
			v.RealizedPnL += o.TotalAmount - costSold
			v.TotalInvested -= costSold
			v.Quantity -= o.Quantity
		}
	}

	v.AvgCost = money.RoundHalfUp(money.AvgCost(v.TotalInvested, v.Quantity))
	v.UnrealizedPnL = v.Quantity * (currentPrice - v.AvgCost)
	return v
}
