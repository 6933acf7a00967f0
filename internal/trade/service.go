// Package trade provides the HTTP handlers and business logic for
// creating teams, scheduling fixtures, executing share orders, and
// querying ledgers and portfolios.
//
// All monetary values are int64 cents; intermediate arithmetic goes
// through shopspring/decimal in the money package. Never float64 for
// money.
package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/squadex/market-engine/internal/config"
	"github.com/squadex/market-engine/internal/metrics"
	"github.com/squadex/market-engine/internal/model"
	"github.com/squadex/market-engine/internal/money"
	"github.com/squadex/market-engine/internal/pnl"
	"github.com/squadex/market-engine/internal/settle"
	"github.com/squadex/market-engine/internal/store"
	"github.com/squadex/market-engine/internal/window"
)

var (
	// ErrWindowClosed rejects orders while the team's buy window is shut.
	ErrWindowClosed = errors.New("trade: buy window closed")

	// ErrInsufficientShares rejects buys beyond the team's inventory.
	ErrInsufficientShares = errors.New("trade: insufficient available shares")

	// ErrInsufficientPosition rejects sells beyond the holder's quantity.
	ErrInsufficientPosition = errors.New("trade: insufficient position")

	// ErrPriceLimit rejects orders whose execution price breaches the
	// caller's limit.
	ErrPriceLimit = errors.New("trade: price limit breached")
)

// Service handles market operations. Order execution is serialized inside
// the store's atomic ApplyOrder, which runs the validation callback under
// the same lock (or transaction) that writes the order.
type Service struct {
	store  store.Store
	engine *settle.Engine
	cfg    *config.Config
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, eng *settle.Engine, cfg *config.Config, hub *WSHub) *Service {
	return &Service{
		store:  st,
		engine: eng,
		cfg:    cfg,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// CreateTeamRequest is the JSON body for team creation. Money in cents.
type CreateTeamRequest struct {
	Name        string `json:"name"`
	MarketCap   int64  `json:"market_cap"`
	TotalShares int64  `json:"total_shares"`
	LaunchPrice int64  `json:"launch_price"` // 0 → derived from cap/shares
}

// OrderRequest is the JSON body for POST /orders. Quantity is whole
// shares; LimitPrice is cents per share, 0 meaning no limit.
type OrderRequest struct {
	UserID     string `json:"user_id"`
	TeamID     string `json:"team_id"`
	Side       string `json:"side"` // "BUY" or "SELL"
	Quantity   int64  `json:"quantity"`
	LimitPrice int64  `json:"limit_price"`
}

// OrderResponse is returned from POST /orders.
type OrderResponse struct {
	Order    model.Order    `json:"order"`
	Position model.Position `json:"position"`
}

// CreateFixtureRequest is the JSON body for fixture scheduling.
type CreateFixtureRequest struct {
	HomeTeamID string    `json:"home_team_id"`
	AwayTeamID string    `json:"away_team_id"`
	KickoffAt  time.Time `json:"kickoff_at"`
}

// ResultRequest carries one final match result.
type ResultRequest struct {
	Result model.FixtureResult `json:"result"`
}

// ResultsRequest carries a backfill batch of final results.
type ResultsRequest struct {
	Results []settle.ResultEvent `json:"results"`
}

// OverrideRequest is the JSON body for an administrative cap correction.
type OverrideRequest struct {
	NewCap int64  `json:"new_cap"` // cents
	Reason string `json:"reason"`
}

// --- Team handlers ---

// CreateTeam handles POST /api/v1/teams
func (s *Service) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.MarketCap < s.cfg.MinMarketCap {
		writeError(w, fmt.Sprintf("market_cap must be at least %d cents", s.cfg.MinMarketCap), http.StatusBadRequest)
		return
	}
	if req.TotalShares <= 0 {
		writeError(w, "total_shares must be positive", http.StatusBadRequest)
		return
	}

	launch := req.LaunchPrice
	if launch <= 0 {
		launch = money.SharePrice(req.MarketCap, req.TotalShares, s.cfg.DefaultSharePrice)
	}

	now := time.Now().UTC()
	team := &model.Team{
		ID:              uuid.New().String(),
		Name:            req.Name,
		MarketCap:       req.MarketCap,
		TotalShares:     req.TotalShares,
		AvailableShares: req.TotalShares,
		LaunchPrice:     launch,
		CreatedAt:       now,
	}
	price := money.SharePrice(team.MarketCap, team.TotalShares, team.LaunchPrice)

	// Every team's ledger chain starts with exactly one initial_state row.
	initial := &model.LedgerEntry{
		TeamID:           team.ID,
		Type:             model.LedgerInitialState,
		TriggerEventID:   team.ID,
		TriggerEventType: model.TriggerTeam,
		MarketCapBefore:  team.MarketCap,
		MarketCapAfter:   team.MarketCap,
		SharePriceBefore: price,
		SharePriceAfter:  price,
		EventDate:        now,
	}

	if err := s.store.CreateTeam(r.Context(), team, initial); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("team created",
		"id", team.ID,
		"name", team.Name,
		"market_cap", team.MarketCap,
		"total_shares", team.TotalShares,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(team)
}

// GetTeam handles GET /api/v1/teams/{teamID}
func (s *Service) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	team, err := s.store.GetTeam(r.Context(), teamID)
	if err != nil {
		writeError(w, "team not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(team)
}

// ListTeams handles GET /api/v1/teams
func (s *Service) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.ListTeams(r.Context())
	if err != nil {
		writeError(w, "failed to list teams", http.StatusInternalServerError)
		return
	}
	if teams == nil {
		teams = []model.Team{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(teams)
}

// GetTradability handles GET /api/v1/teams/{teamID}/tradability
// The verdict is computed fresh from the fixture rows on every call.
func (s *Service) GetTradability(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	ctx := r.Context()

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		writeError(w, "team not found", http.StatusNotFound)
		return
	}
	fixtures, err := s.store.ListFixturesByTeam(ctx, teamID)
	if err != nil {
		writeError(w, "failed to load fixtures", http.StatusInternalServerError)
		return
	}

	decision := window.Evaluate(fixtures, time.Now().UTC())
	resp := struct {
		TeamID     string          `json:"team_id"`
		SharePrice int64           `json:"share_price"` // cents
		Window     window.Decision `json:"window"`
	}{
		TeamID:     teamID,
		SharePrice: money.SharePrice(team.MarketCap, team.TotalShares, team.LaunchPrice),
		Window:     decision,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetLedger handles GET /api/v1/teams/{teamID}/ledger
// Optional ?from= and ?to= bounds in RFC 3339.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		from = &ts
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		to = &ts
	}

	entries, err := s.store.LedgerHistory(r.Context(), teamID, from, to)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// VerifyLedger handles GET /api/v1/teams/{teamID}/ledger/verify
func (s *Service) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	err := s.engine.VerifyChain(r.Context(), teamID)
	var seqErr *settle.SequencingError
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"team_id": teamID, "ok": true})
	case errors.As(err, &seqErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"team_id": teamID,
			"ok":      false,
			"error":   seqErr.Error(),
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "team not found", http.StatusNotFound)
	default:
		writeError(w, "failed to verify ledger", http.StatusInternalServerError)
	}
}

// RepairLedger handles POST /api/v1/teams/{teamID}/repair
func (s *Service) RepairLedger(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	report, err := s.engine.RepairChain(r.Context(), teamID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// OverrideCap handles POST /api/v1/teams/{teamID}/cap-override
func (s *Service) OverrideCap(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		writeError(w, "reason is required", http.StatusBadRequest)
		return
	}

	entry, err := s.engine.OverrideCap(r.Context(), teamID, req.NewCap, req.Reason)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "cap_override",
			TeamID:     teamID,
			MarketCap:  entry.MarketCapAfter,
			SharePrice: entry.SharePriceAfter,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// --- Fixture handlers ---

// CreateFixture handles POST /api/v1/fixtures
func (s *Service) CreateFixture(w http.ResponseWriter, r *http.Request) {
	var req CreateFixtureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.HomeTeamID == "" || req.AwayTeamID == "" {
		writeError(w, "home_team_id and away_team_id are required", http.StatusBadRequest)
		return
	}
	if req.KickoffAt.IsZero() {
		writeError(w, "kickoff_at is required", http.StatusBadRequest)
		return
	}

	fx, err := s.engine.CreateFixture(r.Context(), req.HomeTeamID, req.AwayTeamID, req.KickoffAt)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(fx)
}

// GetFixture handles GET /api/v1/fixtures/{fixtureID}
func (s *Service) GetFixture(w http.ResponseWriter, r *http.Request) {
	fixtureID := chi.URLParam(r, "fixtureID")

	fx, err := s.store.GetFixture(r.Context(), fixtureID)
	if err != nil {
		writeError(w, "fixture not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fx)
}

// ListTeamFixtures handles GET /api/v1/teams/{teamID}/fixtures
func (s *Service) ListTeamFixtures(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	fixtures, err := s.store.ListFixturesByTeam(r.Context(), teamID)
	if err != nil {
		writeError(w, "failed to list fixtures", http.StatusInternalServerError)
		return
	}
	if fixtures == nil {
		fixtures = []model.Fixture{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fixtures)
}

// SubmitResult handles POST /api/v1/fixtures/{fixtureID}/result
// Applies the settlement synchronously; the response carries the outcome.
func (s *Service) SubmitResult(w http.ResponseWriter, r *http.Request) {
	fixtureID := chi.URLParam(r, "fixtureID")

	var req ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := s.engine.SettleFixture(r.Context(), fixtureID, req.Result)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "fixture_settled",
			FixtureID: out.FixtureID,
			TeamID:    out.WinnerTeamID,
			Result:    string(out.Result),
			MarketCap: out.Transfer,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// SubmitResults handles POST /api/v1/fixtures/results
// Batch backfill: results are applied in kickoff order regardless of the
// order they arrive in the payload.
func (s *Service) SubmitResults(w http.ResponseWriter, r *http.Request) {
	var req ResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Results) == 0 {
		writeError(w, "results must be non-empty", http.StatusBadRequest)
		return
	}

	applied, err := s.engine.SettleBatch(r.Context(), req.Results)
	resp := map[string]any{"applied": applied}
	if err != nil {
		resp["error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// PostponeFixture handles POST /api/v1/fixtures/{fixtureID}/postpone
func (s *Service) PostponeFixture(w http.ResponseWriter, r *http.Request) {
	fixtureID := chi.URLParam(r, "fixtureID")

	if err := s.engine.PostponeFixture(r.Context(), fixtureID); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "postponed"})
}

// CloseDueFixtures handles POST /api/v1/fixtures/close-due
// Invoked by the scheduler to freeze buy-close snapshots.
func (s *Service) CloseDueFixtures(w http.ResponseWriter, r *http.Request) {
	closed, err := s.engine.CloseDueFixtures(r.Context(), time.Now().UTC())
	if err != nil {
		slog.Error("close-due sweep finished with errors", "closed", closed, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"closed": closed})
}

// --- Order execution ---

// ExecuteOrder handles POST /api/v1/orders
// All validation (window, inventory, position, price limit) runs inside
// the store's atomic ApplyOrder, so a buy window closing between check and
// write cannot admit a stale order.
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.TeamID == "" {
		writeError(w, "team_id is required", http.StatusBadRequest)
		return
	}
	side := model.OrderSide(req.Side)
	if side != model.SideBuy && side != model.SideSell {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}
	if req.LimitPrice < 0 {
		writeError(w, "limit_price must not be negative", http.StatusBadRequest)
		return
	}

	start := time.Now()

	intent := func(team *model.Team, fixtures []model.Fixture, pos model.Position) (*model.Order, *model.Position, error) {
		// The clock is read inside the intent so the window check runs
		// against the same instant as the locked fixture rows.
		now := time.Now().UTC()
		decision := window.Evaluate(fixtures, now)
		if !decision.Open {
			return nil, nil, fmt.Errorf("%w: %s", ErrWindowClosed, decision.Reason)
		}

		price := money.SharePrice(team.MarketCap, team.TotalShares, team.LaunchPrice)
		if req.LimitPrice > 0 {
			if side == model.SideBuy && price > req.LimitPrice {
				return nil, nil, fmt.Errorf("%w: price %d above buy limit %d", ErrPriceLimit, price, req.LimitPrice)
			}
			if side == model.SideSell && price < req.LimitPrice {
				return nil, nil, fmt.Errorf("%w: price %d below sell limit %d", ErrPriceLimit, price, req.LimitPrice)
			}
		}

		total := price * req.Quantity
		outstandingBefore := team.TotalShares - team.AvailableShares
		outstandingAfter := outstandingBefore

		switch side {
		case model.SideBuy:
			if team.AvailableShares < req.Quantity {
				return nil, nil, fmt.Errorf("%w: %d available, %d requested",
					ErrInsufficientShares, team.AvailableShares, req.Quantity)
			}
			pos.Quantity += req.Quantity
			pos.TotalInvested += total
			outstandingAfter += req.Quantity
		case model.SideSell:
			if pos.Quantity < req.Quantity {
				return nil, nil, fmt.Errorf("%w: %d held, %d requested",
					ErrInsufficientPosition, pos.Quantity, req.Quantity)
			}
			// Average-cost basis released at full precision, one rounding
			// on the product; selling the whole position releases the whole
			// basis.
			avg := money.AvgCost(pos.TotalInvested, pos.Quantity)
			costSold := money.CostOfShares(avg, req.Quantity)
			pos.TotalPnL += total - costSold
			pos.TotalInvested -= costSold
			pos.Quantity -= req.Quantity
			outstandingAfter -= req.Quantity
		}
		pos.UpdatedAt = now

		order := &model.Order{
			ID:                      uuid.New().String(),
			UserID:                  req.UserID,
			TeamID:                  req.TeamID,
			Side:                    side,
			Quantity:                req.Quantity,
			PricePerShare:           price,
			TotalAmount:             total,
			Status:                  model.OrderFilled,
			MarketCapBefore:         team.MarketCap,
			MarketCapAfter:          team.MarketCap, // trades never move the cap
			SharesOutstandingBefore: outstandingBefore,
			SharesOutstandingAfter:  outstandingAfter,
			CreatedAt:               now,
		}
		return order, &pos, nil
	}

	order, position, err := s.store.ApplyOrder(r.Context(), req.UserID, req.TeamID, intent)
	if err != nil {
		if reason, ok := rejectionReason(err); ok {
			metrics.OrderRejections.WithLabelValues(reason).Inc()
		}
		writeError(w, err.Error(), errStatus(err))
		return
	}

	metrics.OrdersTotal.WithLabelValues(string(side)).Inc()
	metrics.OrderLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	metrics.ShareVolume.WithLabelValues(req.TeamID, string(side)).Add(float64(req.Quantity))

	slog.Info("order executed",
		"order_id", order.ID,
		"user", req.UserID,
		"team", req.TeamID,
		"side", side,
		"qty", req.Quantity,
		"price", order.PricePerShare,
		"total", order.TotalAmount,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "order_executed",
			TeamID:     req.TeamID,
			Side:       string(side),
			Quantity:   req.Quantity,
			SharePrice: order.PricePerShare,
			MarketCap:  order.MarketCapAfter,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OrderResponse{Order: *order, Position: *position})
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Every holding is re-derived by replaying the user's filled orders; the
// stored Position aggregate is cross-checked against the replay and any
// divergence is logged.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	positions, err := s.store.PositionsByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	portfolio := model.Portfolio{
		UserID:   userID,
		Holdings: []model.Holding{},
	}

	for _, p := range positions {
		team, err := s.store.GetTeam(ctx, p.TeamID)
		if err != nil {
			writeError(w, "failed to load team "+p.TeamID, http.StatusInternalServerError)
			return
		}
		orders, err := s.store.OrdersByUserTeam(ctx, userID, p.TeamID)
		if err != nil {
			writeError(w, "failed to load orders", http.StatusInternalServerError)
			return
		}

		price := money.SharePrice(team.MarketCap, team.TotalShares, team.LaunchPrice)
		val := pnl.Replay(orders, price)

		if val.Quantity != p.Quantity || val.RealizedPnL != p.TotalPnL || val.TotalInvested != p.TotalInvested {
			slog.Warn("position diverges from order replay",
				"user", userID,
				"team", p.TeamID,
				"stored_qty", p.Quantity, "replayed_qty", val.Quantity,
				"stored_pnl", p.TotalPnL, "replayed_pnl", val.RealizedPnL,
				"stored_invested", p.TotalInvested, "replayed_invested", val.TotalInvested,
			)
		}

		holding := model.Holding{
			Team:          *team,
			Quantity:      val.Quantity,
			AvgCost:       val.AvgCost,
			CurrentPrice:  price,
			CurrentValue:  val.Quantity * price,
			UnrealizedPnL: val.UnrealizedPnL,
			RealizedPnL:   val.RealizedPnL,
		}
		portfolio.Holdings = append(portfolio.Holdings, holding)
		portfolio.TotalValue += holding.CurrentValue
		portfolio.TotalRealizedPnL += holding.RealizedPnL
		portfolio.TotalUnrealizedPnL += holding.UnrealizedPnL
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// --- Error plumbing ---

// errStatus maps domain errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadySettled),
		errors.Is(err, store.ErrFixtureTerminal),
		errors.Is(err, store.ErrCapDrift),
		errors.Is(err, settle.ErrOutOfOrder),
		errors.Is(err, settle.ErrQuarantined),
		errors.Is(err, ErrWindowClosed),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrInsufficientPosition),
		errors.Is(err, ErrPriceLimit):
		return http.StatusConflict
	case errors.Is(err, settle.ErrPendingResult):
		return http.StatusBadRequest
	default:
		var seqErr *settle.SequencingError
		if errors.As(err, &seqErr) {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrWindowClosed):
		return "window_closed", true
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares", true
	case errors.Is(err, ErrInsufficientPosition):
		return "insufficient_position", true
	case errors.Is(err, ErrPriceLimit):
		return "price_limit", true
	}
	return "", false
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
