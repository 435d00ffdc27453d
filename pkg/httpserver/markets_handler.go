package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mselser95/parimutuel/internal/market"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/auth"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// MarketsHandler serves the market lifecycle API.
type MarketsHandler struct {
	markets *market.Controller
	logger  *zap.Logger
}

// NewMarketsHandler creates a new markets handler.
func NewMarketsHandler(markets *market.Controller, logger *zap.Logger) *MarketsHandler {
	return &MarketsHandler{markets: markets, logger: logger}
}

// CreateMarketRequest is the body of POST /api/markets.
type CreateMarketRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	MinBet      uint64    `json:"min_bet"`
	MaxBet      uint64    `json:"max_bet"`
}

// StakeRequest is the body of POST /api/markets/{id}/stakes.
type StakeRequest struct {
	Amount   uint64 `json:"amount"`
	Position string `json:"position"`
}

// ResolveRequest is the body of POST /api/markets/{id}/resolve.
type ResolveRequest struct {
	Outcome string `json:"outcome"`
}

// SettleRequest is the optional body of POST /api/markets/{id}/settle. User
// defaults to the caller.
type SettleRequest struct {
	User string `json:"user,omitempty"`
}

// ListMarketsResponse is one page of markets.
type ListMarketsResponse struct {
	Markets []*types.Market `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ParticipationsResponse lists every stake on a market.
type ParticipationsResponse struct {
	MarketID       string                 `json:"market_id"`
	Participations []*types.Participation `json:"participations"`
}

// QuoteResponse previews a settlement.
type QuoteResponse struct {
	MarketID string         `json:"market_id"`
	User     types.Identity `json:"user"`
	Amount   uint64         `json:"amount"`
	Kind     string         `json:"kind"`
}

func caller(r *http.Request) types.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

// Create handles POST /api/markets.
func (h *MarketsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), market.CreateParams{
		Creator:     caller(r),
		Title:       req.Title,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
		MinBet:      req.MinBet,
		MaxBet:      req.MaxBet,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, m)
}

// List handles GET /api/markets?status=&creator=&participant=&limit=&offset=.
func (h *MarketsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ListFilter{
		Status:      types.MarketStatus(q.Get("status")),
		Creator:     types.NormalizeIdentity(q.Get("creator")),
		Participant: types.NormalizeIdentity(q.Get("participant")),
	}

	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	f = f.Normalize()

	markets, total, err := h.markets.ListMarkets(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []*types.Market{}
	}
	writeJSON(w, h.logger, http.StatusOK, ListMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	})
}

// Get handles GET /api/markets/{id}.
func (h *MarketsHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, m)
}

// Stake handles POST /api/markets/{id}/stakes.
func (h *MarketsHandler) Stake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pos, err := types.ParsePosition(req.Position)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.markets.AdmitStake(r.Context(), market.StakeParams{
		MarketID: chi.URLParam(r, "id"),
		User:     caller(r),
		Amount:   req.Amount,
		Position: pos,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, p)
}

// Resolve handles POST /api/markets/{id}/resolve.
func (h *MarketsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	outcome, err := types.ParsePosition(req.Outcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	m, err := h.markets.Resolve(r.Context(), market.ResolveParams{
		MarketID: chi.URLParam(r, "id"),
		Caller:   caller(r),
		Outcome:  outcome,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, m)
}

// Settle handles POST /api/markets/{id}/settle.
func (h *MarketsHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	who := caller(r)
	user := who
	if req.User != "" {
		user = types.NormalizeIdentity(req.User)
	}

	res, err := h.markets.Settle(r.Context(), market.SettleParams{
		MarketID: chi.URLParam(r, "id"),
		User:     user,
		Caller:   who,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Reclaim handles POST /api/markets/{id}/reclaim.
func (h *MarketsHandler) Reclaim(w http.ResponseWriter, r *http.Request) {
	res, err := h.markets.Reclaim(r.Context(), market.ReclaimParams{
		MarketID: chi.URLParam(r, "id"),
		Caller:   caller(r),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Participations handles GET /api/markets/{id}/participations.
func (h *MarketsHandler) Participations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ps, err := h.markets.ListParticipations(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if ps == nil {
		ps = []*types.Participation{}
	}
	writeJSON(w, h.logger, http.StatusOK, ParticipationsResponse{MarketID: id, Participations: ps})
}

// Participation handles GET /api/markets/{id}/participations/{user}.
func (h *MarketsHandler) Participation(w http.ResponseWriter, r *http.Request) {
	p, err := h.markets.GetParticipation(r.Context(),
		chi.URLParam(r, "id"), types.NormalizeIdentity(chi.URLParam(r, "user")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// Quote handles GET /api/markets/{id}/quote/{user}.
func (h *MarketsHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := types.NormalizeIdentity(chi.URLParam(r, "user"))

	q, err := h.markets.Quote(r.Context(), id, user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, QuoteResponse{
		MarketID: id,
		User:     user,
		Amount:   q.Amount,
		Kind:     string(q.Kind),
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", types.ErrInvalidParameters, s)
	}
	return n, nil
}
