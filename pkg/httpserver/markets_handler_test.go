package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/market"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/auth"
	"github.com/mselser95/parimutuel/pkg/clock"
	"github.com/mselser95/parimutuel/pkg/healthprobe"
	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	creator = "0xcreator"
	alice   = "0xalice"
	bob     = "0xbob"
)

type apiHarness struct {
	t      *testing.T
	router http.Handler
	clock  *clock.Manual
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ledger := custody.NewPaperLedger(logger)
	clk := clock.NewManual(base)

	ctrl, err := market.New(&market.Config{
		Store:  storage.NewMemoryStore(logger),
		Ledger: ledger,
		Clock:  clk,
		Logger: logger,
	})
	require.NoError(t, err)

	return &apiHarness{
		t: t,
		router: NewRouter(&Config{
			Logger:        logger,
			HealthChecker: healthprobe.New(),
			Markets:       ctrl,
			Ledger:        ledger,
			Verifier:      auth.HeaderVerifier{},
		}),
		clock: clk,
	}
}

// do sends a request as identity (empty for anonymous) and decodes the response into out.
func (a *apiHarness) do(method, path, identity string, body any, out any) int {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if identity != "" {
		req.Header.Set(auth.HeaderIdentity, identity)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	if out != nil {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (a *apiHarness) deposit(who string, amount uint64) {
	a.t.Helper()
	code := a.do(http.MethodPost, "/api/accounts/"+who+"/deposit", who, DepositRequest{Amount: amount}, nil)
	require.Equal(a.t, http.StatusOK, code)
}

func (a *apiHarness) createMarket() *types.Market {
	a.t.Helper()
	var m types.Market
	code := a.do(http.MethodPost, "/api/markets", creator, CreateMarketRequest{
		Title:     "Will it rain tomorrow?",
		ExpiresAt: base.Add(time.Hour),
		MinBet:    10,
		MaxBet:    500,
	}, &m)
	require.Equal(a.t, http.StatusCreated, code)
	return &m
}

func TestAPI_FullLifecycle(t *testing.T) {
	api := newAPI(t)
	api.deposit(alice, 1000)
	api.deposit(bob, 1000)

	m := api.createMarket()
	assert.Equal(t, types.MarketStatusActive, m.Status)
	assert.Equal(t, types.Identity(creator), m.Creator)

	var p types.Participation
	code := api.do(http.MethodPost, "/api/markets/"+m.ID+"/stakes", alice, StakeRequest{Amount: 100, Position: "yes"}, &p)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, types.PositionYes, p.Position)

	code = api.do(http.MethodPost, "/api/markets/"+m.ID+"/stakes", bob, StakeRequest{Amount: 300, Position: "NO"}, nil)
	require.Equal(t, http.StatusCreated, code)

	var got types.Market
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets/"+m.ID, "", nil, &got))
	assert.Equal(t, uint64(400), got.TotalPool)

	var errResp ErrorResponse
	code = api.do(http.MethodPost, "/api/markets/"+m.ID+"/resolve", alice, ResolveRequest{Outcome: "YES"}, &errResp)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unauthorized", errResp.Kind)

	code = api.do(http.MethodPost, "/api/markets/"+m.ID+"/resolve", creator, ResolveRequest{Outcome: "YES"}, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.MarketStatusResolved, got.Status)

	var q QuoteResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets/"+m.ID+"/quote/"+alice, "", nil, &q))
	assert.Equal(t, uint64(400), q.Amount)
	assert.Equal(t, "WIN", q.Kind)

	var res market.SettleResult
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/markets/"+m.ID+"/settle", alice, nil, &res))
	assert.Equal(t, uint64(400), res.Amount)

	code = api.do(http.MethodPost, "/api/markets/"+m.ID+"/settle", alice, nil, &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_claimed", errResp.Kind)

	code = api.do(http.MethodPost, "/api/markets/"+m.ID+"/settle", alice, SettleRequest{User: bob}, &errResp)
	assert.Equal(t, http.StatusForbidden, code)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/markets/"+m.ID+"/settle", bob, SettleRequest{User: bob}, &res))
	assert.Equal(t, uint64(0), res.Amount)

	var bal BalanceResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/accounts/"+alice, "", nil, &bal))
	assert.Equal(t, uint64(1300), bal.Balance)

	var parts ParticipationsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets/"+m.ID+"/participations", "", nil, &parts))
	assert.Len(t, parts.Participations, 2)

	var one types.Participation
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets/"+m.ID+"/participations/"+alice, "", nil, &one))
	assert.True(t, one.Claimed)

	var rec market.ReclaimResult
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/markets/"+m.ID+"/reclaim", creator, nil, &rec))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/markets/"+m.ID, "", nil, nil))
}

func TestAPI_StakeErrors(t *testing.T) {
	api := newAPI(t)
	api.deposit(alice, 50)
	m := api.createMarket()
	path := "/api/markets/" + m.ID + "/stakes"

	tests := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{"below-min", StakeRequest{Amount: 5, Position: "YES"}, http.StatusUnprocessableEntity, "invalid_amount"},
		{"bad-position", StakeRequest{Amount: 20, Position: "MAYBE"}, http.StatusUnprocessableEntity, "invalid_parameters"},
		{"unknown-field", map[string]any{"amount": 20, "position": "YES", "extra": 1}, http.StatusUnprocessableEntity, "invalid_parameters"},
		{"insufficient-funds", StakeRequest{Amount: 100, Position: "YES"}, http.StatusPaymentRequired, "transfer_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			code := api.do(http.MethodPost, path, alice, tt.body, &errResp)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.kind, errResp.Kind)
		})
	}

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, path, alice, StakeRequest{Amount: 20, Position: "YES"}, nil))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, path, alice, StakeRequest{Amount: 20, Position: "NO"}, &errResp))
	assert.Equal(t, "duplicate_participation", errResp.Kind)

	api.clock.Advance(2 * time.Hour)
	api.deposit(bob, 100)
	assert.Equal(t, http.StatusGone, api.do(http.MethodPost, path, bob, StakeRequest{Amount: 20, Position: "NO"}, &errResp))
	assert.Equal(t, "market_expired", errResp.Kind)
}

func TestAPI_Unauthenticated(t *testing.T) {
	api := newAPI(t)

	var errResp ErrorResponse
	code := api.do(http.MethodPost, "/api/markets", "", CreateMarketRequest{Title: "x", ExpiresAt: base.Add(time.Hour), MinBet: 1, MaxBet: 2}, &errResp)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", errResp.Kind)
}

func TestAPI_DepositOnlyToOwnAccount(t *testing.T) {
	api := newAPI(t)

	var errResp ErrorResponse
	code := api.do(http.MethodPost, "/api/accounts/"+bob+"/deposit", alice, DepositRequest{Amount: 10}, &errResp)
	assert.Equal(t, http.StatusForbidden, code)

	code = api.do(http.MethodPost, "/api/accounts/"+alice+"/deposit", alice, DepositRequest{Amount: 0}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/accounts/0xnobody", "", nil, nil))
}

func TestAPI_ListMarkets(t *testing.T) {
	api := newAPI(t)
	for i := 0; i < 3; i++ {
		api.createMarket()
	}

	var page ListMarketsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets?limit=2", "", nil, &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Markets, 2)
	assert.Equal(t, 2, page.Limit)

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets?status=RESOLVED", "", nil, &page))
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Markets)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, api.do(http.MethodGet, "/api/markets?status=BOGUS", "", nil, &errResp))
	assert.Equal(t, http.StatusUnprocessableEntity, api.do(http.MethodGet, "/api/markets?limit=-1", "", nil, &errResp))
}

func TestAPI_ListMarketsByParticipant(t *testing.T) {
	api := newAPI(t)
	api.deposit(alice, 100)
	staked := api.createMarket()
	api.createMarket()
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/markets/"+staked.ID+"/stakes", alice, StakeRequest{Amount: 20, Position: "NO"}, nil))

	var page ListMarketsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets?participant="+strings.ToUpper(alice), "", nil, &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Markets, 1)
	assert.Equal(t, staked.ID, page.Markets[0].ID)

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/markets?participant=0xnobody", "", nil, &page))
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Markets)
}

func TestAPI_QuoteBeforeSettleable(t *testing.T) {
	api := newAPI(t)
	api.deposit(alice, 100)
	m := api.createMarket()
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/markets/"+m.ID+"/stakes", alice, StakeRequest{Amount: 20, Position: "YES"}, nil))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, api.do(http.MethodGet, "/api/markets/"+m.ID+"/quote/"+alice, "", nil, &errResp))
	assert.Equal(t, "not_settleable", errResp.Kind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{fmt.Errorf("x: %w", types.ErrInvalidState), "invalid_state", http.StatusConflict},
		{fmt.Errorf("x: %w", types.ErrNotReclaimable), "not_reclaimable", http.StatusConflict},
		{types.ErrConflict, "conflict", http.StatusConflict},
		{types.ErrNotFound, "not_found", http.StatusNotFound},
		{&types.TransferError{Code: types.TransferInsufficientFunds}, "transfer_failed", http.StatusPaymentRequired},
		{errors.New("boom"), "internal", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		kind, status := classify(tt.err)
		assert.Equal(t, tt.kind, kind, tt.err.Error())
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
