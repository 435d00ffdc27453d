// Package client is a Go client for the parimutuel HTTP API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/parimutuel/internal/market"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/auth"
	"github.com/mselser95/parimutuel/pkg/httpserver"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Signer signs mutating requests. When nil, Identity is sent unsigned, which
	// only a server running header authentication accepts.
	Signer   *auth.Signer
	Identity types.Identity
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client calls the market API.
type Client struct {
	baseURL    string
	signer     *auth.Signer
	identity   types.Identity
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a new API client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	identity := cfg.Identity
	if cfg.Signer != nil {
		identity = cfg.Signer.Address()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signer:     cfg.Signer,
		identity:   types.NormalizeIdentity(identity.String()),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

// Identity returns who the client acts as.
func (c *Client) Identity() types.Identity {
	return c.identity
}

// APIError is a non-2xx response. It unwraps to the matching failure kind in
// pkg/types so callers can use errors.Is.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d, %s): %s", e.Status, e.Kind, e.Message)
}

// Unwrap maps the wire kind back to its sentinel error.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "unauthorized":
		return types.ErrUnauthorized
	case "not_found":
		return types.ErrNotFound
	case "invalid_state":
		return types.ErrInvalidState
	case "duplicate_participation":
		return types.ErrDuplicateParticipation
	case "already_claimed":
		return types.ErrAlreadyClaimed
	case "conflict":
		return types.ErrConflict
	case "not_reclaimable":
		return types.ErrNotReclaimable
	case "market_expired":
		return types.ErrMarketExpired
	case "invalid_amount":
		return types.ErrInvalidAmount
	case "invalid_parameters":
		return types.ErrInvalidParameters
	case "not_settleable":
		return types.ErrNotSettleable
	case "transfer_failed":
		return &types.TransferError{Code: "REMOTE", Message: e.Message}
	}
	return nil
}

// CreateMarket creates a market owned by the client identity.
func (c *Client) CreateMarket(ctx context.Context, req httpserver.CreateMarketRequest) (*types.Market, error) {
	var m types.Market
	if err := c.do(ctx, http.MethodPost, "/api/markets", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMarkets fetches one page of markets matching f. Zero fields are left to
// server defaults.
func (c *Client) ListMarkets(ctx context.Context, f storage.ListFilter) (*httpserver.ListMarketsResponse, error) {
	params := url.Values{}
	if f.Status != "" {
		params.Set("status", string(f.Status))
	}
	if f.Creator != "" {
		params.Set("creator", f.Creator.String())
	}
	if f.Participant != "" {
		params.Set("participant", f.Participant.String())
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		params.Set("offset", strconv.Itoa(f.Offset))
	}
	path := "/api/markets"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp httpserver.ListMarketsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMarket fetches one market.
func (c *Client) GetMarket(ctx context.Context, id string) (*types.Market, error) {
	var m types.Market
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Participations lists every stake on a market.
func (c *Client) Participations(ctx context.Context, id string) ([]*types.Participation, error) {
	var resp httpserver.ParticipationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(id)+"/participations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participations, nil
}

// Stake admits a stake for the client identity.
func (c *Client) Stake(ctx context.Context, id string, amount uint64, pos types.Position) (*types.Participation, error) {
	var p types.Participation
	req := httpserver.StakeRequest{Amount: amount, Position: string(pos)}
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(id)+"/stakes", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Resolve declares the outcome of a market the client created.
func (c *Client) Resolve(ctx context.Context, id string, outcome types.Position) (*types.Market, error) {
	var m types.Market
	req := httpserver.ResolveRequest{Outcome: string(outcome)}
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(id)+"/resolve", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Settle claims the client identity's payout.
func (c *Client) Settle(ctx context.Context, id string) (*market.SettleResult, error) {
	var res market.SettleResult
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(id)+"/settle", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Quote previews a settlement for user.
func (c *Client) Quote(ctx context.Context, id string, user types.Identity) (*httpserver.QuoteResponse, error) {
	var q httpserver.QuoteResponse
	path := "/api/markets/" + url.PathEscape(id) + "/quote/" + url.PathEscape(user.String())
	if err := c.do(ctx, http.MethodGet, path, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Reclaim removes a finished market the client created.
func (c *Client) Reclaim(ctx context.Context, id string) (*market.ReclaimResult, error) {
	var res market.ReclaimResult
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(id)+"/reclaim", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Deposit funds the client identity's paper account.
func (c *Client) Deposit(ctx context.Context, amount uint64) (*httpserver.BalanceResponse, error) {
	var resp httpserver.BalanceResponse
	path := "/api/accounts/" + url.PathEscape(c.identity.String()) + "/deposit"
	if err := c.do(ctx, http.MethodPost, path, httpserver.DepositRequest{Amount: amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance returns an account balance.
func (c *Client) Balance(ctx context.Context, account types.Identity) (*httpserver.BalanceResponse, error) {
	var resp httpserver.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+url.PathEscape(account.String()), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "parimutuel-cli/1.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method != http.MethodGet {
		if err := c.authenticate(req, body); err != nil {
			return err
		}
	}

	c.logger.Debug("api-request",
		zap.String("method", method),
		zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Kind: "unknown", Message: string(respBody)}
		var er httpserver.ErrorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Kind != "" {
			apiErr.Kind = er.Kind
			apiErr.Message = er.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) authenticate(req *http.Request, body []byte) error {
	if c.signer != nil {
		return c.signer.Sign(req, body, time.Now())
	}
	if c.identity == "" {
		return errors.New("no signing key or identity configured")
	}
	req.Header.Set(auth.HeaderIdentity, c.identity.String())
	return nil
}
