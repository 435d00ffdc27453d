package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/parimutuel/internal/archive"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/cache"
	"github.com/mselser95/parimutuel/pkg/clock"
	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const creator types.Identity = "0xcreator"

type harness struct {
	ctrl     *Controller
	store    storage.Store
	ledger   *custody.PaperLedger
	clock    *clock.Manual
	events   *recorder
	archiver *memArchiver
}

// option adjusts the controller wiring before it is built.
type option func(h *harness, cfg *Config)

// withFlakyStore wraps the memory store so selected commits fail.
func withFlakyStore(fs **flakyStore) option {
	return func(h *harness, cfg *Config) {
		*fs = &flakyStore{Store: cfg.Store}
		cfg.Store = *fs
	}
}

// withCountingLedger wraps the paper ledger to record applied transfers.
func withCountingLedger(cl **countingLedger) option {
	return func(h *harness, cfg *Config) {
		*cl = &countingLedger{PaperLedger: h.ledger}
		cfg.Ledger = *cl
	}
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	rc, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 1000, MaxCost: 100, BufferItems: 64, Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(rc.Close)

	h := &harness{
		store:    storage.NewMemoryStore(logger),
		ledger:   custody.NewPaperLedger(logger),
		clock:    clock.NewManual(base),
		events:   &recorder{},
		archiver: &memArchiver{},
	}
	cfg := &Config{
		Store:     h.store,
		Ledger:    h.ledger,
		Locker:    lock.NewLocalLocker(),
		Clock:     h.clock,
		Cache:     cache.NewSnapshotCache(rc, time.Minute),
		Archiver:  h.archiver,
		Publisher: h.events,
		Logger:    logger,
	}
	for _, o := range opts {
		o(h, cfg)
	}

	h.ctrl, err = New(cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) market(t *testing.T, minBet, maxBet uint64) *types.Market {
	t.Helper()
	m, err := h.ctrl.CreateMarket(context.Background(), CreateParams{
		Creator:   creator,
		Title:     "Will it rain tomorrow?",
		ExpiresAt: base.Add(time.Hour),
		MinBet:    minBet,
		MaxBet:    maxBet,
	})
	require.NoError(t, err)
	return m
}

func (h *harness) fund(t *testing.T, user types.Identity, amount uint64) {
	t.Helper()
	_, err := h.ledger.Deposit(context.Background(), user, amount)
	require.NoError(t, err)
}

func (h *harness) stake(t *testing.T, marketID string, user types.Identity, amount uint64, pos types.Position) *types.Participation {
	t.Helper()
	h.fund(t, user, amount)
	p, err := h.ctrl.AdmitStake(context.Background(), StakeParams{
		MarketID: marketID, User: user, Amount: amount, Position: pos,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) resolve(t *testing.T, marketID string, outcome types.Position) {
	t.Helper()
	_, err := h.ctrl.Resolve(context.Background(), ResolveParams{MarketID: marketID, Caller: creator, Outcome: outcome})
	require.NoError(t, err)
}

func (h *harness) settle(marketID string, user types.Identity) (SettleResult, error) {
	return h.ctrl.Settle(context.Background(), SettleParams{MarketID: marketID, User: user, Caller: user})
}

func (h *harness) balance(t *testing.T, account types.Identity) uint64 {
	t.Helper()
	bal, err := h.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	return bal
}

func (h *harness) reload(t *testing.T, id string) *types.Market {
	t.Helper()
	m, err := h.store.GetMarket(context.Background(), id)
	require.NoError(t, err)
	return m
}

type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Publish(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type memArchiver struct {
	mu        sync.Mutex
	snapshots []*archive.Snapshot
	err       error
}

func (a *memArchiver) Archive(ctx context.Context, s *archive.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.snapshots = append(a.snapshots, s)
	return nil
}

// flakyStore fails selected commits a fixed number of times, standing in for a
// crash between the transfer and the commit.
type flakyStore struct {
	storage.Store
	mu               sync.Mutex
	failCommitStake  int
	failCommitSettle int
	stakeCommitErr   error
	settleCommitErr  error
	aborted          []string
}

func (f *flakyStore) AbortPending(ctx context.Context, id string, reason string, at time.Time) error {
	if err := f.Store.AbortPending(ctx, id, reason, at); err != nil {
		return err
	}
	f.mu.Lock()
	f.aborted = append(f.aborted, id)
	f.mu.Unlock()
	return nil
}

func (f *flakyStore) CommitStake(ctx context.Context, op *types.PendingOperation, p *types.Participation) error {
	f.mu.Lock()
	if f.failCommitStake > 0 {
		f.failCommitStake--
		f.mu.Unlock()
		return f.stakeCommitErr
	}
	f.mu.Unlock()
	return f.Store.CommitStake(ctx, op, p)
}

func (f *flakyStore) CommitSettle(ctx context.Context, op *types.PendingOperation, at time.Time) error {
	f.mu.Lock()
	if f.failCommitSettle > 0 {
		f.failCommitSettle--
		f.mu.Unlock()
		return f.settleCommitErr
	}
	f.mu.Unlock()
	return f.Store.CommitSettle(ctx, op, at)
}

// countingLedger records how many transfers actually moved funds.
type countingLedger struct {
	*custody.PaperLedger
	mu    sync.Mutex
	moves []custody.Transfer
}

func (c *countingLedger) Move(ctx context.Context, t custody.Transfer) error {
	if err := c.PaperLedger.Move(ctx, t); err != nil {
		return err
	}
	c.mu.Lock()
	c.moves = append(c.moves, t)
	c.mu.Unlock()
	return nil
}

func (c *countingLedger) movesTo(account types.Identity) []custody.Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []custody.Transfer
	for _, t := range c.moves {
		if t.To == account {
			out = append(out, t)
		}
	}
	return out
}
