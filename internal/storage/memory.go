package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// MemoryStore implements Store in process memory. It is the default storage mode
// and the reference behaviour the SQL store is tested against.
type MemoryStore struct {
	mu             sync.RWMutex
	markets        map[string]*types.Market
	participations map[string]map[types.Identity]*types.Participation
	ops            map[string]*types.PendingOperation
	logger         *zap.Logger
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	logger.Info("memory-storage-initialized")
	return &MemoryStore{
		markets:        make(map[string]*types.Market),
		participations: make(map[string]map[types.Identity]*types.Participation),
		ops:            make(map[string]*types.PendingOperation),
		logger:         logger,
	}
}

func (s *MemoryStore) InsertMarket(ctx context.Context, m *types.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("insert market %s: %w", m.ID, types.ErrConflict)
	}
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) GetMarket(ctx context.Context, id string) (*types.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, types.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListMarkets(ctx context.Context, f ListFilter) ([]*types.Market, int, error) {
	f = f.Normalize()

	s.mu.RLock()
	matched := make([]*types.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Creator != "" && m.Creator != f.Creator {
			continue
		}
		if f.Participant != "" {
			if _, ok := s.participations[m.ID][f.Participant]; !ok {
				continue
			}
		}
		matched = append(matched, m.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if f.Offset >= total {
		return []*types.Market{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (s *MemoryStore) DeleteMarket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[id]; !ok {
		return fmt.Errorf("market %s: %w", id, types.ErrNotFound)
	}
	delete(s.markets, id)
	delete(s.participations, id)
	for opID, op := range s.ops {
		if op.MarketID == id {
			delete(s.ops, opID)
		}
	}
	return nil
}

func (s *MemoryStore) GetParticipation(ctx context.Context, marketID string, user types.Identity) (*types.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participations[marketID][user]
	if !ok {
		return nil, fmt.Errorf("participation %s/%s: %w", marketID, user, types.ErrNotFound)
	}
	return cloneParticipation(p), nil
}

func (s *MemoryStore) ListParticipations(ctx context.Context, marketID string) ([]*types.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Participation, 0, len(s.participations[marketID]))
	for _, p := range s.participations[marketID] {
		out = append(out, cloneParticipation(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].User < out[j].User
	})
	return out, nil
}

func (s *MemoryStore) InsertPending(ctx context.Context, op *types.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ops[op.ID]; exists {
		return fmt.Errorf("insert operation %s: %w", op.ID, types.ErrConflict)
	}
	if s.pendingLocked(op.Kind, op.MarketID, op.User) != nil {
		return fmt.Errorf("insert operation %s: %w", op.ID, types.ErrConflict)
	}
	if reservesRefund(op) {
		m, ok := s.markets[op.MarketID]
		if !ok {
			return fmt.Errorf("market %s: %w", op.MarketID, types.ErrNotFound)
		}
		if m.Status != types.MarketStatusActive {
			return fmt.Errorf("refund on %s market %s: %w", m.Status, m.ID, types.ErrInvalidState)
		}
		m.Refunds++
	}
	c := *op
	c.State = types.OperationPending
	s.ops[op.ID] = &c
	return nil
}

func (s *MemoryStore) GetPending(ctx context.Context, kind types.OperationKind, marketID string, user types.Identity) (*types.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op := s.pendingLocked(kind, marketID, user)
	if op == nil {
		return nil, fmt.Errorf("pending %s %s/%s: %w", kind, marketID, user, types.ErrNotFound)
	}
	c := *op
	return &c, nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]*types.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.PendingOperation, 0)
	for _, op := range s.ops {
		if op.State == types.OperationPending {
			c := *op
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AbortPending(ctx context.Context, id string, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok || op.State != types.OperationPending {
		return fmt.Errorf("abort operation %s: %w", id, types.ErrNotFound)
	}
	op.State = types.OperationAborted
	op.Reason = reason
	op.UpdatedAt = at
	if m, ok := s.markets[op.MarketID]; ok && reservesRefund(op) && m.Refunds > 0 {
		m.Refunds--
	}
	return nil
}

func (s *MemoryStore) CommitStake(ctx context.Context, op *types.PendingOperation, p *types.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.ops[op.ID]
	if !ok || stored.State != types.OperationPending {
		return fmt.Errorf("commit stake %s: %w", op.ID, types.ErrConflict)
	}
	m, ok := s.markets[p.MarketID]
	if !ok {
		return fmt.Errorf("market %s: %w", p.MarketID, types.ErrNotFound)
	}
	if m.Status != types.MarketStatusActive {
		return fmt.Errorf("commit stake on %s market: %w", m.Status, types.ErrInvalidState)
	}
	if _, exists := s.participations[p.MarketID][p.User]; exists {
		return fmt.Errorf("commit stake %s/%s: %w", p.MarketID, p.User, types.ErrDuplicateParticipation)
	}

	// all checks passed; apply every mutation together
	if s.participations[p.MarketID] == nil {
		s.participations[p.MarketID] = make(map[types.Identity]*types.Participation)
	}
	s.participations[p.MarketID][p.User] = cloneParticipation(p)
	m.TotalPool += p.Amount
	if p.Position == types.PositionYes {
		m.YesPool += p.Amount
	} else {
		m.NoPool += p.Amount
	}
	stored.State = types.OperationCommitted
	stored.UpdatedAt = p.CreatedAt
	return nil
}

func (s *MemoryStore) CommitResolve(ctx context.Context, marketID string, outcome types.Position, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, types.ErrNotFound)
	}
	if m.Status != types.MarketStatusActive {
		return fmt.Errorf("resolve %s market: %w", m.Status, types.ErrInvalidState)
	}
	if m.Refunds > 0 {
		return fmt.Errorf("resolve market %s after %d unresolved refunds: %w", marketID, m.Refunds, types.ErrInvalidState)
	}
	o := outcome
	resolvedAt := at
	m.Status = types.MarketStatusResolved
	m.Outcome = &o
	m.ResolvedAt = &resolvedAt
	return nil
}

func (s *MemoryStore) CommitSettle(ctx context.Context, op *types.PendingOperation, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.ops[op.ID]
	if !ok || stored.State != types.OperationPending {
		return fmt.Errorf("commit settle %s: %w", op.ID, types.ErrConflict)
	}
	p, ok := s.participations[op.MarketID][op.User]
	if !ok {
		return fmt.Errorf("participation %s/%s: %w", op.MarketID, op.User, types.ErrNotFound)
	}
	if p.Claimed {
		return fmt.Errorf("commit settle %s/%s: %w", op.MarketID, op.User, types.ErrAlreadyClaimed)
	}
	claimedAt := at
	p.Claimed = true
	p.ClaimedAt = &claimedAt
	stored.State = types.OperationCommitted
	stored.UpdatedAt = at
	return nil
}

// Close is a no-op for memory storage.
func (s *MemoryStore) Close() error {
	s.logger.Info("closing-memory-storage")
	return nil
}

func (s *MemoryStore) pendingLocked(kind types.OperationKind, marketID string, user types.Identity) *types.PendingOperation {
	for _, op := range s.ops {
		if op.State == types.OperationPending && op.Kind == kind && op.MarketID == marketID && op.User == user {
			return op
		}
	}
	return nil
}

func cloneParticipation(p *types.Participation) *types.Participation {
	c := *p
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
