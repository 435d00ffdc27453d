package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const (
	marketColumns = "id, creator, escrow_ref, title, description, total_pool, yes_pool, no_pool, " +
		"expires_at, status, outcome, min_bet, max_bet, created_at, resolved_at, refunds"
	participationColumns = "market_id, user_id, amount, position, claimed, created_at, claimed_at"
	operationColumns     = "id, kind, market_id, user_id, amount, position, state, reason, created_at, updated_at, payout_kind"
)

// dialect captures the few places Postgres and SQLite differ.
type dialect struct {
	name              string
	numberedParams    bool
	isUniqueViolation func(error) bool
}

// SQLStore implements Store on database/sql. Amounts are stored as BIGINT and
// timestamps as unix nanoseconds so both backends round-trip them exactly.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: d, logger: logger}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	s.logger.Info("storage-schema-applied", zap.String("backend", s.dialect.name))
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) InsertMarket(ctx context.Context, m *types.Market) (err error) {
	defer s.observe("insert_market", time.Now(), &err)

	args, err := marketArgs(m)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO markets (` + marketColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("insert market %s: %w", m.ID, types.ErrConflict)
		}
		return fmt.Errorf("insert market: %w", err)
	}

	s.logger.Debug("market-stored",
		zap.String("market-id", m.ID),
		zap.String("creator", m.Creator.String()))
	return nil
}

func (s *SQLStore) GetMarket(ctx context.Context, id string) (m *types.Market, err error) {
	defer s.observe("get_market", time.Now(), &err)

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+marketColumns+` FROM markets WHERE id = ?`), id)
	m, err = scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	return m, nil
}

func (s *SQLStore) ListMarkets(ctx context.Context, f ListFilter) (markets []*types.Market, total int, err error) {
	defer s.observe("list_markets", time.Now(), &err)
	f = f.Normalize()

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Creator != "" {
		where = append(where, "creator = ?")
		args = append(args, f.Creator.String())
	}
	if f.Participant != "" {
		where = append(where, "id IN (SELECT market_id FROM participations WHERE user_id = ?)")
		args = append(args, f.Participant.String())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	if err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM markets`+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count markets: %w", err)
	}

	query := s.rebind(`SELECT ` + marketColumns + ` FROM markets` + clause +
		` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	markets = make([]*types.Market, 0, f.Limit)
	for rows.Next() {
		m, scanErr := scanMarket(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("scan market: %w", scanErr)
		}
		markets = append(markets, m)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate markets: %w", err)
	}
	return markets, total, nil
}

func (s *SQLStore) DeleteMarket(ctx context.Context, id string) (err error) {
	defer s.observe("delete_market", time.Now(), &err)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM participations WHERE market_id = ?`), id); err != nil {
			return fmt.Errorf("delete participations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM pending_operations WHERE market_id = ?`), id); err != nil {
			return fmt.Errorf("delete operations: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM markets WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete market: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("market %s: %w", id, types.ErrNotFound)
		}
		return nil
	})
}

func (s *SQLStore) GetParticipation(ctx context.Context, marketID string, user types.Identity) (p *types.Participation, err error) {
	defer s.observe("get_participation", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+participationColumns+` FROM participations WHERE market_id = ? AND user_id = ?`),
		marketID, user.String())
	p, err = scanParticipation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participation %s/%s: %w", marketID, user, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get participation: %w", err)
	}
	return p, nil
}

func (s *SQLStore) ListParticipations(ctx context.Context, marketID string) (ps []*types.Participation, err error) {
	defer s.observe("list_participations", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+participationColumns+` FROM participations WHERE market_id = ? ORDER BY created_at ASC, user_id ASC`),
		marketID)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()

	ps = make([]*types.Participation, 0)
	for rows.Next() {
		p, scanErr := scanParticipation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan participation: %w", scanErr)
		}
		ps = append(ps, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participations: %w", err)
	}
	return ps, nil
}

func (s *SQLStore) InsertPending(ctx context.Context, op *types.PendingOperation) (err error) {
	defer s.observe("insert_pending", time.Now(), &err)

	if !reservesRefund(op) {
		return s.insertOperation(ctx, s.db, op)
	}

	// The refund reservation and the record land together, and the conditional
	// update serializes against CommitResolve on the market row.
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE markets SET refunds = refunds + 1 WHERE id = ? AND status = ?`),
			op.MarketID, string(types.MarketStatusActive))
		if err != nil {
			return fmt.Errorf("reserve refund: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			CommitConflictsTotal.WithLabelValues("insert_pending").Inc()
			return s.marketStateError(ctx, tx, op.MarketID)
		}
		return s.insertOperation(ctx, tx, op)
	})
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) insertOperation(ctx context.Context, ex execer, op *types.PendingOperation) error {
	amount, err := toDB(op.Amount)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO pending_operations (` + operationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = ex.ExecContext(ctx, query,
		op.ID,
		string(op.Kind),
		op.MarketID,
		op.User.String(),
		amount,
		string(op.Position),
		string(types.OperationPending),
		op.Reason,
		op.CreatedAt.UnixNano(),
		op.UpdatedAt.UnixNano(),
		op.PayoutKind,
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("insert operation %s: %w", op.ID, types.ErrConflict)
		}
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (s *SQLStore) GetPending(ctx context.Context, kind types.OperationKind, marketID string, user types.Identity) (op *types.PendingOperation, err error) {
	defer s.observe("get_pending", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+operationColumns+` FROM pending_operations
			WHERE kind = ? AND market_id = ? AND user_id = ? AND state = ?`),
		string(kind), marketID, user.String(), string(types.OperationPending))
	op, err = scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending %s %s/%s: %w", kind, marketID, user, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending operation: %w", err)
	}
	return op, nil
}

func (s *SQLStore) ListPending(ctx context.Context) (ops []*types.PendingOperation, err error) {
	defer s.observe("list_pending", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+operationColumns+` FROM pending_operations WHERE state = ? ORDER BY created_at ASC, id ASC`),
		string(types.OperationPending))
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	defer rows.Close()

	ops = make([]*types.PendingOperation, 0)
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan operation: %w", scanErr)
		}
		ops = append(ops, op)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

func (s *SQLStore) AbortPending(ctx context.Context, id string, reason string, at time.Time) (err error) {
	defer s.observe("abort_pending", time.Now(), &err)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var op types.PendingOperation
		var kind string
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT kind, market_id, payout_kind FROM pending_operations WHERE id = ? AND state = ?`),
			id, string(types.OperationPending)).Scan(&kind, &op.MarketID, &op.PayoutKind)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("abort operation %s: %w", id, types.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read operation: %w", err)
		}
		op.Kind = types.OperationKind(kind)

		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE pending_operations SET state = ?, reason = ?, updated_at = ? WHERE id = ? AND state = ?`),
			string(types.OperationAborted), reason, at.UnixNano(), id, string(types.OperationPending))
		if err != nil {
			return fmt.Errorf("abort operation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("abort operation %s: %w", id, types.ErrNotFound)
		}

		if reservesRefund(&op) {
			_, err = tx.ExecContext(ctx,
				s.rebind(`UPDATE markets SET refunds = refunds - 1 WHERE id = ? AND refunds > 0`), op.MarketID)
			if err != nil {
				return fmt.Errorf("release refund: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) CommitStake(ctx context.Context, op *types.PendingOperation, p *types.Participation) (err error) {
	defer s.observe("commit_stake", time.Now(), &err)

	amount, err := toDB(p.Amount)
	if err != nil {
		return err
	}
	var yesDelta, noDelta int64
	if p.Position == types.PositionYes {
		yesDelta = amount
	} else {
		noDelta = amount
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.completeOperation(ctx, tx, op.ID, p.CreatedAt); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE markets SET total_pool = total_pool + ?, yes_pool = yes_pool + ?, no_pool = no_pool + ?
				WHERE id = ? AND status = ?`),
			amount, yesDelta, noDelta, p.MarketID, string(types.MarketStatusActive))
		if err != nil {
			return fmt.Errorf("update pools: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			CommitConflictsTotal.WithLabelValues("commit_stake").Inc()
			return s.marketStateError(ctx, tx, p.MarketID)
		}

		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO participations (`+participationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			p.MarketID, p.User.String(), amount, string(p.Position), false, p.CreatedAt.UnixNano(), nil)
		if err != nil {
			if s.dialect.isUniqueViolation(err) {
				CommitConflictsTotal.WithLabelValues("commit_stake").Inc()
				return fmt.Errorf("commit stake %s/%s: %w", p.MarketID, p.User, types.ErrDuplicateParticipation)
			}
			return fmt.Errorf("insert participation: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) CommitResolve(ctx context.Context, marketID string, outcome types.Position, at time.Time) (err error) {
	defer s.observe("commit_resolve", time.Now(), &err)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE markets SET status = ?, outcome = ?, resolved_at = ? WHERE id = ? AND status = ? AND refunds = 0`),
			string(types.MarketStatusResolved), string(outcome), at.UnixNano(), marketID, string(types.MarketStatusActive))
		if err != nil {
			return fmt.Errorf("resolve market: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			CommitConflictsTotal.WithLabelValues("commit_resolve").Inc()
			return s.resolveStateError(ctx, tx, marketID)
		}
		return nil
	})
}

func (s *SQLStore) CommitSettle(ctx context.Context, op *types.PendingOperation, at time.Time) (err error) {
	defer s.observe("commit_settle", time.Now(), &err)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.completeOperation(ctx, tx, op.ID, at); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE participations SET claimed = ?, claimed_at = ?
				WHERE market_id = ? AND user_id = ? AND claimed = ?`),
			true, at.UnixNano(), op.MarketID, op.User.String(), false)
		if err != nil {
			return fmt.Errorf("mark claimed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			CommitConflictsTotal.WithLabelValues("commit_settle").Inc()
			var claimed bool
			err := tx.QueryRowContext(ctx,
				s.rebind(`SELECT claimed FROM participations WHERE market_id = ? AND user_id = ?`),
				op.MarketID, op.User.String()).Scan(&claimed)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("participation %s/%s: %w", op.MarketID, op.User, types.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("read participation: %w", err)
			}
			return fmt.Errorf("commit settle %s/%s: %w", op.MarketID, op.User, types.ErrAlreadyClaimed)
		}
		return nil
	})
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.logger.Info("closing-sql-storage", zap.String("backend", s.dialect.name))
	return s.db.Close()
}

// completeOperation flips a PENDING operation to COMMITTED inside tx.
func (s *SQLStore) completeOperation(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE pending_operations SET state = ?, updated_at = ? WHERE id = ? AND state = ?`),
		string(types.OperationCommitted), at.UnixNano(), id, string(types.OperationPending))
	if err != nil {
		return fmt.Errorf("commit operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("commit operation %s: %w", id, types.ErrConflict)
	}
	return nil
}

// marketStateError explains why a guarded market update matched no rows.
func (s *SQLStore) marketStateError(ctx context.Context, tx *sql.Tx, marketID string) error {
	var status string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM markets WHERE id = ?`), marketID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("market %s: %w", marketID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read market status: %w", err)
	}
	return fmt.Errorf("market %s is %s: %w", marketID, status, types.ErrInvalidState)
}

// resolveStateError explains why CommitResolve matched no rows.
func (s *SQLStore) resolveStateError(ctx context.Context, tx *sql.Tx, marketID string) error {
	var status string
	var refunds int
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT status, refunds FROM markets WHERE id = ?`), marketID).
		Scan(&status, &refunds)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("market %s: %w", marketID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read market status: %w", err)
	}
	if status == string(types.MarketStatusActive) && refunds > 0 {
		return fmt.Errorf("resolve market %s after %d unresolved refunds: %w", marketID, refunds, types.ErrInvalidState)
	}
	return fmt.Errorf("market %s is %s: %w", marketID, status, types.ErrInvalidState)
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback-failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for drivers that need numbered parameters.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) observe(operation string, start time.Time, errp *error) {
	QueryDuration.WithLabelValues(s.dialect.name, operation).Observe(time.Since(start).Seconds())
	if err := *errp; err != nil && !errors.Is(err, types.ErrNotFound) {
		QueryErrorsTotal.WithLabelValues(s.dialect.name, operation).Inc()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func marketArgs(m *types.Market) ([]any, error) {
	amounts := []uint64{m.TotalPool, m.YesPool, m.NoPool, m.MinBet, m.MaxBet}
	nums := make([]int64, len(amounts))
	for i, v := range amounts {
		n, err := toDB(v)
		if err != nil {
			return nil, err
		}
		nums[i] = n
	}
	var outcome, resolvedAt any
	if m.Outcome != nil {
		outcome = string(*m.Outcome)
	}
	if m.ResolvedAt != nil {
		resolvedAt = m.ResolvedAt.UnixNano()
	}
	return []any{
		m.ID,
		m.Creator.String(),
		m.EscrowRef,
		m.Title,
		m.Description,
		nums[0],
		nums[1],
		nums[2],
		m.ExpiresAt.UnixNano(),
		string(m.Status),
		outcome,
		nums[3],
		nums[4],
		m.CreatedAt.UnixNano(),
		resolvedAt,
		int64(m.Refunds),
	}, nil
}

func scanMarket(row rowScanner) (*types.Market, error) {
	var (
		m                                       types.Market
		creator, status                         string
		total, yes, no, expires, minBet, maxBet int64
		created, refunds                        int64
		outcome                                 sql.NullString
		resolved                                sql.NullInt64
	)
	err := row.Scan(&m.ID, &creator, &m.EscrowRef, &m.Title, &m.Description,
		&total, &yes, &no, &expires, &status, &outcome, &minBet, &maxBet, &created, &resolved, &refunds)
	if err != nil {
		return nil, err
	}
	m.Creator = types.Identity(creator)
	m.Status = types.MarketStatus(status)
	m.TotalPool = uint64(total)
	m.YesPool = uint64(yes)
	m.NoPool = uint64(no)
	m.MinBet = uint64(minBet)
	m.MaxBet = uint64(maxBet)
	m.ExpiresAt = fromNanos(expires)
	m.CreatedAt = fromNanos(created)
	m.Refunds = int(refunds)
	if outcome.Valid {
		o := types.Position(outcome.String)
		m.Outcome = &o
	}
	if resolved.Valid {
		t := fromNanos(resolved.Int64)
		m.ResolvedAt = &t
	}
	return &m, nil
}

func scanParticipation(row rowScanner) (*types.Participation, error) {
	var (
		p               types.Participation
		user, position  string
		amount, created int64
		claimedAt       sql.NullInt64
	)
	if err := row.Scan(&p.MarketID, &user, &amount, &position, &p.Claimed, &created, &claimedAt); err != nil {
		return nil, err
	}
	p.User = types.Identity(user)
	p.Position = types.Position(position)
	p.Amount = uint64(amount)
	p.CreatedAt = fromNanos(created)
	if claimedAt.Valid {
		t := fromNanos(claimedAt.Int64)
		p.ClaimedAt = &t
	}
	return &p, nil
}

func scanOperation(row rowScanner) (*types.PendingOperation, error) {
	var (
		op                          types.PendingOperation
		kind, user, position, state string
		amount, created, updated    int64
	)
	err := row.Scan(&op.ID, &kind, &op.MarketID, &user, &amount, &position, &state, &op.Reason, &created, &updated, &op.PayoutKind)
	if err != nil {
		return nil, err
	}
	op.Kind = types.OperationKind(kind)
	op.User = types.Identity(user)
	op.Position = types.Position(position)
	op.State = types.OperationState(state)
	op.Amount = uint64(amount)
	op.CreatedAt = fromNanos(created)
	op.UpdatedAt = fromNanos(updated)
	return &op, nil
}

// toDB narrows an amount to the signed BIGINT range both backends store.
func toDB(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: amount %d exceeds storable range", types.ErrInvalidParameters, v)
	}
	return int64(v), nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ Store = (*SQLStore)(nil)
