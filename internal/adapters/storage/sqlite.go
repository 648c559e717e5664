package storage

// sqlite.go: SQLite ledger of record.
//
// Strategy:
//   - `users`: one row per user address, holds the order nonce counter.
//   - `markets`: one row per condition, status unresolved → resolved → processed.
//   - `positions`: one row per (condition, user, outcome). Fills merge into
//     the existing row with a weighted-average entry price instead of
//     appending new rows, so a position is always a single fact.
//   - `orders`: one row per deterministic order id. Rows are never deleted;
//     failed orders keep their error string for the client to poll.
//   - Decimal columns are stored as TEXT to keep exact values. SQLite REAL
//     would silently round cost bases.
//
// All state transitions are optimistic UPDATE ... WHERE status = ? so a
// crashed-and-restarted pipeline can replay without double-applying.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    address      TEXT PRIMARY KEY,
    nonce        INTEGER NOT NULL DEFAULT 0,
    total_volume TEXT NOT NULL DEFAULT '0',
    realized_pnl TEXT NOT NULL DEFAULT '0',
    trades_count INTEGER NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
    condition_id    TEXT PRIMARY KEY,
    token_id        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'unresolved',
    winning_outcome INTEGER,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      DATETIME NOT NULL,
    resolved_at     DATETIME,
    processed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS positions (
    id                 TEXT PRIMARY KEY,
    condition_id       TEXT NOT NULL,
    user_address       TEXT NOT NULL,
    outcome            INTEGER NOT NULL,
    amount             TEXT NOT NULL DEFAULT '0',
    avg_entry_price    TEXT NOT NULL DEFAULT '0',
    total_cost_basis   TEXT NOT NULL DEFAULT '0',
    realized_pnl       TEXT NOT NULL DEFAULT '0',
    collateral_token   TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active',
    redemption_tx      TEXT NOT NULL DEFAULT '',
    transfer_tx        TEXT NOT NULL DEFAULT '',
    amount_transferred TEXT NOT NULL DEFAULT '0',
    order_id           TEXT NOT NULL DEFAULT '',
    created_at         DATETIME NOT NULL,
    updated_at         DATETIME NOT NULL,
    redeemed_at        DATETIME,
    UNIQUE(condition_id, user_address, outcome)
);

CREATE TABLE IF NOT EXISTS orders (
    id                TEXT PRIMARY KEY,
    user_address      TEXT NOT NULL,
    token_id          TEXT NOT NULL,
    condition_id      TEXT NOT NULL DEFAULT '',
    price             TEXT NOT NULL,
    amount            TEXT NOT NULL,
    side              TEXT NOT NULL,
    nonce             INTEGER NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    exchange_order_id TEXT NOT NULL DEFAULT '',
    transaction_hash  TEXT NOT NULL DEFAULT '',
    error             TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    executed_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_markets_status   ON markets(status);
CREATE INDEX IF NOT EXISTS idx_positions_cond   ON positions(condition_id, status);
CREATE INDEX IF NOT EXISTS idx_positions_user   ON positions(user_address, status);
CREATE INDEX IF NOT EXISTS idx_orders_user      ON orders(user_address, status);
`

// SQLiteLedger implements ports.LedgerStore using SQLite (pure Go, no CGo).
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteLedger: apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// --- markets ---

// RegisterMarket inserts the market if it is not already tracked.
func (s *SQLiteLedger) RegisterMarket(ctx context.Context, m domain.Market) error {
	md, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("storage.RegisterMarket: marshal metadata: %w", err)
	}

	status := m.Status
	if status == "" {
		status = domain.MarketUnresolved
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (condition_id, token_id, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(condition_id) DO NOTHING
	`, m.ConditionID, m.TokenID, string(status), string(md), createdAt); err != nil {
		return fmt.Errorf("storage.RegisterMarket: %w", err)
	}
	return nil
}

// GetMarket returns the market row, or sql.ErrNoRows wrapped if missing.
func (s *SQLiteLedger) GetMarket(ctx context.Context, conditionID string) (*domain.Market, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT condition_id, token_id, status, winning_outcome, metadata,
		       created_at, resolved_at, processed_at
		FROM markets WHERE condition_id = ?
	`, conditionID)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("storage.GetMarket: %s: %w", conditionID, err)
	}
	return m, nil
}

// UpdateMarketMetadata replaces the stored metadata blob.
func (s *SQLiteLedger) UpdateMarketMetadata(ctx context.Context, conditionID string, md domain.MarketMetadata) error {
	blob, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("storage.UpdateMarketMetadata: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE markets SET metadata = ? WHERE condition_id = ?`,
		string(blob), conditionID,
	); err != nil {
		return fmt.Errorf("storage.UpdateMarketMetadata: %w", err)
	}
	return nil
}

// UnresolvedMarkets returns every market still awaiting resolution.
func (s *SQLiteLedger) UnresolvedMarkets(ctx context.Context) ([]domain.Market, error) {
	return s.marketsByStatus(ctx, domain.MarketUnresolved)
}

// PendingRedemptions returns resolved markets that have not been marked
// processed yet.
func (s *SQLiteLedger) PendingRedemptions(ctx context.Context) ([]domain.Market, error) {
	return s.marketsByStatus(ctx, domain.MarketResolved)
}

func (s *SQLiteLedger) marketsByStatus(ctx context.Context, status domain.MarketStatus) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT condition_id, token_id, status, winning_outcome, metadata,
		       created_at, resolved_at, processed_at
		FROM markets WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage.marketsByStatus: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.marketsByStatus: scan: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkResolved flips unresolved → resolved. A market already past
// unresolved is left untouched.
func (s *SQLiteLedger) MarkResolved(ctx context.Context, conditionID string, winningOutcome int, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE markets SET status = ?, winning_outcome = ?, resolved_at = ?
		WHERE condition_id = ? AND status = ?
	`, string(domain.MarketResolved), winningOutcome, at.UTC(), conditionID, string(domain.MarketUnresolved)); err != nil {
		return fmt.Errorf("storage.MarkResolved: %s: %w", conditionID, err)
	}
	return nil
}

// MarkProcessed flips resolved → processed, but only when no active
// winning-outcome position remains for the condition. Losing positions
// never block the flip; they stay active and never redeem. The check and
// the flip share one transaction so a concurrent redemption cannot slip
// between them.
func (s *SQLiteLedger) MarkProcessed(ctx context.Context, conditionID string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("storage.MarkProcessed: begin tx: %w", err)
	}
	defer tx.Rollback()

	var activeWinners int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM positions p
		JOIN markets m ON m.condition_id = p.condition_id
		WHERE p.condition_id = ? AND p.status = ? AND p.outcome = m.winning_outcome
	`, conditionID, string(domain.PositionActive),
	).Scan(&activeWinners); err != nil {
		return false, fmt.Errorf("storage.MarkProcessed: count active winners: %w", err)
	}
	if activeWinners > 0 {
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE markets SET status = ?, processed_at = ?
		WHERE condition_id = ? AND status = ?
	`, string(domain.MarketProcessed), at.UTC(), conditionID, string(domain.MarketResolved))
	if err != nil {
		return false, fmt.Errorf("storage.MarkProcessed: update: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("storage.MarkProcessed: commit: %w", err)
	}
	return n > 0, nil
}

// --- positions ---

// ActivePositions returns every active position for the condition.
func (s *SQLiteLedger) ActivePositions(ctx context.Context, conditionID string) ([]domain.Position, error) {
	return s.queryPositions(ctx, `
		SELECT `+positionCols+` FROM positions
		WHERE condition_id = ? AND status = ? ORDER BY created_at
	`, conditionID, string(domain.PositionActive))
}

// WinningPositions returns active positions holding the winning outcome.
func (s *SQLiteLedger) WinningPositions(ctx context.Context, conditionID string, winningOutcome int) ([]domain.Position, error) {
	return s.queryPositions(ctx, `
		SELECT `+positionCols+` FROM positions
		WHERE condition_id = ? AND outcome = ? AND status = ? ORDER BY created_at
	`, conditionID, winningOutcome, string(domain.PositionActive))
}

// RecordBuyFill merges the fill into the user's position for the outcome,
// creating the row on first entry. Insert-or-merge runs in one transaction.
func (s *SQLiteLedger) RecordBuyFill(ctx context.Context, fill domain.LedgerFill) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordBuyFill: begin tx: %w", err)
	}
	defer tx.Rollback()

	pos, err := scanPosition(tx.QueryRowContext(ctx, `
		SELECT `+positionCols+` FROM positions
		WHERE condition_id = ? AND user_address = ? AND outcome = ? AND status = ?
	`, fill.ConditionID, fill.UserAddress, fill.Outcome, string(domain.PositionActive)))

	at := fill.FilledAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch {
	case err == sql.ErrNoRows:
		p := domain.Position{
			ID:              uuid.New(),
			ConditionID:     fill.ConditionID,
			UserAddress:     fill.UserAddress,
			Outcome:         fill.Outcome,
			CollateralToken: fill.CollateralToken,
			Status:          domain.PositionActive,
			OrderID:         fill.OrderID,
			CreatedAt:       at,
		}
		p.ApplyFill(fill.Amount, fill.Price, at)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions
				(id, condition_id, user_address, outcome, amount, avg_entry_price,
				 total_cost_basis, realized_pnl, collateral_token, status, order_id,
				 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID.String(), p.ConditionID, p.UserAddress, p.Outcome,
			p.Amount.String(), p.AverageEntryPrice.String(), p.TotalCostBasis.String(),
			p.RealizedPnL.String(), p.CollateralToken, string(p.Status), p.OrderID,
			p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("storage.RecordBuyFill: insert: %w", err)
		}

	case err != nil:
		return fmt.Errorf("storage.RecordBuyFill: lookup: %w", err)

	default:
		pos.ApplyFill(fill.Amount, fill.Price, at)
		if _, err := tx.ExecContext(ctx, `
			UPDATE positions SET amount = ?, avg_entry_price = ?, total_cost_basis = ?, updated_at = ?
			WHERE id = ?
		`, pos.Amount.String(), pos.AverageEntryPrice.String(), pos.TotalCostBasis.String(),
			pos.UpdatedAt, pos.ID.String(),
		); err != nil {
			return fmt.Errorf("storage.RecordBuyFill: merge: %w", err)
		}
	}

	if err := bumpUserAggregates(ctx, tx, fill.UserAddress, fill.Amount.Mul(fill.Price), decimal.Zero, at); err != nil {
		return fmt.Errorf("storage.RecordBuyFill: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordBuyFill: commit: %w", err)
	}
	return nil
}

// RecordSellFill reduces the user's position and realizes PnL against the
// average entry price.
func (s *SQLiteLedger) RecordSellFill(ctx context.Context, fill domain.LedgerFill) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordSellFill: begin tx: %w", err)
	}
	defer tx.Rollback()

	pos, err := scanPosition(tx.QueryRowContext(ctx, `
		SELECT `+positionCols+` FROM positions
		WHERE condition_id = ? AND user_address = ? AND outcome = ? AND status = ?
	`, fill.ConditionID, fill.UserAddress, fill.Outcome, string(domain.PositionActive)))
	if err != nil {
		return fmt.Errorf("storage.RecordSellFill: lookup: %w", err)
	}

	at := fill.FilledAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	pnlBefore := pos.RealizedPnL
	pos.ReduceFill(fill.Amount, fill.Price, at)

	if _, err := tx.ExecContext(ctx, `
		UPDATE positions SET amount = ?, total_cost_basis = ?, realized_pnl = ?, updated_at = ?
		WHERE id = ?
	`, pos.Amount.String(), pos.TotalCostBasis.String(), pos.RealizedPnL.String(),
		pos.UpdatedAt, pos.ID.String(),
	); err != nil {
		return fmt.Errorf("storage.RecordSellFill: update: %w", err)
	}

	realized := pos.RealizedPnL.Sub(pnlBefore)
	if err := bumpUserAggregates(ctx, tx, fill.UserAddress, fill.Amount.Mul(fill.Price), realized, at); err != nil {
		return fmt.Errorf("storage.RecordSellFill: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordSellFill: commit: %w", err)
	}
	return nil
}

// bumpUserAggregates folds a fill into the per-user running totals inside
// the caller's transaction. Decimal columns are read, added in Go and
// written back; SQLite arithmetic on the TEXT columns would lose precision.
func bumpUserAggregates(ctx context.Context, tx *sql.Tx, address string, volume, pnl decimal.Decimal, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (address, nonce, created_at) VALUES (?, 0, ?)
		ON CONFLICT(address) DO NOTHING
	`, address, at.UTC()); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	var volStr, pnlStr string
	if err := tx.QueryRowContext(ctx,
		`SELECT total_volume, realized_pnl FROM users WHERE address = ?`, address,
	).Scan(&volStr, &pnlStr); err != nil {
		return fmt.Errorf("read user aggregates: %w", err)
	}

	curVolume, err := decimal.NewFromString(volStr)
	if err != nil {
		return fmt.Errorf("parse total_volume %q: %w", volStr, err)
	}
	curPnL, err := decimal.NewFromString(pnlStr)
	if err != nil {
		return fmt.Errorf("parse realized_pnl %q: %w", pnlStr, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET total_volume = ?, realized_pnl = ?, trades_count = trades_count + 1
		WHERE address = ?
	`, curVolume.Add(volume).String(), curPnL.Add(pnl).String(), address); err != nil {
		return fmt.Errorf("update user aggregates: %w", err)
	}
	return nil
}

// MarkRedeemed flips active → redeemed with the settlement tx hashes. A
// position that already left active is a no-op, so a replayed redemption
// never double-marks.
func (s *SQLiteLedger) MarkRedeemed(ctx context.Context, positionID uuid.UUID, redemptionTx, transferTx string, amountTransferred decimal.Decimal, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, redemption_tx = ?, transfer_tx = ?, amount_transferred = ?,
		    redeemed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.PositionRedeemed), redemptionTx, transferTx, amountTransferred.String(),
		at.UTC(), at.UTC(), positionID.String(), string(domain.PositionActive),
	); err != nil {
		return fmt.Errorf("storage.MarkRedeemed: %s: %w", positionID, err)
	}
	return nil
}

// --- orders ---

// CreateOrder inserts a new order row in pending state.
func (s *SQLiteLedger) CreateOrder(ctx context.Context, o domain.Order) error {
	now := time.Now().UTC()
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := o.Status
	if status == "" {
		status = domain.OrderPending
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, user_address, token_id, condition_id, price, amount, side, nonce,
			 status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.UserAddress, o.TokenID, o.ConditionID,
		o.Price.String(), o.Amount.String(), string(o.Side), o.Nonce,
		string(status), createdAt, now,
	); err != nil {
		return fmt.Errorf("storage.CreateOrder: %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderStatus transitions the order and records the update fields.
// Empty strings in the update leave the stored value in place.
func (s *SQLiteLedger) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, update domain.OrderUpdate) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status            = ?,
			exchange_order_id = CASE WHEN ? != '' THEN ? ELSE exchange_order_id END,
			transaction_hash  = CASE WHEN ? != '' THEN ? ELSE transaction_hash END,
			error             = CASE WHEN ? != '' THEN ? ELSE error END,
			executed_at       = COALESCE(?, executed_at),
			updated_at        = ?
		WHERE id = ?
	`, string(status),
		update.ExchangeOrderID, update.ExchangeOrderID,
		update.TransactionHash, update.TransactionHash,
		update.Error, update.Error,
		update.ExecutedAt,
		time.Now().UTC(), orderID,
	); err != nil {
		return fmt.Errorf("storage.UpdateOrderStatus: %s: %w", orderID, err)
	}
	return nil
}

// GetOrder returns a single order row by its deterministic id.
func (s *SQLiteLedger) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = ?`, orderID))
	if err != nil {
		return nil, fmt.Errorf("storage.GetOrder: %s: %w", orderID, err)
	}
	return o, nil
}

// UserOrders returns the user's orders, optionally filtered by status.
func (s *SQLiteLedger) UserOrders(ctx context.Context, userAddress string, status domain.OrderStatus) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE user_address = ?`
	args := []any{userAddress}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.UserOrders: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.UserOrders: scan: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// --- nonces ---

// UserNonce returns the user's current nonce, creating the user row on
// first contact.
func (s *SQLiteLedger) UserNonce(ctx context.Context, userAddress string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (address, nonce, created_at) VALUES (?, 0, ?)
		ON CONFLICT(address) DO NOTHING
	`, userAddress, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("storage.UserNonce: ensure user: %w", err)
	}

	var nonce int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT nonce FROM users WHERE address = ?`, userAddress,
	).Scan(&nonce); err != nil {
		return 0, fmt.Errorf("storage.UserNonce: %s: %w", userAddress, err)
	}
	return nonce, nil
}

// IncrementUserNonce advances the nonce and returns the new value. Called
// only after a successful execution so failed orders can retry under the
// same deterministic id.
func (s *SQLiteLedger) IncrementUserNonce(ctx context.Context, userAddress string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.IncrementUserNonce: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET nonce = nonce + 1 WHERE address = ?`, userAddress,
	); err != nil {
		return 0, fmt.Errorf("storage.IncrementUserNonce: update: %w", err)
	}

	var nonce int64
	if err := tx.QueryRowContext(ctx,
		`SELECT nonce FROM users WHERE address = ?`, userAddress,
	).Scan(&nonce); err != nil {
		return 0, fmt.Errorf("storage.IncrementUserNonce: read back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.IncrementUserNonce: commit: %w", err)
	}
	return nonce, nil
}

// UserStats reads the running aggregates for a user. An unknown address
// returns zero-valued stats rather than an error.
func (s *SQLiteLedger) UserStats(ctx context.Context, userAddress string) (domain.UserStats, error) {
	stats := domain.UserStats{
		Address:     userAddress,
		TotalVolume: decimal.Zero,
		RealizedPnL: decimal.Zero,
	}

	var volStr, pnlStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT nonce, total_volume, realized_pnl, trades_count
		FROM users WHERE address = ?
	`, userAddress).Scan(&stats.Nonce, &volStr, &pnlStr, &stats.TradesCount)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("storage.UserStats: %s: %w", userAddress, err)
	}

	if stats.TotalVolume, err = decimal.NewFromString(volStr); err != nil {
		return domain.UserStats{}, fmt.Errorf("storage.UserStats: parse total_volume %q: %w", volStr, err)
	}
	if stats.RealizedPnL, err = decimal.NewFromString(pnlStr); err != nil {
		return domain.UserStats{}, fmt.Errorf("storage.UserStats: parse realized_pnl %q: %w", pnlStr, err)
	}
	return stats, nil
}

// --- scan helpers ---

const positionCols = `id, condition_id, user_address, outcome, amount, avg_entry_price,
	total_cost_basis, realized_pnl, collateral_token, status, redemption_tx,
	transfer_tx, amount_transferred, order_id, created_at, updated_at, redeemed_at`

const orderCols = `id, user_address, token_id, condition_id, price, amount, side, nonce,
	status, exchange_order_id, transaction_hash, error, created_at, updated_at, executed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*domain.Market, error) {
	var m domain.Market
	var status, metadata string
	var winning sql.NullInt64
	var resolvedAt, processedAt sql.NullTime

	if err := row.Scan(&m.ConditionID, &m.TokenID, &status, &winning, &metadata,
		&m.CreatedAt, &resolvedAt, &processedAt); err != nil {
		return nil, err
	}

	m.Status = domain.MarketStatus(status)
	if winning.Valid {
		w := int(winning.Int64)
		m.WinningOutcome = &w
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		m.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &m, nil
}

func (s *SQLiteLedger) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryPositions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryPositions: scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var id, amount, avgPrice, costBasis, pnl, transferred, status string
	var redeemedAt sql.NullTime

	if err := row.Scan(&id, &p.ConditionID, &p.UserAddress, &p.Outcome,
		&amount, &avgPrice, &costBasis, &pnl, &p.CollateralToken, &status,
		&p.RedemptionTx, &p.TransferTx, &transferred, &p.OrderID,
		&p.CreatedAt, &p.UpdatedAt, &redeemedAt); err != nil {
		return nil, err
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse position id %q: %w", id, err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if p.AverageEntryPrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, fmt.Errorf("parse avg price %q: %w", avgPrice, err)
	}
	if p.TotalCostBasis, err = decimal.NewFromString(costBasis); err != nil {
		return nil, fmt.Errorf("parse cost basis %q: %w", costBasis, err)
	}
	if p.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("parse pnl %q: %w", pnl, err)
	}
	if p.AmountTransferred, err = decimal.NewFromString(transferred); err != nil {
		return nil, fmt.Errorf("parse transferred %q: %w", transferred, err)
	}
	p.Status = domain.PositionStatus(status)
	if redeemedAt.Valid {
		t := redeemedAt.Time
		p.RedeemedAt = &t
	}
	return &p, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var price, amount, side, status string
	var executedAt sql.NullTime

	if err := row.Scan(&o.ID, &o.UserAddress, &o.TokenID, &o.ConditionID,
		&price, &amount, &side, &o.Nonce, &status,
		&o.ExchangeOrderID, &o.TransactionHash, &o.Error,
		&o.CreatedAt, &o.UpdatedAt, &executedAt); err != nil {
		return nil, err
	}

	var err error
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	if executedAt.Valid {
		t := executedAt.Time
		o.ExecutedAt = &t
	}
	return &o, nil
}
