package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store/migrations"
)

// SQLiteStore is the single-node store used for local runs and tests.
// Writers are serialized by one connection and BEGIN IMMEDIATE, so row
// locks are implicit and LockKey is a no-op.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens a SQLite store at path and applies embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqliteMigrator{db: sqlDB}, migrations.SQLite, "sqlite"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

func (s *SQLiteStore) Close() {
	_ = s.sqlDB.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type sqliteMigrator struct {
	db *sql.DB
}

func (m sqliteMigrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	return err
}

func (m sqliteMigrator) applied(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE name = ?", name).Scan(&count)
	return count > 0, err
}

func (m sqliteMigrator) apply(ctx context.Context, name, upSQL string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upSQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_migrations (name, applied_at) VALUES (?, ?)",
		name, toMillis(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

// sqliteTransient matches lock contention that outlived busy_timeout.
// Extended codes such as SQLITE_BUSY_SNAPSHOT share the primary code in
// the low byte.
func sqliteTransient(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return true
	}
	return false
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func sqlNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type sqliteTx struct {
	tx *sql.Tx
}

const sqliteWalletColumns = `id, user_id, trading_balance, savings_balance, reserve_balance,
	total_earned, total_spent, status, created_at, updated_at`

func scanSQLiteWallet(row rowScanner) (domain.Wallet, error) {
	var w domain.Wallet
	var created, updated int64
	err := row.Scan(&w.ID, &w.UserID, &w.TradingBalance, &w.SavingsBalance, &w.ReserveBalance,
		&w.TotalEarned, &w.TotalSpent, &w.Status, &created, &updated)
	if err != nil {
		return w, sqlNotFound(err)
	}
	w.CreatedAt = fromMillis(created)
	w.UpdatedAt = fromMillis(updated)
	return w, nil
}

func (t *sqliteTx) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO wallets (`+sqliteWalletColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.TradingBalance, w.SavingsBalance, w.ReserveBalance,
		w.TotalEarned, w.TotalSpent, w.Status, toMillis(w.CreatedAt), toMillis(w.UpdatedAt),
	)
	if isSQLiteUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (t *sqliteTx) GetWallet(ctx context.Context, id uuid.UUID, _ bool) (domain.Wallet, error) {
	return scanSQLiteWallet(t.tx.QueryRowContext(ctx,
		"SELECT "+sqliteWalletColumns+" FROM wallets WHERE id = ?", id))
}

func (t *sqliteTx) GetWalletByUser(ctx context.Context, userID string, _ bool) (domain.Wallet, error) {
	return scanSQLiteWallet(t.tx.QueryRowContext(ctx,
		"SELECT "+sqliteWalletColumns+" FROM wallets WHERE user_id = ?", userID))
}

func (t *sqliteTx) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	return affected(t.tx.ExecContext(ctx,
		`UPDATE wallets SET trading_balance = ?, savings_balance = ?, reserve_balance = ?,
			total_earned = ?, total_spent = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		w.TradingBalance, w.SavingsBalance, w.ReserveBalance,
		w.TotalEarned, w.TotalSpent, w.Status, toMillis(w.UpdatedAt), w.ID,
	))
}

func (t *sqliteTx) AppendTransaction(ctx context.Context, wt *domain.WalletTransaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (id, wallet_id, type, account, direction, amount, reference_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wt.ID, wt.WalletID, wt.Type, wt.Account, wt.Direction, wt.Amount, wt.ReferenceID, toMillis(wt.CreatedAt),
	)
	return err
}

func (t *sqliteTx) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, wallet_id, type, account, direction, amount, reference_id, created_at
		 FROM wallet_transactions WHERE wallet_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		walletID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WalletTransaction
	for rows.Next() {
		var wt domain.WalletTransaction
		var created int64
		if err := rows.Scan(&wt.ID, &wt.WalletID, &wt.Type, &wt.Account, &wt.Direction,
			&wt.Amount, &wt.ReferenceID, &created); err != nil {
			return nil, err
		}
		wt.CreatedAt = fromMillis(created)
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (t *sqliteTx) LockKey(context.Context, string) error {
	return nil
}

const sqliteReserveColumns = `id, order_id, kind, buyer_wallet_id, amount, released_amount, refunded_amount,
	status, dispute_reason, otp_hash, qr_hash, created_at, expires_at, updated_at`

func scanSQLiteReserve(row rowScanner) (domain.Reserve, error) {
	var r domain.Reserve
	var created, expires, updated int64
	err := row.Scan(&r.ID, &r.OrderID, &r.Kind, &r.BuyerWalletID, &r.Amount, &r.ReleasedAmount,
		&r.RefundedAmount, &r.Status, &r.DisputeReason, &r.OTPHash, &r.QRHash,
		&created, &expires, &updated)
	if err != nil {
		return r, sqlNotFound(err)
	}
	r.CreatedAt = fromMillis(created)
	r.ExpiresAt = fromMillis(expires)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

func (t *sqliteTx) InsertReserve(ctx context.Context, r *domain.Reserve) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO reserves (`+sqliteReserveColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrderID, r.Kind, r.BuyerWalletID, r.Amount, r.ReleasedAmount, r.RefundedAmount,
		r.Status, r.DisputeReason, r.OTPHash, r.QRHash,
		toMillis(r.CreatedAt), toMillis(r.ExpiresAt), toMillis(r.UpdatedAt),
	)
	if isSQLiteUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (t *sqliteTx) GetReserve(ctx context.Context, id uuid.UUID, _ bool) (domain.Reserve, error) {
	return scanSQLiteReserve(t.tx.QueryRowContext(ctx,
		"SELECT "+sqliteReserveColumns+" FROM reserves WHERE id = ?", id))
}

func (t *sqliteTx) GetReserveByOrder(ctx context.Context, kind domain.ReserveKind, orderID string, _ bool) (domain.Reserve, error) {
	return scanSQLiteReserve(t.tx.QueryRowContext(ctx,
		"SELECT "+sqliteReserveColumns+" FROM reserves WHERE kind = ? AND order_id = ?", string(kind), orderID))
}

func (t *sqliteTx) UpdateReserve(ctx context.Context, r *domain.Reserve) error {
	return affected(t.tx.ExecContext(ctx,
		`UPDATE reserves SET released_amount = ?, refunded_amount = ?, status = ?,
			dispute_reason = ?, otp_hash = ?, qr_hash = ?, updated_at = ?
		 WHERE id = ?`,
		r.ReleasedAmount, r.RefundedAmount, r.Status, r.DisputeReason, r.OTPHash, r.QRHash,
		toMillis(r.UpdatedAt), r.ID,
	))
}

func (t *sqliteTx) ListExpiredReserves(ctx context.Context, now time.Time, limit int) ([]domain.Reserve, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+sqliteReserveColumns+` FROM reserves
		 WHERE status = 'held' AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		toMillis(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reserve
	for rows.Next() {
		r, err := scanSQLiteReserve(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const sqliteSplitColumns = `id, reserve_id, payee_wallet_id, gross_amount, platform_fee, delivery_fee,
	net_payout, status, release_method, released_at, created_at`

func scanSQLiteSplit(row rowScanner) (domain.EscrowSplit, error) {
	var s domain.EscrowSplit
	var released sql.NullInt64
	var created int64
	err := row.Scan(&s.ID, &s.ReserveID, &s.PayeeWalletID, &s.GrossAmount, &s.PlatformFee,
		&s.DeliveryFee, &s.NetPayout, &s.Status, &s.ReleaseMethod, &released, &created)
	if err != nil {
		return s, sqlNotFound(err)
	}
	s.ReleasedAt = timePtr(released)
	s.CreatedAt = fromMillis(created)
	return s, nil
}

func (t *sqliteTx) InsertSplits(ctx context.Context, splits []domain.EscrowSplit) error {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO escrow_splits (`+sqliteSplitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range splits {
		if _, err := stmt.ExecContext(ctx,
			s.ID, s.ReserveID, s.PayeeWalletID, s.GrossAmount, s.PlatformFee, s.DeliveryFee,
			s.NetPayout, s.Status, s.ReleaseMethod, nullMillis(s.ReleasedAt), toMillis(s.CreatedAt),
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) GetSplit(ctx context.Context, id uuid.UUID, _ bool) (domain.EscrowSplit, error) {
	return scanSQLiteSplit(t.tx.QueryRowContext(ctx,
		"SELECT "+sqliteSplitColumns+" FROM escrow_splits WHERE id = ?", id))
}

func (t *sqliteTx) ListSplits(ctx context.Context, reserveID uuid.UUID, _ bool) ([]domain.EscrowSplit, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+sqliteSplitColumns+" FROM escrow_splits WHERE reserve_id = ? ORDER BY rowid", reserveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EscrowSplit
	for rows.Next() {
		s, err := scanSQLiteSplit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *sqliteTx) UpdateSplit(ctx context.Context, s *domain.EscrowSplit) error {
	return affected(t.tx.ExecContext(ctx,
		`UPDATE escrow_splits SET status = ?, release_method = ?, released_at = ? WHERE id = ?`,
		s.Status, s.ReleaseMethod, nullMillis(s.ReleasedAt), s.ID,
	))
}

func (t *sqliteTx) InsertRevenue(ctx context.Context, r *domain.PlatformRevenue) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO platform_revenue (id, reserve_id, split_id, kind, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReserveID, nullUUID(r.SplitID), r.Kind, r.Amount, toMillis(r.CreatedAt),
	)
	return err
}

func (t *sqliteTx) ListRevenue(ctx context.Context, reserveID uuid.UUID) ([]domain.PlatformRevenue, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, reserve_id, split_id, kind, amount, created_at
		 FROM platform_revenue WHERE reserve_id = ? ORDER BY created_at, rowid`,
		reserveID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlatformRevenue
	for rows.Next() {
		var r domain.PlatformRevenue
		var split uuid.NullUUID
		var created int64
		if err := rows.Scan(&r.ID, &r.ReserveID, &split, &r.Kind, &r.Amount, &created); err != nil {
			return nil, err
		}
		r.SplitID = uuidPtr(split)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

const sqlitePayoutColumns = `id, payee_wallet_id, split_id, amount, status, withdrawal_id, created_at`

func scanSQLitePayouts(rows *sql.Rows) ([]domain.Payout, error) {
	defer rows.Close()
	var out []domain.Payout
	for rows.Next() {
		var p domain.Payout
		var split, withdrawal uuid.NullUUID
		var created int64
		if err := rows.Scan(&p.ID, &p.PayeeWalletID, &split, &p.Amount, &p.Status,
			&withdrawal, &created); err != nil {
			return nil, err
		}
		p.SplitID = uuidPtr(split)
		p.WithdrawalID = uuidPtr(withdrawal)
		p.CreatedAt = fromMillis(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *sqliteTx) InsertPayout(ctx context.Context, p *domain.Payout) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO payouts (`+sqlitePayoutColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PayeeWalletID, nullUUID(p.SplitID), p.Amount, p.Status,
		nullUUID(p.WithdrawalID), toMillis(p.CreatedAt),
	)
	return err
}

func (t *sqliteTx) ListPayouts(ctx context.Context, walletID uuid.UUID, status domain.PayoutStatus, _ bool) ([]domain.Payout, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = t.tx.QueryContext(ctx,
			"SELECT "+sqlitePayoutColumns+" FROM payouts WHERE payee_wallet_id = ? ORDER BY created_at, rowid",
			walletID)
	} else {
		rows, err = t.tx.QueryContext(ctx,
			"SELECT "+sqlitePayoutColumns+" FROM payouts WHERE payee_wallet_id = ? AND status = ? ORDER BY created_at, rowid",
			walletID, status)
	}
	if err != nil {
		return nil, err
	}
	return scanSQLitePayouts(rows)
}

func (t *sqliteTx) ListWithdrawalPayouts(ctx context.Context, withdrawalID uuid.UUID, _ bool) ([]domain.Payout, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+sqlitePayoutColumns+" FROM payouts WHERE withdrawal_id = ? ORDER BY created_at, rowid",
		withdrawalID)
	if err != nil {
		return nil, err
	}
	return scanSQLitePayouts(rows)
}

func (t *sqliteTx) UpdatePayout(ctx context.Context, p *domain.Payout) error {
	return affected(t.tx.ExecContext(ctx,
		`UPDATE payouts SET status = ?, withdrawal_id = ? WHERE id = ?`,
		p.Status, nullUUID(p.WithdrawalID), p.ID,
	))
}

const sqliteWithdrawalColumns = `id, payee_id, payee_wallet_id, amount, covered_amount, method, destination,
	status, gateway_reference, failure_reason, requested_at, updated_at`

func scanSQLiteWithdrawal(row rowScanner) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var requested, updated int64
	err := row.Scan(&w.ID, &w.PayeeID, &w.PayeeWalletID, &w.Amount, &w.CoveredAmount, &w.Method,
		&w.Destination, &w.Status, &w.GatewayReference, &w.FailureReason, &requested, &updated)
	if err != nil {
		return w, sqlNotFound(err)
	}
	w.RequestedAt = fromMillis(requested)
	w.UpdatedAt = fromMillis(updated)
	return w, nil
}

func (t *sqliteTx) InsertWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO withdrawals (`+sqliteWithdrawalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.PayeeID, w.PayeeWalletID, w.Amount, w.CoveredAmount, w.Method, w.Destination,
		w.Status, w.GatewayReference, w.FailureReason, toMillis(w.RequestedAt), toMillis(w.UpdatedAt),
	)
	return err
}

func (t *sqliteTx) GetWithdrawal(ctx context.Context, id uuid.UUID, _ bool) (domain.WithdrawalRequest, error) {
	return scanSQLiteWithdrawal(t.tx.QueryRowContext(ctx,
		"SELECT "+sqliteWithdrawalColumns+" FROM withdrawals WHERE id = ?", id))
}

func (t *sqliteTx) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	return affected(t.tx.ExecContext(ctx,
		`UPDATE withdrawals SET status = ?, gateway_reference = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ?`,
		w.Status, w.GatewayReference, w.FailureReason, toMillis(w.UpdatedAt), w.ID,
	))
}

func (t *sqliteTx) ListWithdrawals(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]domain.WithdrawalRequest, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+sqliteWithdrawalColumns+" FROM withdrawals WHERE status = ? ORDER BY requested_at, rowid LIMIT ?",
		status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanSQLiteWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *sqliteTx) GetIdempotency(ctx context.Context, scope, key string) (domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{Scope: scope, Key: key}
	var created int64
	err := t.tx.QueryRowContext(ctx,
		"SELECT request_hash, response_body, created_at FROM idempotency_keys WHERE scope = ? AND key = ?",
		scope, key,
	).Scan(&rec.RequestHash, &rec.ResponseBody, &created)
	if err != nil {
		return rec, sqlNotFound(err)
	}
	rec.CreatedAt = fromMillis(created)
	return rec, nil
}

func (t *sqliteTx) PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (scope, key, request_hash, response_body, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Scope, rec.Key, rec.RequestHash, rec.ResponseBody, toMillis(rec.CreatedAt),
	)
	if isSQLiteUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
