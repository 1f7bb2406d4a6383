package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store/migrations"
)

// PostgresStore is the production store. Row locks are taken with
// SELECT ... FOR UPDATE under READ COMMITTED, so concurrent operations on
// the same wallet or reserve queue behind each other instead of aborting.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool for bulk tooling such as the seeder.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, pgMigrator{pool: s.pool}, migrations.Postgres, "postgres")
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgMigrator struct {
	pool *pgxpool.Pool
}

func (m pgMigrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

func (m pgMigrator) applied(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)", name).Scan(&exists)
	return exists, err
}

func (m pgMigrator) apply(ctx context.Context, name, upSQL string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upSQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING", name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgTransient matches serialization failures, deadlocks and lost or
// refused connections.
func pgTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01", "08000", "08003", "08006":
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func forUpdate(query string, lock bool) string {
	if lock {
		return query + " FOR UPDATE"
	}
	return query
}

type pgTx struct {
	tx pgx.Tx
}

const pgWalletColumns = `id, user_id, trading_balance, savings_balance, reserve_balance,
	total_earned, total_spent, status, created_at, updated_at`

func scanPgWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.TradingBalance, &w.SavingsBalance, &w.ReserveBalance,
		&w.TotalEarned, &w.TotalSpent, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	return w, notFound(err)
}

func (t *pgTx) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (id, user_id, trading_balance, savings_balance, reserve_balance,
			total_earned, total_spent, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.TradingBalance, w.SavingsBalance, w.ReserveBalance,
		w.TotalEarned, w.TotalSpent, w.Status, w.CreatedAt, w.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (t *pgTx) GetWallet(ctx context.Context, id uuid.UUID, lock bool) (domain.Wallet, error) {
	q := forUpdate("SELECT "+pgWalletColumns+" FROM wallets WHERE id = $1", lock)
	return scanPgWallet(t.tx.QueryRow(ctx, q, id))
}

func (t *pgTx) GetWalletByUser(ctx context.Context, userID string, lock bool) (domain.Wallet, error) {
	q := forUpdate("SELECT "+pgWalletColumns+" FROM wallets WHERE user_id = $1", lock)
	return scanPgWallet(t.tx.QueryRow(ctx, q, userID))
}

func (t *pgTx) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets SET trading_balance = $2, savings_balance = $3, reserve_balance = $4,
			total_earned = $5, total_spent = $6, status = $7, updated_at = $8
		 WHERE id = $1`,
		w.ID, w.TradingBalance, w.SavingsBalance, w.ReserveBalance,
		w.TotalEarned, w.TotalSpent, w.Status, w.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, wt *domain.WalletTransaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallet_transactions (id, wallet_id, type, account, direction, amount, reference_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wt.ID, wt.WalletID, wt.Type, wt.Account, wt.Direction, wt.Amount, wt.ReferenceID, wt.CreatedAt,
	)
	return err
}

func (t *pgTx) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, wallet_id, type, account, direction, amount, reference_id, created_at
		 FROM wallet_transactions WHERE wallet_id = $1 ORDER BY seq DESC LIMIT $2`,
		walletID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WalletTransaction
	for rows.Next() {
		var wt domain.WalletTransaction
		if err := rows.Scan(&wt.ID, &wt.WalletID, &wt.Type, &wt.Account, &wt.Direction,
			&wt.Amount, &wt.ReferenceID, &wt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (t *pgTx) LockKey(ctx context.Context, key string) error {
	_, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key)
	return err
}

const pgReserveColumns = `id, order_id, kind, buyer_wallet_id, amount, released_amount, refunded_amount,
	status, dispute_reason, otp_hash, qr_hash, created_at, expires_at, updated_at`

func scanPgReserve(row pgx.Row) (domain.Reserve, error) {
	var r domain.Reserve
	err := row.Scan(&r.ID, &r.OrderID, &r.Kind, &r.BuyerWalletID, &r.Amount, &r.ReleasedAmount,
		&r.RefundedAmount, &r.Status, &r.DisputeReason, &r.OTPHash, &r.QRHash,
		&r.CreatedAt, &r.ExpiresAt, &r.UpdatedAt)
	return r, notFound(err)
}

func (t *pgTx) InsertReserve(ctx context.Context, r *domain.Reserve) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reserves (`+pgReserveColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.OrderID, r.Kind, r.BuyerWalletID, r.Amount, r.ReleasedAmount, r.RefundedAmount,
		r.Status, r.DisputeReason, r.OTPHash, r.QRHash, r.CreatedAt, r.ExpiresAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (t *pgTx) GetReserve(ctx context.Context, id uuid.UUID, lock bool) (domain.Reserve, error) {
	q := forUpdate("SELECT "+pgReserveColumns+" FROM reserves WHERE id = $1", lock)
	return scanPgReserve(t.tx.QueryRow(ctx, q, id))
}

func (t *pgTx) GetReserveByOrder(ctx context.Context, kind domain.ReserveKind, orderID string, lock bool) (domain.Reserve, error) {
	q := forUpdate("SELECT "+pgReserveColumns+" FROM reserves WHERE kind = $1 AND order_id = $2", lock)
	return scanPgReserve(t.tx.QueryRow(ctx, q, string(kind), orderID))
}

func (t *pgTx) UpdateReserve(ctx context.Context, r *domain.Reserve) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE reserves SET released_amount = $2, refunded_amount = $3, status = $4,
			dispute_reason = $5, otp_hash = $6, qr_hash = $7, updated_at = $8
		 WHERE id = $1`,
		r.ID, r.ReleasedAmount, r.RefundedAmount, r.Status, r.DisputeReason, r.OTPHash, r.QRHash, r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListExpiredReserves(ctx context.Context, now time.Time, limit int) ([]domain.Reserve, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+pgReserveColumns+` FROM reserves
		 WHERE status = 'held' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reserve
	for rows.Next() {
		r, err := scanPgReserve(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const pgSplitColumns = `id, reserve_id, payee_wallet_id, gross_amount, platform_fee, delivery_fee,
	net_payout, status, release_method, released_at, created_at`

func scanPgSplit(row pgx.Row) (domain.EscrowSplit, error) {
	var s domain.EscrowSplit
	err := row.Scan(&s.ID, &s.ReserveID, &s.PayeeWalletID, &s.GrossAmount, &s.PlatformFee,
		&s.DeliveryFee, &s.NetPayout, &s.Status, &s.ReleaseMethod, &s.ReleasedAt, &s.CreatedAt)
	return s, notFound(err)
}

func (t *pgTx) InsertSplits(ctx context.Context, splits []domain.EscrowSplit) error {
	batch := &pgx.Batch{}
	for _, s := range splits {
		batch.Queue(
			`INSERT INTO escrow_splits (`+pgSplitColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			s.ID, s.ReserveID, s.PayeeWalletID, s.GrossAmount, s.PlatformFee, s.DeliveryFee,
			s.NetPayout, s.Status, s.ReleaseMethod, s.ReleasedAt, s.CreatedAt,
		)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) GetSplit(ctx context.Context, id uuid.UUID, lock bool) (domain.EscrowSplit, error) {
	q := forUpdate("SELECT "+pgSplitColumns+" FROM escrow_splits WHERE id = $1", lock)
	return scanPgSplit(t.tx.QueryRow(ctx, q, id))
}

func (t *pgTx) ListSplits(ctx context.Context, reserveID uuid.UUID, lock bool) ([]domain.EscrowSplit, error) {
	q := forUpdate("SELECT "+pgSplitColumns+" FROM escrow_splits WHERE reserve_id = $1 ORDER BY seq", lock)
	rows, err := t.tx.Query(ctx, q, reserveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EscrowSplit
	for rows.Next() {
		s, err := scanPgSplit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateSplit(ctx context.Context, s *domain.EscrowSplit) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE escrow_splits SET status = $2, release_method = $3, released_at = $4 WHERE id = $1`,
		s.ID, s.Status, s.ReleaseMethod, s.ReleasedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertRevenue(ctx context.Context, r *domain.PlatformRevenue) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO platform_revenue (id, reserve_id, split_id, kind, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ReserveID, r.SplitID, r.Kind, r.Amount, r.CreatedAt,
	)
	return err
}

func (t *pgTx) ListRevenue(ctx context.Context, reserveID uuid.UUID) ([]domain.PlatformRevenue, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, reserve_id, split_id, kind, amount, created_at
		 FROM platform_revenue WHERE reserve_id = $1 ORDER BY created_at, id`,
		reserveID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlatformRevenue
	for rows.Next() {
		var r domain.PlatformRevenue
		if err := rows.Scan(&r.ID, &r.ReserveID, &r.SplitID, &r.Kind, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const pgPayoutColumns = `id, payee_wallet_id, split_id, amount, status, withdrawal_id, created_at`

func scanPgPayouts(rows pgx.Rows) ([]domain.Payout, error) {
	defer rows.Close()
	var out []domain.Payout
	for rows.Next() {
		var p domain.Payout
		if err := rows.Scan(&p.ID, &p.PayeeWalletID, &p.SplitID, &p.Amount, &p.Status,
			&p.WithdrawalID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertPayout(ctx context.Context, p *domain.Payout) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO payouts (`+pgPayoutColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.PayeeWalletID, p.SplitID, p.Amount, p.Status, p.WithdrawalID, p.CreatedAt,
	)
	return err
}

func (t *pgTx) ListPayouts(ctx context.Context, walletID uuid.UUID, status domain.PayoutStatus, lock bool) ([]domain.Payout, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		q := forUpdate("SELECT "+pgPayoutColumns+" FROM payouts WHERE payee_wallet_id = $1 ORDER BY seq", lock)
		rows, err = t.tx.Query(ctx, q, walletID)
	} else {
		q := forUpdate("SELECT "+pgPayoutColumns+" FROM payouts WHERE payee_wallet_id = $1 AND status = $2 ORDER BY seq", lock)
		rows, err = t.tx.Query(ctx, q, walletID, status)
	}
	if err != nil {
		return nil, err
	}
	return scanPgPayouts(rows)
}

func (t *pgTx) ListWithdrawalPayouts(ctx context.Context, withdrawalID uuid.UUID, lock bool) ([]domain.Payout, error) {
	q := forUpdate("SELECT "+pgPayoutColumns+" FROM payouts WHERE withdrawal_id = $1 ORDER BY seq", lock)
	rows, err := t.tx.Query(ctx, q, withdrawalID)
	if err != nil {
		return nil, err
	}
	return scanPgPayouts(rows)
}

func (t *pgTx) UpdatePayout(ctx context.Context, p *domain.Payout) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE payouts SET status = $2, withdrawal_id = $3 WHERE id = $1`,
		p.ID, p.Status, p.WithdrawalID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgWithdrawalColumns = `id, payee_id, payee_wallet_id, amount, covered_amount, method, destination,
	status, gateway_reference, failure_reason, requested_at, updated_at`

func scanPgWithdrawal(row pgx.Row) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := row.Scan(&w.ID, &w.PayeeID, &w.PayeeWalletID, &w.Amount, &w.CoveredAmount, &w.Method,
		&w.Destination, &w.Status, &w.GatewayReference, &w.FailureReason, &w.RequestedAt, &w.UpdatedAt)
	return w, notFound(err)
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO withdrawals (`+pgWithdrawalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.ID, w.PayeeID, w.PayeeWalletID, w.Amount, w.CoveredAmount, w.Method, w.Destination,
		w.Status, w.GatewayReference, w.FailureReason, w.RequestedAt, w.UpdatedAt,
	)
	return err
}

func (t *pgTx) GetWithdrawal(ctx context.Context, id uuid.UUID, lock bool) (domain.WithdrawalRequest, error) {
	q := forUpdate("SELECT "+pgWithdrawalColumns+" FROM withdrawals WHERE id = $1", lock)
	return scanPgWithdrawal(t.tx.QueryRow(ctx, q, id))
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE withdrawals SET status = $2, gateway_reference = $3, failure_reason = $4, updated_at = $5
		 WHERE id = $1`,
		w.ID, w.Status, w.GatewayReference, w.FailureReason, w.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListWithdrawals(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]domain.WithdrawalRequest, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+pgWithdrawalColumns+" FROM withdrawals WHERE status = $1 ORDER BY requested_at LIMIT $2",
		status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanPgWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *pgTx) GetIdempotency(ctx context.Context, scope, key string) (domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{Scope: scope, Key: key}
	err := t.tx.QueryRow(ctx,
		"SELECT request_hash, response_body, created_at FROM idempotency_keys WHERE scope = $1 AND key = $2",
		scope, key,
	).Scan(&rec.RequestHash, &rec.ResponseBody, &rec.CreatedAt)
	return rec, notFound(err)
}

func (t *pgTx) PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO idempotency_keys (scope, key, request_hash, response_body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.Scope, rec.Key, rec.RequestHash, rec.ResponseBody, rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}
