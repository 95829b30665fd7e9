package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paymenttech/payment-processor/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

// Create вставляет платёж и свежую запись журнала повторов одной транзакцией:
// платёж без журнала (и наоборот) существовать не может.
func (r *paymentRepository) Create(payment domain.Payment, ledger domain.RetryLedgerEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, transaction_id, idempotency_key, amount, currency,
			source_account, destination_account, status, failure_reason,
			version, created_at, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		payment.ID, payment.TransactionID, payment.IdempotencyKey,
		payment.Amount, payment.Currency,
		payment.SourceAccount, payment.DestinationAccount,
		string(payment.Status), payment.FailureReason,
		payment.Version, payment.CreatedAt, payment.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO retry_ledger (
			payment_ref, retry_count, last_retry_at, error_log, created_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		ledger.PaymentRef, ledger.RetryCount, nullableTime(ledger.LastRetryAt),
		ledger.ErrorLog, ledger.CreatedAt, ledger.ResolvedAt,
	); err != nil {
		return fmt.Errorf("insert retry ledger entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	return r.getByColumn("id", id)
}

func (r *paymentRepository) GetByTransactionID(transactionID string) (domain.Payment, error) {
	return r.getByColumn("transaction_id", transactionID)
}

func (r *paymentRepository) GetByIdempotencyKey(key string) (domain.Payment, error) {
	return r.getByColumn("idempotency_key", key)
}

func (r *paymentRepository) getByColumn(column, value string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		payment     domain.Payment
		status      string
		processedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, idempotency_key, amount, currency,
		       source_account, destination_account, status, failure_reason,
		       version, created_at, processed_at
		FROM payments
		WHERE `+column+` = $1
	`, value).Scan(
		&payment.ID, &payment.TransactionID, &payment.IdempotencyKey,
		&payment.Amount, &payment.Currency,
		&payment.SourceAccount, &payment.DestinationAccount,
		&status, &payment.FailureReason,
		&payment.Version, &payment.CreatedAt, &processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment by %s: %w", column, err)
	}

	payment.Status = domain.PaymentStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		payment.ProcessedAt = &t
	}

	return payment, nil
}

// Save применяет обновление с optimistic locking: версия сверяется в WHERE,
// ноль затронутых строк означает либо отсутствие платежа, либо stale-версию.
func (r *paymentRepository) Save(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    failure_reason = $2,
		    processed_at = $3,
		    version = version + 1
		WHERE id = $4
		  AND version = $5
	`,
		string(payment.Status),
		payment.FailureReason,
		payment.ProcessedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.paymentExists(ctx, payment.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrPaymentVersionConflict
	}

	return nil
}

func (r *paymentRepository) paymentExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM payments WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check payment exists: %w", err)
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
