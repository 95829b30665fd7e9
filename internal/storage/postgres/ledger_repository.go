package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paymenttech/payment-processor/internal/domain"
)

type ledgerRepository struct {
	db *sql.DB
}

// NewRetryLedgerRepository создаёт PostgreSQL-реализацию RetryLedgerRepository.
func NewRetryLedgerRepository(store *Store) domain.RetryLedgerRepository {
	return &ledgerRepository{db: store.DB()}
}

func (r *ledgerRepository) Create(entry domain.RetryLedgerEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retry_ledger (
			payment_ref, retry_count, last_retry_at, error_log, created_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		entry.PaymentRef, entry.RetryCount, nullableTime(entry.LastRetryAt),
		entry.ErrorLog, entry.CreatedAt, entry.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrLedgerAlreadyExists
		}
		return fmt.Errorf("insert retry ledger entry: %w", err)
	}

	return nil
}

func (r *ledgerRepository) GetByPaymentRef(paymentRef string) (domain.RetryLedgerEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		entry       domain.RetryLedgerEntry
		lastRetryAt sql.NullTime
		resolvedAt  sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT payment_ref, retry_count, last_retry_at, error_log, created_at, resolved_at
		FROM retry_ledger
		WHERE payment_ref = $1
	`, paymentRef).Scan(
		&entry.PaymentRef, &entry.RetryCount, &lastRetryAt,
		&entry.ErrorLog, &entry.CreatedAt, &resolvedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RetryLedgerEntry{}, domain.ErrLedgerNotFound
		}
		return domain.RetryLedgerEntry{}, fmt.Errorf("select retry ledger entry: %w", err)
	}

	if lastRetryAt.Valid {
		entry.LastRetryAt = lastRetryAt.Time
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		entry.ResolvedAt = &t
	}

	return entry, nil
}

// Save обновляет запись условно: текущий retry_count должен совпасть с
// expectedRetryCount. Так повторная доставка одного события не
// инкрементирует счётчик дважды.
func (r *ledgerRepository) Save(entry domain.RetryLedgerEntry, expectedRetryCount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE retry_ledger
		SET retry_count = $1,
		    last_retry_at = $2,
		    error_log = $3,
		    resolved_at = $4
		WHERE payment_ref = $5
		  AND retry_count = $6
		  AND resolved_at IS NULL
	`,
		entry.RetryCount, nullableTime(entry.LastRetryAt), entry.ErrorLog,
		entry.ResolvedAt, entry.PaymentRef, expectedRetryCount,
	)
	if err != nil {
		return fmt.Errorf("update retry ledger entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry ledger rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.entryExists(ctx, entry.PaymentRef)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrLedgerNotFound
		}
		return domain.ErrLedgerRetryConflict
	}

	return nil
}

// Reopen выдаёт платежу новый бюджет повторов: счётчик обнуляется,
// resolved_at снимается. Журнал ошибок остаётся как audit trail.
func (r *ledgerRepository) Reopen(paymentRef string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE retry_ledger
		SET retry_count = 0,
		    last_retry_at = NULL,
		    resolved_at = NULL
		WHERE payment_ref = $1
	`, paymentRef)
	if err != nil {
		return fmt.Errorf("reopen retry ledger entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry ledger rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrLedgerNotFound
	}

	return nil
}

func (r *ledgerRepository) ListUnresolved(limit int) ([]domain.RetryLedgerEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT payment_ref, retry_count, last_retry_at, error_log, created_at, resolved_at
		FROM retry_ledger
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC, payment_ref ASC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list unresolved ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.RetryLedgerEntry, 0)
	for rows.Next() {
		var (
			entry       domain.RetryLedgerEntry
			lastRetryAt sql.NullTime
			resolvedAt  sql.NullTime
		)
		if err := rows.Scan(
			&entry.PaymentRef, &entry.RetryCount, &lastRetryAt,
			&entry.ErrorLog, &entry.CreatedAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		if lastRetryAt.Valid {
			entry.LastRetryAt = lastRetryAt.Time
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			entry.ResolvedAt = &t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}

	return entries, nil
}

func (r *ledgerRepository) entryExists(ctx context.Context, paymentRef string) (bool, error) {
	var ref string
	err := r.db.QueryRowContext(ctx, `SELECT payment_ref FROM retry_ledger WHERE payment_ref = $1`, paymentRef).Scan(&ref)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check ledger entry exists: %w", err)
}

var _ domain.RetryLedgerRepository = (*ledgerRepository)(nil)
