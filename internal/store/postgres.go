package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/models"
)

// Schema creates the payment journal tables. It is idempotent.
//
//go:embed schema.sql
var Schema string

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	uniqueViolation = "23505"
)

// Store is the payment journal and idempotency key table.
type Store struct {
	db   *sql.DB
	pool *pgxpool.Pool
}

// NewStore connects a pgx pool and exposes it through database/sql.
func NewStore(ctx context.Context, connString string) (*Store, error) {
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

	return &Store{db: stdlib.OpenDBFromPool(pool), pool: pool}, nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reserve claims an idempotency key for a request. It returns the stored
// record when the key already completed with the same request hash, and nil
// when the key was freshly reserved.
func (s *Store) Reserve(ctx context.Context, key, requestHash string) (*models.IdempotencyRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	var (
		status, storedHash string
		paymentID          sql.NullString
		responseStatus     sql.NullInt64
		responseBody       []byte
	)
	err = tx.QueryRowContext(ctx,
		"SELECT status, request_hash, payment_id, response_status, response_body FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&status, &storedHash, &paymentID, &responseStatus, &responseBody)

	switch {
	case err == nil:
		if storedHash != requestHash {
			return nil, domain.ErrIdempotencyMismatch
		}
		if status != StatusCompleted {
			return nil, domain.ErrIdempotencyConflict
		}
		return &models.IdempotencyRecord{
			Key:            key,
			RequestHash:    storedHash,
			Status:         status,
			PaymentID:      paymentID.String,
			ResponseBody:   responseBody,
			ResponseStatus: int(responseStatus.Int64),
		}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)",
		key, requestHash, StatusInProgress,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return nil, nil
}

// Complete journals a payment and, when key is set, stores the response
// replayed for that key.
func (s *Store) Complete(ctx context.Context, key string, rec *models.PaymentRecord, responseStatus int, responseBody []byte) error {
	transfers, err := json.Marshal(rec.Transfers)
	if err != nil {
		return fmt.Errorf("encode transfers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (id, mode, source_account, destination_account, case_id, status, error, transfers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, error = EXCLUDED.error, transfers = EXCLUDED.transfers`,
		rec.ID, rec.Mode, rec.SourceAccount, rec.DestinationAccount,
		nullString(rec.CaseID), rec.Status, nullString(rec.Error), transfers,
	)
	if err != nil {
		return fmt.Errorf("payment insert failed: %w", err)
	}

	if key != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE idempotency_keys SET status = $1, payment_id = $2, response_status = $3, response_body = $4 WHERE key = $5",
			StatusCompleted, rec.ID, responseStatus, responseBody, key,
		)
		if err != nil {
			return fmt.Errorf("idempotency update failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// Release drops an in-progress reservation so the key can be retried.
// Completed keys are left alone.
func (s *Store) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE key = $1 AND status = $2",
		key, StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}

// GetPayment reads one journal entry.
func (s *Store) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var (
		rec            models.PaymentRecord
		caseID, errMsg sql.NullString
		transfers      []byte
		createdAt      time.Time
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, mode, source_account, destination_account, case_id, status, error, transfers, created_at FROM payments WHERE id = $1",
		id,
	).Scan(&rec.ID, &rec.Mode, &rec.SourceAccount, &rec.DestinationAccount, &caseID, &rec.Status, &errMsg, &transfers, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment query failed: %w", err)
	}

	if err := json.Unmarshal(transfers, &rec.Transfers); err != nil {
		return nil, fmt.Errorf("decode transfers: %w", err)
	}
	rec.CaseID = caseID.String
	rec.Error = errMsg.String
	rec.CreatedAt = createdAt.UTC()
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
