package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/log"
	"github.com/punchamoorthee/ledgersend/internal/models"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNoJournal is returned by ProcessPayment on a service built without one.
var ErrNoJournal = errors.New("payment journal not configured")

// Journal stores idempotency keys and executed payments.
type Journal interface {
	Reserve(ctx context.Context, key, requestHash string) (*models.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, rec *models.PaymentRecord, responseStatus int, responseBody []byte) error
	Release(ctx context.Context, key string) error
	GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error)
}

// ProcessPayment submits req at most once per idempotency key. A replayed key
// with the same request hash returns the stored record instead of a result;
// a failed payment is recorded and replayed like a successful one.
func (s *PaymentService) ProcessPayment(ctx context.Context, req domain.PaymentRequest, idempotencyKey, reqHash string) (*Result, *models.IdempotencyRecord, error) {
	if s.journal == nil {
		return nil, nil, ErrNoJournal
	}

	// 1. Idempotency reservation
	existing, err := s.journal.Reserve(ctx, idempotencyKey, reqHash)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		log.Orchestrator.Debug().Str("key", idempotencyKey).Str("payment", existing.PaymentID).Msg("idempotent replay")
		return nil, existing, nil
	}

	// 2. Execution
	res, execErr := s.Submit(ctx, req)

	// 3. Journal. The payment already left the process, so a caller that went
	// away must not keep the key in progress.
	jctx := context.WithoutCancel(ctx)
	rec := paymentRecord(req, res, execErr)
	status, body := response(rec.ID, res, execErr)
	if err := s.journal.Complete(jctx, idempotencyKey, rec, status, body); err != nil {
		log.Orchestrator.Error().Err(err).Str("key", idempotencyKey).Str("payment", rec.ID).Msg("journal write failed")
		if execErr == nil {
			// Money moved: the key stays reserved so a retry cannot pay twice.
			return res, nil, nil
		}
		if relErr := s.journal.Release(jctx, idempotencyKey); relErr != nil {
			log.Orchestrator.Error().Err(relErr).Str("key", idempotencyKey).Msg("idempotency key release failed")
		}
	}
	return res, nil, execErr
}

// GetPayment reads a journaled payment.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	return s.journal.GetPayment(ctx, id)
}

func paymentRecord(req domain.PaymentRequest, res *Result, err error) *models.PaymentRecord {
	rec := &models.PaymentRecord{
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Status:             StatusCompleted,
	}
	if res != nil {
		rec.ID = res.PaymentID
		rec.Mode = res.Mode
		rec.CaseID = res.CaseID
		rec.Transfers = res.Transfers
	} else {
		rec.ID = uuid.NewString()
		if mode, modeErr := domain.ModeOf(req); modeErr == nil {
			rec.Mode = mode.Name()
		}
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}
	return rec
}

func response(paymentID string, res *Result, err error) (int, []byte) {
	if err == nil {
		body, mErr := json.Marshal(res)
		if mErr == nil {
			return http.StatusCreated, body
		}
		// The payment succeeded; keep its id replayable even if the chain
		// does not encode.
		log.Orchestrator.Error().Err(mErr).Str("payment", paymentID).Msg("encode result")
		body, _ = json.Marshal(map[string]string{"id": paymentID, "mode": res.Mode})
		return http.StatusCreated, body
	}
	body, _ := json.Marshal(map[string]string{"error": err.Error(), "payment_id": paymentID})
	return domain.HTTPStatus(err), body
}
