// Package notary proposes atomic-mode cases to a notary and relays the final
// ledger's preparation receipt as the case fulfillment.
package notary

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/log"
	"github.com/punchamoorthee/ledgersend/internal/models"
	"github.com/punchamoorthee/ledgersend/internal/retry"
)

// MaxCaseIDLength bounds the unique segment of a case id.
const MaxCaseIDLength = 40

// Remote is the JSON transport the coordinator talks through.
type Remote interface {
	Get(ctx context.Context, target string, out any) error
	Put(ctx context.Context, target string, body, out any) error
}

type Coordinator struct {
	remote Remote
	policy retry.Policy
}

func NewCoordinator(r Remote, policy retry.Policy) *Coordinator {
	return &Coordinator{remote: r, policy: policy}
}

// CaseParams describe the case proposed for one payment.
type CaseParams struct {
	Notary           string
	ReceiptCondition *models.Condition
	Transfers        []*models.Transfer
	ExpiresAt        string
	// CaseID is optional; a UUID is generated when empty.
	CaseID string
}

// CaseURI validates a caller-supplied or generated case id and returns the
// case URI on notary. Any URI prefix of id is stripped first and the unique
// segment is unescaped before it is measured, so a URI returned by CaseURI
// maps to itself.
func CaseURI(notary, id string) (string, error) {
	unique := id
	if i := strings.LastIndex(unique, "/"); i >= 0 {
		unique = unique[i+1:]
	}
	if raw, err := url.PathUnescape(unique); err == nil {
		unique = raw
	}
	if unique == "" {
		unique = uuid.NewString()
	}
	if len(unique) > MaxCaseIDLength {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidCaseID, unique)
	}
	return strings.TrimRight(notary, "/") + "/cases/" + url.PathEscape(unique), nil
}

// SetupCase proposes the case and returns its URI. An invalid case id fails
// before any request is sent.
func (c *Coordinator) SetupCase(ctx context.Context, p CaseParams) (string, error) {
	caseID, err := CaseURI(p.Notary, p.CaseID)
	if err != nil {
		return "", err
	}

	targets := make([]string, len(p.Transfers))
	for i, t := range p.Transfers {
		targets[i] = t.ID + "/fulfillment"
	}

	body := models.Case{
		ID:                  caseID,
		State:               models.CaseProposed,
		ExecutionCondition:  p.ReceiptCondition,
		ExpiresAt:           p.ExpiresAt,
		Notaries:            []models.NotaryRef{{URL: p.Notary}},
		NotificationTargets: targets,
	}
	if err := c.remote.Put(ctx, caseID, body, nil); err != nil {
		return "", &domain.NotaryError{CaseID: caseID, Err: err}
	}

	log.Notary.Debug().Str("case", caseID).Int("targets", len(targets)).Msg("case proposed")
	return caseID, nil
}

// PostFulfillment waits for finalTransfer to be prepared and forwards its
// signed state receipt to the case's fulfillment endpoint.
func (c *Coordinator) PostFulfillment(ctx context.Context, finalTransfer *models.Transfer, caseID string) error {
	receipt, err := retry.Poll(ctx, c.policy, func(ctx context.Context, attempt int) (*models.StateReceipt, bool, error) {
		var r models.StateReceipt
		if err := c.remote.Get(ctx, finalTransfer.ID+"/state", &r); err != nil {
			return nil, false, fmt.Errorf("get transfer state: %w", err)
		}
		log.Notary.Debug().
			Str("transfer", finalTransfer.ID).
			Str("state", r.Message.State).
			Int("attempt", attempt).
			Msg("polled final transfer")
		return &r, r.Message.State == models.StatePrepared, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		last := ""
		if receipt != nil {
			last = receipt.Message.State
		}
		return &domain.TransferStateTimeoutError{
			Transfer:  finalTransfer.ID,
			Want:      models.StatePrepared,
			LastState: last,
			Attempts:  max(c.policy.MaxAttempts, 1),
		}
	}
	if err != nil {
		return err
	}

	fulfillment := models.Fulfillment{Type: receipt.Type, Signature: receipt.Signature}
	if err := c.remote.Put(ctx, caseID+"/fulfillment", fulfillment, nil); err != nil {
		return fmt.Errorf("post fulfillment: %w", err)
	}

	log.Notary.Info().Str("case", caseID).Msg("fulfillment relayed")
	return nil
}
