// Package condition derives the execution, cancellation and receipt
// conditions that guard every hop of a payment. Apart from FetchReceipt
// everything here is a pure function of its inputs.
package condition

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/models"
)

const (
	// TypeAnd marks a compound condition satisfied iff all subconditions are.
	TypeAnd = "and"
	// TypeEd25519 is the signature scheme of notary attestations.
	TypeEd25519 = "ed25519-sha512"
)

// StateSource reads the signed state of a transfer from its ledger.
type StateSource interface {
	TransferState(ctx context.Context, transferID string) (*models.StateReceipt, error)
}

// Params are the inputs shared by Execution and Cancellation. Caller-supplied
// Execution or Cancellation conditions are returned verbatim.
type Params struct {
	Mode         domain.Mode
	CaseID       string
	Receipt      *models.Condition
	Execution    *models.Condition
	Cancellation *models.Condition
}

// Receipt builds the condition satisfied by finalTransfer's ledger signing
// that the transfer reached state. signer describes the ledger's key.
func Receipt(finalTransfer *models.Transfer, state string, signer *models.StateReceipt) (*models.Condition, error) {
	hash, err := HashJSON(models.StateMessage{ID: finalTransfer.ID, State: state})
	if err != nil {
		return nil, fmt.Errorf("hash receipt message: %w", err)
	}
	return &models.Condition{
		Type:        signer.Type,
		Signer:      finalTransfer.Ledger,
		PublicKey:   signer.PublicKey,
		MessageHash: hash,
	}, nil
}

// FetchReceipt reads the final ledger's key from the transfer state endpoint
// and builds the receipt condition for state.
func FetchReceipt(ctx context.Context, src StateSource, finalTransfer *models.Transfer, state string) (*models.Condition, error) {
	signer, err := src.TransferState(ctx, finalTransfer.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt key: %w", err)
	}
	return Receipt(finalTransfer, state, signer)
}

// Notary builds the condition satisfied by the notary attesting that the
// case reached state ("executed" or "cancelled").
func Notary(notary, publicKey, caseID, state string) *models.Condition {
	return &models.Condition{
		Type:        TypeEd25519,
		Signer:      notary,
		PublicKey:   publicKey,
		MessageHash: HashString(CaseAttestation(caseID, state)),
	}
}

// CaseAttestation is the message a notary signs for a case decision.
func CaseAttestation(caseID, state string) string {
	return "urn:notary:" + caseID + ":" + state
}

// Execution returns the execution condition for p.Mode: the 2-of-2
// AND(notary executed, receipt) in atomic mode, the receipt otherwise.
func Execution(p Params) *models.Condition {
	if p.Execution != nil {
		return p.Execution
	}
	atomic, ok := p.Mode.(domain.Atomic)
	if !ok {
		return p.Receipt
	}
	subs := []models.Condition{*Notary(atomic.Notary, atomic.NotaryPublicKey, p.CaseID, models.CaseExecuted)}
	if p.Receipt != nil {
		subs = append(subs, *p.Receipt)
	}
	return &models.Condition{Type: TypeAnd, Subconditions: subs}
}

// Cancellation returns the notary-cancelled condition in atomic mode and nil
// in every other mode.
func Cancellation(p Params) *models.Condition {
	if p.Cancellation != nil {
		return p.Cancellation
	}
	atomic, ok := p.Mode.(domain.Atomic)
	if !ok {
		return nil
	}
	return Notary(atomic.Notary, atomic.NotaryPublicKey, p.CaseID, models.CaseCancelled)
}

// HashJSON hashes the compact JSON encoding of v. HTML characters are not
// escaped so the bytes match what other implementations sign.
func HashJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return HashString(string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))), nil
}

// HashString is base64(sha512(s)).
func HashString(s string) string {
	sum := sha512.Sum512([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}
