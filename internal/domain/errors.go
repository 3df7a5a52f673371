package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration        = errors.New("configuration error")
	ErrInvalidCaseID        = errors.New("caseId length is limited to 40 characters")
	ErrTransferStateTimeout = errors.New("transfer did not reach the required state")
	ErrAssetsNotTraded      = errors.New("connector does not trade these assets")
	ErrQuoteIntegrity       = errors.New("quote does not match the request")
	ErrNoQuote              = errors.New("no connector quoted the payment")

	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
	ErrPaymentNotFound     = errors.New("payment not found")
)

// ConfigurationError rejects caller parameters before any network I/O.
type ConfigurationError struct {
	Reason string
}

func NewConfigurationError(reason string) *ConfigurationError {
	return &ConfigurationError{Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// RemoteError is any >=400 response from a ledger, notary or connector.
type RemoteError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s %s: %d %s", e.Method, e.URL, e.Status, string(e.Body))
}

// StatusCode returns the HTTP status the remote answered with.
func (e *RemoteError) StatusCode() int {
	return e.Status
}

// NotaryError is a rejected case proposal.
type NotaryError struct {
	CaseID string
	Err    error
}

func (e *NotaryError) Error() string {
	return fmt.Sprintf("notary error: case %s: %v", e.CaseID, e.Err)
}

func (e *NotaryError) Unwrap() error {
	return e.Err
}

// QuoteIntegrityError is a connector quote that echoes a field different
// from the one requested.
type QuoteIntegrityError struct {
	Connector string
	Field     string
	Requested string
	Returned  string
}

func (e *QuoteIntegrityError) Error() string {
	return fmt.Sprintf("quote from %s has unexpected %s: requested %q, got %q",
		e.Connector, e.Field, e.Requested, e.Returned)
}

func (e *QuoteIntegrityError) Is(target error) bool {
	return target == ErrQuoteIntegrity
}

// TransferStateTimeoutError is returned when a state poll runs out of attempts.
type TransferStateTimeoutError struct {
	Transfer  string
	Want      string
	LastState string
	Attempts  int
}

func (e *TransferStateTimeoutError) Error() string {
	return fmt.Sprintf("transfer %s still %q after %d attempts, want %q",
		e.Transfer, e.LastState, e.Attempts, e.Want)
}

func (e *TransferStateTimeoutError) Is(target error) bool {
	return target == ErrTransferStateTimeout
}

// AssetsNotTradedError tells the path selector to try another connector.
type AssetsNotTradedError struct {
	Connector string
	Err       error
}

func (e *AssetsNotTradedError) Error() string {
	return fmt.Sprintf("connector %s: assets not traded", e.Connector)
}

func (e *AssetsNotTradedError) Is(target error) bool {
	return target == ErrAssetsNotTraded
}

func (e *AssetsNotTradedError) Unwrap() error {
	return e.Err
}
