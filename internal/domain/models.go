package domain

import (
	"strings"

	"github.com/punchamoorthee/ledgersend/internal/models"
)

// Credentials authenticate the sender to the source ledger. Basic auth is
// used when Username/Password are set, a TLS client certificate when
// Key/Cert are set. CA optionally pins the ledger's certificate authority.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Key      string `json:"key,omitempty"`
	Cert     string `json:"cert,omitempty"`
	CA       string `json:"ca,omitempty"`
}

// HasClientCert reports whether a TLS client identity is configured.
func (c Credentials) HasClientCert() bool {
	return c.Key != "" && c.Cert != ""
}

// HasBasicAuth reports whether a password is configured.
func (c Credentials) HasBasicAuth() bool {
	return c.Password != ""
}

// PaymentRequest is the caller-facing description of one payment.
type PaymentRequest struct {
	SourceAccount      string      `json:"source_account"`
	DestinationAccount string      `json:"destination_account"`
	Credentials        Credentials `json:"credentials"`

	// Exactly one of the amounts is fixed when the payment is quoted.
	SourceAmount      string `json:"source_amount,omitempty"`
	DestinationAmount string `json:"destination_amount,omitempty"`

	SourceMemo      map[string]any `json:"source_memo,omitempty"`
	DestinationMemo map[string]any `json:"destination_memo,omitempty"`

	// Setting Notary selects atomic mode.
	Notary          string `json:"notary,omitempty"`
	NotaryPublicKey string `json:"notary_public_key,omitempty"`
	CaseID          string `json:"case_id,omitempty"`

	ReceiptCondition      *models.Condition `json:"receipt_condition,omitempty"`
	ExecutionCondition    *models.Condition `json:"execution_condition,omitempty"`
	CancellationCondition *models.Condition `json:"cancellation_condition,omitempty"`

	Optimistic bool `json:"optimistic,omitempty"`

	// A pre-quoted chain skips quoting: either a legacy payment path or a
	// memo-linked transfer. At most one may be set.
	Path     []models.Payment `json:"path,omitempty"`
	Transfer *models.Transfer `json:"transfer,omitempty"`

	// PaymentPath quotes a legacy payment path instead of a linked quote
	// when no pre-quoted chain is given.
	PaymentPath bool `json:"payment_path,omitempty"`
}

// ValidateAmounts checks that exactly one of the amounts is fixed.
func (r PaymentRequest) ValidateAmounts() error {
	src := strings.TrimSpace(r.SourceAmount) != ""
	dst := strings.TrimSpace(r.DestinationAmount) != ""
	switch {
	case src && dst:
		return NewConfigurationError("source_amount and destination_amount are mutually exclusive")
	case !src && !dst:
		return NewConfigurationError("one of source_amount or destination_amount is required")
	}
	return nil
}

// ValidateAccounts checks that both endpoints are named.
func (r PaymentRequest) ValidateAccounts() error {
	if r.SourceAccount == "" {
		return NewConfigurationError("source_account is required")
	}
	if r.DestinationAccount == "" {
		return NewConfigurationError("destination_account is required")
	}
	return nil
}
