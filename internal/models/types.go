package models

import (
	"encoding/json"
	"time"
)

// Transfer lifecycle states reported by a ledger.
const (
	StateProposed = "proposed"
	StatePrepared = "prepared"
	StateExecuted = "executed"
	StateRejected = "rejected"
)

// Case states owned by the notary.
const (
	CaseProposed  = "proposed"
	CaseExecuted  = "executed"
	CaseCancelled = "cancelled"
)

// Funds is one debit or credit leg of a ledger transfer.
type Funds struct {
	Account    string `json:"account,omitempty"`
	Amount     string `json:"amount"`
	Memo       *Memo  `json:"memo,omitempty"`
	Authorized bool   `json:"authorized,omitempty"`
}

// Transfer is one ledger-local movement of value (a hop).
type Transfer struct {
	ID                    string         `json:"id,omitempty"`
	Ledger                string         `json:"ledger"`
	Debits                []Funds        `json:"debits"`
	Credits               []Funds        `json:"credits"`
	ExecutionCondition    *Condition     `json:"execution_condition,omitempty"`
	CancellationCondition *Condition     `json:"cancellation_condition,omitempty"`
	ExpiresAt             string         `json:"expires_at,omitempty"`
	ExpiryDuration        json.Number    `json:"expiry_duration,omitempty"`
	AdditionalInfo        map[string]any `json:"additional_info,omitempty"`
	State                 string         `json:"state,omitempty"`
}

// Clone returns a copy of t that shares no slices or maps with it.
// Conditions are immutable values and stay shared.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	c.Debits = cloneFunds(t.Debits)
	c.Credits = cloneFunds(t.Credits)
	if t.AdditionalInfo != nil {
		c.AdditionalInfo = make(map[string]any, len(t.AdditionalInfo))
		for k, v := range t.AdditionalInfo {
			c.AdditionalInfo[k] = v
		}
	}
	return &c
}

func cloneFunds(in []Funds) []Funds {
	if in == nil {
		return nil
	}
	out := make([]Funds, len(in))
	for i, f := range in {
		out[i] = f
		out[i].Memo = f.Memo.Clone()
	}
	return out
}

// Condition is a verifiable predicate guarding execution or cancellation of a
// transfer. A leaf names a signer, its public key and the hash of the message
// it must sign; a compound "and" condition holds subconditions instead.
type Condition struct {
	Type          string      `json:"type"`
	Signer        string      `json:"signer,omitempty"`
	PublicKey     string      `json:"public_key,omitempty"`
	MessageHash   string      `json:"message_hash,omitempty"`
	Subconditions []Condition `json:"subconditions,omitempty"`
}

// NotaryRef identifies a notary inside a case body.
type NotaryRef struct {
	URL string `json:"url"`
}

// Case is the notary-side record of an atomic payment's commit decision.
type Case struct {
	ID                  string      `json:"id"`
	State               string      `json:"state"`
	ExecutionCondition  *Condition  `json:"execution_condition"`
	ExpiresAt           string      `json:"expires_at,omitempty"`
	Notaries            []NotaryRef `json:"notaries"`
	NotificationTargets []string    `json:"notification_targets"`
}

// Payment is the legacy connector resource linking a source and a
// destination transfer.
type Payment struct {
	ID                   string     `json:"id"`
	SourceTransfers      []Transfer `json:"source_transfers"`
	DestinationTransfers []Transfer `json:"destination_transfers"`
}

// Quote is a connector's answer to a quote request.
type Quote struct {
	SourceLedger              string      `json:"source_ledger"`
	DestinationLedger         string      `json:"destination_ledger"`
	SourceAmount              string      `json:"source_amount,omitempty"`
	DestinationAmount         string      `json:"destination_amount,omitempty"`
	SourceConnectorAccount    string      `json:"source_connector_account,omitempty"`
	SourceExpiryDuration      json.Number `json:"source_expiry_duration,omitempty"`
	DestinationExpiryDuration json.Number `json:"destination_expiry_duration,omitempty"`

	// Connector is the connector that produced the quote. Not on the wire.
	Connector string `json:"-"`
}

// StateMessage is the signed part of a transfer state receipt.
type StateMessage struct {
	ID    string `json:"id,omitempty"`
	State string `json:"state"`
}

// StateReceipt is the body of GET <transfer>/state.
type StateReceipt struct {
	Type      string       `json:"type"`
	PublicKey string       `json:"public_key,omitempty"`
	Signature string       `json:"signature,omitempty"`
	Message   StateMessage `json:"message"`
}

// Fulfillment is the body relayed to a case's fulfillment endpoint.
type Fulfillment struct {
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

// Account is the body of GET <account>.
type Account struct {
	Ledger string `json:"ledger"`
	Name   string `json:"name"`
}

// ConnectorEntry is one element of GET <ledger>/connectors.
type ConnectorEntry struct {
	Connector string `json:"connector"`
}

// PaymentRecord is the journal entry of one executed payment attempt.
type PaymentRecord struct {
	ID                 string     `json:"id"`
	Mode               string     `json:"mode"`
	SourceAccount      string     `json:"source_account"`
	DestinationAccount string     `json:"destination_account"`
	CaseID             string     `json:"case_id,omitempty"`
	Status             string     `json:"status"`
	Error              string     `json:"error,omitempty"`
	Transfers          []Transfer `json:"transfers"`
	CreatedAt          time.Time  `json:"created_at,omitempty"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	PaymentID      string
	ResponseBody   json.RawMessage
	ResponseStatus int
}
