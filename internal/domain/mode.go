package domain

import "github.com/punchamoorthee/ledgersend/internal/models"

// Mode is the settlement mode of a payment. It is a closed set: Atomic,
// Universal and Optimistic are its only implementations.
type Mode interface {
	// Name is the label used in logs, metrics and the payment journal.
	Name() string
	// ReceiptState is the transfer state the final ledger attests to in the
	// receipt condition.
	ReceiptState() string

	isMode()
}

// Atomic settles through a notary case. Every hop executes once the notary
// attests the case executed, or cancels once it attests the case cancelled.
type Atomic struct {
	Notary          string
	NotaryPublicKey string
	CaseID          string
}

// Universal unlocks every upstream hop with the final ledger's receipt of
// the final transfer's execution.
type Universal struct{}

// Optimistic attaches no conditions at all.
type Optimistic struct{}

func (Atomic) Name() string     { return "atomic" }
func (Universal) Name() string  { return "universal" }
func (Optimistic) Name() string { return "optimistic" }

// The notary arbitrates atomic completion, so the final ledger only has to
// attest preparation; in the other modes the receipt is the execution itself.
func (Atomic) ReceiptState() string     { return models.StatePrepared }
func (Universal) ReceiptState() string  { return models.StateExecuted }
func (Optimistic) ReceiptState() string { return models.StateExecuted }

func (Atomic) isMode()     {}
func (Universal) isMode()  {}
func (Optimistic) isMode() {}

// ModeOf selects the mode of a request. It fails before any I/O when the
// parameters describe no valid mode.
func ModeOf(r PaymentRequest) (Mode, error) {
	if r.Notary != "" {
		if r.Optimistic {
			return nil, NewConfigurationError("optimistic mode cannot be combined with a notary")
		}
		if r.NotaryPublicKey == "" {
			return nil, NewConfigurationError("missing required parameter: notary_public_key")
		}
		return Atomic{Notary: r.Notary, NotaryPublicKey: r.NotaryPublicKey, CaseID: r.CaseID}, nil
	}
	if r.CaseID != "" {
		return nil, NewConfigurationError("case_id requires a notary")
	}
	if r.Optimistic {
		if r.ReceiptCondition != nil || r.ExecutionCondition != nil || r.CancellationCondition != nil {
			return nil, NewConfigurationError("optimistic payments carry no conditions")
		}
		return Optimistic{}, nil
	}
	if r.CancellationCondition != nil {
		return nil, NewConfigurationError("cancellation_condition requires a notary")
	}
	return Universal{}, nil
}
