// Package chain models the ordered sequence of ledger transfers that make up
// one payment.
//
// Transfers live in a payment-local arena. Payments of the legacy topology
// refer to their source and destination transfers by arena index, so
// replacing a transfer after a ledger response is a single slot overwrite
// that every holder observes.
package chain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/models"
)

// Topology is the wire shape the chain was built from.
type Topology int

const (
	// Linked chains nest each next hop in credits[0].memo.destination_transfer
	// of the previous one. Only the first transfer is submitted.
	Linked Topology = iota
	// PaymentList chains are a list of connector payment resources whose
	// destination transfer is the next payment's source transfer.
	PaymentList
)

func (t Topology) String() string {
	switch t {
	case Linked:
		return "linked"
	case PaymentList:
		return "payments"
	}
	return "unknown"
}

const maxHops = 64

type link struct {
	id          string
	source      int
	destination int
}

// Chain is the in-memory transfer chain of one payment.
type Chain struct {
	topology  Topology
	transfers []*models.Transfer
	payments  []link
}

// Endpoints are the caller-side ends of the chain.
type Endpoints struct {
	SourceAccount      string
	DestinationAccount string
	SourceMemo         map[string]any
	DestinationMemo    map[string]any
}

// FromTransfer unnests a memo-linked transfer into a chain. The input is not
// modified.
func FromTransfer(src models.Transfer) (*Chain, error) {
	c := &Chain{topology: Linked}
	for cur := src.Clone(); cur != nil; {
		if len(c.transfers) == maxHops {
			return nil, domain.NewConfigurationError(fmt.Sprintf("chain exceeds %d hops", maxHops))
		}
		if err := validateOneToOneTransfer(cur); err != nil {
			return nil, err
		}
		var next *models.Transfer
		if memo := cur.Credits[0].Memo; memo != nil {
			next = memo.DestinationTransfer
			memo.DestinationTransfer = nil
			if memo.Empty() {
				cur.Credits[0].Memo = nil
			}
		}
		c.transfers = append(c.transfers, cur)
		cur = next
	}
	return c, nil
}

// FromPayments builds a chain from the legacy payment list. Every payment and
// transfer is validated before anything is copied.
func FromPayments(payments []models.Payment) (*Chain, error) {
	if len(payments) == 0 {
		return nil, domain.NewConfigurationError("payment path is empty")
	}
	for _, p := range payments {
		if err := validateOneToOnePayment(p); err != nil {
			return nil, err
		}
	}

	c := &Chain{topology: PaymentList}
	for i, p := range payments {
		t := p.SourceTransfers[0].Clone()
		if i > 0 {
			// The previous payment's destination transfer and this payment's
			// source transfer are the same ledger transfer.
			t.Debits = payments[i-1].DestinationTransfers[0].Clone().Debits
		}
		c.transfers = append(c.transfers, t)
		c.payments = append(c.payments, link{id: p.ID, source: i, destination: i + 1})
	}
	c.transfers = append(c.transfers, payments[len(payments)-1].DestinationTransfers[0].Clone())
	return c, nil
}

func validateOneToOnePayment(p models.Payment) error {
	if len(p.SourceTransfers) != 1 || len(p.DestinationTransfers) != 1 {
		return domain.NewConfigurationError("only one-to-one payments are supported")
	}
	if p.ID == "" {
		return domain.NewConfigurationError("payment id is required")
	}
	if err := validateOneToOneTransfer(&p.SourceTransfers[0]); err != nil {
		return err
	}
	return validateOneToOneTransfer(&p.DestinationTransfers[0])
}

func validateOneToOneTransfer(t *models.Transfer) error {
	if len(t.Debits) != 1 || len(t.Credits) != 1 {
		return domain.NewConfigurationError("only one-to-one transfers are supported")
	}
	if t.Ledger == "" {
		return domain.NewConfigurationError("transfer ledger is required")
	}
	return nil
}

func (c *Chain) Topology() Topology { return c.topology }

// Len is the number of transfers.
func (c *Chain) Len() int { return len(c.transfers) }

func (c *Chain) First() *models.Transfer { return c.transfers[0] }

func (c *Chain) Final() *models.Transfer { return c.transfers[len(c.transfers)-1] }

func (c *Chain) At(i int) *models.Transfer { return c.transfers[i] }

// Flatten returns the transfers in chain order.
func (c *Chain) Flatten() []*models.Transfer {
	out := make([]*models.Transfer, len(c.transfers))
	copy(out, c.transfers)
	return out
}

// Snapshot returns detached copies of the transfers in chain order.
func (c *Chain) Snapshot() []models.Transfer {
	out := make([]models.Transfer, len(c.transfers))
	for i, t := range c.transfers {
		out[i] = *t.Clone()
	}
	return out
}

// ForEach visits the transfers in chain order.
func (c *Chain) ForEach(fn func(i int, t *models.Transfer)) {
	for i, t := range c.transfers {
		fn(i, t)
	}
}

// Setup assigns transfer ids, part_of_payment, endpoint accounts and memos,
// and wires every hop's debit to the previous hop's credit. Ids already set
// by the caller are kept.
func (c *Chain) Setup(e Endpoints) {
	c.ForEach(func(i int, t *models.Transfer) {
		if t.ID == "" {
			t.ID = TransferID(t.Ledger)
		}
		if c.topology == PaymentList {
			setInfo(t, "part_of_payment", c.paymentOf(i))
		}
		if i > 0 {
			wire(c.transfers[i-1], t)
		}
	})

	first, final := c.First(), c.Final()
	if e.SourceAccount != "" {
		first.Debits[0].Account = e.SourceAccount
	}
	if e.DestinationAccount != "" {
		final.Credits[0].Account = e.DestinationAccount
	}
	if len(e.SourceMemo) > 0 {
		if first.Credits[0].Memo == nil {
			first.Credits[0].Memo = &models.Memo{}
		}
		first.Credits[0].Memo.Merge(e.SourceMemo)
	}
	if len(e.DestinationMemo) > 0 {
		final.Credits[0].Memo = models.NewMemo(e.DestinationMemo)
	}
}

// wire fills the blanks of next's debit from prev's credit. Explicit values
// are kept: adjacent hops sit on different ledgers and may differ in asset.
func wire(prev, next *models.Transfer) {
	credit, debit := &prev.Credits[0], &next.Debits[0]
	if debit.Account == "" {
		debit.Account = credit.Account
	}
	if debit.Amount == "" {
		debit.Amount = credit.Amount
	}
}

func (c *Chain) paymentOf(i int) string {
	if i < len(c.payments) {
		return c.payments[i].id
	}
	return c.payments[len(c.payments)-1].id
}

// SetInfo sets one additional_info key on a transfer.
func SetInfo(t *models.Transfer, key string, value any) {
	setInfo(t, key, value)
}

func setInfo(t *models.Transfer, key string, value any) {
	if t.AdditionalInfo == nil {
		t.AdditionalInfo = make(map[string]any)
	}
	t.AdditionalInfo[key] = value
}

// TransferID allocates a new transfer URI on ledger.
func TransferID(ledger string) string {
	return strings.TrimRight(ledger, "/") + "/transfers/" + uuid.NewString()
}

// Replace overwrites every slot holding a transfer with updated's id. It
// reports whether any slot matched.
func (c *Chain) Replace(updated models.Transfer) bool {
	replaced := false
	for i, t := range c.transfers {
		if t.ID == updated.ID {
			c.transfers[i] = updated.Clone()
			replaced = true
		}
	}
	return replaced
}

// PaymentCount is the number of payment resources (zero for linked chains).
func (c *Chain) PaymentCount() int { return len(c.payments) }

// Payment renders the i-th payment resource from the current arena state.
func (c *Chain) Payment(i int) models.Payment {
	l := c.payments[i]
	return models.Payment{
		ID:                   l.id,
		SourceTransfers:      []models.Transfer{*c.transfers[l.source].Clone()},
		DestinationTransfers: []models.Transfer{*c.transfers[l.destination].Clone()},
	}
}

// Nest renders the chain in its memo-linked wire form: the first transfer
// with every following hop nested in credits[0].memo.destination_transfer.
func (c *Chain) Nest() models.Transfer {
	var next *models.Transfer
	for i := len(c.transfers) - 1; i >= 0; i-- {
		t := c.transfers[i].Clone()
		if next != nil {
			if t.Credits[0].Memo == nil {
				t.Credits[0].Memo = &models.Memo{}
			}
			t.Credits[0].Memo.DestinationTransfer = next
		}
		next = t
	}
	return *next
}
