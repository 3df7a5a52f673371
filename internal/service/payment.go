package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/ledgersend/internal/chain"
	"github.com/punchamoorthee/ledgersend/internal/condition"
	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/log"
	"github.com/punchamoorthee/ledgersend/internal/models"
	"github.com/punchamoorthee/ledgersend/internal/notary"
	"github.com/punchamoorthee/ledgersend/internal/quote"
)

var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersend_payments_total",
		Help: "Payments executed, labeled by mode and outcome",
	}, []string{"mode", "outcome"})

	paymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgersend_payment_duration_seconds",
		Help:    "Latency distribution of payment execution",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"mode"})
)

// Ledger is the ledger HTTP contract the orchestrator drives.
type Ledger interface {
	condition.StateSource
	PutTransfer(ctx context.Context, t *models.Transfer, creds *domain.Credentials) (*models.Transfer, error)
	PutPayment(ctx context.Context, p models.Payment) (*models.Payment, error)
	GetAccount(ctx context.Context, account string) (*models.Account, error)
	Connectors(ctx context.Context, ledger string) ([]string, error)
}

// Notary proposes and settles atomic-mode cases.
type Notary interface {
	SetupCase(ctx context.Context, p notary.CaseParams) (string, error)
	PostFulfillment(ctx context.Context, finalTransfer *models.Transfer, caseID string) error
}

// Quoter picks the cheapest connector quote.
type Quoter interface {
	FindQuote(ctx context.Context, connectors []string, p quote.Params) (*models.Quote, error)
	FindPath(ctx context.Context, connectors []string, p quote.PathParams) ([]models.Payment, error)
}

// Result is the observed outcome of one payment.
type Result struct {
	PaymentID string `json:"id"`
	Mode      string `json:"mode"`
	CaseID    string `json:"case_id,omitempty"`
	// Source is the ledger's answer to the memo-linked first transfer.
	Source    *models.Transfer  `json:"source_transfer,omitempty"`
	Transfers []models.Transfer `json:"transfers"`
}

type PaymentService struct {
	ledger  Ledger
	notary  Notary
	quoter  Quoter
	journal Journal

	now               func() time.Time
	destinationExpiry string
}

// Option configures a PaymentService.
type Option func(*PaymentService)

// WithClock replaces time.Now as the base of transfer expiries.
func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) { s.now = now }
}

// WithDestinationExpiry sets the destination_expiry_duration (seconds)
// requested from connectors.
func WithDestinationExpiry(seconds string) Option {
	return func(s *PaymentService) { s.destinationExpiry = seconds }
}

// WithJournal records payments submitted through ProcessPayment.
func WithJournal(j Journal) Option {
	return func(s *PaymentService) { s.journal = j }
}

func NewPaymentService(l Ledger, n Notary, q Quoter, opts ...Option) *PaymentService {
	s := &PaymentService{
		ledger: l,
		notary: n,
		quoter: q,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// validate derives the mode and, in atomic mode, the case URI. Nothing here
// touches the network.
func validate(req domain.PaymentRequest) (domain.Mode, string, error) {
	mode, err := domain.ModeOf(req)
	if err != nil {
		return nil, "", err
	}
	atomic, ok := mode.(domain.Atomic)
	if !ok {
		return mode, "", nil
	}
	caseID, err := notary.CaseURI(atomic.Notary, atomic.CaseID)
	if err != nil {
		return nil, "", err
	}
	return mode, caseID, nil
}

// ExecutePayment conditions and submits a quoted chain. Configuration errors
// are returned before any request is sent. On a later failure the returned
// Result still describes how far the payment got.
func (s *PaymentService) ExecutePayment(ctx context.Context, c *chain.Chain, req domain.PaymentRequest) (*Result, error) {
	mode, caseID, err := validate(req)
	if err != nil {
		paymentsTotal.WithLabelValues("invalid", outcome(err)).Inc()
		return nil, err
	}

	timer := prometheus.NewTimer(paymentDuration.WithLabelValues(mode.Name()))
	res, err := s.execute(ctx, c, req, mode, caseID)
	timer.ObserveDuration()
	paymentsTotal.WithLabelValues(mode.Name(), outcome(err)).Inc()
	return res, err
}

func (s *PaymentService) execute(ctx context.Context, c *chain.Chain, req domain.PaymentRequest, mode domain.Mode, caseID string) (*Result, error) {
	res := &Result{PaymentID: uuid.NewString(), Mode: mode.Name()}
	logger := log.Orchestrator.With().Str("payment", res.PaymentID).Str("mode", mode.Name()).Logger()

	// Chained
	c.Setup(chain.Endpoints{
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		SourceMemo:         req.SourceMemo,
		DestinationMemo:    req.DestinationMemo,
	})
	now := s.now()
	expiries := make([]string, c.Len())
	for i := range expiries {
		at, err := chain.ExpiresAt(now, c.At(i))
		if err != nil {
			return res, err
		}
		expiries[i] = at
	}
	res.Transfers = c.Snapshot()
	logger.Debug().Int("hops", c.Len()).Stringer("topology", c.Topology()).Msg("chained")

	// Conditioned
	receipt := req.ReceiptCondition
	if needsReceipt(mode, req) {
		var err error
		receipt, err = condition.FetchReceipt(ctx, s.ledger, c.Final(), mode.ReceiptState())
		if err != nil {
			return res, err
		}
	}

	if atomic, ok := mode.(domain.Atomic); ok {
		proposed, err := s.notary.SetupCase(ctx, notary.CaseParams{
			Notary:           atomic.Notary,
			ReceiptCondition: receipt,
			Transfers:        c.Flatten(),
			ExpiresAt:        expiries[0],
			CaseID:           caseID,
		})
		if err != nil {
			return res, err
		}
		caseID = proposed
		res.CaseID = caseID
	}

	applyConditions(c, mode, condition.Params{
		Mode:         mode,
		CaseID:       caseID,
		Receipt:      receipt,
		Execution:    req.ExecutionCondition,
		Cancellation: req.CancellationCondition,
	}, expiries)
	res.Transfers = c.Snapshot()
	logger.Debug().Str("case", caseID).Msg("conditioned")

	// Proposed
	creds, err := s.credentials(ctx, req)
	if err != nil {
		return res, err
	}
	if err := s.propose(ctx, c, creds, res, logger); err != nil {
		res.Transfers = c.Snapshot()
		return res, err
	}

	// Executing
	if c.Topology() == chain.PaymentList {
		if err := s.postPayments(ctx, c, logger); err != nil {
			res.Transfers = c.Snapshot()
			return res, err
		}
	}
	res.Transfers = c.Snapshot()

	// Settling. With a caller-supplied receipt the recipient releases the
	// fulfillment.
	if _, ok := mode.(domain.Atomic); ok && req.ReceiptCondition == nil {
		logger.Debug().Str("case", caseID).Msg("settling")
		if err := s.notary.PostFulfillment(ctx, c.Final(), caseID); err != nil {
			return res, err
		}
	}

	logger.Info().Int("hops", c.Len()).Str("final_state", c.Final().State).Msg("payment done")
	return res, nil
}

func needsReceipt(mode domain.Mode, req domain.PaymentRequest) bool {
	if req.ReceiptCondition != nil {
		return false
	}
	switch mode.(type) {
	case domain.Atomic:
		return true
	case domain.Universal:
		return req.ExecutionCondition == nil
	}
	return false
}

// applyConditions attaches conditions and expiries to every hop and
// authorizes the sender's debit.
func applyConditions(c *chain.Chain, mode domain.Mode, p condition.Params, expiries []string) {
	execution := condition.Execution(p)
	cancellation := condition.Cancellation(p)
	final := c.Len() - 1

	c.ForEach(func(i int, t *models.Transfer) {
		switch mode.(type) {
		case domain.Atomic:
			// Atomic hops expire only through the cancellation condition.
			t.ExecutionCondition = execution
			t.CancellationCondition = cancellation
			t.ExpiresAt = ""
			chain.SetInfo(t, "cases", []string{p.CaseID})
		case domain.Universal:
			t.ExpiresAt = expiries[i]
			if i != final {
				t.ExecutionCondition = execution
			}
		case domain.Optimistic:
			t.ExpiresAt = expiries[i]
		}
		t.ExpiryDuration = ""
	})

	c.First().Debits[0].Authorized = true
}

// credentials fills in the basic-auth username from the source account when
// only a password was given.
func (s *PaymentService) credentials(ctx context.Context, req domain.PaymentRequest) (*domain.Credentials, error) {
	creds := req.Credentials
	if creds.Username == "" && creds.HasBasicAuth() && !creds.HasClientCert() && req.SourceAccount != "" {
		account, err := s.ledger.GetAccount(ctx, req.SourceAccount)
		if err != nil {
			return nil, err
		}
		creds.Username = account.Name
	}
	return &creds, nil
}

// propose submits the first transfer with the sender's credentials. A linked
// chain travels nested in it; in a payment list every other hop is proposed
// on its own, without credentials.
func (s *PaymentService) propose(ctx context.Context, c *chain.Chain, creds *domain.Credentials, res *Result, logger zerolog.Logger) error {
	first := c.First()
	body := first
	if c.Topology() == chain.Linked {
		nested := c.Nest()
		body = &nested
	}

	got, err := s.ledger.PutTransfer(ctx, body, creds)
	if err != nil {
		logger.Warn().Err(err).Str("transfer", first.ID).Msg("first transfer rejected")
		return err
	}
	first.State = got.State
	if c.Topology() == chain.Linked {
		res.Source = got
	}
	logger.Debug().Int("hop", 0).Str("transfer", first.ID).Str("state", got.State).Msg("proposed")

	if c.Topology() != chain.PaymentList {
		return nil
	}
	for i := 1; i < c.Len(); i++ {
		t := c.At(i)
		got, err := s.ledger.PutTransfer(ctx, t, nil)
		if err != nil {
			logger.Warn().Err(err).Int("hop", i).Str("transfer", t.ID).Msg("transfer rejected")
			return err
		}
		t.State = got.State
		logger.Debug().Int("hop", i).Str("transfer", t.ID).Str("state", got.State).Msg("proposed")
	}
	return nil
}

// postPayments submits the payment resources in order. Each response's
// destination transfer replaces the arena slot before the next payment is
// rendered from it.
func (s *PaymentService) postPayments(ctx context.Context, c *chain.Chain, logger zerolog.Logger) error {
	for i := 0; i < c.PaymentCount(); i++ {
		p := c.Payment(i)
		got, err := s.ledger.PutPayment(ctx, p)
		if err != nil {
			logger.Warn().Err(err).Int("hop", i).Str("payment_resource", p.ID).Msg("payment rejected")
			return err
		}
		if len(got.DestinationTransfers) > 0 && !c.Replace(got.DestinationTransfers[0]) {
			logger.Warn().Int("hop", i).Str("transfer", got.DestinationTransfers[0].ID).Msg("unknown destination transfer in response")
		}
		logger.Debug().Int("hop", i).Str("payment_resource", p.ID).Msg("executing")
	}
	return nil
}

// SendPayment quotes the payment across the connectors of the source ledger
// and executes the cheapest quote.
func (s *PaymentService) SendPayment(ctx context.Context, req domain.PaymentRequest) (*Result, error) {
	if _, _, err := validate(req); err != nil {
		return nil, err
	}
	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	c, err := chain.FromTransfer(quote.QuoteToTransfer(q, req.SourceAccount, req.DestinationAccount))
	if err != nil {
		return nil, err
	}
	return s.ExecutePayment(ctx, c, req)
}

// SendPathPayment asks the source ledger's connectors for a legacy payment
// path and executes the cheapest one as a payment list.
func (s *PaymentService) SendPathPayment(ctx context.Context, req domain.PaymentRequest) (*Result, error) {
	if _, _, err := validate(req); err != nil {
		return nil, err
	}
	path, err := s.QuotePath(ctx, req)
	if err != nil {
		return nil, err
	}
	c, err := chain.FromPayments(path)
	if err != nil {
		return nil, err
	}
	return s.ExecutePayment(ctx, c, req)
}

// QuotePath returns the cheapest legacy payment path offered by the source
// ledger's connectors.
func (s *PaymentService) QuotePath(ctx context.Context, req domain.PaymentRequest) ([]models.Payment, error) {
	if err := req.ValidateAccounts(); err != nil {
		return nil, err
	}
	if err := req.ValidateAmounts(); err != nil {
		return nil, err
	}

	source, err := s.ledger.GetAccount(ctx, req.SourceAccount)
	if err != nil {
		return nil, err
	}
	connectors, err := s.ledger.Connectors(ctx, source.Ledger)
	if err != nil {
		return nil, err
	}
	if len(connectors) == 0 {
		return nil, domain.ErrNoQuote
	}

	return s.quoter.FindPath(ctx, connectors, quote.PathParams{
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		SourceAmount:       req.SourceAmount,
		DestinationAmount:  req.DestinationAmount,
	})
}

// Quote resolves both accounts to their ledgers and returns the cheapest
// quote from the source ledger's connectors.
func (s *PaymentService) Quote(ctx context.Context, req domain.PaymentRequest) (*models.Quote, error) {
	if err := req.ValidateAccounts(); err != nil {
		return nil, err
	}
	if err := req.ValidateAmounts(); err != nil {
		return nil, err
	}

	var source, destination *models.Account
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		source, err = s.ledger.GetAccount(gctx, req.SourceAccount)
		return err
	})
	g.Go(func() (err error) {
		destination, err = s.ledger.GetAccount(gctx, req.DestinationAccount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	connectors, err := s.ledger.Connectors(ctx, source.Ledger)
	if err != nil {
		return nil, err
	}
	if len(connectors) == 0 {
		return nil, domain.ErrNoQuote
	}

	return s.quoter.FindQuote(ctx, connectors, quote.Params{
		SourceLedger:              source.Ledger,
		DestinationLedger:         destination.Ledger,
		SourceAmount:              req.SourceAmount,
		DestinationAmount:         req.DestinationAmount,
		DestinationExpiryDuration: s.destinationExpiry,
	})
}

// Submit executes req against its pre-quoted chain, or quotes it first when
// none is given: a payment path when PaymentPath is set, else a linked quote.
func (s *PaymentService) Submit(ctx context.Context, req domain.PaymentRequest) (*Result, error) {
	switch {
	case len(req.Path) > 0 && req.Transfer != nil:
		return nil, domain.NewConfigurationError("path and transfer are mutually exclusive")
	case len(req.Path) > 0:
		c, err := chain.FromPayments(req.Path)
		if err != nil {
			return nil, err
		}
		return s.ExecutePayment(ctx, c, req)
	case req.Transfer != nil:
		c, err := chain.FromTransfer(*req.Transfer)
		if err != nil {
			return nil, err
		}
		return s.ExecutePayment(ctx, c, req)
	case req.PaymentPath:
		return s.SendPathPayment(ctx, req)
	default:
		return s.SendPayment(ctx, req)
	}
}

func outcome(err error) string {
	var re *domain.RemoteError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrInvalidCaseID):
		return "invalid"
	case errors.Is(err, domain.ErrTransferStateTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &re):
		return "remote_error"
	default:
		return "error"
	}
}
