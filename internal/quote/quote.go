// Package quote asks connectors for quotes and reduces them to the cheapest
// transfer chain.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/log"
	"github.com/punchamoorthee/ledgersend/internal/models"
	"github.com/punchamoorthee/ledgersend/internal/remote"
)

const assetsNotTradedID = "AssetsNotTradedError"

// Params is one quote request. Exactly one of the amounts is set.
type Params struct {
	SourceLedger              string
	DestinationLedger         string
	SourceAmount              string
	DestinationAmount         string
	SourceExpiryDuration      string
	DestinationExpiryDuration string
}

// PathParams request a legacy path quote between two accounts.
type PathParams struct {
	SourceAccount      string
	DestinationAccount string
	SourceAmount       string
	DestinationAmount  string
}

type Client struct {
	remote *remote.Client
}

func NewClient(r *remote.Client) *Client {
	return &Client{remote: r}
}

// GetQuoteFromConnector quotes p on connector and verifies that the echoed
// ledgers and fixed amount match the request.
func (c *Client) GetQuoteFromConnector(ctx context.Context, connector string, p Params) (*models.Quote, error) {
	q := url.Values{}
	q.Set("source_ledger", p.SourceLedger)
	q.Set("destination_ledger", p.DestinationLedger)
	if p.SourceAmount != "" {
		q.Set("source_amount", p.SourceAmount)
	} else {
		q.Set("destination_amount", p.DestinationAmount)
	}
	if p.SourceExpiryDuration != "" {
		q.Set("source_expiry_duration", p.SourceExpiryDuration)
	}
	if p.DestinationExpiryDuration != "" {
		q.Set("destination_expiry_duration", p.DestinationExpiryDuration)
	}

	var quote models.Quote
	_, err := c.remote.Do(ctx, remote.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(connector, "/") + "/quote",
		Query:  q,
	}, &quote)
	if err != nil {
		return nil, connectorError(connector, err)
	}
	if err := verify(connector, p, quote); err != nil {
		return nil, err
	}

	quote.Connector = connector
	log.Quote.Debug().
		Str("connector", connector).
		Str("source_amount", quote.SourceAmount).
		Str("destination_amount", quote.DestinationAmount).
		Msg("quote received")
	return &quote, nil
}

// connectorError turns a connector's AssetsNotTradedError body into a typed
// error so that path selection moves on to the next connector.
func connectorError(connector string, err error) error {
	var re *domain.RemoteError
	if errors.As(err, &re) && re.Status >= 400 && re.Status < 500 {
		var body struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(re.Body, &body) == nil && body.ID == assetsNotTradedID {
			return &domain.AssetsNotTradedError{Connector: connector, Err: err}
		}
	}
	return fmt.Errorf("quote from %s: %w", connector, err)
}

func verify(connector string, p Params, q models.Quote) error {
	if q.SourceLedger != p.SourceLedger {
		return &domain.QuoteIntegrityError{Connector: connector, Field: "source_ledger", Requested: p.SourceLedger, Returned: q.SourceLedger}
	}
	if q.DestinationLedger != p.DestinationLedger {
		return &domain.QuoteIntegrityError{Connector: connector, Field: "destination_ledger", Requested: p.DestinationLedger, Returned: q.DestinationLedger}
	}
	field, requested, returned := "destination_amount", p.DestinationAmount, q.DestinationAmount
	if p.SourceAmount != "" {
		field, requested, returned = "source_amount", p.SourceAmount, q.SourceAmount
	}
	if !amountsEqual(requested, returned) {
		return &domain.QuoteIntegrityError{Connector: connector, Field: field, Requested: requested, Returned: returned}
	}
	if !positive(q.SourceAmount) {
		return &domain.QuoteIntegrityError{Connector: connector, Field: "source_amount", Requested: "positive amount", Returned: q.SourceAmount}
	}
	if !positive(q.DestinationAmount) {
		return &domain.QuoteIntegrityError{Connector: connector, Field: "destination_amount", Requested: "positive amount", Returned: q.DestinationAmount}
	}
	return nil
}

func positive(s string) bool {
	d, err := decimal.NewFromString(s)
	return err == nil && d.IsPositive()
}

func amountsEqual(a, b string) bool {
	x, err := decimal.NewFromString(a)
	if err != nil {
		return false
	}
	y, err := decimal.NewFromString(b)
	if err != nil {
		return false
	}
	return x.Equal(y)
}

// amount parses a wire amount; unparseable amounts compare as zero.
func amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CheaperQuote returns the quote that costs the sender less: the lower
// source amount, or on a tie the higher destination amount. Ties keep b.
func CheaperQuote(a, b *models.Quote) *models.Quote {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	as, bs := amount(a.SourceAmount), amount(b.SourceAmount)
	if as.LessThan(bs) {
		return a
	}
	if as.Equal(bs) && amount(a.DestinationAmount).GreaterThan(amount(b.DestinationAmount)) {
		return a
	}
	return b
}

// FindQuote quotes every connector in parallel and returns the cheapest
// verified quote. Connectors that do not trade the pair or that return a
// tampered quote are skipped; any other failure aborts the search.
func (c *Client) FindQuote(ctx context.Context, connectors []string, p Params) (*models.Quote, error) {
	var (
		mu   sync.Mutex
		best *models.Quote
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, connector := range connectors {
		connector := connector
		g.Go(func() error {
			q, err := c.GetQuoteFromConnector(ctx, connector, p)
			switch {
			case errors.Is(err, domain.ErrAssetsNotTraded), errors.Is(err, domain.ErrQuoteIntegrity):
				log.Quote.Warn().Err(err).Str("connector", connector).Msg("skipping connector")
				return nil
			case err != nil:
				return err
			}
			mu.Lock()
			best = CheaperQuote(q, best)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, domain.ErrNoQuote
	}
	return best, nil
}

// QuoteToTransfer builds the memo-linked two-hop transfer a quote describes.
// The destination hop's debit account is left for the connector to fill.
func QuoteToTransfer(q *models.Quote, sourceAccount, destinationAccount string) models.Transfer {
	destination := &models.Transfer{
		Ledger:         q.DestinationLedger,
		Debits:         []models.Funds{{Amount: q.DestinationAmount}},
		Credits:        []models.Funds{{Account: destinationAccount, Amount: q.DestinationAmount}},
		ExpiryDuration: q.DestinationExpiryDuration,
	}
	return models.Transfer{
		Ledger: q.SourceLedger,
		Debits: []models.Funds{{Account: sourceAccount, Amount: q.SourceAmount}},
		Credits: []models.Funds{{
			Account: q.SourceConnectorAccount,
			Amount:  q.SourceAmount,
			Memo:    &models.Memo{DestinationTransfer: destination},
		}},
		ExpiryDuration: q.SourceExpiryDuration,
	}
}

// GetPathFromConnector asks connector for a legacy payment path between two
// accounts.
func (c *Client) GetPathFromConnector(ctx context.Context, connector string, p PathParams) ([]models.Payment, error) {
	q := url.Values{}
	q.Set("source_account", p.SourceAccount)
	q.Set("destination_account", p.DestinationAccount)
	if p.SourceAmount != "" {
		q.Set("source_amount", p.SourceAmount)
	} else {
		q.Set("destination_amount", p.DestinationAmount)
	}

	var path []models.Payment
	_, err := c.remote.Do(ctx, remote.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(connector, "/") + "/quote",
		Query:  q,
	}, &path)
	if err != nil {
		return nil, connectorError(connector, err)
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("quote from %s: empty path", connector)
	}
	if err := verifyPath(connector, p, path); err != nil {
		return nil, err
	}
	return path, nil
}

// verifyPath checks the fixed amount against the end of the path it applies
// to, and that both ends carry a positive amount.
func verifyPath(connector string, p PathParams, path []models.Payment) error {
	src := creditString(path[0].SourceTransfers)
	dst := creditString(path[len(path)-1].DestinationTransfers)
	switch {
	case p.SourceAmount != "" && !amountsEqual(p.SourceAmount, src):
		return &domain.QuoteIntegrityError{Connector: connector, Field: "source_amount", Requested: p.SourceAmount, Returned: src}
	case p.SourceAmount == "" && !amountsEqual(p.DestinationAmount, dst):
		return &domain.QuoteIntegrityError{Connector: connector, Field: "destination_amount", Requested: p.DestinationAmount, Returned: dst}
	case !positive(src):
		return &domain.QuoteIntegrityError{Connector: connector, Field: "source_amount", Requested: "positive amount", Returned: src}
	case !positive(dst):
		return &domain.QuoteIntegrityError{Connector: connector, Field: "destination_amount", Requested: "positive amount", Returned: dst}
	}
	return nil
}

// FindPath asks every connector for a payment path in parallel and returns
// the cheapest verified one, skipping connectors the way FindQuote does.
func (c *Client) FindPath(ctx context.Context, connectors []string, p PathParams) ([]models.Payment, error) {
	var (
		mu   sync.Mutex
		best []models.Payment
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, connector := range connectors {
		connector := connector
		g.Go(func() error {
			path, err := c.GetPathFromConnector(ctx, connector, p)
			switch {
			case errors.Is(err, domain.ErrAssetsNotTraded), errors.Is(err, domain.ErrQuoteIntegrity):
				log.Quote.Warn().Err(err).Str("connector", connector).Msg("skipping connector")
				return nil
			case err != nil:
				return err
			}
			mu.Lock()
			best = CheaperPath(path, best)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(best) == 0 {
		return nil, domain.ErrNoQuote
	}
	log.Quote.Debug().Int("payments", len(best)).Msg("path selected")
	return best, nil
}

// CheaperPath compares two payment paths the way CheaperQuote compares
// quotes, using the first source credit and the last destination credit.
func CheaperPath(a, b []models.Payment) []models.Payment {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	as, bs := sourceAmount(a), sourceAmount(b)
	if as.LessThan(bs) {
		return a
	}
	if as.Equal(bs) && destinationAmount(a).GreaterThan(destinationAmount(b)) {
		return a
	}
	return b
}

func sourceAmount(path []models.Payment) decimal.Decimal {
	return creditAmount(path[0].SourceTransfers)
}

func destinationAmount(path []models.Payment) decimal.Decimal {
	return creditAmount(path[len(path)-1].DestinationTransfers)
}

func creditAmount(transfers []models.Transfer) decimal.Decimal {
	return amount(creditString(transfers))
}

func creditString(transfers []models.Transfer) string {
	if len(transfers) == 0 || len(transfers[0].Credits) == 0 {
		return ""
	}
	return transfers[0].Credits[0].Amount
}
