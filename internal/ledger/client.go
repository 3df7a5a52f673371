// Package ledger speaks the ledger HTTP contract: transfers, transfer state
// receipts, legacy payment resources, accounts and connector discovery.
package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/models"
	"github.com/punchamoorthee/ledgersend/internal/remote"
)

type Client struct {
	remote *remote.Client
}

func NewClient(r *remote.Client) *Client {
	return &Client{remote: r}
}

// PutTransfer submits a transfer to its ledger and returns the ledger's view
// of it. creds may be nil for hops the sender does not debit.
func (c *Client) PutTransfer(ctx context.Context, t *models.Transfer, creds *domain.Credentials) (*models.Transfer, error) {
	var out models.Transfer
	_, err := c.remote.Do(ctx, remote.Request{
		Method:      http.MethodPut,
		URL:         t.ID,
		Body:        t,
		Credentials: creds,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("put transfer: %w", err)
	}
	return &out, nil
}

// TransferState reads the signed state receipt of a transfer.
func (c *Client) TransferState(ctx context.Context, transferID string) (*models.StateReceipt, error) {
	var out models.StateReceipt
	if err := c.remote.Get(ctx, transferID+"/state", &out); err != nil {
		return nil, fmt.Errorf("get transfer state: %w", err)
	}
	return &out, nil
}

// PutPayment submits a legacy payment resource to its connector.
func (c *Client) PutPayment(ctx context.Context, p models.Payment) (*models.Payment, error) {
	var out models.Payment
	if err := c.remote.Put(ctx, p.ID, p, &out); err != nil {
		return nil, fmt.Errorf("put payment: %w", err)
	}
	return &out, nil
}

// GetAccount resolves an account URI to its ledger and name.
func (c *Client) GetAccount(ctx context.Context, account string) (*models.Account, error) {
	var out models.Account
	if err := c.remote.Get(ctx, account, &out); err != nil {
		return nil, fmt.Errorf("unable to identify ledger from account %s: %w", account, err)
	}
	return &out, nil
}

// Connectors lists the connectors trading on ledger.
func (c *Client) Connectors(ctx context.Context, ledger string) ([]string, error) {
	var entries []models.ConnectorEntry
	if err := c.remote.Get(ctx, strings.TrimRight(ledger, "/")+"/connectors", &entries); err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Connector != "" {
			out = append(out, e.Connector)
		}
	}
	return out, nil
}
