package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ledgersend/internal/chain"
	"github.com/punchamoorthee/ledgersend/internal/condition"
	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/ledger"
	"github.com/punchamoorthee/ledgersend/internal/models"
	"github.com/punchamoorthee/ledgersend/internal/notary"
	"github.com/punchamoorthee/ledgersend/internal/quote"
	"github.com/punchamoorthee/ledgersend/internal/remote"
	"github.com/punchamoorthee/ledgersend/internal/retry"
	"github.com/punchamoorthee/ledgersend/internal/service"
	"github.com/punchamoorthee/ledgersend/internal/testutils"
)

const notaryKey = "NOTARY+PUBLIC+KEY="

var fixedNow = time.UnixMilli(1454400000000)

func newService(opts ...service.Option) *service.PaymentService {
	r := remote.NewClient(remote.Options{Timeout: 5 * time.Second})
	opts = append([]service.Option{service.WithClock(func() time.Time { return fixedNow })}, opts...)
	return service.NewPaymentService(
		ledger.NewClient(r),
		notary.NewCoordinator(r, retry.Policy{MaxAttempts: 5, Interval: time.Millisecond}),
		quote.NewClient(r),
		opts...,
	)
}

// trace renders the recorded calls as "METHOD path" lines.
func trace(net *testutils.Network) []string {
	var out []string
	for _, c := range net.AllCalls() {
		out = append(out, c.Method+" "+c.Path)
	}
	return out
}

// linkedTransfer is the two-hop universal example: usd -> eur with the
// connector's usd account as the first credit.
func linkedTransfer(net *testutils.Network) models.Transfer {
	usd, eur := net.Host("usd"), net.Host("eur")
	return models.Transfer{
		ID:             usd + "/transfers/1",
		Ledger:         usd,
		Debits:         []models.Funds{{Amount: "100"}},
		ExpiryDuration: "6",
		Credits: []models.Funds{{
			Account: usd + "/accounts/mark",
			Amount:  "100",
			Memo: &models.Memo{DestinationTransfer: &models.Transfer{
				ID:             eur + "/transfers/2",
				Ledger:         eur,
				Debits:         []models.Funds{{Account: eur + "/accounts/mark", Amount: "100"}},
				Credits:        []models.Funds{{Amount: "100"}},
				ExpiryDuration: "2",
			}},
		}},
	}
}

// legacyPath is a three-transfer path over two payment resources.
func legacyPath(net *testutils.Network) []models.Payment {
	l1, l2, l3 := net.Host("l1"), net.Host("l2"), net.Host("l3")
	hop2 := models.Transfer{
		ID:             l2 + "/transfers/b",
		Ledger:         l2,
		Debits:         []models.Funds{{Account: l2 + "/accounts/connie", Amount: "9"}},
		Credits:        []models.Funds{{Account: l2 + "/accounts/mark", Amount: "9"}},
		ExpiryDuration: "4",
	}
	return []models.Payment{
		{
			ID: net.Host("connie") + "/payments/1",
			SourceTransfers: []models.Transfer{{
				ID:             l1 + "/transfers/a",
				Ledger:         l1,
				Debits:         []models.Funds{{Amount: "10"}},
				Credits:        []models.Funds{{Account: l1 + "/accounts/connie", Amount: "10"}},
				ExpiryDuration: "6",
			}},
			DestinationTransfers: []models.Transfer{hop2},
		},
		{
			ID:              net.Host("mark") + "/payments/2",
			SourceTransfers: []models.Transfer{hop2},
			DestinationTransfers: []models.Transfer{{
				ID:             l3 + "/transfers/c",
				Ledger:         l3,
				Debits:         []models.Funds{{Account: l3 + "/accounts/mark", Amount: "8"}},
				Credits:        []models.Funds{{Amount: "8"}},
				ExpiryDuration: "2",
			}},
		},
	}
}

func TestExecutePaymentUniversal(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()
	usd, eur := net.Host("usd"), net.Host("eur")

	c, err := chain.FromTransfer(linkedTransfer(net))
	require.NoError(t, err)

	res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      usd + "/accounts/alice",
		DestinationAccount: eur + "/accounts/bob",
		Credentials:        domain.Credentials{Password: "alice"},
		DestinationMemo:    map[string]any{"invoice": "42"},
	})
	require.NoError(t, err)

	assert.Equal(t, "universal", res.Mode)
	assert.Empty(t, res.CaseID)
	assert.Equal(t, []string{
		"GET /eur/transfers/2/state",
		"GET /usd/accounts/alice",
		"PUT /usd/transfers/1",
	}, trace(net))

	require.Len(t, res.Transfers, 2)
	hop1, hop2 := res.Transfers[0], res.Transfers[1]
	assert.Equal(t, usd+"/accounts/alice", hop1.Debits[0].Account)
	assert.True(t, hop1.Debits[0].Authorized)
	assert.Equal(t, eur+"/accounts/bob", hop2.Credits[0].Account)
	assert.Equal(t, map[string]any{"invoice": "42"}, hop2.Credits[0].Memo.Fields)

	hash, err := condition.HashJSON(models.StateMessage{ID: eur + "/transfers/2", State: "executed"})
	require.NoError(t, err)
	assert.Equal(t, &models.Condition{
		Type:        "ed25519-sha512",
		Signer:      eur,
		PublicKey:   net.PublicKey,
		MessageHash: hash,
	}, hop1.ExecutionCondition)
	assert.Nil(t, hop2.ExecutionCondition)
	assert.Nil(t, hop1.CancellationCondition)

	assert.Equal(t, "2016-02-02T08:00:06.000Z", hop1.ExpiresAt)
	assert.Equal(t, "2016-02-02T08:00:02.000Z", hop2.ExpiresAt)
	assert.Empty(t, hop1.ExpiryDuration)
	assert.Empty(t, hop2.ExpiryDuration)

	require.NotNil(t, res.Source)
	assert.Equal(t, models.StatePrepared, res.Source.State)

	puts := net.Calls(http.MethodPut, `^/usd/transfers/1$`)
	require.Len(t, puts, 1)
	assert.Equal(t, "alice", puts[0].User)
	var sent models.Transfer
	require.NoError(t, json.Unmarshal(puts[0].Body, &sent))
	require.NotNil(t, sent.Credits[0].Memo)
	nested := sent.Credits[0].Memo.DestinationTransfer
	require.NotNil(t, nested)
	assert.Equal(t, eur+"/transfers/2", nested.ID)
	assert.Equal(t, "2016-02-02T08:00:02.000Z", nested.ExpiresAt)
	assert.Nil(t, nested.ExecutionCondition)
}

func TestExecutePaymentUniversalLegacyPath(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()

	c, err := chain.FromPayments(legacyPath(net))
	require.NoError(t, err)

	res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      net.Host("l1") + "/accounts/alice",
		DestinationAccount: net.Host("l3") + "/accounts/bob",
		Credentials:        domain.Credentials{Username: "alice", Password: "secret"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /l3/transfers/c/state",
		"PUT /l1/transfers/a",
		"PUT /l2/transfers/b",
		"PUT /l3/transfers/c",
		"PUT /connie/payments/1",
		"PUT /mark/payments/2",
	}, trace(net))

	// Only the sender's transfer is authenticated.
	for _, call := range net.Calls(http.MethodPut, `/transfers/`) {
		if strings.HasPrefix(call.Path, "/l1/") {
			assert.Equal(t, "alice", call.User)
		} else {
			assert.Empty(t, call.User, call.Path)
		}
	}

	require.Len(t, res.Transfers, 3)
	assert.Equal(t, []string{models.StatePrepared, models.StatePrepared, models.StateExecuted},
		[]string{res.Transfers[0].State, res.Transfers[1].State, res.Transfers[2].State})
	assert.Equal(t, net.Host("connie")+"/payments/1", res.Transfers[0].AdditionalInfo["part_of_payment"])
	assert.Equal(t, net.Host("mark")+"/payments/2", res.Transfers[2].AdditionalInfo["part_of_payment"])
	assert.NotNil(t, res.Transfers[1].ExecutionCondition)
	assert.Nil(t, res.Transfers[2].ExecutionCondition)
	assert.Nil(t, res.Source)
}

func TestExecutePaymentThreadsPaymentResponses(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()
	hop2ID := net.Host("l2") + "/transfers/b"

	// The first connector answers with an updated version of the shared
	// transfer; the second payment must be rendered from it.
	net.Override(http.MethodPut, "/connie/payments/1", func(w http.ResponseWriter, r *http.Request) {
		var p models.Payment
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		updated := p.DestinationTransfers[0]
		updated.State = models.StateExecuted
		chain.SetInfo(&updated, "relayed_by", "connie")
		p.DestinationTransfers = []models.Transfer{updated}
		testutils.WriteJSON(w, http.StatusOK, p)
	})

	c, err := chain.FromPayments(legacyPath(net))
	require.NoError(t, err)
	_, err = svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      net.Host("l1") + "/accounts/alice",
		DestinationAccount: net.Host("l3") + "/accounts/bob",
	})
	require.NoError(t, err)

	calls := net.Calls(http.MethodPut, `^/mark/payments/2$`)
	require.Len(t, calls, 1)
	var second models.Payment
	require.NoError(t, json.Unmarshal(calls[0].Body, &second))
	require.Len(t, second.SourceTransfers, 1)
	src := second.SourceTransfers[0]
	assert.Equal(t, hop2ID, src.ID)
	assert.Equal(t, models.StateExecuted, src.State)
	assert.Equal(t, "connie", src.AdditionalInfo["relayed_by"])
}

func TestExecutePaymentAtomic(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()
	notaryURI := net.Host("notary")
	caseID := notaryURI + "/cases/case-1"

	c, err := chain.FromPayments(legacyPath(net))
	require.NoError(t, err)

	res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      net.Host("l1") + "/accounts/alice",
		DestinationAccount: net.Host("l3") + "/accounts/bob",
		Credentials:        domain.Credentials{Username: "alice", Password: "secret"},
		Notary:             notaryURI,
		NotaryPublicKey:    notaryKey,
		CaseID:             "case-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "atomic", res.Mode)
	assert.Equal(t, caseID, res.CaseID)

	assert.Equal(t, []string{
		"GET /l3/transfers/c/state",
		"PUT /notary/cases/case-1",
		"PUT /l1/transfers/a",
		"PUT /l2/transfers/b",
		"PUT /l3/transfers/c",
		"PUT /connie/payments/1",
		"PUT /mark/payments/2",
		"GET /l3/transfers/c/state",
		"PUT /notary/cases/case-1/fulfillment",
	}, trace(net))

	receiptHash, err := condition.HashJSON(models.StateMessage{ID: net.Host("l3") + "/transfers/c", State: "prepared"})
	require.NoError(t, err)
	receipt := models.Condition{Type: "ed25519-sha512", Signer: net.Host("l3"), PublicKey: net.PublicKey, MessageHash: receiptHash}

	got, ok := net.Case(caseID)
	require.True(t, ok)
	assert.Equal(t, &receipt, got.ExecutionCondition)
	assert.Equal(t, "2016-02-02T08:00:06.000Z", got.ExpiresAt)
	assert.Len(t, got.NotificationTargets, 3)

	wantExecution := &models.Condition{Type: "and", Subconditions: []models.Condition{
		{Type: "ed25519-sha512", Signer: notaryURI, PublicKey: notaryKey, MessageHash: condition.HashString("urn:notary:" + caseID + ":executed")},
		receipt,
	}}
	wantCancellation := &models.Condition{
		Type: "ed25519-sha512", Signer: notaryURI, PublicKey: notaryKey,
		MessageHash: condition.HashString("urn:notary:" + caseID + ":cancelled"),
	}
	for i, hop := range res.Transfers {
		assert.Equal(t, wantExecution, hop.ExecutionCondition, "hop %d", i)
		assert.Equal(t, wantCancellation, hop.CancellationCondition, "hop %d", i)
		assert.Empty(t, hop.ExpiresAt, "hop %d", i)
		assert.Empty(t, hop.ExpiryDuration, "hop %d", i)
		cases, err := json.Marshal(hop.AdditionalInfo["cases"])
		require.NoError(t, err)
		assert.JSONEq(t, `["`+caseID+`"]`, string(cases), "hop %d", i)
	}

	fulfillments := net.Calls(http.MethodPut, `fulfillment$`)
	require.Len(t, fulfillments, 1)
	assert.JSONEq(t, `{"type":"ed25519-sha512","signature":"sig-prepared"}`, string(fulfillments[0].Body))
}

func TestExecutePaymentAtomicEscapedCaseID(t *testing.T) {
	tests := []struct {
		name   string
		caseID string
		path   string
	}{
		{"space", "case 1", "/notary/cases/case%201"},
		{"forty characters unescaped", strings.Repeat("x", 36) + " a b", "/notary/cases/" + strings.Repeat("x", 36) + "%20a%20b"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			net := testutils.NewNetwork(t)
			svc := newService()
			notaryURI := net.Host("notary")

			c, err := chain.FromPayments(legacyPath(net))
			require.NoError(t, err)
			res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
				SourceAccount:      net.Host("l1") + "/accounts/alice",
				DestinationAccount: net.Host("l3") + "/accounts/bob",
				Credentials:        domain.Credentials{Username: "alice", Password: "secret"},
				Notary:             notaryURI,
				NotaryPublicKey:    notaryKey,
				CaseID:             tc.caseID,
			})
			require.NoError(t, err)
			assert.Equal(t, net.URL+tc.path, res.CaseID)

			cases := net.Calls(http.MethodPut, `^/notary/cases/[^/]+$`)
			require.Len(t, cases, 1)
			assert.Equal(t, tc.path, cases[0].Path)
			fulfillments := net.Calls(http.MethodPut, `fulfillment$`)
			require.Len(t, fulfillments, 1)
			assert.Equal(t, tc.path+"/fulfillment", fulfillments[0].Path)

			_, ok := net.Case(res.CaseID)
			assert.True(t, ok)
			executed := condition.HashString("urn:notary:" + res.CaseID + ":executed")
			cancelled := condition.HashString("urn:notary:" + res.CaseID + ":cancelled")
			for i, hop := range res.Transfers {
				assert.Equal(t, executed, hop.ExecutionCondition.Subconditions[0].MessageHash, "hop %d", i)
				assert.Equal(t, cancelled, hop.CancellationCondition.MessageHash, "hop %d", i)
				got, err := json.Marshal(hop.AdditionalInfo["cases"])
				require.NoError(t, err)
				want, err := json.Marshal([]string{res.CaseID})
				require.NoError(t, err)
				assert.JSONEq(t, string(want), string(got), "hop %d", i)
			}
		})
	}
}

func TestExecutePaymentAtomicCallerReceipt(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()
	receipt := &models.Condition{Type: "ed25519-sha512", Signer: "http://bank.example", MessageHash: "pre-agreed"}

	c, err := chain.FromTransfer(linkedTransfer(net))
	require.NoError(t, err)
	res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      net.Host("usd") + "/accounts/alice",
		DestinationAccount: net.Host("eur") + "/accounts/bob",
		Credentials:        domain.Credentials{Username: "alice", Password: "secret"},
		Notary:             net.Host("notary"),
		NotaryPublicKey:    notaryKey,
		ReceiptCondition:   receipt,
	})
	require.NoError(t, err)

	calls := trace(net)
	require.Len(t, calls, 2)
	assert.Regexp(t, `^PUT /notary/cases/[0-9a-f-]{36}$`, calls[0])
	assert.Equal(t, "PUT /usd/transfers/1", calls[1])
	assert.Empty(t, net.Calls(http.MethodGet, `state$`))
	assert.Equal(t, *receipt, res.Transfers[1].ExecutionCondition.Subconditions[1])
}

func TestExecutePaymentOptimistic(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()
	usd := net.Host("usd")

	c, err := chain.FromTransfer(models.Transfer{
		ID:             usd + "/transfers/1",
		Ledger:         usd,
		Debits:         []models.Funds{{Amount: "5"}},
		Credits:        []models.Funds{{Amount: "5"}},
		ExpiryDuration: "1.5",
	})
	require.NoError(t, err)

	res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      usd + "/accounts/alice",
		DestinationAccount: usd + "/accounts/bob",
		Credentials:        domain.Credentials{Username: "alice", Password: "secret"},
		Optimistic:         true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"PUT /usd/transfers/1"}, trace(net))
	require.Len(t, res.Transfers, 1)
	hop := res.Transfers[0]
	assert.Nil(t, hop.ExecutionCondition)
	assert.Nil(t, hop.CancellationCondition)
	assert.Equal(t, "2016-02-02T08:00:01.500Z", hop.ExpiresAt)
	assert.True(t, hop.Debits[0].Authorized)
}

func TestExecutePaymentRejectsBeforeAnyRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     func(net *testutils.Network) domain.PaymentRequest
		mutate  func(p []models.Payment)
		wantErr error
	}{
		{
			name: "notary without public key",
			req: func(net *testutils.Network) domain.PaymentRequest {
				return domain.PaymentRequest{Notary: net.Host("notary")}
			},
			wantErr: domain.ErrConfiguration,
		},
		{
			name: "notary with optimistic",
			req: func(net *testutils.Network) domain.PaymentRequest {
				return domain.PaymentRequest{Notary: net.Host("notary"), NotaryPublicKey: notaryKey, Optimistic: true}
			},
			wantErr: domain.ErrConfiguration,
		},
		{
			name: "long case id",
			req: func(net *testutils.Network) domain.PaymentRequest {
				return domain.PaymentRequest{Notary: net.Host("notary"), NotaryPublicKey: notaryKey, CaseID: strings.Repeat("c", 41)}
			},
			wantErr: domain.ErrInvalidCaseID,
		},
		{
			name: "optimistic with conditions",
			req: func(net *testutils.Network) domain.PaymentRequest {
				return domain.PaymentRequest{Optimistic: true, ReceiptCondition: &models.Condition{Type: "x"}}
			},
			wantErr: domain.ErrConfiguration,
		},
		{
			name:    "negative expiry",
			req:     func(net *testutils.Network) domain.PaymentRequest { return domain.PaymentRequest{} },
			mutate:  func(p []models.Payment) { p[0].SourceTransfers[0].ExpiryDuration = "-1" },
			wantErr: domain.ErrConfiguration,
		},
		{
			name: "one-to-many payment",
			req:  func(net *testutils.Network) domain.PaymentRequest { return domain.PaymentRequest{} },
			mutate: func(p []models.Payment) {
				p[1].DestinationTransfers = append(p[1].DestinationTransfers, p[1].DestinationTransfers[0])
			},
			wantErr: domain.ErrConfiguration,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			net := testutils.NewNetwork(t)
			svc := newService()
			req := tc.req(net)
			req.Path = legacyPath(net)
			if tc.mutate != nil {
				tc.mutate(req.Path)
			}

			_, err := svc.Submit(context.Background(), req)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, net.AllCalls())
		})
	}
}

func TestExecutePaymentAbortsOnRemoteError(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()
	net.Override(http.MethodPut, "/l1/transfers/a", func(w http.ResponseWriter, r *http.Request) {
		testutils.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"id": "InsufficientFundsError"})
	})

	c, err := chain.FromPayments(legacyPath(net))
	require.NoError(t, err)
	res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      net.Host("l1") + "/accounts/alice",
		DestinationAccount: net.Host("l3") + "/accounts/bob",
	})

	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
	assert.Contains(t, string(re.Body), "InsufficientFundsError")
	assert.Equal(t, []string{"GET /l3/transfers/c/state", "PUT /l1/transfers/a"}, trace(net))
	require.NotNil(t, res)
	assert.Len(t, res.Transfers, 3)
}

func TestExecutePaymentFulfillmentTimeout(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()

	// The final transfer never leaves proposed: only the first hop is put.
	c, err := chain.FromTransfer(linkedTransfer(net))
	require.NoError(t, err)
	res, err := svc.ExecutePayment(context.Background(), c, domain.PaymentRequest{
		SourceAccount:      net.Host("usd") + "/accounts/alice",
		DestinationAccount: net.Host("eur") + "/accounts/bob",
		Notary:             net.Host("notary"),
		NotaryPublicKey:    notaryKey,
	})
	assert.ErrorIs(t, err, domain.ErrTransferStateTimeout)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.CaseID)
	// One receipt lookup plus five polls.
	assert.Len(t, net.Calls(http.MethodGet, `^/eur/transfers/2/state$`), 6)
	assert.Empty(t, net.Calls(http.MethodPut, `fulfillment$`))
}

func TestSendPayment(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService(service.WithDestinationExpiry("2"))
	usd, eur := net.Host("usd"), net.Host("eur")

	net.SetConnectors(usd, net.Host("mark"))
	net.SetQuote(net.Host("mark"), func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		testutils.WriteJSON(w, http.StatusOK, models.Quote{
			SourceLedger:              q.Get("source_ledger"),
			DestinationLedger:         q.Get("destination_ledger"),
			SourceAmount:              "101",
			DestinationAmount:         q.Get("destination_amount"),
			SourceConnectorAccount:    usd + "/accounts/mark",
			SourceExpiryDuration:      "6",
			DestinationExpiryDuration: json.Number(q.Get("destination_expiry_duration")),
		})
	})

	res, err := svc.SendPayment(context.Background(), domain.PaymentRequest{
		SourceAccount:      usd + "/accounts/alice",
		DestinationAccount: eur + "/accounts/bob",
		DestinationAmount:  "100",
		Credentials:        domain.Credentials{Password: "secret"},
	})
	require.NoError(t, err)

	quotes := net.Calls(http.MethodGet, `^/mark/quote$`)
	require.Len(t, quotes, 1)
	query, err := url.ParseQuery(quotes[0].Query)
	require.NoError(t, err)
	assert.Equal(t, usd, query.Get("source_ledger"))
	assert.Equal(t, eur, query.Get("destination_ledger"))
	assert.Equal(t, "100", query.Get("destination_amount"))
	assert.Equal(t, "2", query.Get("destination_expiry_duration"))

	require.Len(t, res.Transfers, 2)
	hop1, hop2 := res.Transfers[0], res.Transfers[1]
	assert.Regexp(t, "^"+regexp.QuoteMeta(usd)+"/transfers/[0-9a-f-]{36}$", hop1.ID)
	assert.Regexp(t, "^"+regexp.QuoteMeta(eur)+"/transfers/[0-9a-f-]{36}$", hop2.ID)
	assert.Equal(t, usd+"/accounts/alice", hop1.Debits[0].Account)
	assert.Equal(t, "101", hop1.Debits[0].Amount)
	assert.Equal(t, usd+"/accounts/mark", hop1.Credits[0].Account)
	assert.Equal(t, eur+"/accounts/bob", hop2.Credits[0].Account)
	assert.Equal(t, "2016-02-02T08:00:06.000Z", hop1.ExpiresAt)
	assert.Equal(t, "2016-02-02T08:00:02.000Z", hop2.ExpiresAt)
	assert.NotNil(t, hop1.ExecutionCondition)
	assert.Nil(t, hop2.ExecutionCondition)
	assert.Equal(t, models.StatePrepared, res.Source.State)

	puts := net.Calls(http.MethodPut, `^/usd/transfers/`)
	require.Len(t, puts, 1)
	assert.Equal(t, "alice", puts[0].User)
}

func TestSendPaymentValidation(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()

	_, err := svc.SendPayment(context.Background(), domain.PaymentRequest{
		SourceAccount:      net.Host("usd") + "/accounts/alice",
		DestinationAccount: net.Host("eur") + "/accounts/bob",
		SourceAmount:       "1",
		DestinationAmount:  "1",
	})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = svc.SendPayment(context.Background(), domain.PaymentRequest{
		SourceAccount:      net.Host("usd") + "/accounts/alice",
		DestinationAccount: net.Host("eur") + "/accounts/bob",
		DestinationAmount:  "1",
	})
	assert.ErrorIs(t, err, domain.ErrNoQuote)
	assert.Empty(t, net.Calls(http.MethodPut, `.*`))
}

func TestSubmitQuotesPaymentPath(t *testing.T) {
	net := testutils.NewNetwork(t)
	svc := newService()
	l1 := net.Host("l1")

	net.SetConnectors(l1, net.Host("connie"), net.Host("greedy"))
	net.SetQuote(net.Host("connie"), func(w http.ResponseWriter, r *http.Request) {
		testutils.WriteJSON(w, http.StatusOK, legacyPath(net))
	})
	net.SetQuote(net.Host("greedy"), func(w http.ResponseWriter, r *http.Request) {
		p := legacyPath(net)
		p[0].SourceTransfers[0].Credits[0].Amount = "12"
		testutils.WriteJSON(w, http.StatusOK, p)
	})

	res, err := svc.Submit(context.Background(), domain.PaymentRequest{
		SourceAccount:      l1 + "/accounts/alice",
		DestinationAccount: net.Host("l3") + "/accounts/bob",
		DestinationAmount:  "8",
		Credentials:        domain.Credentials{Username: "alice", Password: "secret"},
		PaymentPath:        true,
	})
	require.NoError(t, err)

	quotes := net.Calls(http.MethodGet, `/quote$`)
	require.Len(t, quotes, 2)
	query, err := url.ParseQuery(quotes[0].Query)
	require.NoError(t, err)
	assert.Equal(t, l1+"/accounts/alice", query.Get("source_account"))
	assert.Equal(t, net.Host("l3")+"/accounts/bob", query.Get("destination_account"))
	assert.Equal(t, "8", query.Get("destination_amount"))

	assert.Equal(t, []string{
		"PUT /l1/transfers/a",
		"PUT /l2/transfers/b",
		"PUT /l3/transfers/c",
		"PUT /connie/payments/1",
		"PUT /mark/payments/2",
	}, trace(net)[len(trace(net))-5:])
	require.Len(t, res.Transfers, 3)
	assert.Equal(t, "10", res.Transfers[0].Credits[0].Amount)
	assert.Equal(t, l1+"/accounts/alice", res.Transfers[0].Debits[0].Account)
	assert.Equal(t, models.StateExecuted, res.Transfers[2].State)
}

func TestSubmitPaymentPathWithoutConnectors(t *testing.T) {
	net := testutils.NewNetwork(t)
	_, err := newService().Submit(context.Background(), domain.PaymentRequest{
		SourceAccount:      net.Host("l1") + "/accounts/alice",
		DestinationAccount: net.Host("l3") + "/accounts/bob",
		DestinationAmount:  "8",
		PaymentPath:        true,
	})
	assert.ErrorIs(t, err, domain.ErrNoQuote)
	assert.Empty(t, net.Calls(http.MethodPut, `.*`))
}
