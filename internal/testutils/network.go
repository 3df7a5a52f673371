// Package testutils runs an in-process fake of the ledger, notary and
// connector HTTP contracts for tests.
package testutils

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/ledgersend/internal/models"
)

// Call is one request received by the fake network. Path is kept escaped as
// it went over the wire.
type Call struct {
	Method string
	Path   string
	Query  string
	User   string
	Body   []byte
}

// Network hosts every ledger, notary and connector under a path prefix of a
// single httptest server, e.g. URL+"/usd" is a ledger and URL+"/notary" a
// notary.
type Network struct {
	URL string

	mu        sync.Mutex
	calls     []Call
	transfers map[string]models.Transfer
	states    map[string][]models.StateReceipt
	overrides map[string]http.HandlerFunc
	cases     map[string]models.Case

	connectors map[string][]string
	quotes     map[string]http.HandlerFunc

	// PublicKey is reported by every transfer state receipt.
	PublicKey string
}

// NewNetwork starts a fake network that is closed with the test.
func NewNetwork(t *testing.T) *Network {
	t.Helper()
	n := &Network{
		transfers:  make(map[string]models.Transfer),
		states:     make(map[string][]models.StateReceipt),
		overrides:  make(map[string]http.HandlerFunc),
		cases:      make(map[string]models.Case),
		connectors: make(map[string][]string),
		quotes:     make(map[string]http.HandlerFunc),
		PublicKey:  "9PbUZzYvMd9qDnzSFgFm2Bq6MXu5bo0Ar4NrW5rQ8a8=",
	}

	r := mux.NewRouter().UseEncodedPath()
	r.Use(n.record)
	r.HandleFunc("/{host}/transfers/{id}/state", n.getState).Methods(http.MethodGet)
	r.HandleFunc("/{host}/transfers/{id}", n.putTransfer).Methods(http.MethodPut)
	r.HandleFunc("/{host}/payments/{id}", n.putPayment).Methods(http.MethodPut)
	r.HandleFunc("/{host}/cases/{id}/fulfillment", n.putFulfillment).Methods(http.MethodPut)
	r.HandleFunc("/{host}/cases/{id}", n.putCase).Methods(http.MethodPut)
	r.HandleFunc("/{host}/accounts/{name}", n.getAccount).Methods(http.MethodGet)
	r.HandleFunc("/{host}/connectors", n.getConnectors).Methods(http.MethodGet)
	r.HandleFunc("/{host}/quote", n.getQuote).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	n.URL = srv.URL
	return n
}

// Host returns the URI of a ledger, notary or connector on the network.
func (n *Network) Host(name string) string {
	return n.URL + "/" + name
}

// Override replaces the handler for method and an exact path.
func (n *Network) Override(method, path string, h http.HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overrides[method+" "+path] = h
}

// SetConnectors sets the answer of GET <ledger>/connectors.
func (n *Network) SetConnectors(ledger string, connectors ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connectors[ledger] = connectors
}

// SetQuote installs the GET <connector>/quote handler.
func (n *Network) SetQuote(connector string, h http.HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.quotes[connector] = h
}

// QueueStates makes the next GETs of transfer's state answer with states in
// order. Once the queue drains the stored transfer state is reported.
func (n *Network) QueueStates(transferID string, states ...models.StateReceipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	path := strings.TrimPrefix(transferID, n.URL)
	n.states[path] = append(n.states[path], states...)
}

// Calls returns the recorded calls whose method matches and whose path
// matches pattern.
func (n *Network) Calls(method, pattern string) []Call {
	re := regexp.MustCompile(pattern)
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Call
	for _, c := range n.calls {
		if c.Method == method && re.MatchString(c.Path) {
			out = append(out, c)
		}
	}
	return out
}

// AllCalls returns every recorded call in arrival order.
func (n *Network) AllCalls() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Call, len(n.calls))
	copy(out, n.calls)
	return out
}

// Case returns a case the notary received.
func (n *Network) Case(caseID string) (models.Case, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.cases[strings.TrimPrefix(caseID, n.URL)]
	return c, ok
}

func (n *Network) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		user, _, _ := r.BasicAuth()

		n.mu.Lock()
		n.calls = append(n.calls, Call{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			User:   user,
			Body:   body,
		})
		override := n.overrides[r.Method+" "+r.URL.EscapedPath()]
		n.mu.Unlock()

		if override != nil {
			override(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (n *Network) putTransfer(w http.ResponseWriter, r *http.Request) {
	var t models.Transfer
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"id": "InvalidBodyError"})
		return
	}
	t.State = models.StateProposed
	if len(t.Debits) > 0 && t.Debits[0].Authorized {
		t.State = models.StatePrepared
	}
	n.mu.Lock()
	n.transfers[r.URL.Path] = t
	n.mu.Unlock()
	writeJSON(w, http.StatusCreated, t)
}

func (n *Network) getState(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/state")

	n.mu.Lock()
	var receipt models.StateReceipt
	if q := n.states[path]; len(q) > 0 {
		receipt = q[0]
		n.states[path] = q[1:]
	} else {
		state := models.StateProposed
		if t, ok := n.transfers[path]; ok {
			state = t.State
		}
		receipt = models.StateReceipt{
			Type:      "ed25519-sha512",
			PublicKey: n.PublicKey,
			Signature: "sig-" + state,
			Message:   models.StateMessage{ID: n.URL + path, State: state},
		}
	}
	n.mu.Unlock()
	writeJSON(w, http.StatusOK, receipt)
}

func (n *Network) putPayment(w http.ResponseWriter, r *http.Request) {
	var p models.Payment
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"id": "InvalidBodyError"})
		return
	}
	n.mu.Lock()
	for i := range p.DestinationTransfers {
		// A conditional transfer waits for its fulfillment.
		p.DestinationTransfers[i].State = models.StateExecuted
		if p.DestinationTransfers[i].ExecutionCondition != nil {
			p.DestinationTransfers[i].State = models.StatePrepared
		}
		n.transfers[strings.TrimPrefix(p.DestinationTransfers[i].ID, n.URL)] = p.DestinationTransfers[i]
	}
	n.mu.Unlock()
	writeJSON(w, http.StatusOK, p)
}

func (n *Network) putCase(w http.ResponseWriter, r *http.Request) {
	var c models.Case
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"id": "InvalidBodyError"})
		return
	}
	n.mu.Lock()
	n.cases[r.URL.EscapedPath()] = c
	n.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (n *Network) putFulfillment(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (n *Network) getAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeJSON(w, http.StatusOK, models.Account{Ledger: n.Host(vars["host"]), Name: vars["name"]})
}

func (n *Network) getConnectors(w http.ResponseWriter, r *http.Request) {
	ledger := n.Host(mux.Vars(r)["host"])
	n.mu.Lock()
	connectors := n.connectors[ledger]
	n.mu.Unlock()
	entries := make([]models.ConnectorEntry, 0, len(connectors))
	for _, c := range connectors {
		entries = append(entries, models.ConnectorEntry{Connector: c})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (n *Network) getQuote(w http.ResponseWriter, r *http.Request) {
	connector := n.Host(mux.Vars(r)["host"])
	n.mu.Lock()
	h := n.quotes[connector]
	n.mu.Unlock()
	if h == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"id": "NotFoundError"})
		return
	}
	h(w, r)
}

// WriteJSON writes v with status for handlers built in tests.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
