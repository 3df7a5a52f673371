// Package remote is the JSON-over-HTTP client shared by the ledger, notary
// and connector clients.
package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/log"
)

const maxBodyBytes = 4 << 20

var (
	remoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersend_remote_requests_total",
		Help: "Requests sent to ledgers, notaries and connectors, labeled by status code",
	}, []string{"method", "status"})

	remoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgersend_remote_request_duration_seconds",
		Help:    "Latency distribution of remote requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method"})
)

// Options configure a Client.
type Options struct {
	Timeout time.Duration
	// Transport serves requests without a client certificate. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Client sends JSON requests and turns >=400 responses into
// *domain.RemoteError. TLS client transports are cached per credential
// fingerprint and never shared between identities.
type Client struct {
	timeout   time.Duration
	transport http.RoundTripper

	mu         sync.Mutex
	transports map[string]*http.Transport
}

func NewClient(opts Options) *Client {
	t := opts.Transport
	if t == nil {
		t = http.DefaultTransport
	}
	return &Client{
		timeout:    opts.Timeout,
		transport:  t,
		transports: make(map[string]*http.Transport),
	}
}

// Request describes one remote call.
type Request struct {
	Method      string
	URL         string
	Query       url.Values
	Body        any
	Credentials *domain.Credentials
}

// Get decodes the JSON body of GET target into out.
func (c *Client) Get(ctx context.Context, target string, out any) error {
	_, err := c.Do(ctx, Request{Method: http.MethodGet, URL: target}, out)
	return err
}

// Put sends body to target and decodes the response into out (may be nil).
func (c *Client) Put(ctx context.Context, target string, body, out any) error {
	_, err := c.Do(ctx, Request{Method: http.MethodPut, URL: target, Body: body}, out)
	return err
}

// Do performs req and returns the response status.
func (c *Client) Do(ctx context.Context, req Request, out any) (int, error) {
	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return 0, fmt.Errorf("encode %s %s: %w", req.Method, req.URL, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return 0, fmt.Errorf("build %s %s: %w", req.Method, req.URL, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client, err := c.httpClient(req.Credentials)
	if err != nil {
		return 0, err
	}
	if creds := req.Credentials; creds != nil && creds.HasBasicAuth() {
		httpReq.SetBasicAuth(creds.Username, creds.Password)
	}

	timer := prometheus.NewTimer(remoteRequestDuration.WithLabelValues(req.Method))
	resp, err := client.Do(httpReq)
	timer.ObserveDuration()
	if err != nil {
		remoteRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return 0, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	remoteRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s %s: %w", req.Method, req.URL, err)
	}

	log.Ledger.Debug().
		Str("method", req.Method).
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Msg("remote call")

	if resp.StatusCode >= 400 {
		return resp.StatusCode, &domain.RemoteError{
			Method: req.Method,
			URL:    req.URL,
			Status: resp.StatusCode,
			Body:   raw,
		}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", req.Method, req.URL, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) httpClient(creds *domain.Credentials) (*http.Client, error) {
	if creds == nil || !creds.HasClientCert() {
		return &http.Client{Transport: c.transport, Timeout: c.timeout}, nil
	}
	t, err := c.tlsTransport(*creds)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t, Timeout: c.timeout}, nil
}

func (c *Client) tlsTransport(creds domain.Credentials) (*http.Transport, error) {
	key := Fingerprint(creds)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transports[key]; ok {
		return t, nil
	}

	cert, err := tls.X509KeyPair([]byte(creds.Cert), []byte(creds.Key))
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if creds.CA != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(creds.CA)) {
			return nil, errors.New("load client CA: no certificates found")
		}
		cfg.RootCAs = pool
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		base = &http.Transport{}
	}
	t := base.Clone()
	t.TLSClientConfig = cfg
	c.transports[key] = t
	return t, nil
}

// Fingerprint identifies a TLS client identity by its key material.
func Fingerprint(creds domain.Credentials) string {
	h := sha256.New()
	for _, part := range []string{creds.Key, creds.Cert, creds.CA} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
