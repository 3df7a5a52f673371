package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgersend/internal/config"
	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/ledger"
	"github.com/punchamoorthee/ledgersend/internal/log"
	"github.com/punchamoorthee/ledgersend/internal/notary"
	"github.com/punchamoorthee/ledgersend/internal/quote"
	"github.com/punchamoorthee/ledgersend/internal/remote"
	"github.com/punchamoorthee/ledgersend/internal/retry"
	"github.com/punchamoorthee/ledgersend/internal/service"
)

var (
	requestFile string
	quoteOnly   bool
	certFile    string
	keyFile     string
	caFile      string
	req         domain.PaymentRequest
)

func init() {
	flag.StringVar(&requestFile, "request", "", "JSON payment request file, - for stdin; flags override its fields")
	flag.BoolVar(&quoteOnly, "quote", false, "Print the cheapest quote without paying")

	flag.StringVar(&req.SourceAccount, "source", "", "Source account URI")
	flag.StringVar(&req.DestinationAccount, "destination", "", "Destination account URI")
	flag.StringVar(&req.SourceAmount, "source-amount", "", "Fixed source amount")
	flag.StringVar(&req.DestinationAmount, "destination-amount", "", "Fixed destination amount")

	flag.StringVar(&req.Credentials.Username, "username", "", "Source ledger username")
	flag.StringVar(&req.Credentials.Password, "password", "", "Source ledger password")
	flag.StringVar(&certFile, "cert", "", "PEM client certificate for the source ledger")
	flag.StringVar(&keyFile, "key", "", "PEM client key for the source ledger")
	flag.StringVar(&caFile, "ca", "", "PEM certificate authority of the source ledger")

	flag.StringVar(&req.Notary, "notary", "", "Notary URI; selects atomic mode")
	flag.StringVar(&req.NotaryPublicKey, "notary-public-key", "", "Notary signing key")
	flag.StringVar(&req.CaseID, "case-id", "", "Case id for atomic mode")
	flag.BoolVar(&req.Optimistic, "optimistic", false, "Send without conditions")
	flag.BoolVar(&req.PaymentPath, "payment-path", false, "Quote a legacy payment path instead of a linked quote")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadSender()
	if err != nil {
		fatal(err)
	}
	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Init(log.Options{LogLevel: level, Type: log.ConsoleLogger, Out: os.Stderr})

	payment, err := buildRequest()
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := remote.NewClient(remote.Options{Timeout: cfg.HTTPTimeout})
	svc := service.NewPaymentService(
		ledger.NewClient(rc),
		notary.NewCoordinator(rc, retry.Policy{MaxAttempts: cfg.PollAttempts, Interval: cfg.PollInterval}),
		quote.NewClient(rc),
		service.WithDestinationExpiry(cfg.DestinationExpiry),
	)

	var out any
	if quoteOnly {
		q, qerr := svc.Quote(ctx, payment)
		if q != nil {
			out = q
		}
		err = qerr
	} else {
		var res *service.Result
		res, err = svc.Submit(ctx, payment)
		if res != nil {
			out = res
		}
	}
	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(out)
	}
	if err != nil {
		fatal(err)
	}
}

// buildRequest merges the request file, if any, with the flags that were set.
func buildRequest() (domain.PaymentRequest, error) {
	var base domain.PaymentRequest
	if requestFile != "" {
		raw, err := readFile(requestFile)
		if err != nil {
			return base, err
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			return base, fmt.Errorf("parse %s: %w", requestFile, err)
		}
	}

	var readErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			base.SourceAccount = req.SourceAccount
		case "destination":
			base.DestinationAccount = req.DestinationAccount
		case "source-amount":
			base.SourceAmount = req.SourceAmount
		case "destination-amount":
			base.DestinationAmount = req.DestinationAmount
		case "username":
			base.Credentials.Username = req.Credentials.Username
		case "password":
			base.Credentials.Password = req.Credentials.Password
		case "notary":
			base.Notary = req.Notary
		case "notary-public-key":
			base.NotaryPublicKey = req.NotaryPublicKey
		case "case-id":
			base.CaseID = req.CaseID
		case "optimistic":
			base.Optimistic = req.Optimistic
		case "payment-path":
			base.PaymentPath = req.PaymentPath
		case "cert":
			base.Credentials.Cert, readErr = readPEM(certFile, readErr)
		case "key":
			base.Credentials.Key, readErr = readPEM(keyFile, readErr)
		case "ca":
			base.Credentials.CA, readErr = readPEM(caFile, readErr)
		}
	})
	return base, readErr
}

func readPEM(path string, prev error) (string, error) {
	if prev != nil {
		return "", prev
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "ledgersend:", err)
	os.Exit(1)
}
