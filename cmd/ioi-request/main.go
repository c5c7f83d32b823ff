package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/bootstrap"
	"github.com/ismaiel54/ioi-session-client/internal/config"
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/logging"
	"github.com/ismaiel54/ioi-session-client/internal/msg"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

func main() {
	var (
		op       = flag.String("op", "create", "Operation: create, update or cancel")
		handle   = flag.String("handle", "", "IOI handle (update and cancel)")
		file     = flag.String("file", "", "JSON file holding the IOI (overrides the quote flags)")
		ticker   = flag.String("ticker", "VOD LN Equity", "Stock ticker")
		side     = flag.String("side", "bid", "Quote side: bid or offer")
		price    = flag.String("price", "226.5", "Fixed price")
		currency = flag.String("currency", "", "Fixed price currency")
		qty      = flag.Int64("qty", 1000, "Quantity")
		goodFor  = flag.Duration("good-for", 15*time.Minute, "Time until the IOI expires")
	)
	flag.Parse()

	cfg := config.LoadConfig("ioi-request")

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	cmd, ok := msg.IOICommandMsg{Operation: *op, Handle: *handle}.Command()
	if !ok {
		logger.Fatal("unknown operation", zap.String("op", *op))
	}
	operation := cmd.Operation

	if operation != ioi.OpCreate && *handle == "" {
		logger.Fatal("handle is required", zap.String("op", *op))
	}
	if operation != ioi.OpCancel {
		var body ioi.IOI
		if *file != "" {
			body, err = readIOI(*file)
		} else {
			body, err = quoteIOI(*ticker, *side, *price, *currency, *qty, *goodFor)
		}
		if err != nil {
			logger.Fatal("failed to build ioi", zap.Error(err))
		}
		cmd.IOI = &body
	}

	transport, err := bootstrap.NewTransport(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create transport", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	client, err := bootstrap.Connect(ctx, cfg, transport, []string{cfg.RequestService}, session.Options{}, logger)
	if err != nil {
		logger.Fatal("failed to connect session", zap.Error(err))
	}
	defer client.Stop(context.Background())

	requester := ioi.NewRequester(client, cfg.RequestService, nil, logger)
	start := time.Now()
	result, err := requester.Do(ctx, cmd)
	if err != nil {
		logger.Error("ioi request failed", zap.String("operation", operation), zap.Error(err))
		client.Stop(context.Background())
		os.Exit(1)
	}

	fmt.Printf("\n=== %s ===\n", operation)
	fmt.Printf("Handle:  %s\n", result)
	fmt.Printf("Latency: %v\n", time.Since(start))
}

func quoteIOI(ticker, side, price, currency string, qty int64, goodFor time.Duration) (ioi.IOI, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return ioi.IOI{}, fmt.Errorf("failed to parse price %q: %w", price, err)
	}
	quote := &ioi.Quote{
		Price:    ioi.Price{Fixed: &p, FixedCurrency: currency},
		Quantity: qty,
	}

	body := ioi.IOI{
		GoodUntil:  time.Now().Add(goodFor).UTC(),
		Instrument: ioi.Instrument{Stock: &ioi.Stock{Ticker: ticker}},
	}
	switch side {
	case "bid":
		body.Bid = quote
	case "offer":
		body.Offer = quote
	default:
		return ioi.IOI{}, fmt.Errorf("unknown side %q", side)
	}
	return body, body.Validate()
}

func readIOI(path string) (ioi.IOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ioi.IOI{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var body ioi.IOI
	if err := json.Unmarshal(data, &body); err != nil {
		return ioi.IOI{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return body, nil
}
