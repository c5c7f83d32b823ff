package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/logging"
	"github.com/ismaiel54/ioi-session-client/internal/msg"
)

var tickers = []string{"VOD LN Equity", "BARC LN Equity", "AAPL US Equity", "MSFT US Equity", "7203 JT Equity"}

func main() {
	var (
		count     = flag.Int("count", 50, "Number of commands to produce")
		dupPct    = flag.Int("dup-pct", 30, "Percentage of duplicates (0-100)")
		cancelPct = flag.Int("cancel-pct", 10, "Percentage of cancels for handles that do not exist (0-100)")
		seed      = flag.Int64("seed", 42, "Random seed for deterministic generation")
		brokers   = flag.String("brokers", "127.0.0.1:9092", "Kafka broker addresses")
		topic     = flag.String("topic", msg.TopicIOICommands, "Topic to produce to")
	)
	flag.Parse()

	logger, err := logging.NewLogger("ioi-loadgen", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	brokerList := msg.ParseBrokers(*brokers)
	logger.Info("starting load generator",
		zap.Int("count", *count),
		zap.Int("dup_pct", *dupPct),
		zap.Int("cancel_pct", *cancelPct),
		zap.Int64("seed", *seed),
		zap.Strings("brokers", brokerList),
		zap.String("topic", *topic),
	)

	producer, err := msg.NewProducer(&msg.Config{Brokers: brokerList, ClientID: "ioi-loadgen"}, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	commands, unique, dups, cancels := generate(rand.New(rand.NewSource(*seed)), *seed, *count, *dupPct, *cancelPct)

	ctx := context.Background()
	produced := 0
	failed := 0
	for _, cmd := range commands {
		cmd.TsUnixMillis = time.Now().UnixMilli()
		if err := producer.ProduceJSON(ctx, *topic, cmd.CommandID, cmd); err != nil {
			logger.Error("failed to produce command",
				zap.String("command_id", cmd.CommandID),
				zap.Error(err),
			)
			failed++
			continue
		}
		produced++
		logger.Debug("produced command",
			zap.String("command_id", cmd.CommandID),
			zap.String("operation", cmd.Operation),
		)
	}

	logger.Info("load generator completed",
		zap.Int("total", *count),
		zap.Int("produced", produced),
		zap.Int("failed", failed),
		zap.Int("unique_commands", unique),
		zap.Int("duplicates", dups),
		zap.Int("cancels", cancels),
	)

	fmt.Printf("\n=== Load Generator Summary ===\n")
	fmt.Printf("Total commands: %d\n", *count)
	fmt.Printf("Produced: %d\n", produced)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Unique command IDs: %d\n", unique)
	fmt.Printf("Duplicate commands: %d\n", dups)
	fmt.Printf("Cancels of unknown handles: %d\n", cancels)
	fmt.Printf("Topic: %s\n", *topic)
	fmt.Printf("\n")

	if failed > 0 {
		os.Exit(1)
	}
}

// generate builds count commands. Duplicates repeat an earlier command
// verbatim; cancels target handles no service ever issued.
func generate(rng *rand.Rand, seed int64, count, dupPct, cancelPct int) (cmds []msg.IOICommandMsg, unique, dups, cancels int) {
	cmds = make([]msg.IOICommandMsg, 0, count)
	var issued []msg.IOICommandMsg

	for i := 0; i < count; i++ {
		if len(issued) > 0 && rng.Intn(100) < dupPct {
			cmds = append(cmds, issued[rng.Intn(len(issued))])
			dups++
			continue
		}

		cmd := msg.IOICommandMsg{CommandID: fmt.Sprintf("cmd-%d-%d", seed, unique)}
		if rng.Intn(100) < cancelPct {
			cmd.Operation = "cancel"
			cmd.Handle = uuid.NewString()
			cancels++
		} else {
			cmd.Operation = "create"
			cmd.IOI = randomIOI(rng)
		}
		issued = append(issued, cmd)
		cmds = append(cmds, cmd)
		unique++
	}
	return cmds, unique, dups, cancels
}

func randomIOI(rng *rand.Rand) *ioi.IOI {
	price := decimal.NewFromInt(int64(10000 + rng.Intn(20000))).Shift(-2)
	quote := &ioi.Quote{
		Price:    ioi.Price{Fixed: &price},
		Quantity: int64(100 * (1 + rng.Intn(50))),
	}
	body := &ioi.IOI{
		GoodUntil:  time.Now().Add(time.Duration(5+rng.Intn(55)) * time.Minute).UTC(),
		Instrument: ioi.Instrument{Stock: &ioi.Stock{Ticker: tickers[rng.Intn(len(tickers))]}},
	}
	if rng.Intn(2) == 0 {
		body.Bid = quote
	} else {
		body.Offer = quote
	}
	return body
}
