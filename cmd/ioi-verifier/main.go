package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/logging"
	"github.com/ismaiel54/ioi-session-client/internal/msg"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <duration_seconds> [brokers]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 30 127.0.0.1:9092\n", os.Args[0])
		os.Exit(1)
	}

	var durationSeconds int
	if _, err := fmt.Sscanf(os.Args[1], "%d", &durationSeconds); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid duration: %v\n", err)
		os.Exit(1)
	}

	brokers := "127.0.0.1:9092"
	if len(os.Args) >= 3 {
		brokers = os.Args[2]
	}

	logger, err := logging.NewLogger("ioi-verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	brokerList := msg.ParseBrokers(brokers)
	logger.Info("starting verifier",
		zap.Int("duration_seconds", durationSeconds),
		zap.Strings("brokers", brokerList),
	)

	// A fresh group per run so every outcome on the topic is read
	group := fmt.Sprintf("ioi-verifier-%d", time.Now().UnixNano())
	consumer, err := msg.NewConsumer(&msg.Config{Brokers: brokerList, ClientID: "ioi-verifier"}, group,
		[]string{msg.TopicIOIOutcomes}, logger, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSeconds)*time.Second)
	defer cancel()

	tally := newTally()
	err = consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		var outcome msg.IOIOutcomeMsg
		if err := json.Unmarshal(rec.Value, &outcome); err != nil {
			logger.Warn("failed to unmarshal outcome", zap.Error(err))
			return nil
		}
		tally.add(outcome)

		logger.Debug("consumed outcome",
			zap.String("command_id", outcome.CommandID),
			zap.String("event_id", outcome.EventID),
			zap.String("status", outcome.Status),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
		)
		return nil
	})
	if err != nil && err != context.DeadlineExceeded {
		logger.Error("consumer error", zap.Error(err))
	}

	conflicts := tally.conflicts()

	fmt.Println("\n=== Verification Results ===")
	fmt.Printf("Total outcomes consumed: %d\n", tally.total)
	fmt.Printf("Unique command IDs: %d\n", len(tally.first))
	for _, status := range []string{msg.StatusAccepted, msg.StatusRejected, msg.StatusFailed} {
		fmt.Printf("  %s: %d\n", status, tally.byStatus[status])
	}
	fmt.Printf("Redelivered outcomes: %d\n", tally.redelivered)
	fmt.Printf("Conflicting command IDs: %d\n", len(conflicts))

	if len(conflicts) > 0 {
		fmt.Println("\nConflicts found:")
		for _, c := range conflicts {
			fmt.Printf("  Command ID: %s, First: %s/%s, Then: %s/%s\n",
				c.first.CommandID, c.first.EventID, c.first.Status, c.second.EventID, c.second.Status)
		}
		fmt.Println("\n❌ VERIFICATION FAILED: commands with more than one outcome!")
		os.Exit(1)
	}

	fmt.Println("\n✅ VERIFICATION PASSED: every command has exactly one outcome!")
	os.Exit(0)
}

// tally tracks the first outcome seen per command. The outbox publishes at
// least once, so the same event_id arriving again is a redelivery; a second
// event_id or a different status for one command is a conflict.
type tally struct {
	total       int
	redelivered int
	first       map[string]msg.IOIOutcomeMsg
	byStatus    map[string]int
	conflicting map[string]msg.IOIOutcomeMsg
}

type conflict struct {
	first, second msg.IOIOutcomeMsg
}

func newTally() *tally {
	return &tally{
		first:       make(map[string]msg.IOIOutcomeMsg),
		byStatus:    make(map[string]int),
		conflicting: make(map[string]msg.IOIOutcomeMsg),
	}
}

func (t *tally) add(o msg.IOIOutcomeMsg) {
	t.total++
	prev, seen := t.first[o.CommandID]
	if !seen {
		t.first[o.CommandID] = o
		t.byStatus[o.Status]++
		return
	}
	if prev.EventID == o.EventID && prev.Status == o.Status {
		t.redelivered++
		return
	}
	if _, already := t.conflicting[o.CommandID]; !already {
		t.conflicting[o.CommandID] = o
	}
}

func (t *tally) conflicts() []conflict {
	out := make([]conflict, 0, len(t.conflicting))
	for id, second := range t.conflicting {
		out = append(out, conflict{first: t.first[id], second: second})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].first.CommandID < out[j].first.CommandID })
	return out
}
