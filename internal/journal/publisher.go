package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Producer sends one encoded record; msg.Producer implements it.
type Producer interface {
	Produce(ctx context.Context, topic, key string, value []byte) error
}

// Publisher ships outbox events to Kafka
type Publisher struct {
	store     *Store
	producer  Producer
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store *Store, producer Producer, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		store:     store,
		producer:  producer,
		logger:    logger,
		interval:  250 * time.Millisecond,
		batchSize: 100,
	}
}

// Run publishes on every tick until ctx ends
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("failed to publish batch", zap.Error(err))
			}
		}
	}
}

// PublishBatch publishes up to one batch of unpublished events and returns
// how many were shipped. Events that fail stay in the outbox for the next batch.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	events, err := p.store.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	for _, ev := range events {
		if err := p.producer.Produce(ctx, ev.Topic, ev.Key, []byte(ev.PayloadJSON)); err != nil {
			p.logger.Error("failed to produce event",
				zap.String("event_id", ev.EventID),
				zap.String("command_id", ev.CommandID),
				zap.Error(err),
			)
			continue
		}

		// A failure here republishes the event later; consumers dedupe on event_id.
		if err := p.store.MarkPublished(ctx, ev.EventID, time.Now().UnixMilli()); err != nil {
			p.logger.Error("failed to mark event as published",
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
			continue
		}

		published++
		p.logger.Debug("published outbox event",
			zap.String("event_id", ev.EventID),
			zap.String("command_id", ev.CommandID),
		)
	}

	if published > 0 {
		p.logger.Info("published outbox batch",
			zap.Int("published", published),
			zap.Int("total", len(events)),
		)
	}

	return published, nil
}
