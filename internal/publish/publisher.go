package publish

import (
	"context"
	"fmt"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"tws-bridge/internal/bridge"
)

// Publisher encodes delivered records as JSON and publishes each under
// "<prefix>:<kind>".
type Publisher struct {
	broker Broker
	prefix string
	logger *zap.Logger
}

// NewPublisher creates a publisher writing to broker.
func NewPublisher(broker Broker, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{broker: broker, prefix: prefix, logger: logger}
}

// Topic returns the topic records of kind are published under.
func Topic(prefix string, kind bridge.Kind) string {
	return prefix + ":" + kind.String()
}

// Topics returns the topics of every deliverable record kind.
func Topics(prefix string) []string {
	return []string{
		Topic(prefix, bridge.KindHistoricalData),
		Topic(prefix, bridge.KindScannerResult),
		Topic(prefix, bridge.KindAccountValue),
		Topic(prefix, bridge.KindPosition),
	}
}

// Publish sends rec. The record is only read; the caller keeps ownership.
func (p *Publisher) Publish(ctx context.Context, rec *bridge.Record) error {
	if rec == nil || rec.Kind == bridge.KindNone {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", rec.Kind, err)
	}
	topic := Topic(p.prefix, rec.Kind)
	if err := p.broker.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	p.logger.Debug("record_published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// Close closes the underlying broker.
func (p *Publisher) Close() error {
	return p.broker.Close()
}
