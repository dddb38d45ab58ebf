package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReceiptStream carries receipt journal events for downstream consumers
// (bookkeeping, dashboards).
const ReceiptStream = "fiscal:receipts"

// defaultMaxLen bounds the stream; consumers are expected to keep up.
const defaultMaxLen = 100_000

type StreamProducer struct {
	client *redis.Client
	stream string
}

func NewStreamProducer(client *redis.Client, stream string) *StreamProducer {
	if stream == "" {
		stream = ReceiptStream
	}
	return &StreamProducer{client: client, stream: stream}
}

// Publish appends one event to the stream.
func (p *StreamProducer) Publish(ctx context.Context, aggregateID, eventType string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: map[string]any{
			"receipt_id": aggregateID,
			"event_type": eventType,
			"payload":    string(payload),
			"timestamp":  time.Now().Unix(),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}
