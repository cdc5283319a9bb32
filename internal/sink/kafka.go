package sink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/airsense/internal/infrastructure/config"
	"github.com/nerrad567/airsense/internal/infrastructure/logging"
	"github.com/nerrad567/airsense/internal/telemetry"
)

const kafkaBatchTimeout = 100 * time.Millisecond

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka republishes readings, in wire format, to a Kafka topic. The
// underlying writer is asynchronous; delivery failures are counted from
// its completion callback.
type Kafka struct {
	w      messageWriter
	codec  telemetry.Codec
	key    []byte
	logger *logging.Logger

	encodeFailed atomic.Uint64
	sent         atomic.Uint64
	failed       atomic.Uint64
}

// NewKafka builds an asynchronous kafka-go writer for cfg.
func NewKafka(cfg config.KafkaConfig, codec telemetry.Codec, logger *logging.Logger) *Kafka {
	k := newKafka(nil, codec, logger)
	k.w = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: kafkaBatchTimeout,
		Async:        true,
		Completion:   k.completed,
	}
	return k
}

func newKafka(w messageWriter, codec telemetry.Codec, logger *logging.Logger) *Kafka {
	if logger == nil {
		logger = logging.Discard()
	}
	k := &Kafka{w: w, codec: codec, logger: logger}
	if codec.DeviceID != "" {
		k.key = []byte(codec.DeviceID)
	}
	return k
}

// Consume implements Sink.
func (k *Kafka) Consume(r telemetry.Reading) {
	payload, err := k.codec.Encode(r)
	if err != nil {
		k.encodeFailed.Add(1)
		k.logger.Warn("kafka encode failed", "error", err)
		return
	}

	msg := kafka.Message{Key: k.key, Value: payload, Time: r.Timestamp}
	if err := k.w.WriteMessages(context.Background(), msg); err != nil {
		k.failed.Add(1)
		k.logger.Warn("kafka write failed", "error", err)
	}
}

func (k *Kafka) completed(messages []kafka.Message, err error) {
	if err != nil {
		k.failed.Add(uint64(len(messages)))
		k.logger.Warn("kafka delivery failed", "messages", len(messages), "error", err)
		return
	}
	k.sent.Add(uint64(len(messages)))
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// KafkaStats counts Kafka outcomes.
type KafkaStats struct {
	Sent         uint64 `json:"sent"`
	Failed       uint64 `json:"failed"`
	EncodeFailed uint64 `json:"encode_failed"`
}

// Stats returns a snapshot of the counters.
func (k *Kafka) Stats() KafkaStats {
	return KafkaStats{
		Sent:         k.sent.Load(),
		Failed:       k.failed.Load(),
		EncodeFailed: k.encodeFailed.Load(),
	}
}
