package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/siqueiraa/kpublish/pkg/config"
)

const (
	batchTimeoutMillis = 10 // Batch timeout in milliseconds
)

// segmentioDriver writes through a kafka-go Writer. The writer is lazy, so
// construction dials one broker to surface unreachable clusters early.
type segmentioDriver struct {
	writer *kafka.Writer
}

func newSegmentioDriver(ctx context.Context, cfg config.ProducerConfig, brokers []string, debug bool) (*segmentioDriver, error) {
	dialer := &kafka.Dialer{Timeout: cfg.DialTimeout}

	var dialErr error
	for _, b := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", b)
		if err != nil {
			dialErr = errors.Join(dialErr, err)
			continue
		}
		_ = conn.Close()
		dialErr = nil
		break
	}
	if dialErr != nil {
		return nil, fmt.Errorf("dial brokers %v: %w", brokers, dialErr)
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           batchTimeoutMillis * time.Millisecond,
		RequiredAcks:           segmentioAcks(cfg.RequiredAcks),
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
	}
	if debug {
		w.Logger = kafka.LoggerFunc(debugLogger("kafka-go").Printf)
	}
	w.ErrorLogger = kafka.LoggerFunc(debugLogger("kafka-go").Printf)

	return &segmentioDriver{writer: w}, nil
}

func segmentioAcks(acks string) kafka.RequiredAcks {
	switch acks {
	case "none":
		return kafka.RequireNone
	case "leader":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

func (d *segmentioDriver) Write(ctx context.Context, topic string, value []byte) error {
	return d.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: value,
		Time:  time.Now(),
	})
}

func (d *segmentioDriver) Close() error {
	return d.writer.Close()
}
