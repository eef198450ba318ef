package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/siqueiraa/kpublish/pkg/config"
)

var saramaLoggerOnce sync.Once

// saramaDriver writes through a SyncProducer; sends block until acknowledged.
type saramaDriver struct {
	producer sarama.SyncProducer
}

func newSaramaDriver(cfg config.ProducerConfig, brokers []string, debug bool) (*saramaDriver, error) {
	if debug {
		saramaLoggerOnce.Do(func() { sarama.Logger = debugLogger("sarama") })
	}

	producer, err := sarama.NewSyncProducer(brokers, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create sarama producer: %w", err)
	}
	return &saramaDriver{producer: producer}, nil
}

func saramaConfig(cfg config.ProducerConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Metadata.AllowAutoTopicCreation = cfg.AllowAutoTopicCreation
	if cfg.DialTimeout > 0 {
		sc.Net.DialTimeout = cfg.DialTimeout
	}
	if cfg.SendTimeout > 0 {
		sc.Producer.Timeout = cfg.SendTimeout
	}
	// A SyncProducer has one message in flight, so a message threshold alone
	// would never be reached; the frequency flushes the partial batch.
	if cfg.BatchSize > 1 {
		sc.Producer.Flush.Messages = cfg.BatchSize
		sc.Producer.Flush.Frequency = batchTimeoutMillis * time.Millisecond
	}

	switch cfg.RequiredAcks {
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}
	return sc
}

// Write ignores ctx; Producer.Timeout bounds each send.
func (d *saramaDriver) Write(_ context.Context, topic string, value []byte) error {
	_, _, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (d *saramaDriver) Close() error {
	return d.producer.Close()
}
