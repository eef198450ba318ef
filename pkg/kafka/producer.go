package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/siqueiraa/kpublish/pkg/avro"
	"github.com/siqueiraa/kpublish/pkg/metrics"
)

// Handle is a live producer bound to one broker cluster and one schema registry.
// Implementations must be safe for concurrent Send.
type Handle interface {
	Send(ctx context.Context, topic string, rec *avro.Record) error
	Close() error
}

// driver is the broker-client surface a Producer writes through.
type driver interface {
	Write(ctx context.Context, topic string, value []byte) error
	Close() error
}

// Producer serializes records in the Confluent wire format and writes them
// through its driver. Schema ids are registered once per (subject, schema).
type Producer struct {
	driver      driver
	registry    registry
	sendTimeout time.Duration
	metrics     *metrics.Recorder

	ids    sync.Map // subject:fingerprint -> int
	flight singleflight.Group
}

var _ Handle = (*Producer)(nil)

func newProducer(d driver, r registry, sendTimeout time.Duration, rec *metrics.Recorder) *Producer {
	return &Producer{
		driver:      d,
		registry:    r,
		sendTimeout: sendTimeout,
		metrics:     rec,
	}
}

// Send publishes one record to topic under subject <topic>-value.
func (p *Producer) Send(ctx context.Context, topic string, rec *avro.Record) error {
	start := time.Now()
	err := p.send(ctx, topic, rec)
	p.metrics.ObserveSend(topic, err, time.Since(start))
	return err
}

func (p *Producer) send(ctx context.Context, topic string, rec *avro.Record) error {
	subject := topic + "-value"
	schemaID, err := p.schemaID(subject, rec.SchemaText)
	if err != nil {
		return err
	}

	payload, err := avro.EncodeWire(schemaID, rec)
	if err != nil {
		return fmt.Errorf("avro encode failed: %w", err)
	}

	if p.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.sendTimeout)
		defer cancel()
	}
	if err := p.driver.Write(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// schemaID returns the registry id of schema under subject, registering it
// on first use.
func (p *Producer) schemaID(subject, schema string) (int, error) {
	key := subject + ":" + strconv.FormatUint(xxhash.Sum64String(schema), 16)
	if v, ok := p.ids.Load(key); ok {
		return v.(int), nil
	}

	val, err, _ := p.flight.Do(key, func() (interface{}, error) {
		if v, ok := p.ids.Load(key); ok {
			return v, nil
		}
		id, err := p.registry.Register(subject, schema)
		if err != nil {
			return nil, fmt.Errorf("register schema %s: %w", subject, err)
		}
		p.ids.Store(key, id)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return val.(int), nil
}

// Close shuts down the driver cleanly.
func (p *Producer) Close() error {
	return p.driver.Close()
}
