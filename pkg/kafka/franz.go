package kafka

import (
	"context"
	"fmt"
	"log"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/siqueiraa/kpublish/pkg/config"
)

// kgoClient is the subset of *kgo.Client the franz-go driver uses.
type kgoClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

var _ kgoClient = (*kgo.Client)(nil)

type franzDriver struct {
	client kgoClient
}

func newFranzDriver(ctx context.Context, cfg config.ProducerConfig, brokers []string, debug bool) (*franzDriver, error) {
	client, err := kgo.NewClient(franzOpts(cfg, brokers, debug)...)
	if err != nil {
		return nil, fmt.Errorf("create franz-go client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping brokers %v: %w", brokers, err)
	}
	return &franzDriver{client: client}, nil
}

func franzOpts(cfg config.ProducerConfig, brokers []string, debug bool) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(0),
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}

	// Idempotent writes require acks from all in-sync replicas.
	switch cfg.RequiredAcks {
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}

	if cfg.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}

	level := kgo.LogLevelWarn
	if debug {
		level = kgo.LogLevelDebug
	}
	opts = append(opts, kgo.WithLogger(&kgoLogger{level: level, out: debugLogger("franz-go")}))
	return opts
}

func (d *franzDriver) Write(ctx context.Context, topic string, value []byte) error {
	return d.client.ProduceSync(ctx, &kgo.Record{Topic: topic, Value: value}).FirstErr()
}

func (d *franzDriver) Close() error {
	d.client.Close()
	return nil
}

// kgoLogger adapts the standard logger to franz-go's Logger.
type kgoLogger struct {
	level kgo.LogLevel
	out   *log.Logger
}

func (l *kgoLogger) Level() kgo.LogLevel { return l.level }

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	if level > l.level {
		return
	}
	l.out.Printf("%s %s %v", level, msg, keyvals)
}
