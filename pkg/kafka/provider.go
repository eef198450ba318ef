package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/siqueiraa/kpublish/pkg/config"
	"github.com/siqueiraa/kpublish/pkg/metrics"
)

// ErrProviderUnavailable wraps every failure to build a producer handle.
var ErrProviderUnavailable = errors.New("producer unavailable")

// Factory builds a handle for one (broker endpoint, registry endpoint) pair.
type Factory func(ctx context.Context, brokerEndpoint, registryEndpoint string) (Handle, error)

// Provider caches one Handle per endpoint pair for the life of the process.
//
// Lookups for a cached pair do not block. Concurrent first lookups for the
// same pair share a single creation; failed creations are not cached.
type Provider struct {
	factory       Factory
	createTimeout time.Duration
	metrics       *metrics.Recorder

	handles sync.Map // endpoint key -> Handle
	size    atomic.Int64
	flight  singleflight.Group
}

func NewProvider(factory Factory, createTimeout time.Duration, rec *metrics.Recorder) *Provider {
	return &Provider{
		factory:       factory,
		createTimeout: createTimeout,
		metrics:       rec,
	}
}

// endpointKey joins the pair with a byte that cannot appear in either URL.
func endpointKey(brokerEndpoint, registryEndpoint string) string {
	return brokerEndpoint + "\x00" + registryEndpoint
}

// ProducerFor returns the handle for the exact pair, creating it on first use.
func (p *Provider) ProducerFor(ctx context.Context, brokerEndpoint, registryEndpoint string) (Handle, error) {
	key := endpointKey(brokerEndpoint, registryEndpoint)
	if h, ok := p.handles.Load(key); ok {
		return h.(Handle), nil
	}

	val, err, _ := p.flight.Do(key, func() (interface{}, error) {
		// A flight that finished between Load and Do already stored it.
		if h, ok := p.handles.Load(key); ok {
			return h, nil
		}
		return p.create(ctx, key, brokerEndpoint, registryEndpoint)
	})
	if err != nil {
		return nil, err
	}
	return val.(Handle), nil
}

func (p *Provider) create(ctx context.Context, key, brokerEndpoint, registryEndpoint string) (Handle, error) {
	// The creation is shared by every waiter, so it must outlive the caller.
	ctx = context.WithoutCancel(ctx)
	if p.createTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.createTimeout)
		defer cancel()
	}

	start := time.Now()
	h, err := p.factory(ctx, brokerEndpoint, registryEndpoint)
	if err == nil && h == nil {
		err = errors.New("factory returned no handle")
	}
	if err != nil {
		p.metrics.ObserveProducerCreate(err, int(p.size.Load()))
		log.Printf("[Kafka] producer creation failed broker=%s registry=%s: %v", brokerEndpoint, registryEndpoint, err)
		return nil, fmt.Errorf("%w: broker=%s registry=%s: %w", ErrProviderUnavailable, brokerEndpoint, registryEndpoint, err)
	}

	p.handles.Store(key, h)
	n := p.size.Add(1)
	p.metrics.ObserveProducerCreate(nil, int(n))
	log.Printf("[Kafka] producer created broker=%s registry=%s in %v (cached=%d)",
		brokerEndpoint, registryEndpoint, time.Since(start), n)
	return h, nil
}

// Len reports how many handles are cached.
func (p *Provider) Len() int {
	return int(p.size.Load())
}

// Close closes and forgets every cached handle.
func (p *Provider) Close() error {
	var errs []error
	p.handles.Range(func(key, value any) bool {
		if err := value.(Handle).Close(); err != nil {
			errs = append(errs, err)
		}
		p.handles.Delete(key)
		p.size.Add(-1)
		return true
	})
	p.metrics.SetProducersCached(p.Len())
	return errors.Join(errs...)
}

// NewFactory builds handles from the application config: a schema registry
// client plus the configured broker driver.
func NewFactory(cfg config.AppConfig, rec *metrics.Recorder) Factory {
	return func(ctx context.Context, brokerEndpoint, registryEndpoint string) (Handle, error) {
		brokers, err := splitBrokers(brokerEndpoint)
		if err != nil {
			return nil, err
		}

		reg := newSRRegistry(registryEndpoint, cfg.Registry.Timeout)
		if cfg.Registry.VerifyOnCreate {
			if err := reg.Ping(); err != nil {
				return nil, fmt.Errorf("schema registry %s: %w", registryEndpoint, err)
			}
		}

		d, err := newDriver(ctx, cfg.Producer, brokers, cfg.Log.Debug)
		if err != nil {
			return nil, err
		}
		return newProducer(d, reg, cfg.Producer.SendTimeout, rec), nil
	}
}
