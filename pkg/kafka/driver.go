package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/siqueiraa/kpublish/pkg/config"
)

// splitBrokers turns "host1:9092, host2:9092" into its addresses.
func splitBrokers(endpoint string) ([]string, error) {
	var brokers []string
	for _, b := range strings.Split(endpoint, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("no broker address")
	}
	return brokers, nil
}

// newDriver connects the configured broker client to brokers.
func newDriver(ctx context.Context, cfg config.ProducerConfig, brokers []string, debug bool) (driver, error) {
	switch cfg.Driver {
	case config.DriverKafkaGo, "":
		return newSegmentioDriver(ctx, cfg, brokers, debug)
	case config.DriverFranzGo:
		return newFranzDriver(ctx, cfg, brokers, debug)
	case config.DriverSarama:
		return newSaramaDriver(cfg, brokers, debug)
	}
	return nil, fmt.Errorf("unknown producer driver %q", cfg.Driver)
}

// debugLogger prefixes broker-client output the way the rest of the service logs.
func debugLogger(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.Flags())
}
