package kafka

import (
	"time"

	"github.com/riferrei/srclient"
)

// registry is the part of the schema registry a producer needs.
type registry interface {
	// Register returns the id of schema under subject, creating it if needed.
	Register(subject, schema string) (int, error)
	// Ping checks that the registry answers.
	Ping() error
}

type srRegistry struct {
	client *srclient.SchemaRegistryClient
}

func newSRRegistry(url string, timeout time.Duration) *srRegistry {
	client := srclient.CreateSchemaRegistryClient(url)
	client.CachingEnabled(true)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &srRegistry{client: client}
}

func (r *srRegistry) Register(subject, schema string) (int, error) {
	s, err := r.client.CreateSchema(subject, schema, srclient.Avro)
	if err != nil {
		return 0, err
	}
	return s.ID(), nil
}

func (r *srRegistry) Ping() error {
	_, err := r.client.GetSubjects()
	return err
}
