package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/siqueiraa/kpublish/pkg/avro"
	"github.com/siqueiraa/kpublish/pkg/kafka"
	"github.com/siqueiraa/kpublish/pkg/metrics"
)

// Meta names where and how a message is published.
type Meta struct {
	BrokerEndpoint   string `json:"kafkaUrl"`
	RegistryEndpoint string `json:"schemaRegistryUrl"`
	Topic            string `json:"topic"`
	RawSchema        string `json:"rawSchema"`
}

type Request struct {
	Meta       Meta    `json:"meta"`
	RawMessage Message `json:"rawMessage"`
}

// Validate checks the fields that must be non-empty.
func (r *Request) Validate() error {
	switch {
	case r.Meta.BrokerEndpoint == "":
		return badRequest(errors.New("meta.kafkaUrl is required"))
	case r.Meta.RegistryEndpoint == "":
		return badRequest(errors.New("meta.schemaRegistryUrl is required"))
	case r.Meta.Topic == "":
		return badRequest(errors.New("meta.topic is required"))
	}
	return nil
}

// Response summarizes one publish request.
type Response struct {
	Sent     bool    `json:"sent"`
	Count    int     `json:"count"`
	Success  bool    `json:"success"`
	Duration int64   `json:"duration"` // milliseconds, -1 when not sent
	Rate     float64 `json:"rate"`     // messages per second, -1 when not sent
}

// NotSent is the response for requests that never reach the send loop.
func NotSent() Response {
	return Response{Duration: -1, Rate: -1}
}

// ProducerProvider hands out producer handles by endpoint pair.
type ProducerProvider interface {
	ProducerFor(ctx context.Context, brokerEndpoint, registryEndpoint string) (kafka.Handle, error)
}

// Service converts a request's message to Avro and publishes it count times.
type Service struct {
	converter *avro.Converter
	provider  ProducerProvider
	metrics   *metrics.Recorder
	debug     bool
}

func NewService(converter *avro.Converter, provider ProducerProvider, rec *metrics.Recorder, debug bool) *Service {
	return &Service{
		converter: converter,
		provider:  provider,
		metrics:   rec,
		debug:     debug,
	}
}

// Publish runs a request through normalize, convert, acquire and send.
//
// The returned error is non-nil only when the request is rejected: it
// matches ErrBadRequest for caller faults (malformed message, schema
// mismatch) and anything else is an internal fault such as an invalid
// schema. An unavailable producer is not an error; it yields NotSent.
func (s *Service) Publish(ctx context.Context, req *Request, count int) (Response, error) {
	if count <= 0 {
		count = 1
	}
	s.tracef("Received %s count=%d", s.describe(req), count)

	if err := req.Validate(); err != nil {
		return NotSent(), err
	}
	if err := req.RawMessage.Normalize(); err != nil {
		return NotSent(), err
	}

	rec, err := s.converter.Convert(req.RawMessage.Text(), req.Meta.RawSchema)
	if err != nil {
		s.metrics.ObserveConversionError()
		if errors.Is(err, avro.ErrSchemaMismatch) {
			return NotSent(), badRequest(err)
		}
		return NotSent(), fmt.Errorf("convert message: %w", err)
	}
	s.tracef("Avrified: %v", rec.Native)

	handle, err := s.provider.ProducerFor(ctx, req.Meta.BrokerEndpoint, req.Meta.RegistryEndpoint)
	if err != nil || handle == nil {
		log.Printf("[Publish] no producer for broker=%s registry=%s: %v",
			req.Meta.BrokerEndpoint, req.Meta.RegistryEndpoint, err)
		return NotSent(), nil
	}

	res := s.sendLoop(ctx, handle, req.Meta.Topic, rec, count)
	if s.debug {
		log.Printf("[Publish] Produced: %+v", res)
	}
	return res, nil
}

// sendLoop issues count sends in order. A failed send is logged and the
// loop carries on; once started the loop ignores caller cancellation.
func (s *Service) sendLoop(ctx context.Context, h kafka.Handle, topic string, rec *avro.Record, count int) Response {
	ctx = context.WithoutCancel(ctx)
	s.tracef("Sending message (x%d) on %s", count, topic)

	success := 0
	start := time.Now()
	for i := 0; i < count; i++ {
		if err := h.Send(ctx, topic, rec); err != nil {
			log.Printf("[Publish] send %d/%d to %s failed: %v", i+1, count, topic, err)
			continue
		}
		success++
	}
	duration := time.Since(start).Milliseconds()

	s.tracef("Done sending (%d/%d)", success, count)
	return Response{
		Sent:     true,
		Count:    success,
		Success:  success > 0 && success == count,
		Duration: duration,
		Rate:     rate(count, duration),
	}
}

// rate is requested sends per second; a zero duration counts as 1ms.
func rate(count int, durationMillis int64) float64 {
	if durationMillis <= 0 {
		durationMillis = 1
	}
	return float64(count) * 1000.0 / float64(durationMillis)
}

func (s *Service) tracef(format string, args ...any) {
	if s.debug {
		log.Printf("[Publish] "+format, args...)
	}
}

func (s *Service) describe(req *Request) string {
	if !s.debug {
		return ""
	}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Sprintf("%+v", req.Meta)
	}
	return string(b)
}
