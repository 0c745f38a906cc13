package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const jobConsumerName = "voting-tracker-jobs"

// JobProcessor applies one job.
type JobProcessor interface {
	Handle(ctx context.Context, job Job) error
}

// Message is the part of jetstream.Msg the subscriber needs.
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// JobSubscriber consumes vote jobs from JetStream with a durable consumer.
type JobSubscriber struct {
	js      jetstream.JetStream
	handler JobProcessor
	logger  zerolog.Logger
	consume jetstream.ConsumeContext
}

func NewJobSubscriber(js jetstream.JetStream, handler JobProcessor, logger zerolog.Logger) *JobSubscriber {
	return &JobSubscriber{js: js, handler: handler, logger: logger}
}

// Start creates the durable consumer and begins delivery. Messages use
// explicit ack, max_deliver=5, ack_wait=30s.
func (s *JobSubscriber) Start(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, JobStreamName, jetstream.ConsumerConfig{
		Durable:       jobConsumerName,
		FilterSubject: jobSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", jobConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.HandleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", jobConsumerName, err)
	}
	s.consume = cc
	s.logger.Info().Str("consumer", jobConsumerName).Msg("subscribed to vote jobs")
	return nil
}

// HandleMessage decodes and applies one job. Undecodable messages are
// terminated, failed jobs are nak'ed for redelivery.
func (s *JobSubscriber) HandleMessage(ctx context.Context, msg Message) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		s.logger.Error().Err(err).Msg("undecodable job, terminating")
		if err := msg.Term(); err != nil {
			s.logger.Warn().Err(err).Msg("term failed")
		}
		return
	}

	if err := s.handler.Handle(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("msg_id", job.MsgID()).Msg("job failed, will be redelivered")
		if err := msg.Nak(); err != nil {
			s.logger.Warn().Err(err).Msg("nak failed")
		}
		return
	}
	if err := msg.Ack(); err != nil {
		s.logger.Warn().Err(err).Str("msg_id", job.MsgID()).Msg("ack failed")
	}
}

// Stop stops delivery.
func (s *JobSubscriber) Stop() {
	if s.consume != nil {
		s.consume.Stop()
	}
	s.logger.Info().Msg("job subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("aqua-voting-tracker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
