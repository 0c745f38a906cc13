package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStream layout for vote jobs.
const (
	JobStreamName   = "VOTING_JOBS"
	SubjectCreate   = "voting.jobs.create"
	SubjectClose    = "voting.jobs.close"
	jobSubjects     = "voting.jobs.>"
	jobDuplicateWin = 10 * time.Minute
)

// JetStreamDispatcher publishes jobs to JetStream. Each message carries the
// job's MsgID, so a bunch re-dispatched after a stream restart is dropped by
// the server within the duplicate window.
type JetStreamDispatcher struct {
	js     jetstream.JetStream
	logger zerolog.Logger
}

func NewJetStreamDispatcher(js jetstream.JetStream, logger zerolog.Logger) *JetStreamDispatcher {
	return &JetStreamDispatcher{js: js, logger: logger}
}

func (d *JetStreamDispatcher) DispatchCreate(ctx context.Context, job Job) error {
	job.Kind = KindCreate
	return d.publish(ctx, SubjectCreate, job)
}

func (d *JetStreamDispatcher) DispatchClose(ctx context.Context, job Job) error {
	job.Kind = KindClose
	return d.publish(ctx, SubjectClose, job)
}

func (d *JetStreamDispatcher) publish(ctx context.Context, subject string, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ack, err := d.js.Publish(ctx, subject, data, jetstream.WithMsgID(job.MsgID()))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		d.logger.Debug().Str("msg_id", job.MsgID()).Msg("job already queued")
	}
	return nil
}

// EnsureJobStream creates the job stream if it does not exist.
func EnsureJobStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       JobStreamName,
		Subjects:   []string{jobSubjects},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: jobDuplicateWin,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", JobStreamName, err)
	}
	logger.Info().Str("stream", JobStreamName).Msg("ensured job stream")
	return nil
}
