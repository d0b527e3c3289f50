package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/satchelhq/satchel/internal/session"
	"github.com/satchelhq/satchel/pkg/types"
)

// Job is the message handed to the downstream study-content generator. The
// generator pulls session files itself; the job carries references only.
type Job struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	Kinds       []string  `json:"kinds"`
	RequestedAt time.Time `json:"requestedAt"`
}

// QueuePublisher abstracts the message broker so dispatch can be tested
// without one
type QueuePublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// AMQPPublisher publishes jobs to a durable RabbitMQ queue
type AMQPPublisher struct {
	conn      *amqp.Connection
	queueName string
}

// NewAMQPPublisher creates a publisher for the given queue
func NewAMQPPublisher(conn *amqp.Connection, queueName string) *AMQPPublisher {
	return &AMQPPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

// Publish sends one persistent message to the job queue
func (p *AMQPPublisher) Publish(ctx context.Context, body []byte) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Dispatcher hands finalized sessions to the generation backend. It owns no
// generation logic; it ownership-checks the session, publishes a job and
// seeds the progress tracker.
type Dispatcher struct {
	sessions *session.Service
	queue    QueuePublisher
	progress *Progress
}

// NewDispatcher creates a dispatcher. progress may be nil when no tracker is
// configured; dispatch then skips seeding.
func NewDispatcher(sessions *session.Service, queue QueuePublisher, progress *Progress) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		queue:    queue,
		progress: progress,
	}
}

// Dispatch publishes a generation job for the user's session
func (d *Dispatcher) Dispatch(ctx context.Context, userID, sessionID uuid.UUID) (*Job, error) {
	sess, err := d.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if len(sess.Files) == 0 {
		return nil, fmt.Errorf("%w: session has no files to generate from", types.ErrInvalidInput)
	}

	job := &Job{
		SessionID:   sess.ID.String(),
		UserID:      userID.String(),
		Kinds:       sess.GenerationList,
		RequestedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job failed: %w", err)
	}

	if err := d.queue.Publish(ctx, body); err != nil {
		log.Error().Err(err).Str("session_id", job.SessionID).Msg("failed to publish generation job")
		return nil, fmt.Errorf("%w: publishing generation job: %v", types.ErrStorageFailure, err)
	}

	if d.progress != nil {
		if err := d.progress.Set(ctx, sessionID, Status{State: StateQueued}); err != nil {
			// The job is already on the queue; a missing progress record only
			// degrades polling.
			log.Warn().Err(err).Str("session_id", job.SessionID).Msg("failed to seed generation progress")
		}
	}

	log.Info().
		Str("session_id", job.SessionID).
		Strs("kinds", job.Kinds).
		Msg("generation job dispatched")

	return job, nil
}
