package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"busticket/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const EmailQueueName = "email.jobs"

type RabbitConfig struct {
	URL   string
	Queue string
}

// EmailQueue publishes email jobs to a durable RabbitMQ queue. The channel is
// opened lazily and reopened after the broker drops it.
type EmailQueue struct {
	cfg RabbitConfig

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewEmailQueue(cfg RabbitConfig) (*EmailQueue, error) {
	if cfg.Queue == "" {
		cfg.Queue = EmailQueueName
	}
	q := &EmailQueue{cfg: cfg}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.channel(); err != nil {
		return nil, err
	}

	slog.Info("Connected to RabbitMQ", "queue", cfg.Queue)
	return q, nil
}

// channel returns an open channel. Callers hold q.mu.
func (q *EmailQueue) channel() (*amqp.Channel, error) {
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	if q.conn == nil || q.conn.IsClosed() {
		conn, err := amqp.Dial(q.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		q.conn = conn
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareEmailQueue(ch, q.cfg.Queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	q.ch = ch
	return ch, nil
}

func declareEmailQueue(ch *amqp.Channel, name string) error {
	// durable, not auto-deleted, not exclusive
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func (q *EmailQueue) EnqueueEmail(ctx context.Context, job models.EmailJob) error {
	msg, err := emailPublishing(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", q.cfg.Queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish email job: %w", err)
	}

	slog.Debug("Enqueued email job", "template", job.Template, "order_id", job.OrderID)
	return nil
}

func emailPublishing(job models.EmailJob) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal email job: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    job.CreatedAt.UTC(),
		Type:         job.Template,
		Body:         body,
	}, nil
}

// ConsumeEmails hands every queued job to handle until ctx is done. A job the
// handler rejects is dropped, a job that does not parse as well.
func (q *EmailQueue) ConsumeEmails(ctx context.Context, handle func(context.Context, models.EmailJob) error) error {
	backoff := time.Second
	for {
		err := q.consumeOnce(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("Email consumer stopped, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (q *EmailQueue) consumeOnce(ctx context.Context, handle func(context.Context, models.EmailJob) error) error {
	q.mu.Lock()
	conn := q.conn
	if conn == nil || conn.IsClosed() {
		if _, err := q.channel(); err != nil {
			q.mu.Unlock()
			return err
		}
		conn = q.conn
	}
	q.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	if err := declareEmailQueue(ch, q.cfg.Queue); err != nil {
		return err
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", q.cfg.Queue, err)
	}

	for d := range deliveries {
		var job models.EmailJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			slog.Error("Dropping malformed email job", "error", err)
			_ = d.Nack(false, false)
			continue
		}
		if err := handle(ctx, job); err != nil {
			slog.Error("Email job failed", "error", err, "template", job.Template, "order_id", job.OrderID)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (q *EmailQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
