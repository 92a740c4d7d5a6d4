package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"busticket/internal/models"

	"github.com/nats-io/stan.go"
)

type EventIndexer interface {
	IndexEvent(ctx context.Context, subject string, data []byte, at time.Time) error
}

var errUnknownTemplate = errors.New("unknown email template")

type Handlers struct {
	index   EventIndexer
	timeout time.Duration
}

func NewHandlers(index EventIndexer) *Handlers {
	return &Handlers{index: index, timeout: 10 * time.Second}
}

// HandleEvent индексирует доменное событие в аудит. Сообщение без Ack
// будет доставлено повторно после AckWait
func (h *Handlers) HandleEvent(m *stan.Msg) {
	if h.processEvent(m.Subject, m.Data, time.Unix(0, m.Timestamp)) {
		if err := m.Ack(); err != nil {
			slog.Error("Failed to ack event", "subject", m.Subject, "sequence", m.Sequence, "error", err)
		}
	}
}

// processEvent reports whether the message is done with.
func (h *Handlers) processEvent(subject string, data []byte, at time.Time) bool {
	if !json.Valid(data) {
		slog.Error("Dropping malformed event", "subject", subject)
		return true
	}
	if h.index == nil {
		slog.Info("Processing event", "subject", subject)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.index.IndexEvent(ctx, subject, data, at); err != nil {
		slog.Error("Failed to index event, will retry", "subject", subject, "error", err)
		return false
	}
	slog.Debug("Indexed event", "subject", subject)
	return true
}

// HandleEmailJob доставляет письмо. Отправка пока только логируется
func (h *Handlers) HandleEmailJob(ctx context.Context, job models.EmailJob) error {
	switch job.Template {
	case models.EmailBookingConfirmed, models.EmailTicketsRefunded, models.EmailTicketsCancelled:
	default:
		return fmt.Errorf("%w: %q", errUnknownTemplate, job.Template)
	}

	recipient := job.Email
	if recipient == "" && job.UserID != nil {
		recipient = fmt.Sprintf("user:%d", *job.UserID)
	}
	if recipient == "" {
		return fmt.Errorf("email job for order %d has no recipient", job.OrderID)
	}

	slog.Info("Email dispatched",
		"template", job.Template,
		"order_id", job.OrderID,
		"recipient", recipient,
		"queued_for", time.Since(job.CreatedAt).Round(time.Millisecond))
	return nil
}
