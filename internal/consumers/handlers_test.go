package consumers

import (
	"context"
	"errors"
	"testing"
	"time"

	"busticket/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexedEvent struct {
	subject string
	data    string
	at      time.Time
}

type fakeIndex struct {
	events []indexedEvent
	err    error
}

func (f *fakeIndex) IndexEvent(ctx context.Context, subject string, data []byte, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, indexedEvent{subject: subject, data: string(data), at: at})
	return nil
}

func TestProcessEvent_Indexes(t *testing.T) {
	idx := &fakeIndex{}
	h := NewHandlers(idx)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	done := h.processEvent(models.EventPaymentCompleted, []byte(`{"order_id":1}`), at)

	assert.True(t, done)
	require.Len(t, idx.events, 1)
	assert.Equal(t, models.EventPaymentCompleted, idx.events[0].subject)
	assert.Equal(t, `{"order_id":1}`, idx.events[0].data)
	assert.True(t, idx.events[0].at.Equal(at))
}

func TestProcessEvent_IndexFailureIsRetried(t *testing.T) {
	h := NewHandlers(&fakeIndex{err: errors.New("es unavailable")})
	assert.False(t, h.processEvent(models.EventOrderCreated, []byte(`{}`), time.Now()))
}

func TestProcessEvent_MalformedIsDropped(t *testing.T) {
	idx := &fakeIndex{}
	h := NewHandlers(idx)
	assert.True(t, h.processEvent(models.EventOrderCreated, []byte("{oops"), time.Now()))
	assert.Empty(t, idx.events)
}

func TestProcessEvent_NoIndex(t *testing.T) {
	h := NewHandlers(nil)
	assert.True(t, h.processEvent(models.EventOrderExpired, []byte(`{}`), time.Now()))
}

func TestHandleEmailJob(t *testing.T) {
	h := NewHandlers(nil)
	uid := int64(5)

	tests := []struct {
		name    string
		job     models.EmailJob
		wantErr bool
	}{
		{"guest", models.EmailJob{Template: models.EmailBookingConfirmed, OrderID: 1, Email: "an@example.com"}, false},
		{"user", models.EmailJob{Template: models.EmailTicketsRefunded, OrderID: 2, UserID: &uid}, false},
		{"unknown template", models.EmailJob{Template: "newsletter", OrderID: 3, Email: "an@example.com"}, true},
		{"no recipient", models.EmailJob{Template: models.EmailTicketsCancelled, OrderID: 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.HandleEmailJob(context.Background(), tt.job)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	err := h.HandleEmailJob(context.Background(), models.EmailJob{Template: "newsletter", Email: "x@example.com"})
	assert.ErrorIs(t, err, errUnknownTemplate)
}
