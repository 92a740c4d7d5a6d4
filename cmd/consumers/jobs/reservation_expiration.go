package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ReservationExpirer interface {
	ExpireReservations(ctx context.Context, batch int) (int, error)
}

// ReservationExpirationJob переводит заказы с истекшей бронью мест в EXPIRED
type ReservationExpirationJob struct {
	expirer  ReservationExpirer
	interval time.Duration
	batch    int

	ticker *time.Ticker
	done   chan struct{}
	// один проход за раз: медленный проход не накладывается на следующий тик
	running sync.Mutex
}

func NewReservationExpirationJob(expirer ReservationExpirer, interval time.Duration, batch int) *ReservationExpirationJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReservationExpirationJob{
		expirer:  expirer,
		interval: interval,
		batch:    batch,
		done:     make(chan struct{}),
	}
}

// Start begins the background job that sweeps expired reservations every interval
func (j *ReservationExpirationJob) Start(ctx context.Context) {
	slog.Info("Starting reservation expiration job", "check_interval", j.interval, "batch", j.batch)

	j.ticker = time.NewTicker(j.interval)

	// Run initial check immediately
	go j.sweep(ctx)

	go func() {
		for {
			select {
			case <-j.ticker.C:
				go j.sweep(ctx)
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Reservation expiration job stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the background job
func (j *ReservationExpirationJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
}

func (j *ReservationExpirationJob) sweep(ctx context.Context) {
	if !j.running.TryLock() {
		slog.Debug("Reservation sweep still running, skipping tick")
		return
	}
	defer j.running.Unlock()

	n, err := j.expirer.ExpireReservations(ctx, j.batch)
	if err != nil {
		slog.Error("Failed to expire reservations", "error", err, "expired", n)
		return
	}
	if n == 0 {
		slog.Debug("No expired reservations found")
		return
	}
	slog.Info("Expired reservations", "orders", n)
}
