package service

import (
	"context"
	"fmt"
	"time"

	apperrors "busticket/internal/errors"
	"busticket/internal/metrics"
	"busticket/internal/models"

	"github.com/google/uuid"
)

// SeatGuard locks the requested seats inside the caller's transaction and
// checks they can be sold.
type SeatGuard struct{}

// Acquire returns the locked seats, ordered by id, with trip price attached.
func (SeatGuard) Acquire(ctx context.Context, r Repos, seatIDs []string) ([]models.Seat, error) {
	ids, err := normalizeSeatIDs(seatIDs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	seats, err := r.LockSeats(ctx, ids)
	metrics.SeatLockWait(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to lock seats: %w", err)
	}

	if len(seats) != len(ids) {
		return nil, fmt.Errorf("%w: requested %d, found %d", apperrors.ErrSeatsNotFound, len(ids), len(seats))
	}
	for _, seat := range seats {
		if seat.Status != models.SeatAvailable {
			return nil, fmt.Errorf("%w: seat %s is %s", apperrors.ErrSeatUnavailable, seat.SeatNumber, seat.Status)
		}
		if !seat.TripPrice.Valid || !seat.TripPrice.Decimal.IsPositive() {
			return nil, fmt.Errorf("%w: trip %d", apperrors.ErrInvalidTripPrice, seat.TripID)
		}
	}
	return seats, nil
}

// normalizeSeatIDs drops duplicates. Ids that are not UUIDs cannot match any
// seat row.
func normalizeSeatIDs(seatIDs []string) ([]string, error) {
	if len(seatIDs) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", apperrors.ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(seatIDs))
	ids := make([]string, 0, len(seatIDs))
	for _, raw := range seatIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a seat id", apperrors.ErrSeatsNotFound, raw)
		}
		key := id.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, key)
	}
	return ids, nil
}
