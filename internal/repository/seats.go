package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"busticket/internal/database"
	"busticket/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type SeatRepository struct {
	q database.Querier
}

func NewSeatRepository(q database.Querier) *SeatRepository {
	return &SeatRepository{q: q}
}

const seatWithTripColumns = `
	s.id, s.trip_id, s.seat_number, s.status, s.reserved_by, s.reserved_until,
	s.created_at, s.updated_at, t.price::text, t.status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeatWithTrip(row rowScanner) (models.Seat, error) {
	var seat models.Seat
	var price sql.NullString
	err := row.Scan(
		&seat.ID,
		&seat.TripID,
		&seat.SeatNumber,
		&seat.Status,
		&seat.ReservedBy,
		&seat.ReservedUntil,
		&seat.CreatedAt,
		&seat.UpdatedAt,
		&price,
		&seat.TripStatus,
	)
	if err != nil {
		return seat, err
	}
	seat.TripPrice = parseNullDecimal(price)
	return seat, nil
}

// parseNullDecimal treats NULL, NaN and Infinity as missing.
func parseNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// LockSeats locks the seat rows exclusively and their trips for share, in id
// order. Missing ids are simply absent from the result.
func (r *SeatRepository) LockSeats(ctx context.Context, ids []string) ([]models.Seat, error) {
	query := `
		SELECT` + seatWithTripColumns + `
		FROM seats s
		JOIN trips t ON t.id = s.trip_id
		WHERE s.id = ANY($1::uuid[])
		ORDER BY s.id
		FOR UPDATE OF s FOR SHARE OF t`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock seats: %w", err)
	}
	defer rows.Close()

	var seats []models.Seat
	for rows.Next() {
		seat, err := scanSeatWithTrip(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}

	return seats, rows.Err()
}

// UpdateSeats persists status and reservation fields of each seat.
func (r *SeatRepository) UpdateSeats(ctx context.Context, seats []models.Seat) error {
	query := `
		UPDATE seats
		SET status = $1, reserved_by = $2, reserved_until = $3, updated_at = NOW()
		WHERE id = $4`

	for _, seat := range seats {
		if _, err := r.q.ExecContext(ctx, query, seat.Status, seat.ReservedBy, seat.ReservedUntil, seat.ID); err != nil {
			return fmt.Errorf("failed to update seat %s: %w", seat.ID, err)
		}
	}
	return nil
}

// ListExpiredReservationOrders returns pending orders holding at least one
// seat whose reservation ran out before the given time.
func (r *SeatRepository) ListExpiredReservationOrders(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	query := `
		SELECT DISTINCT o.id
		FROM orders o
		JOIN tickets tk ON tk.order_id = o.id AND tk.status = 'PENDING'
		JOIN seats s ON s.id = tk.seat_id
		WHERE o.status = 'PENDING'
		  AND s.status = 'RESERVED'
		  AND s.reserved_until < $1
		ORDER BY o.id
		LIMIT $2`

	rows, err := r.q.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
