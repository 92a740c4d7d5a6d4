package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"busticket/internal/database"
	"busticket/internal/models"

	"github.com/lib/pq"
)

type OrderRepository struct {
	q database.Querier
}

func NewOrderRepository(q database.Querier) *OrderRepository {
	return &OrderRepository{q: q}
}

const orderColumns = `
	id, user_id, guest_name, guest_email, guest_phone, total_base_price, total_discount,
	total_final_price, status, created_at, updated_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.GuestName,
		&order.GuestEmail,
		&order.GuestPhone,
		&order.TotalBasePrice,
		&order.TotalDiscount,
		&order.TotalFinalPrice,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, guest_name, guest_email, guest_phone,
		                    total_base_price, total_discount, total_final_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query,
		order.UserID,
		order.GuestName,
		order.GuestEmail,
		order.GuestPhone,
		order.TotalBasePrice,
		order.TotalDiscount,
		order.TotalFinalPrice,
		order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.q.QueryRowContext(ctx, query, id))
}

// LockOrder returns the order row locked FOR UPDATE, or nil if it does not exist.
func (r *OrderRepository) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return scanOrder(r.q.QueryRowContext(ctx, query, id))
}

func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.q.ExecContext(ctx, query, status, id)
	return err
}

type TicketRepository struct {
	q database.Querier
}

func NewTicketRepository(q database.Querier) *TicketRepository {
	return &TicketRepository{q: q}
}

// CreateTickets inserts the tickets and fills in their ids and timestamps.
func (r *TicketRepository) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	query := `
		INSERT INTO tickets (order_id, seat_id, base_price, final_price, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	for i := range tickets {
		t := &tickets[i]
		err := r.q.QueryRowContext(ctx, query, t.OrderID, t.SeatID, t.BasePrice, t.FinalPrice, t.Status).
			Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert ticket for seat %s: %w", t.SeatID, err)
		}
	}
	return nil
}

// ListTicketsByOrder returns the tickets with their seat and trip attached.
func (r *TicketRepository) ListTicketsByOrder(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	query := `
		SELECT tk.id, tk.order_id, tk.seat_id, tk.base_price, tk.final_price, tk.status,
		       tk.created_at, tk.updated_at,` + seatWithTripColumns + `
		FROM tickets tk
		JOIN seats s ON s.id = tk.seat_id
		JOIN trips t ON t.id = s.trip_id
		WHERE tk.order_id = $1
		ORDER BY tk.id`

	rows, err := r.q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var t models.Ticket
		var seat models.Seat
		var price sql.NullString
		err := rows.Scan(
			&t.ID, &t.OrderID, &t.SeatID, &t.BasePrice, &t.FinalPrice, &t.Status,
			&t.CreatedAt, &t.UpdatedAt,
			&seat.ID, &seat.TripID, &seat.SeatNumber, &seat.Status, &seat.ReservedBy, &seat.ReservedUntil,
			&seat.CreatedAt, &seat.UpdatedAt, &price, &seat.TripStatus,
		)
		if err != nil {
			return nil, err
		}
		seat.TripPrice = parseNullDecimal(price)
		t.Seat = &seat
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *TicketRepository) UpdateTicketStatus(ctx context.Context, ids []int64, status models.TicketStatus) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE tickets SET status = $1, updated_at = NOW() WHERE id = ANY($2)`
	_, err := r.q.ExecContext(ctx, query, status, pq.Array(ids))
	return err
}
