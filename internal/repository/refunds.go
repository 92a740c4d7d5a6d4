package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"busticket/internal/database"
	"busticket/internal/models"

	"github.com/lib/pq"
)

type RefundRequestRepository struct {
	q database.Querier
}

func NewRefundRequestRepository(q database.Querier) *RefundRequestRepository {
	return &RefundRequestRepository{q: q}
}

const refundColumns = `
	id, request_ref, order_id, payment_id, ticket_ids, amount, reason, performed_by, status,
	gateway_transaction_id, gateway_response_data, created_at, updated_at`

func scanRefundRequest(row rowScanner) (*models.RefundRequest, error) {
	rr := &models.RefundRequest{}
	var ticketIDs pq.Int64Array
	err := row.Scan(
		&rr.ID,
		&rr.RequestRef,
		&rr.OrderID,
		&rr.PaymentID,
		&ticketIDs,
		&rr.Amount,
		&rr.Reason,
		&rr.PerformedBy,
		&rr.Status,
		&rr.GatewayTransactionID,
		&rr.GatewayResponseData,
		&rr.CreatedAt,
		&rr.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rr.TicketIDs = []int64(ticketIDs)
	return rr, nil
}

func (r *RefundRequestRepository) CreateRefundRequest(ctx context.Context, rr *models.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (request_ref, order_id, payment_id, ticket_ids, amount,
		                             reason, performed_by, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query,
		rr.RequestRef, rr.OrderID, rr.PaymentID, pq.Array(rr.TicketIDs), rr.Amount,
		rr.Reason, rr.PerformedBy, rr.Status,
	).Scan(&rr.ID, &rr.CreatedAt, &rr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund request: %w", err)
	}
	return nil
}

// GetInFlightRefund returns a refund of the order that is not settled either
// way. UNKNOWN counts until someone resolves it by hand.
func (r *RefundRequestRepository) GetInFlightRefund(ctx context.Context, orderID int64) (*models.RefundRequest, error) {
	query := `SELECT` + refundColumns + `
		FROM refund_requests
		WHERE order_id = $1 AND status IN ('INITIATED', 'GATEWAY_CONFIRMED', 'UNKNOWN')
		ORDER BY id
		LIMIT 1`
	return scanRefundRequest(r.q.QueryRowContext(ctx, query, orderID))
}

func (r *RefundRequestRepository) LockRefundRequest(ctx context.Context, id int64) (*models.RefundRequest, error) {
	query := `SELECT` + refundColumns + ` FROM refund_requests WHERE id = $1 FOR UPDATE`
	return scanRefundRequest(r.q.QueryRowContext(ctx, query, id))
}

func (r *RefundRequestRepository) UpdateRefundRequest(ctx context.Context, rr *models.RefundRequest) error {
	query := `
		UPDATE refund_requests
		SET status = $1, gateway_transaction_id = $2, gateway_response_data = $3, updated_at = NOW()
		WHERE id = $4`
	_, err := r.q.ExecContext(ctx, query, rr.Status, rr.GatewayTransactionID, rr.GatewayResponseData, rr.ID)
	return err
}

func (r *RefundRequestRepository) ListRefundRequests(ctx context.Context, status models.RefundRequestStatus, updatedBefore time.Time, limit int) ([]models.RefundRequest, error) {
	query := `SELECT` + refundColumns + `
		FROM refund_requests
		WHERE status = $1 AND updated_at < $2
		ORDER BY id
		LIMIT $3`

	rows, err := r.q.QueryContext(ctx, query, status, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.RefundRequest
	for rows.Next() {
		rr, err := scanRefundRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rr)
	}
	return result, rows.Err()
}
