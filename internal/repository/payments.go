package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"busticket/internal/database"
	apperrors "busticket/internal/errors"
	"busticket/internal/models"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PaymentRepository struct {
	q database.Querier
}

func NewPaymentRepository(q database.Querier) *PaymentRepository {
	return &PaymentRepository{q: q}
}

const paymentColumns = `
	id, order_id, payment_method_id, provider, total_amount, merchant_order_ref,
	payment_status, gateway_transaction_no, gateway_response_data, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.PaymentMethodID,
		&p.Provider,
		&p.TotalAmount,
		&p.MerchantOrderRef,
		&p.Status,
		&p.GatewayTransactionNo,
		&p.GatewayResponseData,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, payment_method_id, provider, total_amount,
		                      merchant_order_ref, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query,
		p.OrderID, p.PaymentMethodID, p.Provider, p.TotalAmount, p.MerchantOrderRef, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "payments_order_id_key" {
		return apperrors.ErrDuplicatePaymentOnOrder
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE order_id = $1`
	return scanPayment(r.q.QueryRowContext(ctx, query, orderID))
}

func (r *PaymentRepository) GetPaymentByMerchantRef(ctx context.Context, ref string) (*models.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE merchant_order_ref = $1`
	return scanPayment(r.q.QueryRowContext(ctx, query, ref))
}

func (r *PaymentRepository) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(r.q.QueryRowContext(ctx, query, id))
}

func (r *PaymentRepository) UpdatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		UPDATE payments
		SET payment_status = $1, gateway_transaction_no = $2, gateway_response_data = $3, updated_at = NOW()
		WHERE id = $4`
	_, err := r.q.ExecContext(ctx, query, p.Status, p.GatewayTransactionNo, p.GatewayResponseData, p.ID)
	return err
}

type PaymentMethodRepository struct {
	q database.Querier
}

func NewPaymentMethodRepository(q database.Querier) *PaymentMethodRepository {
	return &PaymentMethodRepository{q: q}
}

func scanPaymentMethod(row rowScanner) (*models.PaymentMethod, error) {
	m := &models.PaymentMethod{}
	var rawConfig []byte
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Provider, &rawConfig, &m.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &m.Config); err != nil {
			return nil, fmt.Errorf("invalid config for payment method %s: %w", m.Code, err)
		}
	}
	return m, nil
}

func (r *PaymentMethodRepository) GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error) {
	query := `SELECT id, code, name, provider, config, is_active FROM payment_methods WHERE code = $1`
	return scanPaymentMethod(r.q.QueryRowContext(ctx, query, code))
}

func (r *PaymentMethodRepository) GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	query := `SELECT id, code, name, provider, config, is_active FROM payment_methods WHERE id = $1`
	return scanPaymentMethod(r.q.QueryRowContext(ctx, query, id))
}

// GetActivePaymentMethodByProvider returns the oldest active method of a provider.
func (r *PaymentMethodRepository) GetActivePaymentMethodByProvider(ctx context.Context, provider models.Provider) (*models.PaymentMethod, error) {
	query := `
		SELECT id, code, name, provider, config, is_active
		FROM payment_methods
		WHERE provider = $1 AND is_active
		ORDER BY id
		LIMIT 1`
	return scanPaymentMethod(r.q.QueryRowContext(ctx, query, provider))
}
