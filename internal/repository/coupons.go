package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"busticket/internal/database"
	"busticket/internal/models"

	"github.com/shopspring/decimal"
)

type CouponRepository struct {
	q database.Querier
}

func NewCouponRepository(q database.Querier) *CouponRepository {
	return &CouponRepository{q: q}
}

// LockCouponByCode returns the coupon locked FOR UPDATE, or nil if the code is unknown.
func (r *CouponRepository) LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}
	var value sql.NullString
	query := `
		SELECT id, code, type, value::text, max_usage, current_usage_count,
		       start_period, end_period, is_active, created_at, updated_at
		FROM coupons
		WHERE code = $1
		FOR UPDATE`

	err := r.q.QueryRowContext(ctx, query, code).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&value,
		&coupon.MaxUsage,
		&coupon.CurrentUsageCount,
		&coupon.StartPeriod,
		&coupon.EndPeriod,
		&coupon.IsActive,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock coupon: %w", err)
	}

	// a non-finite value is left at zero and rejected by the validator
	if v := parseNullDecimal(value); v.Valid {
		coupon.Value = v.Decimal
	} else {
		coupon.Value = decimal.Zero
	}
	return coupon, nil
}

func (r *CouponRepository) CountCouponUsagesByUser(ctx context.Context, couponID, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`
	if err := r.q.QueryRowContext(ctx, query, couponID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count coupon usages: %w", err)
	}
	return count, nil
}

func (r *CouponRepository) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	query := `UPDATE coupons SET current_usage_count = current_usage_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, couponID)
	return err
}

func (r *CouponRepository) DecrementCouponUsage(ctx context.Context, couponID int64) error {
	query := `
		UPDATE coupons
		SET current_usage_count = GREATEST(current_usage_count - 1, 0), updated_at = NOW()
		WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, couponID)
	return err
}

func (r *CouponRepository) CreateCouponUsage(ctx context.Context, usage *models.CouponUsage) error {
	query := `
		INSERT INTO coupon_usages (coupon_id, user_id, order_id, discount_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return r.q.QueryRowContext(ctx, query,
		usage.CouponID, usage.UserID, usage.OrderID, usage.DiscountAmount,
	).Scan(&usage.ID, &usage.CreatedAt)
}

func (r *CouponRepository) GetCouponUsageByOrder(ctx context.Context, orderID int64) (*models.CouponUsage, error) {
	usage := &models.CouponUsage{}
	query := `
		SELECT id, coupon_id, user_id, order_id, discount_amount, created_at
		FROM coupon_usages
		WHERE order_id = $1`

	err := r.q.QueryRowContext(ctx, query, orderID).Scan(
		&usage.ID,
		&usage.CouponID,
		&usage.UserID,
		&usage.OrderID,
		&usage.DiscountAmount,
		&usage.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return usage, err
}

func (r *CouponRepository) DeleteCouponUsage(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM coupon_usages WHERE id = $1`, id)
	return err
}
