package service

import (
	"context"
	"fmt"
	"time"

	apperrors "busticket/internal/errors"
	"busticket/internal/models"

	"github.com/shopspring/decimal"
)

// CouponValidator checks a coupon against its window and usage caps and
// computes the discount. It never changes the usage counter.
type CouponValidator struct{}

// Validate locks the coupon row and returns it with the discount for
// basePrice. An empty code yields no coupon and a zero discount.
func (CouponValidator) Validate(ctx context.Context, r Repos, code string, userID *int64, basePrice decimal.Decimal, now time.Time) (*models.Coupon, decimal.Decimal, error) {
	if code == "" {
		return nil, decimal.Zero, nil
	}

	coupon, err := r.LockCouponByCode(ctx, code)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to lock coupon: %w", err)
	}
	if coupon == nil {
		return nil, decimal.Zero, apperrors.ErrCouponNotFound
	}

	switch {
	case !coupon.IsActive:
		return nil, decimal.Zero, apperrors.ErrCouponInactive
	case now.Before(coupon.StartPeriod):
		return nil, decimal.Zero, apperrors.ErrCouponNotYetValid
	case now.After(coupon.EndPeriod):
		return nil, decimal.Zero, apperrors.ErrCouponExpired
	}

	if coupon.MaxUsage > 0 {
		if coupon.CurrentUsageCount >= coupon.MaxUsage {
			return nil, decimal.Zero, apperrors.ErrCouponExhausted
		}
		if userID != nil {
			used, err := r.CountCouponUsagesByUser(ctx, coupon.ID, *userID)
			if err != nil {
				return nil, decimal.Zero, fmt.Errorf("failed to count coupon usages: %w", err)
			}
			if used >= coupon.MaxUsage {
				return nil, decimal.Zero, apperrors.ErrCouponAlreadyUsedByUser
			}
		}
	}

	discount, err := computeDiscount(coupon, basePrice)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return coupon, discount, nil
}

// computeDiscount returns a whole-unit discount clamped to basePrice.
func computeDiscount(coupon *models.Coupon, basePrice decimal.Decimal) (decimal.Decimal, error) {
	if !coupon.Value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: value %s", apperrors.ErrInvalidCouponConfiguration, coupon.Value)
	}

	var raw decimal.Decimal
	switch coupon.Type {
	case models.CouponFixed:
		raw = coupon.Value
	case models.CouponPercentage:
		raw = basePrice.Mul(coupon.Value).Div(decimal.NewFromInt(100))
	default:
		return decimal.Zero, fmt.Errorf("%w: type %q", apperrors.ErrInvalidCouponConfiguration, coupon.Type)
	}

	raw = raw.Floor()
	if raw.GreaterThan(basePrice) {
		return basePrice, nil
	}
	return raw, nil
}
