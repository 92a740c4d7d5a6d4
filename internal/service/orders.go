package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "busticket/internal/errors"
	"busticket/internal/logger"
	"busticket/internal/metrics"
	"busticket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreateOrderInput struct {
	SeatIDs           []string
	Payer             models.Payer
	PaymentMethodCode string
	CouponCode        string
	AdditionalData    map[string]string
	ClientIP          string
}

type CreateOrderResult struct {
	Order      *models.Order
	PaymentURL string
}

// OrderService creates orders together with their tickets, seat holds,
// coupon usage and payment in one transaction.
type OrderService struct {
	store    Store
	methods  PaymentMethodSource
	gateways GatewayResolver
	notify   *notifier
	seats    SeatGuard
	coupons  CouponValidator
	cfg      Config
	now      func() time.Time
	newRef   func() string
}

func NewOrderService(store Store, methods PaymentMethodSource, gateways GatewayResolver, n *notifier, cfg Config) *OrderService {
	return &OrderService{
		store:    store,
		methods:  methods,
		gateways: gateways,
		notify:   n,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newRef:   newMerchantOrderRef,
	}
}

func newMerchantOrderRef() string {
	return "ORD" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	result, err := s.createOrder(ctx, in)
	if err != nil {
		code := "INTERNAL"
		if de, ok := apperrors.AsDomain(err); ok {
			code = de.Code
		}
		metrics.OrderFailed(code)
		return nil, err
	}

	metrics.OrderCreated(string(result.Order.Payment.Provider))

	seatIDs := make([]string, len(result.Order.Tickets))
	for i, t := range result.Order.Tickets {
		seatIDs[i] = t.SeatID
	}
	s.notify.publish(ctx, models.EventOrderCreated, models.OrderCreatedEvent{
		OrderID:          result.Order.ID,
		UserID:           result.Order.UserID,
		SeatIDs:          seatIDs,
		TotalFinalPrice:  result.Order.TotalFinalPrice,
		MerchantOrderRef: result.Order.Payment.MerchantOrderRef,
		Timestamp:        s.now(),
	})

	logger.WithContext(ctx).Info("Order created",
		"order_id", result.Order.ID,
		"tickets", len(result.Order.Tickets),
		"total_final_price", result.Order.TotalFinalPrice.String(),
		"provider", result.Order.Payment.Provider)

	return result, nil
}

func (s *OrderService) createOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.Payer.UserID == nil && in.Payer.Guest == nil {
		return nil, fmt.Errorf("%w: guest info is required without a user", apperrors.ErrInvalidRequest)
	}

	method, err := s.methods.GetPaymentMethodByCode(ctx, in.PaymentMethodCode)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	if method == nil || !method.IsActive {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPaymentMethodNotFound, in.PaymentMethodCode)
	}
	gw, err := s.gateways.Get(method.Provider)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		order      *models.Order
		paymentURL string
	)

	err = s.store.Tx(ctx, func(r Repos) error {
		seats, err := s.seats.Acquire(ctx, r, in.SeatIDs)
		if err != nil {
			return err
		}

		prices := make([]decimal.Decimal, len(seats))
		base := decimal.Zero
		for i, seat := range seats {
			prices[i] = seat.TripPrice.Decimal
			base = base.Add(prices[i])
		}

		coupon, discount, err := s.coupons.Validate(ctx, r, in.CouponCode, in.Payer.UserID, base, now)
		if err != nil {
			return err
		}

		order = &models.Order{
			UserID:          in.Payer.UserID,
			TotalBasePrice:  base,
			TotalDiscount:   discount,
			TotalFinalPrice: decimal.Max(decimal.Zero, base.Sub(discount)),
			Status:          models.OrderPending,
		}
		if g := in.Payer.Guest; g != nil && in.Payer.UserID == nil {
			order.GuestName, order.GuestEmail, order.GuestPhone = &g.Name, &g.Email, &g.Phone
		}
		if err := r.CreateOrder(ctx, order); err != nil {
			return err
		}

		finals := finalPrices(prices, discount)
		tickets := make([]models.Ticket, len(seats))
		for i := range seats {
			tickets[i] = models.Ticket{
				OrderID:    order.ID,
				SeatID:     seats[i].ID,
				BasePrice:  prices[i],
				FinalPrice: finals[i],
				Status:     models.TicketPending,
				Seat:       &seats[i],
			}
		}
		if err := r.CreateTickets(ctx, tickets); err != nil {
			return err
		}

		if coupon != nil && in.Payer.UserID != nil {
			usage := &models.CouponUsage{
				CouponID:       coupon.ID,
				UserID:         in.Payer.UserID,
				OrderID:        order.ID,
				DiscountAmount: discount,
			}
			if err := r.CreateCouponUsage(ctx, usage); err != nil {
				return fmt.Errorf("failed to record coupon usage: %w", err)
			}
			if err := r.IncrementCouponUsage(ctx, coupon.ID); err != nil {
				return fmt.Errorf("failed to increment coupon usage: %w", err)
			}
		}

		holder := in.Payer.ReservationKey()
		until := now.Add(s.cfg.ReservationTTL)
		for i := range seats {
			if err := seats[i].Reserve(holder, until); err != nil {
				return err
			}
		}
		if err := r.UpdateSeats(ctx, seats); err != nil {
			return err
		}

		existing, err := r.GetPaymentByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.ErrDuplicatePaymentOnOrder
		}
		payment := &models.Payment{
			OrderID:          order.ID,
			PaymentMethodID:  method.ID,
			Provider:         method.Provider,
			TotalAmount:      order.TotalFinalPrice,
			MerchantOrderRef: s.newRef(),
			Status:           models.PaymentPending,
		}
		if err := r.CreatePayment(ctx, payment); err != nil {
			return err
		}

		extra := make(map[string]string, len(in.AdditionalData)+1)
		for k, v := range in.AdditionalData {
			extra[k] = v
		}
		if in.ClientIP != "" {
			extra["ip_addr"] = in.ClientIP
		}
		paymentURL, err = gw.CreatePaymentURL(ctx, payment, tickets, method.Config, extra)
		if err != nil {
			logger.WithContext(ctx).Error("Payment initiation failed",
				"error", err,
				"provider", method.Provider,
				"merchant_order_ref", payment.MerchantOrderRef)
			return fmt.Errorf("%w: %w", apperrors.ErrPaymentInitFailed, err)
		}

		if err := payment.MarkProcessing(); err != nil {
			return err
		}
		if err := r.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		order, err = loadOrder(ctx, r, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &CreateOrderResult{Order: order, PaymentURL: paymentURL}, nil
}

// GetOrder returns the order if the caller owns it.
func (s *OrderService) GetOrder(ctx context.Context, id int64, userID *int64, guestEmail string) (*models.Order, error) {
	order, err := loadOrder(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(userID, guestEmail) {
		return nil, apperrors.ErrForbidden
	}
	return order, nil
}

// loadOrder reads the order with its tickets and payment.
func loadOrder(ctx context.Context, r Repos, id int64) (*models.Order, error) {
	order, err := r.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, apperrors.ErrOrderNotFound
	}
	if order.Tickets, err = r.ListTicketsByOrder(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to get tickets: %w", err)
	}
	if order.Payment, err = r.GetPaymentByOrder(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return order, nil
}
