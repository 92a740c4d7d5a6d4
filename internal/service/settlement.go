package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "busticket/internal/errors"
	"busticket/internal/gateway"
	"busticket/internal/logger"
	"busticket/internal/metrics"
	"busticket/internal/models"
)

type SettlementResult struct {
	Payment        *models.Payment
	Verified       bool
	Found          bool
	Applied        bool
	AmountMismatch bool
}

// SettlementService applies terminal payment outcomes to the order, its
// tickets and seats.
type SettlementService struct {
	store    Store
	methods  PaymentMethodSource
	gateways GatewayResolver
	sealer   Sealer
	notify   *notifier
	now      func() time.Time
}

func NewSettlementService(store Store, methods PaymentMethodSource, gateways GatewayResolver, sealer Sealer, n *notifier) *SettlementService {
	return &SettlementService{
		store:    store,
		methods:  methods,
		gateways: gateways,
		sealer:   sealer,
		notify:   n,
		now:      time.Now,
	}
}

// HandleCallback verifies a provider webhook and settles the matching
// payment. Unverified, unknown and conflicting callbacks are logged and
// reported through the result, never as errors.
func (s *SettlementService) HandleCallback(ctx context.Context, provider models.Provider, payload map[string]string) (*SettlementResult, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	payment, err := s.store.GetPaymentByMerchantRef(ctx, gw.CallbackRef(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	method, err := s.callbackMethod(ctx, provider, payment)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	if method == nil {
		return nil, fmt.Errorf("%w: no method to verify %s callback", apperrors.ErrPaymentMethodNotFound, provider)
	}

	cb, err := gw.VerifyCallback(payload, method.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to verify callback: %w", err)
	}

	log := logger.WithContext(ctx).With("provider", provider, "merchant_order_ref", cb.MerchantOrderRef)
	result := &SettlementResult{Verified: cb.IsValid}
	audit := models.CallbackAudit{
		Provider:         provider,
		MerchantOrderRef: cb.MerchantOrderRef,
		Valid:            cb.IsValid,
		Status:           cb.Status,
		ReceivedAt:       s.now(),
	}
	finish := func(outcome string) (*SettlementResult, error) {
		audit.Outcome = outcome
		metrics.Callback(string(provider), outcome)
		s.notify.recordCallback(ctx, audit)
		return result, nil
	}

	if !cb.IsValid {
		log.Warn("Rejected payment callback with invalid signature")
		return finish(models.CallbackInvalidSignature)
	}
	if payment == nil {
		log.Warn("Payment callback for unknown merchant order ref")
		return finish(models.CallbackUnknownPayment)
	}
	result.Found = true
	result.Payment = payment

	if payment.Provider != provider {
		log.Warn("Payment callback routed to the wrong provider", "payment_provider", payment.Provider)
		return finish(models.CallbackRejected)
	}
	if cb.Amount.Valid && !cb.Amount.Decimal.Equal(payment.TotalAmount) {
		result.AmountMismatch = true
		log.Error("Payment callback amount does not match payment",
			"callback_amount", cb.Amount.Decimal.String(),
			"payment_amount", payment.TotalAmount.String())
		return finish(models.CallbackAmountMismatch)
	}

	outcome, settled, order, err := s.settle(ctx, payment.ID, cb.Status, cb.GatewayTransactionNo, cb.RawResponse)
	if err != nil {
		return nil, err
	}
	result.Payment = settled

	switch outcome {
	case settleReplay:
		log.Info("Duplicate payment callback ignored", "status", cb.Status)
		return finish(models.CallbackReplay)
	case settleConflict:
		log.Error("Payment callback conflicts with settled payment, manual review required",
			"payment_status", settled.Status,
			"callback_status", cb.Status)
		return finish(models.CallbackRejected)
	}

	result.Applied = true
	s.afterSettle(ctx, order, settled)
	log.Info("Payment settled", "order_id", settled.OrderID, "status", settled.Status)
	return finish(models.CallbackApplied)
}

// callbackMethod picks the credentials a callback is checked against: the
// payment's own method, even when it was deactivated since, and the
// provider's active method for callbacks that match no payment.
func (s *SettlementService) callbackMethod(ctx context.Context, provider models.Provider, payment *models.Payment) (*models.PaymentMethod, error) {
	if payment != nil && payment.Provider == provider {
		own, err := s.methods.GetPaymentMethodByID(ctx, payment.PaymentMethodID)
		if err != nil || own != nil {
			return own, err
		}
	}
	return s.methods.GetActivePaymentMethodByProvider(ctx, provider)
}

// ExpireOrder settles a pending order whose seat hold ran out as EXPIRED.
func (s *SettlementService) ExpireOrder(ctx context.Context, orderID int64) (bool, error) {
	payment, err := s.store.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to get payment: %w", err)
	}
	if payment == nil {
		return false, apperrors.ErrOrderNotFound
	}

	outcome, _, _, err := s.settle(ctx, payment.ID, models.PaymentExpired, "", nil)
	if err != nil {
		return false, err
	}
	if outcome != settleApplied {
		return false, nil
	}

	s.notify.publish(ctx, models.EventOrderExpired, models.OrderExpiredEvent{
		OrderID:   orderID,
		Reason:    "reservation expired",
		Timestamp: s.now(),
	})
	return true, nil
}

// ExpireReservations expires one batch of orders with lapsed seat holds and
// returns how many were expired.
func (s *SettlementService) ExpireReservations(ctx context.Context, batch int) (int, error) {
	ids, err := s.store.ListExpiredReservationOrders(ctx, s.now(), batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.ExpireOrder(ctx, id)
		if err != nil {
			logger.WithContext(ctx).Error("Failed to expire order", "error", err, "order_id", id)
			continue
		}
		if ok {
			expired++
		}
	}
	metrics.ReservationsExpired(expired)
	return expired, nil
}

type settleOutcome int

const (
	settleApplied settleOutcome = iota
	settleReplay
	settleConflict
)

// settle moves the payment to status and cascades the outcome in one
// transaction. The payment row is locked first, and the move happens only
// from a valid predecessor.
func (s *SettlementService) settle(ctx context.Context, paymentID int64, status models.PaymentStatus, txnNo string, raw map[string]string) (settleOutcome, *models.Payment, *models.Order, error) {
	outcome := settleApplied
	var (
		payment *models.Payment
		order   *models.Order
	)

	sealed, err := s.seal(raw)
	if err != nil {
		return 0, nil, nil, err
	}

	err = s.store.Tx(ctx, func(r Repos) error {
		p, err := r.LockPayment(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		if p == nil {
			return apperrors.ErrOrderNotFound
		}
		payment = p

		if p.Status == status {
			outcome = settleReplay
			return nil
		}
		if !p.Status.CanTransitionTo(status) {
			outcome = settleConflict
			return nil
		}

		if err := p.Settle(status); err != nil {
			return err
		}
		if txnNo != "" {
			p.GatewayTransactionNo = &txnNo
		}
		if sealed != nil {
			p.GatewayResponseData = sealed
		}
		if err := r.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		o, err := r.LockOrder(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if o == nil {
			return apperrors.ErrOrderNotFound
		}
		tickets, err := r.ListTicketsByOrder(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("failed to get tickets: %w", err)
		}
		order = o

		var pending []models.Ticket
		for _, t := range tickets {
			if t.Status == models.TicketPending {
				pending = append(pending, t)
			}
		}
		seats, err := lockTicketSeats(ctx, r, pending)
		if err != nil {
			return err
		}

		ticketStatus := models.TicketInvalid
		if status == models.PaymentCompleted {
			ticketStatus = models.TicketBooked
			err = o.Confirm()
		} else {
			err = o.Cancel()
		}
		if err != nil {
			return err
		}

		ids := make([]int64, len(pending))
		for i := range pending {
			if status == models.PaymentCompleted {
				err = pending[i].Confirm()
			} else {
				err = pending[i].Invalidate()
			}
			if err != nil {
				return err
			}
			ids[i] = pending[i].ID
		}
		for i := range seats {
			if status == models.PaymentCompleted {
				err = seats[i].Confirm()
			} else if seats[i].Status == models.SeatReserved {
				err = seats[i].Release()
			}
			if err != nil {
				return err
			}
		}

		if err := r.UpdateOrderStatus(ctx, o.ID, o.Status); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if err := r.UpdateTicketStatus(ctx, ids, ticketStatus); err != nil {
			return fmt.Errorf("failed to update tickets: %w", err)
		}
		if err := r.UpdateSeats(ctx, seats); err != nil {
			return err
		}
		order.Tickets = tickets
		return nil
	})
	if err != nil {
		return 0, nil, nil, err
	}
	return outcome, payment, order, nil
}

func (s *SettlementService) afterSettle(ctx context.Context, order *models.Order, payment *models.Payment) {
	event := models.PaymentSettledEvent{
		OrderID:          payment.OrderID,
		PaymentID:        payment.ID,
		MerchantOrderRef: payment.MerchantOrderRef,
		Provider:         payment.Provider,
		Status:           payment.Status,
		Timestamp:        s.now(),
	}
	if payment.GatewayTransactionNo != nil {
		event.GatewayTransactionNo = *payment.GatewayTransactionNo
	}

	if payment.Status != models.PaymentCompleted {
		s.notify.publish(ctx, models.EventPaymentFailed, event)
		return
	}
	s.notify.publish(ctx, models.EventPaymentCompleted, event)
	s.notify.email(ctx, emailFor(order, models.EmailBookingConfirmed, map[string]string{
		"merchant_order_ref": payment.MerchantOrderRef,
		"total":              payment.TotalAmount.String(),
	}))
}

func (s *SettlementService) seal(raw map[string]string) (*string, error) {
	if raw == nil || s.sealer == nil {
		return nil, nil
	}
	return sealJSON(s.sealer, raw)
}

func sealJSON(sealer Sealer, v any) (*string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway response: %w", err)
	}
	sealed, err := sealer.Seal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to seal gateway response: %w", err)
	}
	return &sealed, nil
}

// lockTicketSeats locks the seats held by tickets, in id order.
func lockTicketSeats(ctx context.Context, r Repos, tickets []models.Ticket) ([]models.Seat, error) {
	if len(tickets) == 0 {
		return nil, nil
	}
	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.SeatID
	}
	seats, err := r.LockSeats(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock seats: %w", err)
	}
	return seats, nil
}

var _ GatewayResolver = (*gateway.Registry)(nil)
