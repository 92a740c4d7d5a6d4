package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "busticket/internal/errors"
	"busticket/internal/gateway"
	"busticket/internal/logger"
	"busticket/internal/metrics"
	"busticket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CancelTicketsInput struct {
	OrderID    int64
	TicketIDs  []int64
	Reason     string
	UserID     *int64
	GuestEmail string
	ClientIP   string
}

// RefundService cancels tickets of an order, refunding them through the
// gateway when the payment holds money and voiding them otherwise.
type RefundService struct {
	store    Store
	methods  PaymentMethodSource
	gateways GatewayResolver
	sealer   Sealer
	notify   *notifier
	cfg      Config
	now      func() time.Time
	newRef   func() string
}

func NewRefundService(store Store, methods PaymentMethodSource, gateways GatewayResolver, sealer Sealer, n *notifier, cfg Config) *RefundService {
	return &RefundService{
		store:    store,
		methods:  methods,
		gateways: gateways,
		sealer:   sealer,
		notify:   n,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newRef: func() string {
			return "RFD" + strings.ReplaceAll(uuid.New().String(), "-", "")
		},
	}
}

func (s *RefundService) CancelTickets(ctx context.Context, in CancelTicketsInput) (*models.Order, error) {
	order, err := loadOrder(ctx, s.store, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(in.UserID, in.GuestEmail) {
		return nil, apperrors.ErrForbidden
	}

	targets, err := selectTickets(order.Tickets, in.TicketIDs)
	if err != nil {
		return nil, err
	}
	if err := ensureTripsOpen(targets); err != nil {
		return nil, err
	}

	performer := models.Payer{UserID: in.UserID}
	if in.UserID == nil && order.GuestEmail != nil {
		performer.Guest = &models.GuestInfo{Email: *order.GuestEmail}
	}

	if order.Payment != nil && order.Payment.Status.IsCaptured() {
		err = s.refund(ctx, order, targets, in, performer.ReservationKey())
	} else {
		err = s.void(ctx, order.ID, ticketIDs(targets), in.Reason)
	}
	if err != nil {
		return nil, err
	}
	return loadOrder(ctx, s.store, in.OrderID)
}

func (s *RefundService) refund(ctx context.Context, order *models.Order, targets []models.Ticket, in CancelTicketsInput, performedBy string) error {
	for _, t := range targets {
		if !t.Status.CanTransitionTo(models.TicketRefunded) {
			return &models.TransitionError{Entity: "ticket", From: string(t.Status), To: string(models.TicketRefunded)}
		}
	}

	payment := order.Payment
	refunder, err := s.gateways.Refunder(payment.Provider)
	if err != nil {
		metrics.Refund("financial", "unsupported")
		return err
	}
	method, err := s.methods.GetPaymentMethodByID(ctx, payment.PaymentMethodID)
	if err != nil {
		return fmt.Errorf("failed to get payment method: %w", err)
	}
	if method == nil {
		return apperrors.ErrPaymentMethodNotFound
	}

	amount := decimal.Zero
	for _, t := range targets {
		amount = amount.Add(t.FinalPrice)
	}
	rr := &models.RefundRequest{
		RequestRef:  s.newRef(),
		OrderID:     order.ID,
		PaymentID:   payment.ID,
		TicketIDs:   ticketIDs(targets),
		Amount:      amount,
		Reason:      in.Reason,
		PerformedBy: performedBy,
		Status:      models.RefundInitiated,
	}

	// Claim the refund before any money moves.
	err = s.store.Tx(ctx, func(r Repos) error {
		if _, err := r.LockOrder(ctx, order.ID); err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		inFlight, err := r.GetInFlightRefund(ctx, order.ID)
		if err != nil {
			return err
		}
		if inFlight != nil {
			return apperrors.ErrRefundInProgress
		}
		current, err := r.ListTicketsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		locked, err := selectTickets(current, rr.TicketIDs)
		if err != nil {
			return err
		}
		for _, t := range locked {
			if !t.Status.CanTransitionTo(models.TicketRefunded) {
				return &models.TransitionError{Entity: "ticket", From: string(t.Status), To: string(models.TicketRefunded)}
			}
		}
		// FOR SHARE на рейсе держит его статус до коммита заявки
		seats, err := lockTicketSeats(ctx, r, locked)
		if err != nil {
			return err
		}
		if err := ensureSeatTripsOpen(seats); err != nil {
			return err
		}
		return r.CreateRefundRequest(ctx, rr)
	})
	if err != nil {
		return err
	}

	log := logger.WithContext(ctx).With("order_id", order.ID, "refund_ref", rr.RequestRef)

	if amount.IsPositive() {
		res, err := refunder.RefundPayment(ctx, payment, method.Config, gateway.RefundRequest{
			Amount:      amount,
			Reason:      in.Reason,
			PerformedBy: performedBy,
			RequestRef:  rr.RequestRef,
			Full:        coversAllBooked(order.Tickets, rr.TicketIDs),
			ClientIP:    in.ClientIP,
		})
		if err == nil && !res.IsSuccess {
			err = errors.New("provider declined refund")
		}
		if err != nil {
			rr.Status = models.RefundFailed
			if res != nil {
				rr.GatewayResponseData, _ = s.seal(res.RawResponse)
			}
			if uerr := s.store.UpdateRefundRequest(ctx, rr); uerr != nil {
				log.Error("Failed to mark refund request failed", "error", uerr)
			}
			metrics.Refund("financial", "gateway_failed")
			log.Error("Gateway refund failed", "error", err, "amount", amount.String())
			return fmt.Errorf("%w: %w", apperrors.ErrGatewayRefundFailed, err)
		}
		if res.TransactionID != "" {
			rr.GatewayTransactionID = &res.TransactionID
		}
		if rr.GatewayResponseData, err = s.seal(res.RawResponse); err != nil {
			log.Error("Failed to seal refund response", "error", err)
		}
	}

	rr.Status = models.RefundGatewayConfirmed
	if err := s.store.UpdateRefundRequest(ctx, rr); err != nil {
		// the reconciliation job finds the request as INITIATED
		log.Error("Failed to mark refund confirmed", "error", err)
		return fmt.Errorf("failed to record refund: %w", err)
	}

	refunded, err := s.applyRefund(ctx, rr.ID)
	if err != nil {
		log.Error("Refund confirmed by gateway but not applied", "error", err)
		return err
	}

	metrics.Refund("financial", "applied")
	s.notify.publish(ctx, models.EventTicketsRefunded, models.TicketsReversedEvent{
		OrderID:     order.ID,
		TicketIDs:   rr.TicketIDs,
		Amount:      amount,
		OrderStatus: refunded.Status,
		Reason:      in.Reason,
		Timestamp:   s.now(),
	})
	s.notify.email(ctx, emailFor(refunded, models.EmailTicketsRefunded, map[string]string{
		"amount":  amount.String(),
		"tickets": fmt.Sprint(len(rr.TicketIDs)),
	}))
	log.Info("Tickets refunded", "amount", amount.String(), "order_status", refunded.Status)
	return nil
}

// applyRefund commits a gateway-confirmed refund request locally. Applying
// an already applied request is a no-op.
func (s *RefundService) applyRefund(ctx context.Context, requestID int64) (*models.Order, error) {
	var order *models.Order
	err := s.store.Tx(ctx, func(r Repos) error {
		rr, err := r.LockRefundRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("failed to lock refund request: %w", err)
		}
		if rr == nil {
			return fmt.Errorf("refund request %d not found", requestID)
		}
		if rr.Status == models.RefundApplied {
			order, err = r.GetOrder(ctx, rr.OrderID)
			return err
		}
		if rr.Status != models.RefundGatewayConfirmed {
			return fmt.Errorf("%w: refund request is %s", apperrors.ErrInvalidStateTransition, rr.Status)
		}

		payment, err := r.LockPayment(ctx, rr.PaymentID)
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		o, err := r.LockOrder(ctx, rr.OrderID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if payment == nil || o == nil {
			return apperrors.ErrOrderNotFound
		}

		tickets, err := r.ListTicketsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		targets, err := selectTickets(tickets, rr.TicketIDs)
		if err != nil {
			return err
		}
		for i := range targets {
			if err := targets[i].Refund(); err != nil {
				return err
			}
		}
		seats, err := lockTicketSeats(ctx, r, targets)
		if err != nil {
			return err
		}
		if err := releaseSeats(seats); err != nil {
			return err
		}

		fully := !anyBookedExcept(tickets, rr.TicketIDs)
		if err := o.ApplyRefund(fully); err != nil {
			return err
		}
		if err := payment.ApplyRefund(fully); err != nil {
			return err
		}

		if err := r.UpdateTicketStatus(ctx, rr.TicketIDs, models.TicketRefunded); err != nil {
			return err
		}
		if err := r.UpdateSeats(ctx, seats); err != nil {
			return err
		}
		if err := r.UpdateOrderStatus(ctx, o.ID, o.Status); err != nil {
			return err
		}
		if err := r.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		if fully {
			usage, err := r.GetCouponUsageByOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			if usage != nil {
				if err := r.DecrementCouponUsage(ctx, usage.CouponID); err != nil {
					return err
				}
				if err := r.DeleteCouponUsage(ctx, usage.ID); err != nil {
					return err
				}
			}
		}

		rr.Status = models.RefundApplied
		if err := r.UpdateRefundRequest(ctx, rr); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// void cancels tickets of an order whose payment holds no money.
func (s *RefundService) void(ctx context.Context, orderID int64, ids []int64, reason string) error {
	var order *models.Order
	err := s.store.Tx(ctx, func(r Repos) error {
		var payment *models.Payment
		current, err := r.GetPaymentByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if current != nil {
			if payment, err = r.LockPayment(ctx, current.ID); err != nil {
				return fmt.Errorf("failed to lock payment: %w", err)
			}
			if payment.Status.IsCaptured() {
				// settled between the read and the lock
				return fmt.Errorf("%w: payment is %s", apperrors.ErrInvalidStateTransition, payment.Status)
			}
		}
		o, err := r.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if o == nil {
			return apperrors.ErrOrderNotFound
		}

		tickets, err := r.ListTicketsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		targets, err := selectTickets(tickets, ids)
		if err != nil {
			return err
		}
		// the redirect URL is signed for the full amount
		if payment != nil && payment.Status.IsAwaitingCallback() && anyActiveExcept(tickets, ids) {
			return apperrors.ErrPartialCancelUnpaid
		}
		for i := range targets {
			if err := targets[i].Void(); err != nil {
				return err
			}
		}
		seats, err := lockTicketSeats(ctx, r, targets)
		if err != nil {
			return err
		}
		if err := ensureSeatTripsOpen(seats); err != nil {
			return err
		}
		if err := releaseSeats(seats); err != nil {
			return err
		}
		if err := r.UpdateTicketStatus(ctx, ids, models.TicketCancelled); err != nil {
			return err
		}
		if err := r.UpdateSeats(ctx, seats); err != nil {
			return err
		}

		if !anyActiveExcept(tickets, ids) {
			if o.Status.CanTransitionTo(models.OrderCancelled) {
				if err := o.Cancel(); err != nil {
					return err
				}
				if err := r.UpdateOrderStatus(ctx, o.ID, o.Status); err != nil {
					return err
				}
			}
			if payment != nil && payment.Status.CanTransitionTo(models.PaymentCancelled) {
				if err := payment.Settle(models.PaymentCancelled); err != nil {
					return err
				}
				if err := r.UpdatePayment(ctx, payment); err != nil {
					return err
				}
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return err
	}

	metrics.Refund("void", "applied")
	s.notify.publish(ctx, models.EventTicketsCancelled, models.TicketsReversedEvent{
		OrderID:     orderID,
		TicketIDs:   ids,
		Amount:      decimal.Zero,
		OrderStatus: order.Status,
		Reason:      reason,
		Timestamp:   s.now(),
	})
	s.notify.email(ctx, emailFor(order, models.EmailTicketsCancelled, map[string]string{
		"tickets": fmt.Sprint(len(ids)),
	}))
	return nil
}

// ReconcileRefunds applies refunds the gateway confirmed but that never
// reached the local commit, and flags requests that never got an answer.
func (s *RefundService) ReconcileRefunds(ctx context.Context, batch int) (applied, flagged int, err error) {
	cutoff := s.now().Add(-s.cfg.RefundStaleAfter)

	confirmed, err := s.store.ListRefundRequests(ctx, models.RefundGatewayConfirmed, cutoff, batch)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list confirmed refunds: %w", err)
	}
	for _, rr := range confirmed {
		if _, err := s.applyRefund(ctx, rr.ID); err != nil {
			logger.WithContext(ctx).Error("Failed to apply confirmed refund",
				"error", err,
				"refund_ref", rr.RequestRef,
				"order_id", rr.OrderID)
			continue
		}
		applied++
	}

	stale, err := s.store.ListRefundRequests(ctx, models.RefundInitiated, cutoff, batch)
	if err != nil {
		return applied, 0, fmt.Errorf("failed to list initiated refunds: %w", err)
	}
	for _, rr := range stale {
		err := s.store.Tx(ctx, func(r Repos) error {
			locked, err := r.LockRefundRequest(ctx, rr.ID)
			if err != nil || locked == nil || locked.Status != models.RefundInitiated {
				return err
			}
			locked.Status = models.RefundUnknown
			return r.UpdateRefundRequest(ctx, locked)
		})
		if err != nil {
			logger.WithContext(ctx).Error("Failed to flag stale refund", "error", err, "refund_ref", rr.RequestRef)
			continue
		}
		logger.WithContext(ctx).Error("Refund outcome unknown, manual review required",
			"refund_ref", rr.RequestRef,
			"order_id", rr.OrderID,
			"amount", rr.Amount.String())
		flagged++
	}
	return applied, flagged, nil
}

func (s *RefundService) seal(raw []byte) (*string, error) {
	if len(raw) == 0 || s.sealer == nil {
		return nil, nil
	}
	sealed, err := s.sealer.Seal(raw)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

// selectTickets returns the tickets with the given ids, failing when any id
// is not part of the order.
func selectTickets(tickets []models.Ticket, ids []int64) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no tickets requested", apperrors.ErrInvalidRequest)
	}
	byID := make(map[int64]models.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: ticket %d", apperrors.ErrTicketsNotInOrder, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func ticketIDs(tickets []models.Ticket) []int64 {
	ids := make([]int64, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	return ids
}

func releaseSeats(seats []models.Seat) error {
	for i := range seats {
		switch seats[i].Status {
		case models.SeatReserved, models.SeatBooked:
			if err := seats[i].Release(); err != nil {
				return err
			}
		}
	}
	return nil
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func anyBookedExcept(tickets []models.Ticket, ids []int64) bool {
	for _, t := range tickets {
		if t.Status == models.TicketBooked && !contains(ids, t.ID) {
			return true
		}
	}
	return false
}

func ensureTripsOpen(tickets []models.Ticket) error {
	for _, t := range tickets {
		if t.Seat != nil && t.Seat.TripStatus == models.TripCompleted {
			return fmt.Errorf("%w: ticket %d", apperrors.ErrTripAlreadyCompleted, t.ID)
		}
	}
	return nil
}

func ensureSeatTripsOpen(seats []models.Seat) error {
	for _, seat := range seats {
		if seat.TripStatus == models.TripCompleted {
			return fmt.Errorf("%w: seat %s", apperrors.ErrTripAlreadyCompleted, seat.SeatNumber)
		}
	}
	return nil
}

func anyActiveExcept(tickets []models.Ticket, ids []int64) bool {
	for _, t := range tickets {
		if t.Status.IsActive() && !contains(ids, t.ID) {
			return true
		}
	}
	return false
}

func coversAllBooked(tickets []models.Ticket, ids []int64) bool {
	return !anyBookedExcept(tickets, ids)
}
