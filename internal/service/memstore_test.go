package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "busticket/internal/errors"
	"busticket/internal/models"
)

// memStore keeps every table in maps. Transactions are serialized and roll
// back by restoring a snapshot, which is enough to stand in for row locks.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    *memData

	failUpdatePayment error
	// beforeTx runs once at the start of the next transaction.
	beforeTx func()
}

type memData struct {
	seq      int64
	seats    map[string]models.Seat
	coupons  map[int64]models.Coupon
	usages   map[int64]models.CouponUsage
	orders   map[int64]models.Order
	tickets  map[int64]models.Ticket
	payments map[int64]models.Payment
	methods  map[int64]models.PaymentMethod
	refunds  map[int64]models.RefundRequest
}

func newMemStore() *memStore {
	return &memStore{d: &memData{
		seats:    map[string]models.Seat{},
		coupons:  map[int64]models.Coupon{},
		usages:   map[int64]models.CouponUsage{},
		orders:   map[int64]models.Order{},
		tickets:  map[int64]models.Ticket{},
		payments: map[int64]models.Payment{},
		methods:  map[int64]models.PaymentMethod{},
		refunds:  map[int64]models.RefundRequest{},
	}}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	return &memData{
		seq:      d.seq,
		seats:    cloneMap(d.seats),
		coupons:  cloneMap(d.coupons),
		usages:   cloneMap(d.usages),
		orders:   cloneMap(d.orders),
		tickets:  cloneMap(d.tickets),
		payments: cloneMap(d.payments),
		methods:  cloneMap(d.methods),
		refunds:  cloneMap(d.refunds),
	}
}

func (s *memStore) next() int64 {
	s.d.seq++
	return s.d.seq
}

func (s *memStore) Tx(ctx context.Context, fn func(r Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if hook := s.beforeTx; hook != nil {
		s.beforeTx = nil
		hook()
	}

	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.d = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// fixture helpers

func (s *memStore) putSeat(seat models.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.seats[seat.ID] = seat
}

func (s *memStore) seat(id string) models.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.seats[id]
}

func (s *memStore) completeTrip(tripID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, seat := range s.d.seats {
		if seat.TripID == tripID {
			seat.TripStatus = models.TripCompleted
			s.d.seats[id] = seat
		}
	}
}

func (s *memStore) putCoupon(c models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.coupons[c.ID] = c
}

func (s *memStore) coupon(id int64) models.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.coupons[id]
}

func (s *memStore) putMethod(m models.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.methods[m.ID] = m
}

func (s *memStore) putRefund(rr models.RefundRequest) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr.ID = s.next()
	s.d.refunds[rr.ID] = rr
	return rr.ID
}

func (s *memStore) refund(id int64) models.RefundRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.refunds[id]
}

func (s *memStore) refundsByOrder(orderID int64) []models.RefundRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RefundRequest
	for _, rr := range s.d.refunds {
		if rr.OrderID == orderID {
			out = append(out, rr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) counts() (orders, tickets, payments, usages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.orders), len(s.d.tickets), len(s.d.payments), len(s.d.usages)
}

// Repos

func (s *memStore) LockSeats(ctx context.Context, ids []string) ([]models.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var out []models.Seat
	for _, id := range sorted {
		if seat, ok := s.d.seats[id]; ok {
			out = append(out, seat)
		}
	}
	return out, nil
}

func (s *memStore) UpdateSeats(ctx context.Context, seats []models.Seat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range seats {
		stored, ok := s.d.seats[seat.ID]
		if !ok {
			return fmt.Errorf("seat %s not found", seat.ID)
		}
		stored.Status = seat.Status
		stored.ReservedBy = seat.ReservedBy
		stored.ReservedUntil = seat.ReservedUntil
		s.d.seats[seat.ID] = stored
	}
	return nil
}

func (s *memStore) ListExpiredReservationOrders(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := map[int64]struct{}{}
	for _, t := range s.d.tickets {
		if t.Status != models.TicketPending || s.d.orders[t.OrderID].Status != models.OrderPending {
			continue
		}
		seat := s.d.seats[t.SeatID]
		if seat.Status == models.SeatReserved && seat.ReservedUntil != nil && seat.ReservedUntil.Before(before) {
			found[t.OrderID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.d.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) CountCouponUsagesByUser(ctx context.Context, couponID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.d.usages {
		if u.CouponID == couponID && u.UserID != nil && *u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.d.coupons[couponID]
	c.CurrentUsageCount++
	s.d.coupons[couponID] = c
	return nil
}

func (s *memStore) DecrementCouponUsage(ctx context.Context, couponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.d.coupons[couponID]
	if c.CurrentUsageCount > 0 {
		c.CurrentUsageCount--
	}
	s.d.coupons[couponID] = c
	return nil
}

func (s *memStore) CreateCouponUsage(ctx context.Context, usage *models.CouponUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.d.usages {
		if u.OrderID == usage.OrderID {
			return errors.New("duplicate coupon usage for order")
		}
	}
	usage.ID = s.next()
	usage.CreatedAt = time.Now()
	s.d.usages[usage.ID] = *usage
	return nil
}

func (s *memStore) GetCouponUsageByOrder(ctx context.Context, orderID int64) (*models.CouponUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.d.usages {
		if u.OrderID == orderID {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *memStore) DeleteCouponUsage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.d.usages, id)
	return nil
}

func (s *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = s.next()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	stored.Tickets, stored.Payment = nil, nil
	s.d.orders[order.ID] = stored
	return nil
}

func (s *memStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.d.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *memStore) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *memStore) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.d.orders[id]
	if !ok {
		return fmt.Errorf("order %d not found", id)
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	s.d.orders[id] = o
	return nil
}

func (s *memStore) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickets {
		for _, existing := range s.d.tickets {
			if existing.SeatID == t.SeatID && existing.Status.IsActive() {
				return fmt.Errorf("seat %s already has an active ticket", t.SeatID)
			}
		}
	}
	for i := range tickets {
		tickets[i].ID = s.next()
		tickets[i].CreatedAt = time.Now()
		stored := tickets[i]
		stored.Seat = nil
		s.d.tickets[stored.ID] = stored
	}
	return nil
}

func (s *memStore) ListTicketsByOrder(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.d.tickets {
		if t.OrderID == orderID {
			seat := s.d.seats[t.SeatID]
			t.Seat = &seat
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpdateTicketStatus(ctx context.Context, ids []int64, status models.TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		t, ok := s.d.tickets[id]
		if !ok {
			return fmt.Errorf("ticket %d not found", id)
		}
		t.Status = status
		s.d.tickets[id] = t
	}
	return nil
}

func (s *memStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.d.payments {
		if existing.OrderID == p.OrderID {
			return apperrors.ErrDuplicatePaymentOnOrder
		}
		if existing.MerchantOrderRef == p.MerchantOrderRef {
			return errors.New("duplicate merchant order ref")
		}
	}
	p.ID = s.next()
	p.CreatedAt = time.Now()
	s.d.payments[p.ID] = *p
	return nil
}

func (s *memStore) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.d.payments {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetPaymentByMerchantRef(ctx context.Context, ref string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.d.payments {
		if p.MerchantOrderRef == ref {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memStore) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) UpdatePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdatePayment != nil {
		return s.failUpdatePayment
	}
	if _, ok := s.d.payments[p.ID]; !ok {
		return fmt.Errorf("payment %d not found", p.ID)
	}
	p.UpdatedAt = time.Now()
	s.d.payments[p.ID] = *p
	return nil
}

func (s *memStore) GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.d.methods {
		if m.Code == code {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.d.methods[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *memStore) GetActivePaymentMethodByProvider(ctx context.Context, provider models.Provider) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PaymentMethod
	for _, m := range s.d.methods {
		if m.Provider == provider && m.IsActive && (best == nil || m.ID < best.ID) {
			m := m
			best = &m
		}
	}
	return best, nil
}

func (s *memStore) CreateRefundRequest(ctx context.Context, rr *models.RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.d.refunds {
		if existing.RequestRef == rr.RequestRef {
			return errors.New("duplicate refund request ref")
		}
	}
	rr.ID = s.next()
	rr.CreatedAt = time.Now()
	rr.UpdatedAt = rr.CreatedAt
	s.d.refunds[rr.ID] = *rr
	return nil
}

func (s *memStore) GetInFlightRefund(ctx context.Context, orderID int64) (*models.RefundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rr := range s.d.refunds {
		if rr.OrderID != orderID {
			continue
		}
		switch rr.Status {
		case models.RefundInitiated, models.RefundGatewayConfirmed, models.RefundUnknown:
			return &rr, nil
		}
	}
	return nil, nil
}

func (s *memStore) LockRefundRequest(ctx context.Context, id int64) (*models.RefundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.d.refunds[id]
	if !ok {
		return nil, nil
	}
	return &rr, nil
}

func (s *memStore) UpdateRefundRequest(ctx context.Context, rr *models.RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.refunds[rr.ID]; !ok {
		return fmt.Errorf("refund request %d not found", rr.ID)
	}
	rr.UpdatedAt = time.Now()
	s.d.refunds[rr.ID] = *rr
	return nil
}

func (s *memStore) ListRefundRequests(ctx context.Context, status models.RefundRequestStatus, updatedBefore time.Time, limit int) ([]models.RefundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RefundRequest
	for _, rr := range s.d.refunds {
		if rr.Status == status && rr.UpdatedAt.Before(updatedBefore) {
			out = append(out, rr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*memStore)(nil)
