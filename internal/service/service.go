package service

import (
	"context"
	"sync"
	"time"

	"busticket/internal/gateway"
	"busticket/internal/logger"
	"busticket/internal/models"
	"busticket/internal/repository"
)

// Repos is the data access every orchestrator works with. It is satisfied by
// *repository.Repositories both on the pool and inside a transaction.
type Repos interface {
	LockSeats(ctx context.Context, ids []string) ([]models.Seat, error)
	UpdateSeats(ctx context.Context, seats []models.Seat) error
	ListExpiredReservationOrders(ctx context.Context, before time.Time, limit int) ([]int64, error)

	LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponUsagesByUser(ctx context.Context, couponID, userID int64) (int, error)
	IncrementCouponUsage(ctx context.Context, couponID int64) error
	DecrementCouponUsage(ctx context.Context, couponID int64) error
	CreateCouponUsage(ctx context.Context, usage *models.CouponUsage) error
	GetCouponUsageByOrder(ctx context.Context, orderID int64) (*models.CouponUsage, error)
	DeleteCouponUsage(ctx context.Context, id int64) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error

	CreateTickets(ctx context.Context, tickets []models.Ticket) error
	ListTicketsByOrder(ctx context.Context, orderID int64) ([]models.Ticket, error)
	UpdateTicketStatus(ctx context.Context, ids []int64, status models.TicketStatus) error

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error)
	GetPaymentByMerchantRef(ctx context.Context, ref string) (*models.Payment, error)
	LockPayment(ctx context.Context, id int64) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error

	GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error)
	GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error)
	GetActivePaymentMethodByProvider(ctx context.Context, provider models.Provider) (*models.PaymentMethod, error)

	CreateRefundRequest(ctx context.Context, rr *models.RefundRequest) error
	GetInFlightRefund(ctx context.Context, orderID int64) (*models.RefundRequest, error)
	LockRefundRequest(ctx context.Context, id int64) (*models.RefundRequest, error)
	UpdateRefundRequest(ctx context.Context, rr *models.RefundRequest) error
	ListRefundRequests(ctx context.Context, status models.RefundRequestStatus, updatedBefore time.Time, limit int) ([]models.RefundRequest, error)
}

// Store runs Repos outside a transaction and opens transactions over them.
type Store interface {
	Repos
	Tx(ctx context.Context, fn func(r Repos) error) error
}

type postgresStore struct {
	*repository.Store
}

func NewPostgresStore(s *repository.Store) Store {
	return &postgresStore{Store: s}
}

func (p *postgresStore) Tx(ctx context.Context, fn func(r Repos) error) error {
	return p.Store.Tx(ctx, func(r *repository.Repositories) error {
		return fn(r)
	})
}

// PaymentMethodSource is the read-only lookup of payment method configuration.
type PaymentMethodSource interface {
	GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error)
	GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error)
	GetActivePaymentMethodByProvider(ctx context.Context, provider models.Provider) (*models.PaymentMethod, error)
}

type GatewayResolver interface {
	Get(p models.Provider) (gateway.Gateway, error)
	Refunder(p models.Provider) (gateway.Refunder, error)
}

type EventPublisher interface {
	Publish(subject string, data interface{}) error
}

type EmailQueue interface {
	EnqueueEmail(ctx context.Context, job models.EmailJob) error
}

type CallbackAuditor interface {
	RecordCallback(ctx context.Context, audit models.CallbackAudit) error
}

// Sealer encrypts raw gateway payloads before they are stored.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
}

type Config struct {
	ReservationTTL time.Duration
	// RefundStaleAfter is how long an INITIATED refund may stay unanswered
	// before reconciliation flags it.
	RefundStaleAfter time.Duration
	EmailTimeout     time.Duration
	ExpiryBatchSize  int
}

func (c Config) withDefaults() Config {
	if c.ReservationTTL == 0 {
		c.ReservationTTL = 15 * time.Minute
	}
	if c.RefundStaleAfter == 0 {
		c.RefundStaleAfter = 10 * time.Minute
	}
	if c.EmailTimeout == 0 {
		c.EmailTimeout = 10 * time.Second
	}
	if c.ExpiryBatchSize == 0 {
		c.ExpiryBatchSize = 100
	}
	return c
}

type Deps struct {
	Store    Store
	Methods  PaymentMethodSource
	Gateways GatewayResolver
	Events   EventPublisher
	Emails   EmailQueue
	Audit    CallbackAuditor
	Sealer   Sealer
	Config   Config
}

type Services struct {
	Orders     *OrderService
	Settlement *SettlementService
	Refunds    *RefundService

	notify *notifier
}

func NewServices(d Deps) *Services {
	cfg := d.Config.withDefaults()
	if d.Methods == nil {
		d.Methods = d.Store
	}
	n := &notifier{events: d.Events, emails: d.Emails, audit: d.Audit, timeout: cfg.EmailTimeout}

	settlement := NewSettlementService(d.Store, d.Methods, d.Gateways, d.Sealer, n)
	return &Services{
		Orders:     NewOrderService(d.Store, d.Methods, d.Gateways, n, cfg),
		Settlement: settlement,
		Refunds:    NewRefundService(d.Store, d.Methods, d.Gateways, d.Sealer, n, cfg),
		notify:     n,
	}
}

// Wait blocks until queued side-channel work has finished.
func (s *Services) Wait() {
	s.notify.wait()
}

// notifier fans domain outcomes out to the side channels. Failures are
// logged and never reach the caller.
type notifier struct {
	events  EventPublisher
	emails  EmailQueue
	audit   CallbackAuditor
	timeout time.Duration
	wg      sync.WaitGroup
}

func (n *notifier) publish(ctx context.Context, subject string, data interface{}) {
	if n == nil || n.events == nil {
		return
	}
	if err := n.events.Publish(subject, data); err != nil {
		// Log error but don't fail the operation
		logger.WithContext(ctx).Error("Failed to publish event",
			"error", err,
			"event_type", subject)
	}
}

// email hands the job to the queue without waiting for it.
func (n *notifier) email(ctx context.Context, job models.EmailJob) {
	if n == nil || n.emails == nil {
		return
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.emails.EnqueueEmail(ctx, job); err != nil {
			logger.WithContext(ctx).Error("Failed to enqueue email",
				"error", err,
				"template", job.Template,
				"order_id", job.OrderID)
		}
	}()
}

func (n *notifier) recordCallback(ctx context.Context, audit models.CallbackAudit) {
	if n == nil || n.audit == nil {
		return
	}
	if err := n.audit.RecordCallback(ctx, audit); err != nil {
		logger.WithContext(ctx).Warn("Failed to index payment callback",
			"error", err,
			"merchant_order_ref", audit.MerchantOrderRef)
	}
}

func (n *notifier) wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func emailFor(order *models.Order, template string, data map[string]string) models.EmailJob {
	job := models.EmailJob{Template: template, OrderID: order.ID, UserID: order.UserID, Data: data}
	if order.GuestEmail != nil {
		job.Email = *order.GuestEmail
	}
	return job
}
