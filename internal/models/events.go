package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NATS Event Types
const (
	EventOrderCreated     = "order.created"
	EventOrderExpired     = "order.expired"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventTicketsRefunded  = "tickets.refunded"
	EventTicketsCancelled = "tickets.cancelled"
)

// AllEventSubjects lists every subject the API publishes.
var AllEventSubjects = []string{
	EventOrderCreated,
	EventOrderExpired,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventTicketsRefunded,
	EventTicketsCancelled,
}

// OrderCreatedEvent represents an order creation event
type OrderCreatedEvent struct {
	OrderID          int64           `json:"order_id"`
	UserID           *int64          `json:"user_id"`
	SeatIDs          []string        `json:"seat_ids"`
	TotalFinalPrice  decimal.Decimal `json:"total_final_price"`
	MerchantOrderRef string          `json:"merchant_order_ref"`
	Timestamp        time.Time       `json:"timestamp"`
}

// PaymentSettledEvent is published for both completed and failed payments
type PaymentSettledEvent struct {
	OrderID              int64         `json:"order_id"`
	PaymentID            int64         `json:"payment_id"`
	MerchantOrderRef     string        `json:"merchant_order_ref"`
	Provider             Provider      `json:"provider"`
	Status               PaymentStatus `json:"status"`
	GatewayTransactionNo string        `json:"gateway_transaction_no,omitempty"`
	Timestamp            time.Time     `json:"timestamp"`
}

// OrderExpiredEvent represents an order whose seat hold ran out
type OrderExpiredEvent struct {
	OrderID   int64     `json:"order_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// TicketsReversedEvent is published for refunds and voids
type TicketsReversedEvent struct {
	OrderID     int64           `json:"order_id"`
	TicketIDs   []int64         `json:"ticket_ids"`
	Amount      decimal.Decimal `json:"amount"`
	OrderStatus OrderStatus     `json:"order_status"`
	Reason      string          `json:"reason,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Email job templates
const (
	EmailBookingConfirmed = "booking_confirmed"
	EmailTicketsRefunded  = "tickets_refunded"
	EmailTicketsCancelled = "tickets_cancelled"
)

// EmailJob is the payload handed to the email queue
type EmailJob struct {
	Template  string            `json:"template"`
	OrderID   int64             `json:"order_id"`
	UserID    *int64            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Callback outcomes recorded in the audit index
const (
	CallbackApplied          = "applied"
	CallbackReplay           = "replay"
	CallbackRejected         = "rejected"
	CallbackInvalidSignature = "invalid_signature"
	CallbackUnknownPayment   = "unknown_payment"
	CallbackAmountMismatch   = "amount_mismatch"
)

// CallbackAudit is one inbound provider webhook as seen by the settlement handler
type CallbackAudit struct {
	Provider         Provider      `json:"provider"`
	MerchantOrderRef string        `json:"merchant_order_ref"`
	Valid            bool          `json:"valid"`
	Status           PaymentStatus `json:"status"`
	Outcome          string        `json:"outcome"`
	ReceivedAt       time.Time     `json:"received_at"`
}
