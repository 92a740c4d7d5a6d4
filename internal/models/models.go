package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a payment gateway integration.
type Provider string

const (
	ProviderVNPay Provider = "VNPAY"
	ProviderMoMo  Provider = "MOMO"
)

func (p Provider) Valid() bool {
	return p == ProviderVNPay || p == ProviderMoMo
}

// Trip is a scheduled departure; its price applies to every seat.
type Trip struct {
	ID            int64               `json:"id" db:"id"`
	RouteName     string              `json:"route_name" db:"route_name"`
	DepartureTime time.Time           `json:"departure_time" db:"departure_time"`
	Price         decimal.NullDecimal `json:"price" db:"price"`
	Status        TripStatus          `json:"status" db:"status"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// Seat represents a seat on a trip
type Seat struct {
	ID            string     `json:"id" db:"id"`
	TripID        int64      `json:"trip_id" db:"trip_id"`
	SeatNumber    string     `json:"seat_number" db:"seat_number"`
	Status        SeatStatus `json:"status" db:"status"`
	ReservedBy    *string    `json:"reserved_by,omitempty" db:"reserved_by"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty" db:"reserved_until"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`

	// Filled from the parent trip when the seat is loaded with it.
	TripPrice  decimal.NullDecimal `json:"trip_price,omitempty" db:"-"`
	TripStatus TripStatus          `json:"trip_status,omitempty" db:"-"`
}

func (s *Seat) Reserve(by string, until time.Time) error {
	if err := seatTransitions.check("seat", s.Status, SeatReserved); err != nil {
		return err
	}
	s.Status = SeatReserved
	s.ReservedBy = &by
	s.ReservedUntil = &until
	return nil
}

func (s *Seat) Confirm() error {
	if err := seatTransitions.check("seat", s.Status, SeatBooked); err != nil {
		return err
	}
	s.Status = SeatBooked
	s.ReservedBy = nil
	s.ReservedUntil = nil
	return nil
}

func (s *Seat) Release() error {
	if err := seatTransitions.check("seat", s.Status, SeatAvailable); err != nil {
		return err
	}
	s.Status = SeatAvailable
	s.ReservedBy = nil
	s.ReservedUntil = nil
	return nil
}

// GuestInfo is the contact triple of a payer without an account.
type GuestInfo struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"required"`
}

// User is a registered customer; orders of a user reference it.
type User struct {
	UserID       int64     `json:"user_id" db:"user_id"`
	Email        string    `json:"email" db:"email"`
	FullName     string    `json:"full_name" db:"full_name"`
	Phone        *string   `json:"phone,omitempty" db:"phone"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
	IsActive     bool      `json:"is_active" db:"is_active"`
}

// Payer is either an authenticated user or a guest.
type Payer struct {
	UserID *int64
	Guest  *GuestInfo
}

// ReservationKey is stamped into seats.reserved_by.
func (p Payer) ReservationKey() string {
	if p.UserID != nil {
		return "user:" + strconv.FormatInt(*p.UserID, 10)
	}
	if p.Guest != nil {
		return "guest:" + p.Guest.Email
	}
	return "guest"
}

// Order represents one purchase of one or more tickets
type Order struct {
	ID              int64           `json:"id" db:"id"`
	UserID          *int64          `json:"user_id,omitempty" db:"user_id"`
	GuestName       *string         `json:"guest_name,omitempty" db:"guest_name"`
	GuestEmail      *string         `json:"guest_email,omitempty" db:"guest_email"`
	GuestPhone      *string         `json:"guest_phone,omitempty" db:"guest_phone"`
	TotalBasePrice  decimal.Decimal `json:"total_base_price" db:"total_base_price"`
	TotalDiscount   decimal.Decimal `json:"total_discount" db:"total_discount"`
	TotalFinalPrice decimal.Decimal `json:"total_final_price" db:"total_final_price"`
	Status          OrderStatus     `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	Tickets         []Ticket        `json:"tickets,omitempty"` // Not from DB, filled separately
	Payment         *Payment        `json:"payment,omitempty"` // Not from DB, filled separately
}

func (o *Order) Confirm() error {
	if err := orderTransitions.check("order", o.Status, OrderConfirmed); err != nil {
		return err
	}
	o.Status = OrderConfirmed
	return nil
}

func (o *Order) Cancel() error {
	if err := orderTransitions.check("order", o.Status, OrderCancelled); err != nil {
		return err
	}
	o.Status = OrderCancelled
	return nil
}

// ApplyRefund moves the order to REFUNDED when nothing refundable is left,
// otherwise to PARTIALLY_REFUNDED.
func (o *Order) ApplyRefund(fully bool) error {
	next := OrderPartiallyRefunded
	if fully {
		next = OrderRefunded
	}
	if o.Status == next && !fully {
		return nil
	}
	if err := orderTransitions.check("order", o.Status, next); err != nil {
		return err
	}
	o.Status = next
	return nil
}

// OwnedBy reports whether the caller may act on the order.
func (o *Order) OwnedBy(userID *int64, guestEmail string) bool {
	if o.UserID != nil {
		return userID != nil && *userID == *o.UserID
	}
	return o.GuestEmail != nil && guestEmail != "" && strings.EqualFold(*o.GuestEmail, guestEmail)
}

// Ticket represents one seat held by an order
type Ticket struct {
	ID         int64           `json:"id" db:"id"`
	OrderID    int64           `json:"order_id" db:"order_id"`
	SeatID     string          `json:"seat_id" db:"seat_id"`
	BasePrice  decimal.Decimal `json:"base_price" db:"base_price"`
	FinalPrice decimal.Decimal `json:"final_price" db:"final_price"`
	Status     TicketStatus    `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
	Seat       *Seat           `json:"seat,omitempty"` // Not from DB, filled separately
}

func (t *Ticket) moveTo(next TicketStatus) error {
	if err := ticketTransitions.check("ticket", t.Status, next); err != nil {
		return err
	}
	t.Status = next
	return nil
}

func (t *Ticket) Confirm() error    { return t.moveTo(TicketBooked) }
func (t *Ticket) Invalidate() error { return t.moveTo(TicketInvalid) }
func (t *Ticket) Void() error       { return t.moveTo(TicketCancelled) }
func (t *Ticket) Refund() error     { return t.moveTo(TicketRefunded) }
func (t *Ticket) CheckIn() error    { return t.moveTo(TicketCompleted) }

// Payment is the single gateway payment of an order
type Payment struct {
	ID                   int64           `json:"id" db:"id"`
	OrderID              int64           `json:"order_id" db:"order_id"`
	PaymentMethodID      int64           `json:"payment_method_id" db:"payment_method_id"`
	Provider             Provider        `json:"provider" db:"provider"`
	TotalAmount          decimal.Decimal `json:"total_amount" db:"total_amount"`
	MerchantOrderRef     string          `json:"merchant_order_ref" db:"merchant_order_ref"`
	Status               PaymentStatus   `json:"payment_status" db:"payment_status"`
	GatewayTransactionNo *string         `json:"gateway_transaction_no,omitempty" db:"gateway_transaction_no"`
	GatewayResponseData  *string         `json:"-" db:"gateway_response_data"` // sealed
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

func (p *Payment) MarkProcessing() error {
	if err := paymentTransitions.check("payment", p.Status, PaymentProcessing); err != nil {
		return err
	}
	p.Status = PaymentProcessing
	return nil
}

// Settle applies a terminal gateway outcome.
func (p *Payment) Settle(outcome PaymentStatus) error {
	if !outcome.IsTerminalOutcome() {
		return &TransitionError{Entity: "payment", From: string(p.Status), To: string(outcome)}
	}
	if err := paymentTransitions.check("payment", p.Status, outcome); err != nil {
		return err
	}
	p.Status = outcome
	return nil
}

func (p *Payment) ApplyRefund(fully bool) error {
	next := PaymentPartiallyRefunded
	if fully {
		next = PaymentRefunded
	}
	if p.Status == next && !fully {
		return nil
	}
	if err := paymentTransitions.check("payment", p.Status, next); err != nil {
		return err
	}
	p.Status = next
	return nil
}

// Coupon represents a discount code
type Coupon struct {
	ID                int64           `json:"id" db:"id"`
	Code              string          `json:"code" db:"code"`
	Type              CouponType      `json:"type" db:"type"`
	Value             decimal.Decimal `json:"value" db:"value"`
	MaxUsage          int             `json:"max_usage" db:"max_usage"`
	CurrentUsageCount int             `json:"current_usage_count" db:"current_usage_count"`
	StartPeriod       time.Time       `json:"start_period" db:"start_period"`
	EndPeriod         time.Time       `json:"end_period" db:"end_period"`
	IsActive          bool            `json:"is_active" db:"is_active"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// CouponUsage consumes one slot of a coupon for one order
type CouponUsage struct {
	ID             int64           `json:"id" db:"id"`
	CouponID       int64           `json:"coupon_id" db:"coupon_id"`
	UserID         *int64          `json:"user_id,omitempty" db:"user_id"`
	OrderID        int64           `json:"order_id" db:"order_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ProviderConfig holds merchant credentials and endpoints for one provider.
type ProviderConfig map[string]string

// PaymentMethod is a configured way to pay, bound to one provider
type PaymentMethod struct {
	ID       int64          `json:"id" db:"id"`
	Code     string         `json:"code" db:"code"`
	Name     string         `json:"name" db:"name"`
	Provider Provider       `json:"provider" db:"provider"`
	Config   ProviderConfig `json:"config" db:"config"`
	IsActive bool           `json:"is_active" db:"is_active"`
}

type RefundRequestStatus string

const (
	RefundInitiated        RefundRequestStatus = "INITIATED"
	RefundGatewayConfirmed RefundRequestStatus = "GATEWAY_CONFIRMED"
	RefundApplied          RefundRequestStatus = "APPLIED"
	RefundFailed           RefundRequestStatus = "FAILED"
	RefundUnknown          RefundRequestStatus = "UNKNOWN"
)

// RefundRequest tracks one financial refund from gateway call to local commit.
type RefundRequest struct {
	ID                   int64               `json:"id" db:"id"`
	RequestRef           string              `json:"request_ref" db:"request_ref"`
	OrderID              int64               `json:"order_id" db:"order_id"`
	PaymentID            int64               `json:"payment_id" db:"payment_id"`
	TicketIDs            []int64             `json:"ticket_ids" db:"ticket_ids"`
	Amount               decimal.Decimal     `json:"amount" db:"amount"`
	Reason               string              `json:"reason" db:"reason"`
	PerformedBy          string              `json:"performed_by" db:"performed_by"`
	Status               RefundRequestStatus `json:"status" db:"status"`
	GatewayTransactionID *string             `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	GatewayResponseData  *string             `json:"-" db:"gateway_response_data"` // sealed
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}
