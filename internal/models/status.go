package models

import (
	"fmt"

	apperrors "busticket/internal/errors"
)

type SeatStatus string

const (
	SeatAvailable   SeatStatus = "AVAILABLE"
	SeatReserved    SeatStatus = "RESERVED"
	SeatBooked      SeatStatus = "BOOKED"
	SeatMaintenance SeatStatus = "MAINTENANCE"
	SeatDisabled    SeatStatus = "DISABLED"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "PENDING"
	TicketBooked    TicketStatus = "BOOKED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketCompleted TicketStatus = "COMPLETED"
	TicketRefunded  TicketStatus = "REFUNDED"
	TicketInvalid   TicketStatus = "INVALID"
)

type OrderStatus string

const (
	OrderPending           OrderStatus = "PENDING"
	OrderConfirmed         OrderStatus = "CONFIRMED"
	OrderCancelled         OrderStatus = "CANCELLED"
	OrderPartiallyRefunded OrderStatus = "PARTIALLY_REFUNDED"
	OrderRefunded          OrderStatus = "REFUNDED"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentProcessing        PaymentStatus = "PROCESSING"
	PaymentCompleted         PaymentStatus = "COMPLETED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentCancelled         PaymentStatus = "CANCELLED"
	PaymentExpired           PaymentStatus = "EXPIRED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

type TripStatus string

const (
	TripScheduled TripStatus = "SCHEDULED"
	TripDeparted  TripStatus = "DEPARTED"
	TripCompleted TripStatus = "COMPLETED"
	TripCancelled TripStatus = "CANCELLED"
)

type CouponType string

const (
	CouponFixed      CouponType = "FIXED"
	CouponPercentage CouponType = "PERCENTAGE"
)

// transitions maps each state to the states reachable from it. States with
// no entry are terminal.
type transitions[S ~string] map[S][]S

func (t transitions[S]) allows(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (t transitions[S]) check(entity string, from, to S) error {
	if !t.allows(from, to) {
		return &TransitionError{Entity: entity, From: string(from), To: string(to)}
	}
	return nil
}

var seatTransitions = transitions[SeatStatus]{
	SeatAvailable:   {SeatReserved, SeatMaintenance, SeatDisabled},
	SeatReserved:    {SeatBooked, SeatAvailable},
	SeatBooked:      {SeatAvailable},
	SeatMaintenance: {SeatAvailable, SeatDisabled},
	SeatDisabled:    {SeatAvailable},
}

var ticketTransitions = transitions[TicketStatus]{
	TicketPending: {TicketBooked, TicketInvalid, TicketCancelled},
	TicketBooked:  {TicketCompleted, TicketCancelled, TicketRefunded},
}

var orderTransitions = transitions[OrderStatus]{
	OrderPending:           {OrderConfirmed, OrderCancelled},
	OrderConfirmed:         {OrderPartiallyRefunded, OrderRefunded},
	OrderPartiallyRefunded: {OrderRefunded},
}

var paymentTransitions = transitions[PaymentStatus]{
	PaymentPending:           {PaymentProcessing},
	PaymentProcessing:        {PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentExpired},
	PaymentCompleted:         {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded},
}

func (s SeatStatus) CanTransitionTo(next SeatStatus) bool { return seatTransitions.allows(s, next) }

func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	return ticketTransitions.allows(s, next)
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool { return orderTransitions.allows(s, next) }

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return paymentTransitions.allows(s, next)
}

// IsActive reports whether the ticket still holds its seat.
func (s TicketStatus) IsActive() bool {
	return s == TicketPending || s == TicketBooked
}

// IsTerminalOutcome reports whether a callback may settle a payment into s.
func (s PaymentStatus) IsTerminalOutcome() bool {
	switch s {
	case PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentExpired:
		return true
	}
	return false
}

// IsCaptured reports whether the provider still holds money for the payment.
// IsAwaitingCallback reports whether the payer may still pay the amount the
// redirect URL was signed for.
func (s PaymentStatus) IsAwaitingCallback() bool {
	return s == PaymentPending || s == PaymentProcessing
}

func (s PaymentStatus) IsCaptured() bool {
	return s == PaymentCompleted || s == PaymentPartiallyRefunded
}

func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatReserved, SeatBooked, SeatMaintenance, SeatDisabled:
		return true
	}
	return false
}

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketBooked, TicketCancelled, TicketCompleted, TicketRefunded, TicketInvalid:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderCancelled, OrderPartiallyRefunded, OrderRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentCancelled,
		PaymentExpired, PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

// TransitionError reports a rejected lifecycle move.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return apperrors.ErrInvalidStateTransition
}
