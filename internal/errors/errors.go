package errors

import (
	stderrors "errors"
	"net/http"
)

// DomainError is a business rule violation with the HTTP status it maps to.
type DomainError struct {
	Code    string
	Status  int
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func New(code string, status int, message string) *DomainError {
	return &DomainError{Code: code, Status: status, Message: message}
}

var ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "user is not authorized")
var ErrForbidden = New("FORBIDDEN", http.StatusForbidden, "operation is forbidden for user")
var ErrInvalidRequest = New("INVALID_REQUEST", http.StatusBadRequest, "invalid request")

// Seats
var (
	ErrSeatUnavailable  = New("SEAT_UNAVAILABLE", http.StatusConflict, "one or more seats are not available")
	ErrSeatsNotFound    = New("SEATS_NOT_FOUND", http.StatusNotFound, "one or more seats do not exist")
	ErrInvalidTripPrice = New("INVALID_TRIP_PRICE", http.StatusUnprocessableEntity, "trip price is missing or invalid")
)

// Coupons
var (
	ErrCouponNotFound             = New("COUPON_NOT_FOUND", http.StatusNotFound, "coupon not found")
	ErrCouponInactive             = New("COUPON_INACTIVE", http.StatusBadRequest, "coupon is not active")
	ErrCouponNotYetValid          = New("COUPON_NOT_YET_VALID", http.StatusBadRequest, "coupon is not valid yet")
	ErrCouponExpired              = New("COUPON_EXPIRED", http.StatusBadRequest, "coupon has expired")
	ErrCouponExhausted            = New("COUPON_EXHAUSTED", http.StatusBadRequest, "coupon usage limit reached")
	ErrCouponAlreadyUsedByUser    = New("COUPON_ALREADY_USED_BY_USER", http.StatusBadRequest, "coupon already used by this user")
	ErrInvalidCouponConfiguration = New("INVALID_COUPON_CONFIGURATION", http.StatusBadRequest, "coupon configuration is invalid")
)

// Orders and payments
var (
	ErrOrderNotFound           = New("ORDER_NOT_FOUND", http.StatusNotFound, "order not found")
	ErrPaymentMethodNotFound   = New("PAYMENT_METHOD_NOT_FOUND", http.StatusBadRequest, "payment method not found")
	ErrDuplicatePaymentOnOrder = New("DUPLICATE_PAYMENT_ON_ORDER", http.StatusConflict, "order already has a payment")
	ErrUnsupportedProvider     = New("UNSUPPORTED_PROVIDER", http.StatusNotFound, "payment provider is not registered")
	ErrPaymentInitFailed       = New("PAYMENT_INIT_FAILED", http.StatusBadGateway, "payment gateway failed to initiate payment")
	ErrInvalidStateTransition  = New("INVALID_STATE_TRANSITION", http.StatusConflict, "invalid state transition")
)

// Refunds
var (
	ErrTicketsNotInOrder    = New("TICKETS_NOT_IN_ORDER", http.StatusNotFound, "one or more tickets do not belong to the order")
	ErrTripAlreadyCompleted = New("TRIP_ALREADY_COMPLETED", http.StatusConflict, "trip is already completed")
	ErrRefundUnsupported    = New("REFUND_UNSUPPORTED", http.StatusUnprocessableEntity, "payment provider does not support refunds")
	ErrGatewayRefundFailed  = New("GATEWAY_REFUND_FAILED", http.StatusBadGateway, "payment gateway refund failed")
	ErrRefundInProgress     = New("REFUND_IN_PROGRESS", http.StatusConflict, "another refund for this order is in progress")
	ErrPartialCancelUnpaid  = New("PARTIAL_CANCEL_UNPAID", http.StatusConflict, "an unpaid order can only be cancelled as a whole")
)

// HTTPStatus returns the status of the first DomainError in the chain, or 500.
func HTTPStatus(err error) int {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Status
	}
	return http.StatusInternalServerError
}

// AsDomain returns the first DomainError in the chain.
func AsDomain(err error) (*DomainError, bool) {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}
