package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"busticket/internal/database"
	apperrors "busticket/internal/errors"
	"busticket/internal/middleware"
	"busticket/internal/models"
	"busticket/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "handlers-secret"

type fakeOrders struct {
	lastInput service.CreateOrderInput
	createErr error
	order     *models.Order
	getErr    error
	getArgs   []interface{}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error) {
	f.lastInput = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &service.CreateOrderResult{Order: f.order, PaymentURL: "https://pay.test/ORD1"}, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, id int64, userID *int64, guestEmail string) (*models.Order, error) {
	f.getArgs = []interface{}{id, userID, guestEmail}
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

type fakeSettlement struct {
	provider models.Provider
	payload  map[string]string
	result   *service.SettlementResult
	err      error
}

func (f *fakeSettlement) HandleCallback(ctx context.Context, provider models.Provider, payload map[string]string) (*service.SettlementResult, error) {
	f.provider = provider
	f.payload = payload
	return f.result, f.err
}

type fakeRefunds struct {
	lastInput service.CancelTicketsInput
	order     *models.Order
	err       error
}

func (f *fakeRefunds) CancelTickets(ctx context.Context, in service.CancelTicketsInput) (*models.Order, error) {
	f.lastInput = in
	return f.order, f.err
}

type fakeHealth struct {
	status string
}

func (f fakeHealth) HealthCheck(ctx context.Context) database.HealthCheck {
	return database.HealthCheck{Status: f.status}
}

type fixture struct {
	orders     *fakeOrders
	settlement *fakeSettlement
	refunds    *fakeRefunds
	router     *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		orders:     &fakeOrders{order: sampleOrder()},
		settlement: &fakeSettlement{},
		refunds:    &fakeRefunds{order: sampleOrder()},
	}
	h := &Handlers{
		orders:     f.orders,
		settlement: f.settlement,
		refunds:    f.refunds,
		health:     fakeHealth{status: "healthy"},
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/health", h.Health)
	api := r.Group("/api", middleware.Identity(jwtSecret, nil))
	{
		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/cancel", h.CancelTickets)
		api.GET("/payments/callback/:provider", h.PaymentCallback)
		api.POST("/payments/callback/:provider", h.PaymentCallback)
	}
	f.router = r
	return f
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:              1,
		TotalBasePrice:  decimal.NewFromInt(100000),
		TotalDiscount:   decimal.Zero,
		TotalFinalPrice: decimal.NewFromInt(100000),
		Status:          models.OrderPending,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, userID int64) map[string]string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: fmt.Sprint(userID),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateOrder_Guest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
		"seat_ids":            []string{"seat-1", "seat-2"},
		"guest_info":          map[string]string{"name": "An", "email": "an@example.com", "phone": "0901"},
		"payment_method_code": "VNPAY_CARD",
		"coupon_code":         "TET",
	}, nil)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp models.CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.test/ORD1", resp.PaymentURL)
	assert.Equal(t, int64(1), resp.Order.ID)

	in := f.orders.lastInput
	assert.Equal(t, []string{"seat-1", "seat-2"}, in.SeatIDs)
	assert.Nil(t, in.Payer.UserID)
	require.NotNil(t, in.Payer.Guest)
	assert.Equal(t, "an@example.com", in.Payer.Guest.Email)
	assert.Equal(t, "VNPAY_CARD", in.PaymentMethodCode)
	assert.Equal(t, "TET", in.CouponCode)
	assert.NotEmpty(t, in.ClientIP)
}

func TestCreateOrder_AuthenticatedUserIgnoresGuestInfo(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
		"seat_ids":            []string{"seat-1"},
		"guest_info":          map[string]string{"name": "An", "email": "an@example.com", "phone": "0901"},
		"payment_method_code": "MOMO_WALLET",
	}, bearer(t, 7))

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, f.orders.lastInput.Payer.UserID)
	assert.Equal(t, int64(7), *f.orders.lastInput.Payer.UserID)
	assert.Nil(t, f.orders.lastInput.Payer.Guest)
}

func TestCreateOrder_BadRequest(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{"},
		{"no seats", map[string]interface{}{"seat_ids": []string{}, "payment_method_code": "VNPAY_CARD"}},
		{"no payment method", map[string]interface{}{"seat_ids": []string{"seat-1"}}},
		{"invalid guest email", map[string]interface{}{
			"seat_ids":            []string{"seat-1"},
			"guest_info":          map[string]string{"name": "An", "email": "nope", "phone": "0901"},
			"payment_method_code": "VNPAY_CARD",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/orders", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
		})
	}
}

func TestCreateOrder_DomainErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: seat 1 is RESERVED", apperrors.ErrSeatUnavailable), http.StatusConflict, "SEAT_UNAVAILABLE"},
		{apperrors.ErrSeatsNotFound, http.StatusNotFound, "SEATS_NOT_FOUND"},
		{apperrors.ErrCouponExhausted, http.StatusBadRequest, "COUPON_EXHAUSTED"},
		{apperrors.ErrInvalidTripPrice, http.StatusUnprocessableEntity, "INVALID_TRIP_PRICE"},
		{fmt.Errorf("%w: %w", apperrors.ErrPaymentInitFailed, errors.New("timeout")), http.StatusBadGateway, "PAYMENT_INIT_FAILED"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := newFixture(t)
			f.orders.createErr = tt.err

			w := f.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
				"seat_ids":            []string{"seat-1"},
				"payment_method_code": "VNPAY_CARD",
			}, bearer(t, 7))

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Code)
			if tt.code == "INTERNAL" {
				assert.NotContains(t, resp.Error, "connection reset")
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/orders/1?guest_email=an@example.com", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), f.orders.getArgs[0])
	assert.Nil(t, f.orders.getArgs[1])
	assert.Equal(t, "an@example.com", f.orders.getArgs[2])

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, models.OrderPending, order.Status)
}

func TestGetOrder_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/orders/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.orders.getErr = apperrors.ErrForbidden
	w = f.do(t, http.MethodGet, "/api/orders/1", nil, bearer(t, 8))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Code)

	f.orders.getErr = apperrors.ErrOrderNotFound
	w = f.do(t, http.MethodGet, "/api/orders/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrder_InvalidToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/orders/1", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, f.orders.getArgs)
}

func TestCancelTickets(t *testing.T) {
	f := newFixture(t)
	f.refunds.order.Status = models.OrderRefunded

	w := f.do(t, http.MethodPost, "/api/orders/1/cancel", map[string]interface{}{
		"ticket_ids":    []int64{10, 11},
		"refund_reason": "plans changed",
	}, bearer(t, 7))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	in := f.refunds.lastInput
	assert.Equal(t, int64(1), in.OrderID)
	assert.Equal(t, []int64{10, 11}, in.TicketIDs)
	assert.Equal(t, "plans changed", in.Reason)
	require.NotNil(t, in.UserID)
	assert.Equal(t, int64(7), *in.UserID)

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, models.OrderRefunded, order.Status)
}

func TestCancelTickets_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   interface{}
		err    error
		status int
	}{
		{"no tickets", map[string]interface{}{"ticket_ids": []int64{}}, nil, http.StatusBadRequest},
		{"in progress", map[string]interface{}{"ticket_ids": []int64{1}}, apperrors.ErrRefundInProgress, http.StatusConflict},
		{"trip completed", map[string]interface{}{"ticket_ids": []int64{1}}, apperrors.ErrTripAlreadyCompleted, http.StatusConflict},
		{"unsupported", map[string]interface{}{"ticket_ids": []int64{1}}, apperrors.ErrRefundUnsupported, http.StatusUnprocessableEntity},
		{"gateway failed", map[string]interface{}{"ticket_ids": []int64{1}}, apperrors.ErrGatewayRefundFailed, http.StatusBadGateway},
		{"transition", map[string]interface{}{"ticket_ids": []int64{1}},
			&models.TransitionError{Entity: "ticket", From: string(models.TicketRefunded), To: string(models.TicketRefunded)}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.refunds.err = tt.err
			w := f.do(t, http.MethodPost, "/api/orders/1/cancel", tt.body, bearer(t, 7))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestPaymentCallback_QueryString(t *testing.T) {
	f := newFixture(t)
	f.settlement.result = &service.SettlementResult{Verified: true, Found: true, Applied: true}

	w := f.do(t, http.MethodGet, "/api/payments/callback/vnpay?vnp_TxnRef=ORD1&vnp_ResponseCode=00&vnp_SecureHash=abc", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, models.ProviderVNPay, f.settlement.provider)
	assert.Equal(t, map[string]string{
		"vnp_TxnRef":       "ORD1",
		"vnp_ResponseCode": "00",
		"vnp_SecureHash":   "abc",
	}, f.settlement.payload)
}

func TestPaymentCallback_JSONBodyKeepsNumbers(t *testing.T) {
	f := newFixture(t)
	f.settlement.result = &service.SettlementResult{Verified: true, Found: true, Applied: true}

	body := `{"orderId":"ORD1","amount":150000,"resultCode":0,"transId":4088878653,"message":"Successful.","extraData":"","signature":"sig"}`
	w := f.do(t, http.MethodPost, "/api/payments/callback/momo", body, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ProviderMoMo, f.settlement.provider)
	assert.Equal(t, "150000", f.settlement.payload["amount"])
	assert.Equal(t, "0", f.settlement.payload["resultCode"])
	assert.Equal(t, "4088878653", f.settlement.payload["transId"])
	assert.Equal(t, "", f.settlement.payload["extraData"])
}

func TestPaymentCallback_FormBody(t *testing.T) {
	f := newFixture(t)
	f.settlement.result = &service.SettlementResult{Verified: true, Found: true, Applied: true}

	req := httptest.NewRequest(http.MethodPost, "/api/payments/callback/vnpay", strings.NewReader("vnp_TxnRef=ORD1&vnp_ResponseCode=24"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "24", f.settlement.payload["vnp_ResponseCode"])
}

func TestPaymentCallback_Outcomes(t *testing.T) {
	completed := &models.Payment{Status: models.PaymentCompleted}
	tests := []struct {
		name   string
		result *service.SettlementResult
		err    error
		status int
		body   string
	}{
		{"invalid signature", &service.SettlementResult{}, nil, http.StatusBadRequest, `{"status":"invalid_signature"}`},
		{"unknown payment", &service.SettlementResult{Verified: true}, nil, http.StatusNotFound, `{"status":"unknown_payment"}`},
		{"amount mismatch", &service.SettlementResult{Verified: true, Found: true, AmountMismatch: true, Payment: completed}, nil, http.StatusBadRequest, `{"status":"amount_mismatch"}`},
		{"replay", &service.SettlementResult{Verified: true, Found: true, Payment: completed}, nil, http.StatusOK, `{"status":"ignored","message":"payment is already COMPLETED"}`},
		{"unregistered provider", nil, apperrors.ErrUnsupportedProvider, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.settlement.result, f.settlement.err = tt.result, tt.err

			w := f.do(t, http.MethodGet, "/api/payments/callback/vnpay?vnp_TxnRef=ORD1", nil, nil)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestPaymentCallback_MalformedJSON(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/payments/callback/momo", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, f.settlement.payload)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}
