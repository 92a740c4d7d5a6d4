package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"busticket/internal/gateway"
	"busticket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeGateway trusts payloads carrying sig=ok and answers refunds as told.
type fakeGateway struct {
	mu            sync.Mutex
	provider      models.Provider
	createErr     error
	refundErr     error
	refundDecline bool
	creates       int
	refunds       []gateway.RefundRequest
}

func (g *fakeGateway) Provider() models.Provider {
	if g.provider == "" {
		return models.ProviderVNPay
	}
	return g.provider
}

func (g *fakeGateway) CreatePaymentURL(ctx context.Context, p *models.Payment, tickets []models.Ticket, cfg models.ProviderConfig, extra map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return "", g.createErr
	}
	return "https://pay.test/" + p.MerchantOrderRef, nil
}

func (g *fakeGateway) VerifyCallback(payload map[string]string, cfg models.ProviderConfig) (*gateway.CallbackResult, error) {
	res := &gateway.CallbackResult{
		IsValid:              payload["sig"] == "ok" && cfg["secret"] != "",
		Status:               models.PaymentStatus(payload["status"]),
		GatewayTransactionNo: payload["txn"],
		MerchantOrderRef:     payload["ref"],
		RawResponse:          payload,
	}
	if raw, ok := payload["amount"]; ok {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		res.Amount = decimal.NewNullDecimal(amount)
	}
	return res, nil
}

func (g *fakeGateway) CallbackRef(payload map[string]string) string { return payload["ref"] }

func (g *fakeGateway) RefundPayment(ctx context.Context, p *models.Payment, cfg models.ProviderConfig, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.RefundResult{
		IsSuccess:     !g.refundDecline,
		TransactionID: "RF" + strconv.Itoa(len(g.refunds)),
		RawResponse:   []byte(`{"code":"00"}`),
	}, nil
}

func (g *fakeGateway) refundCalls() []gateway.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.RefundRequest(nil), g.refunds...)
}

// payOnlyGateway takes payments but has no refund API.
type payOnlyGateway struct {
	inner *fakeGateway
}

func (g payOnlyGateway) Provider() models.Provider { return g.inner.Provider() }

func (g payOnlyGateway) CreatePaymentURL(ctx context.Context, p *models.Payment, tickets []models.Ticket, cfg models.ProviderConfig, extra map[string]string) (string, error) {
	return g.inner.CreatePaymentURL(ctx, p, tickets, cfg, extra)
}

func (g payOnlyGateway) VerifyCallback(payload map[string]string, cfg models.ProviderConfig) (*gateway.CallbackResult, error) {
	return g.inner.VerifyCallback(payload, cfg)
}

func (g payOnlyGateway) CallbackRef(payload map[string]string) string { return g.inner.CallbackRef(payload) }

type fakeEvents struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (e *fakeEvents) Publish(subject string, data interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subjects = append(e.subjects, subject)
	return e.err
}

func (e *fakeEvents) published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.subjects...)
}

type fakeEmails struct {
	mu   sync.Mutex
	jobs []models.EmailJob
	err  error
}

func (e *fakeEmails) EnqueueEmail(ctx context.Context, job models.EmailJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return e.err
}

func (e *fakeEmails) templates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.jobs))
	for i, j := range e.jobs {
		out[i] = j.Template
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	records []models.CallbackAudit
}

func (a *fakeAudit) RecordCallback(ctx context.Context, audit models.CallbackAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, audit)
	return errors.New("index unavailable")
}

func (a *fakeAudit) outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.records))
	for i, r := range a.records {
		out[i] = r.Outcome
	}
	return out
}

type prefixSealer struct{}

func (prefixSealer) Seal(plaintext []byte) (string, error) {
	return "sealed:" + string(plaintext), nil
}

const methodCode = "VNPAY_CARD"

type fixture struct {
	store  *memStore
	gw     *fakeGateway
	events *fakeEvents
	emails *fakeEmails
	audit  *fakeAudit
	svc    *Services
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith registers gw in place of the refund-capable fake when set.
func newFixtureWith(t *testing.T, gw gateway.Gateway) *fixture {
	t.Helper()

	f := &fixture{
		store:  newMemStore(),
		gw:     &fakeGateway{},
		events: &fakeEvents{},
		emails: &fakeEmails{},
		audit:  &fakeAudit{},
		now:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if gw == nil {
		gw = f.gw
	}
	registry, err := gateway.NewRegistry(gw)
	require.NoError(t, err)

	f.store.putMethod(models.PaymentMethod{
		ID:       1,
		Code:     methodCode,
		Name:     "VNPay card",
		Provider: models.ProviderVNPay,
		Config:   models.ProviderConfig{"secret": "s3cret"},
		IsActive: true,
	})

	f.svc = NewServices(Deps{
		Store:    f.store,
		Gateways: registry,
		Events:   f.events,
		Emails:   f.emails,
		Audit:    f.audit,
		Sealer:   prefixSealer{},
	})
	clock := func() time.Time { return f.now }
	f.svc.Orders.now = clock
	f.svc.Settlement.now = clock
	f.svc.Refunds.now = clock
	return f
}

func (f *fixture) addSeats(tripID int64, price string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
		seat := models.Seat{
			ID:         ids[i],
			TripID:     tripID,
			SeatNumber: "A" + strconv.Itoa(i+1),
			Status:     models.SeatAvailable,
			TripStatus: models.TripScheduled,
		}
		if price != "" {
			seat.TripPrice = decimal.NewNullDecimal(decimal.RequireFromString(price))
		}
		f.store.putSeat(seat)
	}
	return ids
}

func (f *fixture) addCoupon(id int64, code string, typ models.CouponType, value string, maxUsage int) {
	f.store.putCoupon(models.Coupon{
		ID:          id,
		Code:        code,
		Type:        typ,
		Value:       decimal.RequireFromString(value),
		MaxUsage:    maxUsage,
		StartPeriod: f.now.Add(-24 * time.Hour),
		EndPeriod:   f.now.Add(24 * time.Hour),
		IsActive:    true,
	})
}

func guest() models.Payer {
	return models.Payer{Guest: &models.GuestInfo{Name: "Nguyen An", Email: "an@example.com", Phone: "0900000000"}}
}

func user(id int64) models.Payer {
	return models.Payer{UserID: &id}
}

func (f *fixture) createOrder(t *testing.T, payer models.Payer, coupon string, seatIDs ...string) *CreateOrderResult {
	t.Helper()
	res, err := f.svc.Orders.CreateOrder(context.Background(), CreateOrderInput{
		SeatIDs:           seatIDs,
		Payer:             payer,
		PaymentMethodCode: methodCode,
		CouponCode:        coupon,
		ClientIP:          "10.0.0.1",
	})
	require.NoError(t, err)
	return res
}

func callback(ref string, status models.PaymentStatus) map[string]string {
	return map[string]string{"sig": "ok", "ref": ref, "status": string(status), "txn": "TXN-" + ref}
}

func (f *fixture) settle(t *testing.T, ref string, status models.PaymentStatus) *SettlementResult {
	t.Helper()
	res, err := f.svc.Settlement.HandleCallback(context.Background(), models.ProviderVNPay, callback(ref, status))
	require.NoError(t, err)
	return res
}

func (f *fixture) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	o, err := loadOrder(context.Background(), f.store, id)
	require.NoError(t, err)
	return o
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, got.String())
}
