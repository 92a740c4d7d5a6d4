package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"time"

	"busticket/internal/config"
	"busticket/internal/database"
	"busticket/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	clearExisting = flag.Bool("clear", false, "Delete existing trips, seats, coupons and orders before seeding")
	dryRun        = flag.Bool("dry-run", false, "Show what would be generated without making changes")
	tripCount     = flag.Int("trips", 5, "Number of trips to generate")
	printToken    = flag.Bool("token", false, "Print a bearer token for the demo user (needs JWT_SECRET)")
)

// В автобусе 4 места в ряд: A-D
var seatLetters = []string{"A", "B", "C", "D"}

var routes = []string{
	"Hà Nội - Hải Phòng",
	"Hà Nội - Ninh Bình",
	"TP.HCM - Đà Lạt",
	"TP.HCM - Vũng Tàu",
	"Đà Nẵng - Huế",
}

type tripPlan struct {
	Route     string
	Departure time.Time
	Price     decimal.Decimal
	Seats     []string
}

type Seeder struct {
	db *database.DB
}

func main() {
	flag.Parse()

	cfg := config.Load()

	if *printToken {
		if err := printDemoToken(cfg.JWTSecret); err != nil {
			slog.Error("Failed to sign token", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("Starting seed...")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	plans := planTrips(time.Now(), *tripCount, rng)

	if *dryRun {
		for _, p := range plans {
			slog.Info("[DRY RUN] Would create trip",
				"route", p.Route,
				"departure", p.Departure.Format(time.RFC3339),
				"price", p.Price.String(),
				"seats", len(p.Seats))
		}
		slog.Info("[DRY RUN] Would create coupons and payment methods", "coupons", len(demoCoupons(time.Now())), "methods", 2)
		return
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	seeder := &Seeder{db: db}
	if err := seeder.Seed(context.Background(), plans); err != nil {
		slog.Error("Failed to seed", "error", err)
		os.Exit(1)
	}

	slog.Info("Seed completed successfully!")
}

func (s *Seeder) Seed(ctx context.Context, plans []tripPlan) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if *clearExisting {
			if err := clearAll(ctx, tx); err != nil {
				return fmt.Errorf("failed to clear existing data: %w", err)
			}
		}

		if err := upsertDemoUser(ctx, tx); err != nil {
			return fmt.Errorf("failed to create demo user: %w", err)
		}

		for _, p := range plans {
			if err := insertTrip(ctx, tx, p); err != nil {
				return fmt.Errorf("failed to insert trip %s: %w", p.Route, err)
			}
			slog.Info("Generated trip", "route", p.Route, "seats", len(p.Seats), "price", p.Price.String())
		}

		for _, c := range demoCoupons(time.Now()) {
			if err := upsertCoupon(ctx, tx, c); err != nil {
				return fmt.Errorf("failed to insert coupon %s: %w", c.Code, err)
			}
		}

		for _, m := range demoPaymentMethods() {
			if err := upsertPaymentMethod(ctx, tx, m); err != nil {
				return fmt.Errorf("failed to insert payment method %s: %w", m.Code, err)
			}
		}
		return nil
	})
}

// planTrips раскладывает рейсы на ближайшие дни, 8-12 рядов по 4 места
func planTrips(now time.Time, n int, rng *rand.Rand) []tripPlan {
	plans := make([]tripPlan, 0, n)
	for i := 0; i < n; i++ {
		rows := rng.Intn(5) + 8
		seats := make([]string, 0, rows*len(seatLetters))
		for row := 1; row <= rows; row++ {
			for _, letter := range seatLetters {
				seats = append(seats, letter+strconv.Itoa(row))
			}
		}

		plans = append(plans, tripPlan{
			Route:     routes[i%len(routes)],
			Departure: now.Truncate(time.Hour).Add(time.Duration(24*(i/len(routes)+1)+rng.Intn(12)) * time.Hour),
			// 150 000 - 450 000 VND шагом 10 000
			Price: decimal.NewFromInt(int64(150000 + rng.Intn(31)*10000)),
			Seats: seats,
		})
	}
	return plans
}

func demoCoupons(now time.Time) []models.Coupon {
	return []models.Coupon{
		{Code: "WELCOME10", Type: models.CouponPercentage, Value: decimal.NewFromInt(10), MaxUsage: 1000, StartPeriod: now.AddDate(0, 0, -1), EndPeriod: now.AddDate(0, 3, 0), IsActive: true},
		{Code: "TET50K", Type: models.CouponFixed, Value: decimal.NewFromInt(50000), MaxUsage: 100, StartPeriod: now.AddDate(0, 0, -1), EndPeriod: now.AddDate(0, 1, 0), IsActive: true},
		{Code: "EXPIRED", Type: models.CouponFixed, Value: decimal.NewFromInt(20000), MaxUsage: 10, StartPeriod: now.AddDate(0, -2, 0), EndPeriod: now.AddDate(0, -1, 0), IsActive: true},
	}
}

func demoPaymentMethods() []models.PaymentMethod {
	return []models.PaymentMethod{
		{
			Code:     "VNPAY",
			Name:     "VNPay",
			Provider: models.ProviderVNPay,
			Config: models.ProviderConfig{
				"tmn_code":    envOr("VNPAY_TMN_CODE", "DEMO0001"),
				"hash_secret": envOr("VNPAY_HASH_SECRET", "DEMOSECRETDEMOSECRET"),
				"pay_url":     envOr("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
				"api_url":     envOr("VNPAY_API_URL", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"),
				"return_url":  envOr("VNPAY_RETURN_URL", "http://localhost:8081/api/payments/callback/vnpay"),
			},
			IsActive: true,
		},
		{
			Code:     "MOMO",
			Name:     "MoMo Wallet",
			Provider: models.ProviderMoMo,
			Config: models.ProviderConfig{
				"partner_code": envOr("MOMO_PARTNER_CODE", "MOMODEMO"),
				"access_key":   envOr("MOMO_ACCESS_KEY", "demo-access-key"),
				"secret_key":   envOr("MOMO_SECRET_KEY", "demo-secret-key"),
				"endpoint":     envOr("MOMO_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api"),
				"redirect_url": envOr("MOMO_REDIRECT_URL", "http://localhost:8081/payment/result"),
				"ipn_url":      envOr("MOMO_IPN_URL", "http://localhost:8081/api/payments/callback/momo"),
			},
			IsActive: true,
		},
	}
}

func clearAll(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `TRUNCATE refund_requests, coupon_usages, payments, tickets, orders, seats, trips, coupons RESTART IDENTITY CASCADE`)
	return err
}

func upsertDemoUser(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (email, full_name, phone)
		VALUES ('demo@busticket.local', 'Demo User', '0900000000')
		ON CONFLICT (email) DO NOTHING`)
	return err
}

func insertTrip(ctx context.Context, tx *sql.Tx, p tripPlan) error {
	var tripID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO trips (route_name, departure_time, price, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		p.Route, p.Departure, p.Price, models.TripScheduled,
	).Scan(&tripID); err != nil {
		return err
	}

	for _, number := range p.Seats {
		guid := uuid.New()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO seats (id, trip_id, seat_number, status)
			VALUES ($1, $2, $3, $4)`,
			guid.String(), tripID, number, models.SeatAvailable,
		); err != nil {
			return err
		}
	}
	return nil
}

func upsertCoupon(ctx context.Context, tx *sql.Tx, c models.Coupon) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO coupons (code, type, value, max_usage, start_period, end_period, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			type = EXCLUDED.type, value = EXCLUDED.value, max_usage = EXCLUDED.max_usage,
			start_period = EXCLUDED.start_period, end_period = EXCLUDED.end_period,
			is_active = EXCLUDED.is_active, updated_at = NOW()`,
		c.Code, c.Type, c.Value, c.MaxUsage, c.StartPeriod, c.EndPeriod, c.IsActive)
	return err
}

func upsertPaymentMethod(ctx context.Context, tx *sql.Tx, m models.PaymentMethod) error {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_methods (code, name, provider, config, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name, provider = EXCLUDED.provider,
			config = EXCLUDED.config, is_active = EXCLUDED.is_active`,
		m.Code, m.Name, m.Provider, string(cfg), m.IsActive)
	return err
}

// printDemoToken выводит HS256 токен для пользователя 1 (demo@busticket.local)
func printDemoToken(secret string) error {
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
