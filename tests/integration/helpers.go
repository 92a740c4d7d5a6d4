package integration

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"busticket/internal/config"
	"busticket/internal/database"
	"busticket/internal/gateway"
)

// Тесты ходят в запущенный API и его базу, засиженную cmd/seed
func requireEnvironment(t *testing.T) (*TestClient, *database.DB) {
	t.Helper()
	if os.Getenv("BUSTICKET_INTEGRATION") == "" {
		t.Skip("BUSTICKET_INTEGRATION is not set")
	}

	db, err := database.Connect(config.Load().Database)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewTestClient(envOr("BUSTICKET_API_URL", "http://localhost:8081")), db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FindFreeSeats returns n available seats of one scheduled trip
func FindFreeSeats(t *testing.T, db *database.DB, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT s.id FROM seats s
		JOIN trips t ON t.id = s.trip_id
		WHERE s.status = 'AVAILABLE' AND t.status = 'SCHEDULED'
		  AND s.trip_id = (
			SELECT trip_id FROM seats WHERE status = 'AVAILABLE'
			GROUP BY trip_id HAVING COUNT(*) >= $1 ORDER BY trip_id LIMIT 1)
		ORDER BY s.seat_number
		LIMIT $1`, n)
	if err != nil {
		t.Fatalf("Failed to query free seats: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Failed to scan seat: %v", err)
		}
		ids = append(ids, id)
	}
	if len(ids) < n {
		t.Skipf("Need %d free seats on one trip, found %d", n, len(ids))
	}
	return ids
}

// VNPayCallback builds a signed return for the payment URL the API issued
func VNPayCallback(t *testing.T, paymentURL, responseCode string) map[string]string {
	t.Helper()
	u, err := url.Parse(paymentURL)
	if err != nil {
		t.Fatalf("Invalid payment URL %q: %v", paymentURL, err)
	}
	q := u.Query()

	params := map[string]string{
		"vnp_TmnCode":           q.Get("vnp_TmnCode"),
		"vnp_Amount":            q.Get("vnp_Amount"),
		"vnp_TxnRef":            q.Get("vnp_TxnRef"),
		"vnp_OrderInfo":         q.Get("vnp_OrderInfo"),
		"vnp_ResponseCode":      responseCode,
		"vnp_TransactionStatus": responseCode,
		"vnp_TransactionNo":     "14" + time.Now().Format("150405"),
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           time.Now().Format("20060102150405"),
	}
	signer := gateway.NewSHA512Signer(url.QueryEscape)
	params["vnp_SecureHash"] = signer.Sign(params, envOr("VNPAY_HASH_SECRET", "DEMOSECRETDEMOSECRET"))
	return params
}

// LogTestStep logs a test step for better debugging
func LogTestStep(t *testing.T, step string, args ...interface{}) {
	t.Logf("🔹 "+step, args...)
}

// LogTestResult logs a test result
func LogTestResult(t *testing.T, result string, args ...interface{}) {
	t.Logf("✅ "+result, args...)
}
