package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createUsersTable,
		createTripsTable,
		createSeatsTable,
		createOrdersTable,
		createTicketsTable,
		createPaymentMethodsTable,
		createPaymentsTable,
		createCouponsTable,
		createCouponUsagesTable,
		createRefundRequestsTable,
		createSeatsReservedUntilIndex,
		createTicketsActiveSeatIndex,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    user_id SERIAL PRIMARY KEY,
    email VARCHAR(255) UNIQUE NOT NULL,
    full_name VARCHAR(200) NOT NULL,
    phone VARCHAR(32),
    registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);`

const createTripsTable = `
CREATE TABLE IF NOT EXISTS trips (
    id SERIAL PRIMARY KEY,
    route_name VARCHAR(255) NOT NULL,
    departure_time TIMESTAMP NOT NULL,
    price NUMERIC(12,2),
    status VARCHAR(20) NOT NULL DEFAULT 'SCHEDULED',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),

    CHECK (status IN ('SCHEDULED', 'DEPARTED', 'COMPLETED', 'CANCELLED'))
);`

const createSeatsTable = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE TABLE IF NOT EXISTS seats (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    trip_id INTEGER NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
    seat_number VARCHAR(10) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'AVAILABLE',
    reserved_by VARCHAR(255),
    reserved_until TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),

    UNIQUE(trip_id, seat_number),
    CHECK (status IN ('AVAILABLE', 'RESERVED', 'BOOKED', 'MAINTENANCE', 'DISABLED')),
    CHECK (status = 'RESERVED' OR (reserved_by IS NULL AND reserved_until IS NULL))
);`

const createOrdersTable = `
CREATE TABLE IF NOT EXISTS orders (
    id SERIAL PRIMARY KEY,
    user_id INTEGER REFERENCES users(user_id),
    guest_name VARCHAR(200),
    guest_email VARCHAR(255),
    guest_phone VARCHAR(32),
    total_base_price NUMERIC(12,2) NOT NULL,
    total_discount NUMERIC(12,2) NOT NULL DEFAULT 0,
    total_final_price NUMERIC(12,2) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),

    CHECK (status IN ('PENDING', 'CONFIRMED', 'CANCELLED', 'PARTIALLY_REFUNDED', 'REFUNDED')),
    CHECK (total_final_price = GREATEST(0, total_base_price - total_discount)),
    CHECK (user_id IS NOT NULL OR guest_email IS NOT NULL)
);`

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    id SERIAL PRIMARY KEY,
    order_id INTEGER NOT NULL REFERENCES orders(id),
    seat_id UUID NOT NULL REFERENCES seats(id),
    base_price NUMERIC(12,2) NOT NULL,
    final_price NUMERIC(12,2) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),

    CHECK (status IN ('PENDING', 'BOOKED', 'CANCELLED', 'COMPLETED', 'REFUNDED', 'INVALID'))
);`

const createPaymentMethodsTable = `
CREATE TABLE IF NOT EXISTS payment_methods (
    id SERIAL PRIMARY KEY,
    code VARCHAR(50) UNIQUE NOT NULL,
    name VARCHAR(100) NOT NULL,
    provider VARCHAR(20) NOT NULL,
    config JSONB NOT NULL DEFAULT '{}',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,

    CHECK (provider IN ('VNPAY', 'MOMO'))
);`

const createPaymentsTable = `
CREATE TABLE IF NOT EXISTS payments (
    id SERIAL PRIMARY KEY,
    order_id INTEGER NOT NULL UNIQUE REFERENCES orders(id),
    payment_method_id INTEGER NOT NULL REFERENCES payment_methods(id),
    provider VARCHAR(20) NOT NULL,
    total_amount NUMERIC(12,2) NOT NULL,
    merchant_order_ref VARCHAR(100) NOT NULL UNIQUE,
    payment_status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    gateway_transaction_no VARCHAR(100),
    gateway_response_data TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),

    CHECK (payment_status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'CANCELLED',
                              'EXPIRED', 'REFUNDED', 'PARTIALLY_REFUNDED'))
);`

const createCouponsTable = `
CREATE TABLE IF NOT EXISTS coupons (
    id SERIAL PRIMARY KEY,
    code VARCHAR(50) UNIQUE NOT NULL,
    type VARCHAR(20) NOT NULL,
    value NUMERIC(12,2) NOT NULL,
    max_usage INTEGER NOT NULL DEFAULT 0,
    current_usage_count INTEGER NOT NULL DEFAULT 0,
    start_period TIMESTAMP NOT NULL,
    end_period TIMESTAMP NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),

    CHECK (type IN ('FIXED', 'PERCENTAGE')),
    CHECK (current_usage_count >= 0)
);`

const createCouponUsagesTable = `
CREATE TABLE IF NOT EXISTS coupon_usages (
    id SERIAL PRIMARY KEY,
    coupon_id INTEGER NOT NULL REFERENCES coupons(id),
    user_id INTEGER REFERENCES users(user_id),
    order_id INTEGER NOT NULL UNIQUE REFERENCES orders(id),
    discount_amount NUMERIC(12,2) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);`

const createRefundRequestsTable = `
CREATE TABLE IF NOT EXISTS refund_requests (
    id SERIAL PRIMARY KEY,
    request_ref VARCHAR(64) NOT NULL UNIQUE,
    order_id INTEGER NOT NULL REFERENCES orders(id),
    payment_id INTEGER NOT NULL REFERENCES payments(id),
    ticket_ids BIGINT[] NOT NULL,
    amount NUMERIC(12,2) NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    performed_by VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'INITIATED',
    gateway_transaction_id VARCHAR(100),
    gateway_response_data TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),

    CHECK (status IN ('INITIATED', 'GATEWAY_CONFIRMED', 'APPLIED', 'FAILED', 'UNKNOWN'))
);`

const createSeatsReservedUntilIndex = `
CREATE INDEX IF NOT EXISTS seats_reserved_until_idx
ON seats (reserved_until) WHERE status = 'RESERVED';`

// At most one active ticket per seat.
const createTicketsActiveSeatIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS tickets_active_seat_idx
ON tickets (seat_id) WHERE status IN ('PENDING', 'BOOKED');`
