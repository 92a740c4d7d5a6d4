package repository

import (
	"context"
	"database/sql"

	"busticket/internal/database"
)

// Repositories bundles every repository over one Querier, so the same set
// works against the pool or inside a transaction.
type Repositories struct {
	*SeatRepository
	*CouponRepository
	*OrderRepository
	*TicketRepository
	*PaymentRepository
	*PaymentMethodRepository
	*RefundRequestRepository
}

func NewRepositories(q database.Querier) *Repositories {
	return &Repositories{
		SeatRepository:          NewSeatRepository(q),
		CouponRepository:        NewCouponRepository(q),
		OrderRepository:         NewOrderRepository(q),
		TicketRepository:        NewTicketRepository(q),
		PaymentRepository:       NewPaymentRepository(q),
		PaymentMethodRepository: NewPaymentMethodRepository(q),
		RefundRequestRepository: NewRefundRequestRepository(q),
	}
}

// Store runs repositories on the pool and opens transactions over them.
type Store struct {
	*Repositories
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{Repositories: NewRepositories(db), db: db}
}

func (s *Store) Tx(ctx context.Context, fn func(r *Repositories) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(NewRepositories(tx))
	})
}
