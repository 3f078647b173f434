package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/internal/repository"
	"github.com/utafrali/cartengine/pkg/database"
)

// Store builds repositories on a pool and implements repository.TxManager.
type Store struct {
	pool database.Pool
	reg  *registry.Registry
}

// NewStore creates a Store. reg decodes the variant payloads.
func NewStore(pool database.Pool, reg *registry.Registry) *Store {
	return &Store{pool: pool, reg: reg}
}

// Repositories returns repositories running outside any transaction.
func (s *Store) Repositories() repository.Repositories {
	return newRepositories(s.pool, s.reg)
}

// InTx runs fn with repositories bound to one READ COMMITTED transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, newRepositories(tx, s.reg))
	})
}

func newRepositories(db database.DBTX, reg *registry.Registry) repository.Repositories {
	db = database.Traced(db)
	return repository.Repositories{
		Carts:             NewCartRepository(db),
		LineItems:         NewLineItemRepository(db, reg),
		Adjustments:       NewAdjustmentRepository(db, reg),
		PaymentMethods:    NewPaymentMethodRepository(db, reg),
		DeliveryAddresses: NewDeliveryAddressRepository(db, reg),
		Payments:          NewPaymentRepository(db),
		Orders:            NewOrderRepository(db),
	}
}
