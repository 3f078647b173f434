package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/utafrali/cartengine/internal/domain"
)

// CartRepository defines persistence for carts.
type CartRepository interface {
	// Create inserts a new cart. A second cart for the same user fails with
	// apperrors.ErrAlreadyExists.
	Create(ctx context.Context, cart *domain.Cart) error

	// GetByID retrieves a cart.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error)

	// GetForUpdate retrieves a cart and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Cart, error)

	// GetByUserID retrieves the cart owned by userID.
	GetByUserID(ctx context.Context, userID string) (*domain.Cart, error)

	// Update writes owner, email and selections back.
	Update(ctx context.Context, cart *domain.Cart) error

	// Delete removes a cart.
	Delete(ctx context.Context, id uuid.UUID) error

	// ClearPaymentMethod unselects methodID on every cart that selected it.
	ClearPaymentMethod(ctx context.Context, methodID uuid.UUID) error

	// ClearDeliveryAddress unselects addressID on every cart that selected it.
	ClearDeliveryAddress(ctx context.Context, addressID uuid.UUID) error
}

// LineItemRepository defines persistence for line items. Save runs the
// ownership guard before writing.
type LineItemRepository interface {
	Save(ctx context.Context, item *domain.LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LineItem, error)
	// ListByCart returns the items of a cart ordered by creation. With
	// forUpdate the rows are locked.
	ListByCart(ctx context.Context, cartID uuid.UUID, forUpdate bool) ([]*domain.LineItem, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.LineItem, error)
	// Delete removes an item still owned by cartID.
	Delete(ctx context.Context, id, cartID uuid.UUID) error
}

// AdjustmentRepository mirrors LineItemRepository for adjustments.
type AdjustmentRepository interface {
	Save(ctx context.Context, adj *domain.Adjustment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Adjustment, error)
	ListByCart(ctx context.Context, cartID uuid.UUID, forUpdate bool) ([]*domain.Adjustment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Adjustment, error)
	Delete(ctx context.Context, id, cartID uuid.UUID) error
}

// PaymentMethodRepository defines persistence for payment methods.
type PaymentMethodRepository interface {
	Create(ctx context.Context, m *domain.PaymentMethod) error
	GetByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.PaymentMethod, error)
	// Update writes owner, active flag and payload back.
	Update(ctx context.Context, m *domain.PaymentMethod) error
	// ListActiveByUser returns the user's active methods, oldest first.
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.PaymentMethod, error)
}

// DeliveryAddressRepository defines persistence for delivery addresses.
type DeliveryAddressRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAddress) error
	GetByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.DeliveryAddress, error)
	Update(ctx context.Context, a *domain.DeliveryAddress) error
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.DeliveryAddress, error)
}

// PaymentRepository defines persistence for payments.
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
}

// OrderRepository defines persistence for orders.
type OrderRepository interface {
	// Create returns domain.ErrInvoiceIDTaken when a non-empty
	// CustomInvoiceID is already in use.
	Create(ctx context.Context, o *domain.Order) error
	// Update records the delivery address and payment of an order.
	Update(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

// Repositories groups every repository bound to the same connection or
// transaction.
type Repositories struct {
	Carts             CartRepository
	LineItems         LineItemRepository
	Adjustments       AdjustmentRepository
	PaymentMethods    PaymentMethodRepository
	DeliveryAddresses DeliveryAddressRepository
	Payments          PaymentRepository
	Orders            OrderRepository
}

// TxManager runs fn with repositories bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Store is a TxManager that also hands out repositories outside any
// transaction, for reads and single-statement writes.
type Store interface {
	TxManager
	Repositories() Repositories
}

// SessionStore maps anonymous session tokens to their cart.
type SessionStore interface {
	// CartID returns the cart bound to token; ok is false when none is.
	CartID(ctx context.Context, token string) (id uuid.UUID, ok bool, err error)
	Bind(ctx context.Context, token string, cartID uuid.UUID) error
	Clear(ctx context.Context, token string) error
}
