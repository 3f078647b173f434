package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

const cartColumns = `id, user_id, email, delivery_address_id, payment_method_id, created_at, updated_at`

// CartRepository implements repository.CartRepository using PostgreSQL.
type CartRepository struct {
	db database.DBTX
}

// NewCartRepository creates a new PostgreSQL-backed cart repository.
func NewCartRepository(db database.DBTX) *CartRepository {
	return &CartRepository{db: db}
}

// Create inserts a new cart.
func (r *CartRepository) Create(ctx context.Context, c *domain.Cart) error {
	query := `
		INSERT INTO carts (` + cartColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		c.ID,
		c.UserID,
		c.Email,
		nullUUID(c.DeliveryAddressID),
		nullUUID(c.PaymentMethodID),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && c.UserID != nil {
			return apperrors.AlreadyExists("cart", "user_id", *c.UserID)
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// GetByID retrieves a cart by its ID.
func (r *CartRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	return r.get(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
}

// GetForUpdate retrieves a cart and locks its row.
func (r *CartRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	return r.get(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, id)
}

// GetByUserID retrieves the cart owned by userID.
func (r *CartRepository) GetByUserID(ctx context.Context, userID string) (*domain.Cart, error) {
	c, err := r.get(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id = $1`, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NotFound("cart for user", userID)
	}
	return c, err
}

func (r *CartRepository) get(ctx context.Context, query string, arg any) (*domain.Cart, error) {
	var (
		c       domain.Cart
		userID  pgtype.Text
		address uuid.NullUUID
		method  uuid.NullUUID
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&c.ID,
		&userID,
		&c.Email,
		&address,
		&method,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("cart", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("scan cart: %w", err)
	}
	c.UserID = textPtr(userID)
	c.DeliveryAddressID = uuidPtr(address)
	c.PaymentMethodID = uuidPtr(method)
	return &c, nil
}

// Update writes owner, email and selections back.
func (r *CartRepository) Update(ctx context.Context, c *domain.Cart) error {
	query := `
		UPDATE carts
		SET user_id = $2, email = $3, delivery_address_id = $4, payment_method_id = $5, updated_at = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		c.ID,
		c.UserID,
		c.Email,
		nullUUID(c.DeliveryAddressID),
		nullUUID(c.PaymentMethodID),
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && c.UserID != nil {
			return apperrors.AlreadyExists("cart", "user_id", *c.UserID)
		}
		return fmt.Errorf("update cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("cart", c.ID.String())
	}
	return nil
}

// Delete removes a cart. Items still in it are removed by the cascade.
func (r *CartRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("cart", id.String())
	}
	return nil
}

// ClearPaymentMethod unselects methodID on every cart that selected it.
func (r *CartRepository) ClearPaymentMethod(ctx context.Context, methodID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE carts SET payment_method_id = NULL, updated_at = NOW() WHERE payment_method_id = $1`, methodID)
	if err != nil {
		return fmt.Errorf("clear payment method: %w", err)
	}
	return nil
}

// ClearDeliveryAddress unselects addressID on every cart that selected it.
func (r *CartRepository) ClearDeliveryAddress(ctx context.Context, addressID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE carts SET delivery_address_id = NULL, updated_at = NOW() WHERE delivery_address_id = $1`, addressID)
	if err != nil {
		return fmt.Errorf("clear delivery address: %w", err)
	}
	return nil
}
