package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

const orderColumns = `id, user_id, guest_email, grand_total, custom_invoice_id, delivery_address_id, payment_id, created_at`

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		o.ID,
		o.UserID,
		o.GuestEmail,
		o.GrandTotal,
		o.CustomInvoiceID,
		nullUUID(o.DeliveryAddressID),
		nullUUID(o.PaymentID),
		o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && o.CustomInvoiceID != "" {
			return fmt.Errorf("insert order %s: %w", o.CustomInvoiceID, domain.ErrInvoiceIDTaken)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Update records the delivery address and payment of an order being checked
// out.
func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET delivery_address_id = $2, payment_id = $3 WHERE id = $1`,
		o.ID, nullUUID(o.DeliveryAddressID), nullUUID(o.PaymentID))
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("order", o.ID.String())
	}
	return nil
}

// GetByID retrieves an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var (
		o       domain.Order
		userID  pgtype.Text
		address uuid.NullUUID
		payment uuid.NullUUID
	)
	err := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id).Scan(
		&o.ID,
		&userID,
		&o.GuestEmail,
		&o.GrandTotal,
		&o.CustomInvoiceID,
		&address,
		&payment,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id.String())
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.UserID = textPtr(userID)
	o.DeliveryAddressID = uuidPtr(address)
	o.PaymentID = uuidPtr(payment)
	return &o, nil
}

// PaymentRepository implements repository.PaymentRepository using
// PostgreSQL.
type PaymentRepository struct {
	db database.DBTX
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(db database.DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment. Data is stored as JSONB.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	var data []byte
	if p.Data != nil {
		var err error
		if data, err = json.Marshal(p.Data); err != nil {
			return fmt.Errorf("marshal payment data: %w", err)
		}
	}

	query := `
		INSERT INTO payments (id, method_id, type, amount, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.Exec(ctx, query, p.ID, p.MethodID, p.Type, p.Amount, data, p.CreatedAt); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment. Data comes back as json.RawMessage.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var (
		p    domain.Payment
		data []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, method_id, type, amount, data, created_at FROM payments WHERE id = $1`, id,
	).Scan(&p.ID, &p.MethodID, &p.Type, &p.Amount, &data, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment", id.String())
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if len(data) > 0 {
		p.Data = json.RawMessage(data)
	}
	return &p, nil
}
