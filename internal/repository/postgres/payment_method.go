package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

const selectableColumns = `id, user_id, type, active, data, created_at`

// PaymentMethodRepository implements repository.PaymentMethodRepository
// using PostgreSQL.
type PaymentMethodRepository struct {
	db  database.DBTX
	reg *registry.Registry
}

// NewPaymentMethodRepository creates a new PostgreSQL-backed payment method
// repository.
func NewPaymentMethodRepository(db database.DBTX, reg *registry.Registry) *PaymentMethodRepository {
	return &PaymentMethodRepository{db: db, reg: reg}
}

// Create inserts a payment method.
func (r *PaymentMethodRepository) Create(ctx context.Context, m *domain.PaymentMethod) error {
	tag, raw, err := r.reg.Encode(m.Data)
	if err != nil {
		return fmt.Errorf("encode payment method: %w", err)
	}
	m.Type = tag

	query := `
		INSERT INTO payment_methods (` + selectableColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.Exec(ctx, query, m.ID, m.UserID, m.Type, m.Active, []byte(raw), m.CreatedAt); err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

// GetByID retrieves a payment method, locking its row when forUpdate is set.
func (r *PaymentMethodRepository) GetByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.PaymentMethod, error) {
	query := `SELECT ` + selectableColumns + ` FROM payment_methods WHERE id = $1` + lockClause(forUpdate)

	var (
		m      domain.PaymentMethod
		userID pgtype.Text
		raw    []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&m.ID, &userID, &m.Type, &m.Active, &raw, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment method", id.String())
		}
		return nil, fmt.Errorf("scan payment method: %w", err)
	}

	data, err := r.reg.DecodePaymentMethod(m.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("payment method %s: %w", m.ID, err)
	}
	m.UserID = textPtr(userID)
	m.Data = data
	return &m, nil
}

// Update writes owner, active flag and payload back.
func (r *PaymentMethodRepository) Update(ctx context.Context, m *domain.PaymentMethod) error {
	_, raw, err := r.reg.Encode(m.Data)
	if err != nil {
		return fmt.Errorf("encode payment method: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE payment_methods SET user_id = $2, active = $3, data = $4 WHERE id = $1`,
		m.ID, m.UserID, m.Active, []byte(raw))
	if err != nil {
		return fmt.Errorf("update payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("payment method", m.ID.String())
	}
	return nil
}

// ListActiveByUser returns the user's active payment methods, oldest first.
func (r *PaymentMethodRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.PaymentMethod, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectableColumns+` FROM payment_methods WHERE user_id = $1 AND active ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentMethod
	for rows.Next() {
		var (
			m     domain.PaymentMethod
			owner pgtype.Text
			raw   []byte
		)
		if err := rows.Scan(&m.ID, &owner, &m.Type, &m.Active, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		if m.Data, err = r.reg.DecodePaymentMethod(m.Type, raw); err != nil {
			return nil, fmt.Errorf("payment method %s: %w", m.ID, err)
		}
		m.UserID = textPtr(owner)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment methods: %w", err)
	}
	return out, nil
}

// DeliveryAddressRepository implements repository.DeliveryAddressRepository
// using PostgreSQL.
type DeliveryAddressRepository struct {
	db  database.DBTX
	reg *registry.Registry
}

// NewDeliveryAddressRepository creates a new PostgreSQL-backed delivery
// address repository.
func NewDeliveryAddressRepository(db database.DBTX, reg *registry.Registry) *DeliveryAddressRepository {
	return &DeliveryAddressRepository{db: db, reg: reg}
}

// Create inserts a delivery address.
func (r *DeliveryAddressRepository) Create(ctx context.Context, a *domain.DeliveryAddress) error {
	tag, raw, err := r.reg.Encode(a.Data)
	if err != nil {
		return fmt.Errorf("encode delivery address: %w", err)
	}
	a.Type = tag

	query := `
		INSERT INTO delivery_addresses (` + selectableColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.Exec(ctx, query, a.ID, a.UserID, a.Type, a.Active, []byte(raw), a.CreatedAt); err != nil {
		return fmt.Errorf("insert delivery address: %w", err)
	}
	return nil
}

// GetByID retrieves a delivery address, locking its row when forUpdate is
// set.
func (r *DeliveryAddressRepository) GetByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.DeliveryAddress, error) {
	query := `SELECT ` + selectableColumns + ` FROM delivery_addresses WHERE id = $1` + lockClause(forUpdate)

	var (
		a      domain.DeliveryAddress
		userID pgtype.Text
		raw    []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &userID, &a.Type, &a.Active, &raw, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("delivery address", id.String())
		}
		return nil, fmt.Errorf("scan delivery address: %w", err)
	}

	data, err := r.reg.DecodeDeliveryAddress(a.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("delivery address %s: %w", a.ID, err)
	}
	a.UserID = textPtr(userID)
	a.Data = data
	return &a, nil
}

// Update writes owner and active flag back. Address payloads are immutable.
func (r *DeliveryAddressRepository) Update(ctx context.Context, a *domain.DeliveryAddress) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_addresses SET user_id = $2, active = $3 WHERE id = $1`,
		a.ID, a.UserID, a.Active)
	if err != nil {
		return fmt.Errorf("update delivery address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("delivery address", a.ID.String())
	}
	return nil
}

// ListActiveByUser returns the user's active delivery addresses, oldest
// first.
func (r *DeliveryAddressRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.DeliveryAddress, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectableColumns+` FROM delivery_addresses WHERE user_id = $1 AND active ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list delivery addresses: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeliveryAddress
	for rows.Next() {
		var (
			a     domain.DeliveryAddress
			owner pgtype.Text
			raw   []byte
		)
		if err := rows.Scan(&a.ID, &owner, &a.Type, &a.Active, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery address: %w", err)
		}
		if a.Data, err = r.reg.DecodeDeliveryAddress(a.Type, raw); err != nil {
			return nil, fmt.Errorf("delivery address %s: %w", a.ID, err)
		}
		a.UserID = textPtr(owner)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery addresses: %w", err)
	}
	return out, nil
}
