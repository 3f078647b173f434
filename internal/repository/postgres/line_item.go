package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

const ownedColumns = `id, cart_id, order_id, type, data, total_when_charged, created_at`

// ownedRow is the column set shared by line_items and adjustments.
type ownedRow struct {
	id        uuid.UUID
	cartID    uuid.NullUUID
	orderID   uuid.NullUUID
	tag       string
	data      []byte
	total     decimal.NullDecimal
	createdAt time.Time
}

func scanOwned(row pgx.Row) (ownedRow, error) {
	var o ownedRow
	err := row.Scan(&o.id, &o.cartID, &o.orderID, &o.tag, &o.data, &o.total, &o.createdAt)
	return o, err
}

func (o ownedRow) owned() domain.Owned {
	owned := domain.Owned{
		CartID:           uuidPtr(o.cartID),
		OrderID:          uuidPtr(o.orderID),
		TotalWhenCharged: decimalPtr(o.total),
	}
	owned.MarkPersisted()
	return owned
}

func upsertOwned(table string) string {
	return `
		INSERT INTO ` + table + ` (` + ownedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET cart_id = EXCLUDED.cart_id,
			order_id = EXCLUDED.order_id,
			data = EXCLUDED.data,
			total_when_charged = EXCLUDED.total_when_charged`
}

// LineItemRepository implements repository.LineItemRepository using
// PostgreSQL. Payloads are stored as JSONB next to their registry tag.
type LineItemRepository struct {
	db  database.DBTX
	reg *registry.Registry
}

// NewLineItemRepository creates a new PostgreSQL-backed line item repository.
func NewLineItemRepository(db database.DBTX, reg *registry.Registry) *LineItemRepository {
	return &LineItemRepository{db: db, reg: reg}
}

// Save runs the ownership guard and upserts the item.
func (r *LineItemRepository) Save(ctx context.Context, li *domain.LineItem) error {
	tag, raw, err := r.reg.Encode(li.Data)
	if err != nil {
		return fmt.Errorf("encode line item: %w", err)
	}
	if err := li.BeforeSave(); err != nil {
		return err
	}
	li.Type = tag

	_, err = r.db.Exec(ctx, upsertOwned("line_items"),
		li.ID,
		nullUUID(li.CartID),
		nullUUID(li.OrderID),
		li.Type,
		[]byte(raw),
		nullDecimal(li.TotalWhenCharged),
		li.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save line item: %w", err)
	}
	return nil
}

// GetByID retrieves a line item.
func (r *LineItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LineItem, error) {
	row, err := scanOwned(r.db.QueryRow(ctx, `SELECT `+ownedColumns+` FROM line_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("line item", id.String())
		}
		return nil, fmt.Errorf("scan line item: %w", err)
	}
	return r.build(row)
}

// ListByCart returns the items of a cart in creation order.
func (r *LineItemRepository) ListByCart(ctx context.Context, cartID uuid.UUID, forUpdate bool) ([]*domain.LineItem, error) {
	query := `SELECT ` + ownedColumns + ` FROM line_items WHERE cart_id = $1 ORDER BY created_at, id` + lockClause(forUpdate)
	return r.list(ctx, query, cartID)
}

// ListByOrder returns the items of an order in creation order.
func (r *LineItemRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.LineItem, error) {
	query := `SELECT ` + ownedColumns + ` FROM line_items WHERE order_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, orderID)
}

// Delete removes an item still owned by cartID.
func (r *LineItemRepository) Delete(ctx context.Context, id, cartID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM line_items WHERE id = $1 AND cart_id = $2`, id, cartID)
	if err != nil {
		return fmt.Errorf("delete line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("line item", id.String())
	}
	return nil
}

func (r *LineItemRepository) list(ctx context.Context, query string, arg uuid.UUID) ([]*domain.LineItem, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	var items []*domain.LineItem
	for rows.Next() {
		row, err := scanOwned(rows)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		li, err := r.build(row)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

func (r *LineItemRepository) build(row ownedRow) (*domain.LineItem, error) {
	data, err := r.reg.DecodeLineItem(row.tag, row.data)
	if err != nil {
		return nil, fmt.Errorf("line item %s: %w", row.id, err)
	}
	return &domain.LineItem{
		ID:        row.id,
		Type:      row.tag,
		Data:      data,
		CreatedAt: row.createdAt,
		Owned:     row.owned(),
	}, nil
}

// AdjustmentRepository implements repository.AdjustmentRepository using
// PostgreSQL.
type AdjustmentRepository struct {
	db  database.DBTX
	reg *registry.Registry
}

// NewAdjustmentRepository creates a new PostgreSQL-backed adjustment repository.
func NewAdjustmentRepository(db database.DBTX, reg *registry.Registry) *AdjustmentRepository {
	return &AdjustmentRepository{db: db, reg: reg}
}

// Save runs the ownership guard and upserts the adjustment.
func (r *AdjustmentRepository) Save(ctx context.Context, a *domain.Adjustment) error {
	tag, raw, err := r.reg.Encode(a.Data)
	if err != nil {
		return fmt.Errorf("encode adjustment: %w", err)
	}
	if err := a.BeforeSave(); err != nil {
		return err
	}
	a.Type = tag

	_, err = r.db.Exec(ctx, upsertOwned("adjustments"),
		a.ID,
		nullUUID(a.CartID),
		nullUUID(a.OrderID),
		a.Type,
		[]byte(raw),
		nullDecimal(a.TotalWhenCharged),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save adjustment: %w", err)
	}
	return nil
}

// GetByID retrieves an adjustment.
func (r *AdjustmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Adjustment, error) {
	row, err := scanOwned(r.db.QueryRow(ctx, `SELECT `+ownedColumns+` FROM adjustments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("adjustment", id.String())
		}
		return nil, fmt.Errorf("scan adjustment: %w", err)
	}
	return r.build(row)
}

// ListByCart returns the adjustments of a cart in creation order.
func (r *AdjustmentRepository) ListByCart(ctx context.Context, cartID uuid.UUID, forUpdate bool) ([]*domain.Adjustment, error) {
	query := `SELECT ` + ownedColumns + ` FROM adjustments WHERE cart_id = $1 ORDER BY created_at, id` + lockClause(forUpdate)
	return r.list(ctx, query, cartID)
}

// ListByOrder returns the adjustments of an order in creation order.
func (r *AdjustmentRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Adjustment, error) {
	query := `SELECT ` + ownedColumns + ` FROM adjustments WHERE order_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, orderID)
}

// Delete removes an adjustment still owned by cartID.
func (r *AdjustmentRepository) Delete(ctx context.Context, id, cartID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM adjustments WHERE id = $1 AND cart_id = $2`, id, cartID)
	if err != nil {
		return fmt.Errorf("delete adjustment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("adjustment", id.String())
	}
	return nil
}

func (r *AdjustmentRepository) list(ctx context.Context, query string, arg uuid.UUID) ([]*domain.Adjustment, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var adjs []*domain.Adjustment
	for rows.Next() {
		row, err := scanOwned(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		a, err := r.build(row)
		if err != nil {
			return nil, err
		}
		adjs = append(adjs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustments: %w", err)
	}
	return adjs, nil
}

func (r *AdjustmentRepository) build(row ownedRow) (*domain.Adjustment, error) {
	data, err := r.reg.DecodeAdjustment(row.tag, row.data)
	if err != nil {
		return nil, fmt.Errorf("adjustment %s: %w", row.id, err)
	}
	return &domain.Adjustment{
		ID:        row.id,
		Type:      row.tag,
		Data:      data,
		CreatedAt: row.createdAt,
		Owned:     row.owned(),
	}, nil
}
