// Package memory is an in-process implementation of the repositories. It
// keeps payloads encoded the way PostgreSQL does and gives InTx
// all-or-nothing semantics by working on a copy of the committed state.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/internal/repository"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

type ownedRecord struct {
	id        uuid.UUID
	cartID    *uuid.UUID
	orderID   *uuid.UUID
	tag       string
	data      json.RawMessage
	total     *decimal.Decimal
	createdAt time.Time
	seq       uint64
}

type selectableRecord struct {
	id        uuid.UUID
	userID    *string
	tag       string
	active    bool
	data      json.RawMessage
	createdAt time.Time
}

type paymentRecord struct {
	payment domain.Payment
	data    json.RawMessage
}

type state struct {
	seq         uint64
	carts       map[uuid.UUID]domain.Cart
	items       map[uuid.UUID]ownedRecord
	adjustments map[uuid.UUID]ownedRecord
	methods     map[uuid.UUID]selectableRecord
	addresses   map[uuid.UUID]selectableRecord
	payments    map[uuid.UUID]paymentRecord
	orders      map[uuid.UUID]domain.Order
}

func newState() *state {
	return &state{
		carts:       map[uuid.UUID]domain.Cart{},
		items:       map[uuid.UUID]ownedRecord{},
		adjustments: map[uuid.UUID]ownedRecord{},
		methods:     map[uuid.UUID]selectableRecord{},
		addresses:   map[uuid.UUID]selectableRecord{},
		payments:    map[uuid.UUID]paymentRecord{},
		orders:      map[uuid.UUID]domain.Order{},
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:         s.seq,
		carts:       make(map[uuid.UUID]domain.Cart, len(s.carts)),
		items:       make(map[uuid.UUID]ownedRecord, len(s.items)),
		adjustments: make(map[uuid.UUID]ownedRecord, len(s.adjustments)),
		methods:     make(map[uuid.UUID]selectableRecord, len(s.methods)),
		addresses:   make(map[uuid.UUID]selectableRecord, len(s.addresses)),
		payments:    make(map[uuid.UUID]paymentRecord, len(s.payments)),
		orders:      make(map[uuid.UUID]domain.Order, len(s.orders)),
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.adjustments {
		c.adjustments[k] = v
	}
	for k, v := range s.methods {
		c.methods[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

// Store implements repository.TxManager in memory. Transactions are
// serialized, which also stands in for row locks.
type Store struct {
	mu        sync.Mutex
	committed *state
	reg       *registry.Registry
}

// NewStore returns an empty store. reg encodes and decodes variant payloads.
func NewStore(reg *registry.Registry) *Store {
	return &Store{committed: newState(), reg: reg}
}

// InTx runs fn against a private copy of the store and publishes the copy
// only when fn succeeds. fn must not use repositories obtained from
// Repositories.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.committed.clone()
	if err := fn(ctx, s.bind(func(f func(*state) error) error { return f(working) })); err != nil {
		return err
	}
	s.committed = working
	return nil
}

// Repositories returns repositories where every call is its own transaction.
func (s *Store) Repositories() repository.Repositories {
	return s.bind(func(f func(*state) error) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		working := s.committed.clone()
		if err := f(working); err != nil {
			return err
		}
		s.committed = working
		return nil
	})
}

type runner func(func(*state) error) error

func (s *Store) bind(run runner) repository.Repositories {
	return repository.Repositories{
		Carts:             &cartRepo{run: run},
		LineItems:         &lineItemRepo{run: run, reg: s.reg},
		Adjustments:       &adjustmentRepo{run: run, reg: s.reg},
		PaymentMethods:    &paymentMethodRepo{run: run, reg: s.reg},
		DeliveryAddresses: &deliveryAddressRepo{run: run, reg: s.reg},
		Payments:          &paymentRepo{run: run},
		Orders:            &orderRepo{run: run},
	}
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyUUID(p *uuid.UUID) *uuid.UUID {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyDecimal(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyCart(c domain.Cart) *domain.Cart {
	c.UserID = copyString(c.UserID)
	c.DeliveryAddressID = copyUUID(c.DeliveryAddressID)
	c.PaymentMethodID = copyUUID(c.PaymentMethodID)
	return &c
}

func copyOrder(o domain.Order) *domain.Order {
	o.UserID = copyString(o.UserID)
	o.DeliveryAddressID = copyUUID(o.DeliveryAddressID)
	o.PaymentID = copyUUID(o.PaymentID)
	return &o
}

// --- carts ---

type cartRepo struct{ run runner }

func (r *cartRepo) Create(_ context.Context, c *domain.Cart) error {
	return r.run(func(st *state) error {
		if _, ok := st.carts[c.ID]; ok {
			return apperrors.AlreadyExists("cart", "id", c.ID.String())
		}
		if err := uniqueOwner(st, c); err != nil {
			return err
		}
		st.carts[c.ID] = *copyCart(*c)
		return nil
	})
}

func uniqueOwner(st *state, c *domain.Cart) error {
	if c.UserID == nil {
		return nil
	}
	for id, other := range st.carts {
		if id != c.ID && other.UserID != nil && *other.UserID == *c.UserID {
			return apperrors.AlreadyExists("cart", "user_id", *c.UserID)
		}
	}
	return nil
}

func (r *cartRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.run(func(st *state) error {
		c, ok := st.carts[id]
		if !ok {
			return apperrors.NotFound("cart", id.String())
		}
		out = copyCart(c)
		return nil
	})
	return out, err
}

func (r *cartRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	return r.GetByID(ctx, id)
}

func (r *cartRepo) GetByUserID(_ context.Context, userID string) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.run(func(st *state) error {
		for _, c := range st.carts {
			if c.UserID != nil && *c.UserID == userID {
				out = copyCart(c)
				return nil
			}
		}
		return apperrors.NotFound("cart for user", userID)
	})
	return out, err
}

func (r *cartRepo) Update(_ context.Context, c *domain.Cart) error {
	return r.run(func(st *state) error {
		if _, ok := st.carts[c.ID]; !ok {
			return apperrors.NotFound("cart", c.ID.String())
		}
		if err := uniqueOwner(st, c); err != nil {
			return err
		}
		st.carts[c.ID] = *copyCart(*c)
		return nil
	})
}

func (r *cartRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.run(func(st *state) error {
		if _, ok := st.carts[id]; !ok {
			return apperrors.NotFound("cart", id.String())
		}
		delete(st.carts, id)
		for k, rec := range st.items {
			if rec.cartID != nil && *rec.cartID == id {
				delete(st.items, k)
			}
		}
		for k, rec := range st.adjustments {
			if rec.cartID != nil && *rec.cartID == id {
				delete(st.adjustments, k)
			}
		}
		return nil
	})
}

func (r *cartRepo) ClearPaymentMethod(_ context.Context, methodID uuid.UUID) error {
	return r.run(func(st *state) error {
		for id, c := range st.carts {
			if c.PaymentMethodID != nil && *c.PaymentMethodID == methodID {
				c.PaymentMethodID = nil
				st.carts[id] = c
			}
		}
		return nil
	})
}

func (r *cartRepo) ClearDeliveryAddress(_ context.Context, addressID uuid.UUID) error {
	return r.run(func(st *state) error {
		for id, c := range st.carts {
			if c.DeliveryAddressID != nil && *c.DeliveryAddressID == addressID {
				c.DeliveryAddressID = nil
				st.carts[id] = c
			}
		}
		return nil
	})
}

// --- line items and adjustments ---

func saveOwned(st *state, table map[uuid.UUID]ownedRecord, id uuid.UUID, o *domain.Owned, tag string, raw json.RawMessage, createdAt time.Time) {
	rec := ownedRecord{
		id:        id,
		cartID:    copyUUID(o.CartID),
		orderID:   copyUUID(o.OrderID),
		tag:       tag,
		data:      raw,
		total:     copyDecimal(o.TotalWhenCharged),
		createdAt: createdAt,
	}
	if prev, ok := table[id]; ok {
		rec.seq = prev.seq
	} else {
		st.seq++
		rec.seq = st.seq
	}
	table[id] = rec
}

func (rec ownedRecord) owned() domain.Owned {
	o := domain.Owned{
		CartID:           copyUUID(rec.cartID),
		OrderID:          copyUUID(rec.orderID),
		TotalWhenCharged: copyDecimal(rec.total),
	}
	o.MarkPersisted()
	return o
}

func selectOwned(table map[uuid.UUID]ownedRecord, match func(ownedRecord) bool) []ownedRecord {
	var out []ownedRecord
	for _, rec := range table {
		if match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func inCart(cartID uuid.UUID) func(ownedRecord) bool {
	return func(rec ownedRecord) bool { return rec.cartID != nil && *rec.cartID == cartID }
}

func inOrder(orderID uuid.UUID) func(ownedRecord) bool {
	return func(rec ownedRecord) bool { return rec.orderID != nil && *rec.orderID == orderID }
}

func deleteOwned(table map[uuid.UUID]ownedRecord, id, cartID uuid.UUID, resource string) error {
	rec, ok := table[id]
	if !ok || rec.cartID == nil || *rec.cartID != cartID {
		return apperrors.NotFound(resource, id.String())
	}
	delete(table, id)
	return nil
}

type lineItemRepo struct {
	run runner
	reg *registry.Registry
}

func (r *lineItemRepo) Save(_ context.Context, li *domain.LineItem) error {
	tag, raw, err := r.reg.Encode(li.Data)
	if err != nil {
		return fmt.Errorf("encode line item: %w", err)
	}
	return r.run(func(st *state) error {
		if err := li.BeforeSave(); err != nil {
			return err
		}
		li.Type = tag
		saveOwned(st, st.items, li.ID, &li.Owned, tag, raw, li.CreatedAt)
		return nil
	})
}

func (r *lineItemRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.LineItem, error) {
	var out *domain.LineItem
	err := r.run(func(st *state) error {
		rec, ok := st.items[id]
		if !ok {
			return apperrors.NotFound("line item", id.String())
		}
		var err error
		out, err = r.build(rec)
		return err
	})
	return out, err
}

func (r *lineItemRepo) ListByCart(_ context.Context, cartID uuid.UUID, _ bool) ([]*domain.LineItem, error) {
	return r.list(inCart(cartID))
}

func (r *lineItemRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*domain.LineItem, error) {
	return r.list(inOrder(orderID))
}

func (r *lineItemRepo) Delete(_ context.Context, id, cartID uuid.UUID) error {
	return r.run(func(st *state) error {
		return deleteOwned(st.items, id, cartID, "line item")
	})
}

func (r *lineItemRepo) list(match func(ownedRecord) bool) ([]*domain.LineItem, error) {
	var out []*domain.LineItem
	err := r.run(func(st *state) error {
		for _, rec := range selectOwned(st.items, match) {
			li, err := r.build(rec)
			if err != nil {
				return err
			}
			out = append(out, li)
		}
		return nil
	})
	return out, err
}

func (r *lineItemRepo) build(rec ownedRecord) (*domain.LineItem, error) {
	data, err := r.reg.DecodeLineItem(rec.tag, rec.data)
	if err != nil {
		return nil, fmt.Errorf("line item %s: %w", rec.id, err)
	}
	return &domain.LineItem{ID: rec.id, Type: rec.tag, Data: data, CreatedAt: rec.createdAt, Owned: rec.owned()}, nil
}

type adjustmentRepo struct {
	run runner
	reg *registry.Registry
}

func (r *adjustmentRepo) Save(_ context.Context, a *domain.Adjustment) error {
	tag, raw, err := r.reg.Encode(a.Data)
	if err != nil {
		return fmt.Errorf("encode adjustment: %w", err)
	}
	return r.run(func(st *state) error {
		if err := a.BeforeSave(); err != nil {
			return err
		}
		a.Type = tag
		saveOwned(st, st.adjustments, a.ID, &a.Owned, tag, raw, a.CreatedAt)
		return nil
	})
}

func (r *adjustmentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Adjustment, error) {
	var out *domain.Adjustment
	err := r.run(func(st *state) error {
		rec, ok := st.adjustments[id]
		if !ok {
			return apperrors.NotFound("adjustment", id.String())
		}
		var err error
		out, err = r.build(rec)
		return err
	})
	return out, err
}

func (r *adjustmentRepo) ListByCart(_ context.Context, cartID uuid.UUID, _ bool) ([]*domain.Adjustment, error) {
	return r.list(inCart(cartID))
}

func (r *adjustmentRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*domain.Adjustment, error) {
	return r.list(inOrder(orderID))
}

func (r *adjustmentRepo) Delete(_ context.Context, id, cartID uuid.UUID) error {
	return r.run(func(st *state) error {
		return deleteOwned(st.adjustments, id, cartID, "adjustment")
	})
}

func (r *adjustmentRepo) list(match func(ownedRecord) bool) ([]*domain.Adjustment, error) {
	var out []*domain.Adjustment
	err := r.run(func(st *state) error {
		for _, rec := range selectOwned(st.adjustments, match) {
			a, err := r.build(rec)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

func (r *adjustmentRepo) build(rec ownedRecord) (*domain.Adjustment, error) {
	data, err := r.reg.DecodeAdjustment(rec.tag, rec.data)
	if err != nil {
		return nil, fmt.Errorf("adjustment %s: %w", rec.id, err)
	}
	return &domain.Adjustment{ID: rec.id, Type: rec.tag, Data: data, CreatedAt: rec.createdAt, Owned: rec.owned()}, nil
}

// --- payment methods and delivery addresses ---

type paymentMethodRepo struct {
	run runner
	reg *registry.Registry
}

func (r *paymentMethodRepo) Create(_ context.Context, m *domain.PaymentMethod) error {
	tag, raw, err := r.reg.Encode(m.Data)
	if err != nil {
		return fmt.Errorf("encode payment method: %w", err)
	}
	return r.run(func(st *state) error {
		if _, ok := st.methods[m.ID]; ok {
			return apperrors.AlreadyExists("payment method", "id", m.ID.String())
		}
		m.Type = tag
		st.methods[m.ID] = selectableRecord{id: m.ID, userID: copyString(m.UserID), tag: tag, active: m.Active, data: raw, createdAt: m.CreatedAt}
		return nil
	})
}

func (r *paymentMethodRepo) GetByID(_ context.Context, id uuid.UUID, _ bool) (*domain.PaymentMethod, error) {
	var out *domain.PaymentMethod
	err := r.run(func(st *state) error {
		rec, ok := st.methods[id]
		if !ok {
			return apperrors.NotFound("payment method", id.String())
		}
		data, err := r.reg.DecodePaymentMethod(rec.tag, rec.data)
		if err != nil {
			return fmt.Errorf("payment method %s: %w", id, err)
		}
		out = &domain.PaymentMethod{ID: rec.id, UserID: copyString(rec.userID), Type: rec.tag, Active: rec.active, Data: data, CreatedAt: rec.createdAt}
		return nil
	})
	return out, err
}

func (r *paymentMethodRepo) Update(_ context.Context, m *domain.PaymentMethod) error {
	_, raw, err := r.reg.Encode(m.Data)
	if err != nil {
		return fmt.Errorf("encode payment method: %w", err)
	}
	return r.run(func(st *state) error {
		rec, ok := st.methods[m.ID]
		if !ok {
			return apperrors.NotFound("payment method", m.ID.String())
		}
		rec.userID = copyString(m.UserID)
		rec.active = m.Active
		rec.data = raw
		st.methods[m.ID] = rec
		return nil
	})
}

func (r *paymentMethodRepo) ListActiveByUser(_ context.Context, userID string) ([]*domain.PaymentMethod, error) {
	var out []*domain.PaymentMethod
	err := r.run(func(st *state) error {
		for _, rec := range activeFor(st.methods, userID) {
			data, err := r.reg.DecodePaymentMethod(rec.tag, rec.data)
			if err != nil {
				return fmt.Errorf("payment method %s: %w", rec.id, err)
			}
			out = append(out, &domain.PaymentMethod{ID: rec.id, UserID: copyString(rec.userID), Type: rec.tag, Active: true, Data: data, CreatedAt: rec.createdAt})
		}
		return nil
	})
	return out, err
}

// activeFor returns the active records owned by userID, oldest first.
func activeFor(records map[uuid.UUID]selectableRecord, userID string) []selectableRecord {
	var out []selectableRecord
	for _, rec := range records {
		if rec.active && rec.userID != nil && *rec.userID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

type deliveryAddressRepo struct {
	run runner
	reg *registry.Registry
}

func (r *deliveryAddressRepo) Create(_ context.Context, a *domain.DeliveryAddress) error {
	tag, raw, err := r.reg.Encode(a.Data)
	if err != nil {
		return fmt.Errorf("encode delivery address: %w", err)
	}
	return r.run(func(st *state) error {
		if _, ok := st.addresses[a.ID]; ok {
			return apperrors.AlreadyExists("delivery address", "id", a.ID.String())
		}
		a.Type = tag
		st.addresses[a.ID] = selectableRecord{id: a.ID, userID: copyString(a.UserID), tag: tag, active: a.Active, data: raw, createdAt: a.CreatedAt}
		return nil
	})
}

func (r *deliveryAddressRepo) GetByID(_ context.Context, id uuid.UUID, _ bool) (*domain.DeliveryAddress, error) {
	var out *domain.DeliveryAddress
	err := r.run(func(st *state) error {
		rec, ok := st.addresses[id]
		if !ok {
			return apperrors.NotFound("delivery address", id.String())
		}
		data, err := r.reg.DecodeDeliveryAddress(rec.tag, rec.data)
		if err != nil {
			return fmt.Errorf("delivery address %s: %w", id, err)
		}
		out = &domain.DeliveryAddress{ID: rec.id, UserID: copyString(rec.userID), Type: rec.tag, Active: rec.active, Data: data, CreatedAt: rec.createdAt}
		return nil
	})
	return out, err
}

func (r *deliveryAddressRepo) Update(_ context.Context, a *domain.DeliveryAddress) error {
	return r.run(func(st *state) error {
		rec, ok := st.addresses[a.ID]
		if !ok {
			return apperrors.NotFound("delivery address", a.ID.String())
		}
		rec.userID = copyString(a.UserID)
		rec.active = a.Active
		st.addresses[a.ID] = rec
		return nil
	})
}

func (r *deliveryAddressRepo) ListActiveByUser(_ context.Context, userID string) ([]*domain.DeliveryAddress, error) {
	var out []*domain.DeliveryAddress
	err := r.run(func(st *state) error {
		for _, rec := range activeFor(st.addresses, userID) {
			data, err := r.reg.DecodeDeliveryAddress(rec.tag, rec.data)
			if err != nil {
				return fmt.Errorf("delivery address %s: %w", rec.id, err)
			}
			out = append(out, &domain.DeliveryAddress{ID: rec.id, UserID: copyString(rec.userID), Type: rec.tag, Active: true, Data: data, CreatedAt: rec.createdAt})
		}
		return nil
	})
	return out, err
}

// --- payments and orders ---

type paymentRepo struct{ run runner }

func (r *paymentRepo) Create(_ context.Context, p *domain.Payment) error {
	var raw json.RawMessage
	if p.Data != nil {
		var err error
		if raw, err = json.Marshal(p.Data); err != nil {
			return fmt.Errorf("marshal payment data: %w", err)
		}
	}
	return r.run(func(st *state) error {
		if _, ok := st.methods[p.MethodID]; !ok {
			return fmt.Errorf("payment references unknown method %s: %w", p.MethodID, apperrors.ErrInternal)
		}
		rec := paymentRecord{payment: *p, data: raw}
		rec.payment.Data = nil
		st.payments[p.ID] = rec
		return nil
	})
}

func (r *paymentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.run(func(st *state) error {
		rec, ok := st.payments[id]
		if !ok {
			return apperrors.NotFound("payment", id.String())
		}
		p := rec.payment
		if rec.data != nil {
			p.Data = rec.data
		}
		out = &p
		return nil
	})
	return out, err
}

type orderRepo struct{ run runner }

func (r *orderRepo) Create(_ context.Context, o *domain.Order) error {
	return r.run(func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return apperrors.AlreadyExists("order", "id", o.ID.String())
		}
		if o.CustomInvoiceID != "" {
			for _, other := range st.orders {
				if other.CustomInvoiceID == o.CustomInvoiceID {
					return fmt.Errorf("insert order %s: %w", o.CustomInvoiceID, domain.ErrInvoiceIDTaken)
				}
			}
		}
		st.orders[o.ID] = *copyOrder(*o)
		return nil
	})
}

func (r *orderRepo) Update(_ context.Context, o *domain.Order) error {
	return r.run(func(st *state) error {
		stored, ok := st.orders[o.ID]
		if !ok {
			return apperrors.NotFound("order", o.ID.String())
		}
		stored.DeliveryAddressID = copyUUID(o.DeliveryAddressID)
		stored.PaymentID = copyUUID(o.PaymentID)
		st.orders[o.ID] = stored
		return nil
	})
}

func (r *orderRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	var out *domain.Order
	err := r.run(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return apperrors.NotFound("order", id.String())
		}
		out = copyOrder(o)
		return nil
	})
	return out, err
}
