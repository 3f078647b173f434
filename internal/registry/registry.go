// Package registry maps type tags to the variant handlers a host application
// plugs into the engine: line items, payment methods, delivery addresses and
// adjustments.
//
// A Registry is populated once at startup and then frozen. After Freeze it is
// read-only and safe for concurrent use without locking.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/validator"
)

// Category is one of the four kinds of pluggable variant.
type Category string

const (
	LineItem        Category = "line_item"
	PaymentMethod   Category = "payment_method"
	DeliveryAddress Category = "delivery_address"
	Adjustment      Category = "adjustment"
)

var capability = map[Category]reflect.Type{
	LineItem:        reflect.TypeFor[domain.LineItemData](),
	PaymentMethod:   reflect.TypeFor[domain.PaymentMethodData](),
	DeliveryAddress: reflect.TypeFor[domain.DeliveryAddressData](),
	Adjustment:      reflect.TypeFor[domain.AdjustmentData](),
}

var (
	ErrUnknownCategory = errors.New("registry: unknown category")
	ErrDuplicateTag    = errors.New("registry: tag already registered")
	ErrFrozen          = errors.New("registry: frozen")
	ErrBadHandler      = errors.New("registry: invalid handler")
)

// UnknownTypeError is returned for a tag or instance that was never
// registered. It indicates a deployment defect rather than bad input when it
// comes from stored data.
type UnknownTypeError struct {
	Category Category
	Tag      string
	GoType   string
}

func (e *UnknownTypeError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("registry: no %s registered for tag %q", e.Category, e.Tag)
	}
	return fmt.Sprintf("registry: type %s is not registered", e.GoType)
}

// Handler constructs a fresh, zero-valued pointer to a variant payload, e.g.
// func() any { return &ProductItem{} }. The payload decodes from JSON and is
// validated with go-playground/validator tags.
type Handler struct {
	New func() any
}

type entry struct {
	category Category
	tag      string
	handler  Handler
}

// Registry is the tag to handler table.
type Registry struct {
	byTag  map[Category]map[string]entry
	byType map[reflect.Type]entry
	frozen atomic.Bool
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{
		byTag:  make(map[Category]map[string]entry, len(capability)),
		byType: make(map[reflect.Type]entry),
	}
	for c := range capability {
		r.byTag[c] = make(map[string]entry)
	}
	return r
}

// Register adds handler under tag in category. Registering the same tag twice
// in a category is an error, as is registering after Freeze.
func (r *Registry) Register(category Category, tag string, h Handler) error {
	if r.frozen.Load() {
		return ErrFrozen
	}
	want, ok := capability[category]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if tag == "" || h.New == nil {
		return fmt.Errorf("%w: tag and constructor are required", ErrBadHandler)
	}
	if _, dup := r.byTag[category][tag]; dup {
		return fmt.Errorf("%w: %s %q", ErrDuplicateTag, category, tag)
	}

	sample := h.New()
	rt := reflect.TypeOf(sample)
	if rt == nil || rt.Kind() != reflect.Pointer {
		return fmt.Errorf("%w: %s %q constructor must return a pointer", ErrBadHandler, category, tag)
	}
	if !rt.Implements(want) {
		return fmt.Errorf("%w: %s does not implement %s", ErrBadHandler, rt, want)
	}
	if prev, taken := r.byType[rt]; taken {
		return fmt.Errorf("%w: %s already registered as %s %q", ErrDuplicateTag, rt, prev.category, prev.tag)
	}

	e := entry{category: category, tag: tag, handler: h}
	r.byTag[category][tag] = e
	r.byType[rt] = e
	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(category Category, tag string, h Handler) {
	if err := r.Register(category, tag, h); err != nil {
		panic(err)
	}
}

// Freeze ends initialization.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Resolve returns the handler for tag in category.
func (r *Registry) Resolve(category Category, tag string) (Handler, error) {
	tags, ok := r.byTag[category]
	if !ok {
		return Handler{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	e, ok := tags[tag]
	if !ok {
		return Handler{}, &UnknownTypeError{Category: category, Tag: tag}
	}
	return e.handler, nil
}

// ResolveForInstance returns the category, tag and handler of v's runtime
// type.
func (r *Registry) ResolveForInstance(v any) (Category, string, Handler, error) {
	e, ok := r.byType[reflect.TypeOf(v)]
	if !ok {
		return "", "", Handler{}, &UnknownTypeError{GoType: fmt.Sprintf("%T", v)}
	}
	return e.category, e.tag, e.handler, nil
}

// Tags lists the registered tags of category in sorted order.
func (r *Registry) Tags(category Category) []string {
	tags := make([]string, 0, len(r.byTag[category]))
	for t := range r.byTag[category] {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Decode builds the payload registered under tag from raw JSON and validates
// it. Unknown JSON fields are rejected.
func (r *Registry) Decode(category Category, tag string, raw json.RawMessage) (any, error) {
	h, err := r.Resolve(category, tag)
	if err != nil {
		return nil, err
	}
	v := h.New()
	if err := validator.DecodeStrict(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", category, tag, err)
	}
	return v, nil
}

// Encode returns the tag and JSON payload of a registered variant.
func (r *Registry) Encode(v any) (string, json.RawMessage, error) {
	_, tag, _, err := r.ResolveForInstance(v)
	if err != nil {
		return "", nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %q: %w", tag, err)
	}
	return tag, raw, nil
}
