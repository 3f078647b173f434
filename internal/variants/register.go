// Package variants holds the line item, adjustment, payment method and
// delivery address types the engine ships with.
package variants

import (
	"log/slog"

	"github.com/utafrali/cartengine/internal/registry"
)

// Deps are the collaborators injected into variant instances. Nil fields
// disable the features that need them.
type Deps struct {
	Stock   StockChecker
	Gateway *CardGateway
	Logger  *slog.Logger
}

// RegisterDefaults registers every built-in variant with reg.
func RegisterDefaults(reg *registry.Registry, deps Deps) error {
	entries := []struct {
		category registry.Category
		tag      string
		handler  registry.Handler
	}{
		{registry.LineItem, TagProductItem, registry.Handler{New: func() any {
			return &ProductItem{stock: deps.Stock, logger: deps.Logger}
		}}},
		{registry.Adjustment, TagPercentageDiscount, registry.Handler{New: func() any { return &PercentageDiscount{} }}},
		{registry.DeliveryAddress, TagPostalAddress, registry.Handler{New: func() any { return &PostalAddress{} }}},
		{registry.PaymentMethod, TagGatewayCard, registry.Handler{New: func() any {
			return &GatewayCard{gateway: deps.Gateway}
		}}},
		{registry.PaymentMethod, TagPipeCard, registry.Handler{New: func() any { return &PipeCard{} }}},
	}

	for _, e := range entries {
		if err := reg.Register(e.category, e.tag, e.handler); err != nil {
			return err
		}
	}
	return nil
}
