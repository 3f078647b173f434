// Package completeness decides whether a cart may be checked out.
package completeness

import (
	"context"

	"github.com/utafrali/cartengine/internal/domain"
)

// Checker inspects a cart and reports every problem it finds. Checkers must
// not mutate the view.
type Checker func(ctx context.Context, v *domain.CartView) domain.ErrorSet

// Engine runs an ordered chain of checkers followed by the per-item hooks.
type Engine struct {
	checkers []Checker
}

// NewEngine returns an engine running checkers in order. With no checkers it
// uses DefaultCheckers.
func NewEngine(checkers ...Checker) *Engine {
	if len(checkers) == 0 {
		checkers = DefaultCheckers()
	}
	return &Engine{checkers: checkers}
}

// Evaluate runs every checker and then CheckComplete on every item whose
// variant implements domain.CompletenessChecker. It never stops early: the
// result lists every reason the cart is incomplete.
func (e *Engine) Evaluate(ctx context.Context, v *domain.CartView, forCheckout bool) domain.ErrorSet {
	var errs domain.ErrorSet
	for _, check := range e.checkers {
		errs.Merge(check(ctx, v))
	}
	for _, it := range v.Items {
		if cc, ok := it.Data.(domain.CompletenessChecker); ok {
			errs.Merge(cc.CheckComplete(ctx, forCheckout))
		}
	}
	return errs
}

// IsComplete reports whether Evaluate finds nothing.
func (e *Engine) IsComplete(ctx context.Context, v *domain.CartView, forCheckout bool) bool {
	return e.Evaluate(ctx, v, forCheckout).Empty()
}

// Require returns a *domain.IncompleteError carrying the full error set when
// the cart is incomplete.
func (e *Engine) Require(ctx context.Context, v *domain.CartView, forCheckout bool) error {
	if errs := e.Evaluate(ctx, v, forCheckout); !errs.Empty() {
		return &domain.IncompleteError{Errors: errs}
	}
	return nil
}

// Check starts a request-scoped evaluation of v whose results are memoized
// until Refresh.
func (e *Engine) Check(v *domain.CartView) *Evaluation {
	return &Evaluation{engine: e, view: v}
}

// Evaluation memoizes the error sets of one view, separately for browsing
// and for checkout. It is not safe for concurrent use.
type Evaluation struct {
	engine   *Engine
	view     *domain.CartView
	browse   *domain.ErrorSet
	checkout *domain.ErrorSet
}

// Errors returns the memoized error set, evaluating it on first use.
func (ev *Evaluation) Errors(ctx context.Context, forCheckout bool) domain.ErrorSet {
	slot := &ev.browse
	if forCheckout {
		slot = &ev.checkout
	}
	if *slot == nil {
		errs := ev.engine.Evaluate(ctx, ev.view, forCheckout)
		*slot = &errs
	}
	return **slot
}

// IsComplete reports whether the memoized error set is empty.
func (ev *Evaluation) IsComplete(ctx context.Context, forCheckout bool) bool {
	return ev.Errors(ctx, forCheckout).Empty()
}

// Refresh discards memoized results; call it after mutating the view.
func (ev *Evaluation) Refresh() {
	ev.browse, ev.checkout = nil, nil
}
