package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/cartengine/internal/completeness"
	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/event"
	"github.com/utafrali/cartengine/internal/repository"
	"github.com/utafrali/cartengine/pkg/logger"
	"github.com/utafrali/cartengine/pkg/tracing"
)

var (
	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartengine_checkouts_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})

	paymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cartengine_payment_duration_seconds",
		Help:    "Time spent in MakePayment, by payment method type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// CheckoutErrorKind classifies a failed checkout.
type CheckoutErrorKind string

const (
	// Incomplete: the cart failed the completeness gate.
	Incomplete CheckoutErrorKind = "incomplete"
	// PaymentFailed: the payment method declined the charge.
	PaymentFailed CheckoutErrorKind = "payment"
	// Inconsistent: the totals changed since the shopper saw them.
	Inconsistent CheckoutErrorKind = "inconsistent"
)

// CheckoutError is returned by CheckoutService for every expected failure.
// The cart is left exactly as it was.
type CheckoutError struct {
	Kind CheckoutErrorKind
	// Errors is set for Incomplete.
	Errors domain.ErrorSet
	// PaymentMethod is the tag of the declining method, and Info its
	// method-specific details, for PaymentFailed.
	PaymentMethod string
	Info          any
	Err           error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout failed (%s): %v", e.Kind, e.Err)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Snapshot holds the totals the shopper was shown. Nil totals are taken
// from the cart when checkout starts.
type Snapshot struct {
	Subtotal   *decimal.Decimal
	GrandTotal *decimal.Decimal
}

// OrderSummary is the result of a successful checkout. Extra holds the
// fields contributed by checkout subscribers.
type OrderSummary struct {
	OrderID  uuid.UUID
	OrderURL string
	Extra    map[string]any
}

// invoiceIDAttempts bounds how often a checkout is retried after its
// generated invoice ID collides with an existing order.
const invoiceIDAttempts = 3

// InvoiceIDGenerator assigns a custom invoice number to a new order.
type InvoiceIDGenerator func(ctx context.Context, order *domain.Order) (string, error)

// OrderURLSigner issues the link to a placed order.
type OrderURLSigner interface {
	URL(orderID uuid.UUID) (string, error)
}

// CheckoutService turns a complete cart into an order and charges for it.
type CheckoutService struct {
	store      repository.Store
	engine     *completeness.Engine
	notifier   *event.Notifier
	logger     *slog.Logger
	invoiceIDs InvoiceIDGenerator
	urls       OrderURLSigner
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(store repository.Store, engine *completeness.Engine, notifier *event.Notifier, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		store:    store,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
	}
}

// WithInvoiceIDs sets the invoice number generator.
func (s *CheckoutService) WithInvoiceIDs(gen InvoiceIDGenerator) *CheckoutService {
	s.invoiceIDs = gen
	return s
}

// WithOrderURLs sets the signer used for OrderSummary.OrderURL.
func (s *CheckoutService) WithOrderURLs(signer OrderURLSigner) *CheckoutService {
	s.urls = signer
	return s
}

// Checkout checks out the cart at its current totals.
func (s *CheckoutService) Checkout(ctx context.Context, cartID uuid.UUID) (*OrderSummary, error) {
	return s.Execute(ctx, cartID, Snapshot{})
}

// placed is what a committed checkout hands to the subscribers.
type placed struct {
	order       *domain.Order
	items       []*domain.LineItem
	adjustments []*domain.Adjustment
	payment     *domain.Payment
	address     *domain.DeliveryAddress
}

// Execute checks out the cart in one transaction. Either the order, its
// payment and the migrated items all persist, or nothing changes.
func (s *CheckoutService) Execute(ctx context.Context, cartID uuid.UUID, snap Snapshot) (*OrderSummary, error) {
	ctx, span := tracing.Tracer("cartengine/checkout").Start(ctx, "checkout.execute")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cartID.String()))

	ctx = logger.WithCartID(ctx, cartID.String())
	log := logger.WithContext(ctx, s.logger)

	var result *placed
	var err error
	for attempt := 1; ; attempt++ {
		result, err = s.execute(ctx, cartID, snap)
		if !errors.Is(err, domain.ErrInvoiceIDTaken) || attempt == invoiceIDAttempts {
			break
		}
		log.WarnContext(ctx, "invoice id collision, retrying checkout", slog.Int("attempt", attempt))
	}
	outcome := outcomeOf(err)
	checkoutsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		span.RecordError(err)
		if outcome == "error" || outcome == string(Inconsistent) {
			log.ErrorContext(ctx, "checkout aborted", slog.String("error", err.Error()))
		} else {
			log.InfoContext(ctx, "checkout rejected", slog.String("reason", outcome))
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", result.order.ID.String()))

	log.InfoContext(ctx, "order placed",
		slog.String("order_id", result.order.ID.String()),
		slog.String("grand_total", domain.FormatMoney(result.order.GrandTotal)),
	)

	summary := &OrderSummary{OrderID: result.order.ID, Extra: map[string]any{}}
	if s.urls != nil {
		if summary.OrderURL, err = s.urls.URL(result.order.ID); err != nil {
			log.ErrorContext(ctx, "failed to sign order url", slog.String("error", err.Error()))
		}
	}
	if s.notifier != nil {
		summary.Extra = s.notifier.Notify(ctx, event.OrderCheckedOut{
			CartID:          cartID,
			Order:           result.order,
			Items:           result.items,
			Adjustments:     result.adjustments,
			Payment:         result.payment,
			DeliveryAddress: result.address,
		})
	}
	return summary, nil
}

func (s *CheckoutService) execute(ctx context.Context, cartID uuid.UUID, snap Snapshot) (*placed, error) {
	if snap.Subtotal == nil || snap.GrandTotal == nil {
		if err := s.fillSnapshot(ctx, cartID, &snap); err != nil {
			return nil, err
		}
	}

	var out *placed
	err := s.store.InTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cart, err := repos.Carts.GetForUpdate(ctx, cartID)
		if err != nil {
			return err
		}

		order := domain.NewOrder(cart, *snap.GrandTotal)
		if s.invoiceIDs != nil {
			if order.CustomInvoiceID, err = s.invoiceIDs(ctx, order); err != nil {
				return fmt.Errorf("generate invoice id: %w", err)
			}
		}

		view, err := loadView(ctx, repos, cart, true)
		if err != nil {
			return err
		}
		if err := s.engine.Require(ctx, view, true); err != nil {
			var incomplete *domain.IncompleteError
			errors.As(err, &incomplete)
			return &CheckoutError{Kind: Incomplete, Errors: incomplete.Errors, Err: err}
		}

		subtotal, grandTotal, err := freezeTotals(view)
		if err != nil {
			return err
		}
		if !subtotal.Equal(*snap.Subtotal) {
			return inconsistent("subtotal", *snap.Subtotal, subtotal)
		}
		if !grandTotal.Equal(*snap.GrandTotal) {
			return inconsistent("grand total", *snap.GrandTotal, grandTotal)
		}

		if err := repos.Orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := s.migrate(ctx, repos, view, order.ID); err != nil {
			return err
		}

		order.DeliveryAddressID = cart.DeliveryAddressID

		payment, err := s.charge(ctx, view.PaymentMethod, order, grandTotal)
		if err != nil {
			return err
		}
		// Records without an owner were entered for this checkout alone.
		if view.PaymentMethod.UserID == nil {
			view.PaymentMethod.Deactivate()
		}
		if err := repos.PaymentMethods.Update(ctx, view.PaymentMethod); err != nil {
			return fmt.Errorf("update payment method: %w", err)
		}
		if addr := view.DeliveryAddress; addr != nil && addr.UserID == nil {
			addr.Deactivate()
			if err := repos.DeliveryAddresses.Update(ctx, addr); err != nil {
				return fmt.Errorf("update delivery address: %w", err)
			}
		}
		if err := repos.Payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		order.PaymentID = &payment.ID
		if err := repos.Orders.Update(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		out = &placed{
			order:       order,
			items:       view.Items,
			adjustments: view.Adjustments,
			payment:     payment,
			address:     view.DeliveryAddress,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fillSnapshot takes the missing totals from the cart as it is now.
func (s *CheckoutService) fillSnapshot(ctx context.Context, cartID uuid.UUID, snap *Snapshot) error {
	repos := s.store.Repositories()
	cart, err := repos.Carts.GetByID(ctx, cartID)
	if err != nil {
		return err
	}
	view, err := loadView(ctx, repos, cart, false)
	if err != nil {
		return err
	}
	if snap.Subtotal == nil {
		sub := view.Subtotal()
		snap.Subtotal = &sub
	}
	if snap.GrandTotal == nil {
		grand := view.GrandTotal()
		snap.GrandTotal = &grand
	}
	return nil
}

// freezeTotals records the charged total of every item, then of every
// adjustment against the frozen subtotal.
func freezeTotals(view *domain.CartView) (subtotal, grandTotal decimal.Decimal, err error) {
	subtotal = domain.Zero
	for _, it := range view.Items {
		total := it.Data.Total()
		if err := it.FreezeTotal(total); err != nil {
			return subtotal, grandTotal, fmt.Errorf("line item %s: %w", it.ID, err)
		}
		subtotal = subtotal.Add(total)
	}

	grandTotal = subtotal
	for _, adj := range view.Adjustments {
		total := adj.Data.Total(subtotal)
		if err := adj.FreezeTotal(total); err != nil {
			return subtotal, grandTotal, fmt.Errorf("adjustment %s: %w", adj.ID, err)
		}
		grandTotal = grandTotal.Add(total)
	}
	return subtotal, grandTotal, nil
}

func inconsistent(what string, shown, actual decimal.Decimal) error {
	return &CheckoutError{
		Kind: Inconsistent,
		Err:  fmt.Errorf("%s shown as %s but is %s: %w", what, domain.FormatMoney(shown), domain.FormatMoney(actual), domain.ErrInconsistentState),
	}
}

// migrate moves every item and adjustment onto the order. It runs only once
// every total is frozen, since adjustment totals depend on the whole cart.
func (s *CheckoutService) migrate(ctx context.Context, repos repository.Repositories, view *domain.CartView, orderID uuid.UUID) error {
	for _, it := range view.Items {
		if err := it.AttachToOrder(orderID); err != nil {
			return fmt.Errorf("line item %s: %w", it.ID, err)
		}
		if err := repos.LineItems.Save(ctx, it); err != nil {
			return fmt.Errorf("save line item %s: %w", it.ID, err)
		}
		s.prepare(ctx, it.Type, it.Data)
	}
	for _, adj := range view.Adjustments {
		if err := adj.AttachToOrder(orderID); err != nil {
			return fmt.Errorf("adjustment %s: %w", adj.ID, err)
		}
		if err := repos.Adjustments.Save(ctx, adj); err != nil {
			return fmt.Errorf("save adjustment %s: %w", adj.ID, err)
		}
		s.prepare(ctx, adj.Type, adj.Data)
	}
	return nil
}

// prepare runs the variant's checkout hook. The hook cannot fail the order.
func (s *CheckoutService) prepare(ctx context.Context, tag string, data any) {
	p, ok := data.(domain.CheckoutPreparer)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithContext(ctx, s.logger).ErrorContext(ctx, "checkout hook panicked",
				slog.String("type", tag),
				slog.Any("panic", rec),
			)
		}
	}()
	p.PrepareForCheckout(ctx)
}

// charge captures amount and checks the payment method kept its contract.
func (s *CheckoutService) charge(ctx context.Context, method *domain.PaymentMethod, order *domain.Order, amount decimal.Decimal) (*domain.Payment, error) {
	start := time.Now()
	payment, err := method.Data.MakePayment(ctx, domain.ChargeRequest{Method: method, Order: order, Amount: amount})
	paymentDuration.WithLabelValues(method.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		var payErr *domain.PaymentError
		if errors.As(err, &payErr) {
			return nil, &CheckoutError{Kind: PaymentFailed, PaymentMethod: method.Type, Info: payErr.Info, Err: err}
		}
		return nil, fmt.Errorf("make payment with %s: %w", method.Type, err)
	}
	if payment == nil {
		return nil, fmt.Errorf("%s returned no payment and no error: %w", method.Type, domain.ErrContractViolation)
	}
	if payment.MethodID != method.ID {
		return nil, fmt.Errorf("%s returned a payment for method %s: %w", method.Type, payment.MethodID, domain.ErrContractViolation)
	}
	return payment, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var coErr *CheckoutError
	if errors.As(err, &coErr) {
		return string(coErr.Kind)
	}
	return "error"
}
