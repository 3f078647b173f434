package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/service"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/httputil"
)

// CheckoutHandler handles checkout and cart merge requests.
type CheckoutHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	merge    *service.MergeService
	logger   *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(carts *service.CartService, checkout *service.CheckoutService, merge *service.MergeService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		carts:    carts,
		checkout: checkout,
		merge:    merge,
		logger:   logger,
	}
}

// CheckoutRequest optionally carries the totals the shopper was shown.
// Checkout is refused when the cart no longer adds up to them.
type CheckoutRequest struct {
	Subtotal   *decimal.Decimal `json:"subtotal"`
	GrandTotal *decimal.Decimal `json:"grand_total"`
}

type incompleteBody struct {
	Reason string          `json:"reason"`
	Info   domain.ErrorSet `json:"info"`
}

type paymentFailedBody struct {
	Reason        string `json:"reason"`
	PaymentMethod string `json:"payment_method"`
	Info          any    `json:"info"`
}

// Checkout handles POST /api/v1/cart/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}

	cart, err := h.carts.Resolve(r.Context(), principal(r), true)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	summary, err := h.checkout.Execute(r.Context(), cart.ID, service.Snapshot{
		Subtotal:   req.Subtotal,
		GrandTotal: req.GrandTotal,
	})
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	body := make(map[string]any, len(summary.Extra)+2)
	for k, v := range summary.Extra {
		body[k] = v
	}
	body["id"] = summary.OrderID
	body["url"] = summary.OrderURL
	httputil.WriteJSON(w, http.StatusOK, body)
}

// writeCheckoutError answers rejections the shopper can act on with a flat
// body naming the reason; everything else uses the standard envelope.
func (h *CheckoutHandler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var coErr *service.CheckoutError
	if errors.As(err, &coErr) {
		switch coErr.Kind {
		case service.Incomplete:
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, incompleteBody{
				Reason: string(service.Incomplete),
				Info:   coErr.Errors,
			})
			return
		case service.PaymentFailed:
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, paymentFailedBody{
				Reason:        string(service.PaymentFailed),
				PaymentMethod: coErr.PaymentMethod,
				Info:          coErr.Info,
			})
			return
		}
	}
	httputil.WriteError(w, r, err, h.logger)
}

// Merge handles POST /api/v1/cart/merge. The request must carry both the
// logged-in user and the session whose cart is folded into theirs.
func (h *CheckoutHandler) Merge(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == "" || p.SessionToken == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("merge requires both a user and a session"), h.logger)
		return
	}

	if err := h.merge.Execute(r.Context(), p.SessionToken, p.UserID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.carts.Resolve(r.Context(), service.Principal{UserID: p.UserID}, true)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"cart_id": cart.ID}})
}

// OrderHandler serves placed orders.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{service: svc, logger: logger}
}

// GetOrder handles GET /api/v1/orders/{id}?token=
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	detail, err := h.service.Get(r.Context(), principal(r), orderID, r.URL.Query().Get("token"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: detail})
}
