package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/service"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/httputil"
	"github.com/utafrali/cartengine/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// TypedRequest carries a registered variant: Type is its tag and Data the
// payload decoded by the registry.
type TypedRequest struct {
	Type string          `json:"type" validate:"required,max=64"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// SelectRequest names the payment method or delivery address to select.
type SelectRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

// UpdateItemRequest replaces the payload of a line item.
type UpdateItemRequest struct {
	Data json.RawMessage `json:"data" validate:"required"`
}

// EmailRequest is the JSON request body for setting the guest email.
type EmailRequest struct {
	Email string `json:"email" validate:"required"`
}

// --- Response DTOs ---

type lineResponse struct {
	ID    uuid.UUID `json:"id"`
	Type  string    `json:"type"`
	Data  any       `json:"data"`
	Total string    `json:"total"`
}

func itemResponse(item *domain.LineItem) lineResponse {
	return lineResponse{
		ID:    item.ID,
		Type:  item.Type,
		Data:  item.Data,
		Total: domain.FormatMoney(item.Total()),
	}
}

type cartResponse struct {
	ID                uuid.UUID               `json:"id"`
	Items             []lineResponse          `json:"items"`
	Adjustments       []lineResponse          `json:"adjustments"`
	Subtotal          string                  `json:"subtotal"`
	GrandTotal        string                  `json:"grand_total"`
	DeliveryAddress   *domain.DeliveryAddress `json:"delivery_address,omitempty"`
	PaymentMethod     *domain.PaymentMethod   `json:"payment_method,omitempty"`
	Email             string                  `json:"email,omitempty"`
	IsComplete        bool                    `json:"is_complete"`
	IncompleteReasons domain.ErrorSet         `json:"incomplete_reasons"`
	IsAuthenticated   bool                    `json:"is_authenticated"`
	GeneratedAt       int64                   `json:"generated_at"`

	SavedPaymentMethods    []*domain.PaymentMethod   `json:"saved_payment_methods"`
	SavedDeliveryAddresses []*domain.DeliveryAddress `json:"saved_delivery_addresses"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}
	h.writeCart(w, r, http.StatusOK, cart.ID)
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req TypedRequest
	if err := decodeRequest(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	item, err := h.service.AddItem(r.Context(), cart.ID, req.Type, req.Data)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: itemResponse(item)})
}

// GetItem handles GET /api/v1/cart/items/{id}
func (h *CartHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetItem(r.Context(), cart.ID, itemID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: itemResponse(item)})
}

// UpdateItem handles PATCH /api/v1/cart/items/{id}. The body is the item's
// new payload; its type cannot change.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req UpdateItemRequest
	if err := decodeRequest(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	item, err := h.service.UpdateItem(r.Context(), cart.ID, itemID, req.Data)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: itemResponse(item)})
}

// RemoveItem handles DELETE /api/v1/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), cart.ID, itemID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAdjustment handles POST /api/v1/cart/adjustments
func (h *CartHandler) AddAdjustment(w http.ResponseWriter, r *http.Request) {
	var req TypedRequest
	if err := decodeRequest(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if _, err := h.service.AddAdjustment(r.Context(), cart.ID, req.Type, req.Data); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	// An adjustment's amount depends on the rest of the cart.
	h.writeCart(w, r, http.StatusCreated, cart.ID)
}

// RemoveAdjustment handles DELETE /api/v1/cart/adjustments/{id}
func (h *CartHandler) RemoveAdjustment(w http.ResponseWriter, r *http.Request) {
	adjID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveAdjustment(r.Context(), cart.ID, adjID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddPaymentMethod handles POST /api/v1/cart/payment-methods
func (h *CartHandler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req TypedRequest
	if err := decodeRequest(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	method, err := h.service.AddPaymentMethod(r.Context(), cart.ID, req.Type, req.Data)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: method})
}

// SelectPaymentMethod handles PUT /api/v1/cart/payment-method
func (h *CartHandler) SelectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	h.selectRecord(w, r, h.service.SelectPaymentMethod)
}

// DeactivatePaymentMethod handles DELETE /api/v1/payment-methods/{id}
func (h *CartHandler) DeactivatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	methodID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.service.DeactivatePaymentMethod(r.Context(), principal(r), methodID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddDeliveryAddress handles POST /api/v1/cart/delivery-addresses
func (h *CartHandler) AddDeliveryAddress(w http.ResponseWriter, r *http.Request) {
	var req TypedRequest
	if err := decodeRequest(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	addr, err := h.service.AddDeliveryAddress(r.Context(), cart.ID, req.Type, req.Data)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: addr})
}

// SelectDeliveryAddress handles PUT /api/v1/cart/delivery-address
func (h *CartHandler) SelectDeliveryAddress(w http.ResponseWriter, r *http.Request) {
	h.selectRecord(w, r, h.service.SelectDeliveryAddress)
}

// DeactivateDeliveryAddress handles DELETE /api/v1/delivery-addresses/{id}
func (h *CartHandler) DeactivateDeliveryAddress(w http.ResponseWriter, r *http.Request) {
	addrID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.service.DeactivateDeliveryAddress(r.Context(), principal(r), addrID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetEmail handles PUT /api/v1/cart/email
func (h *CartHandler) SetEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeRequest(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := h.service.SetEmail(r.Context(), cart.ID, req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, r, http.StatusOK, cart.ID)
}

// --- Helpers ---

func (h *CartHandler) selectRecord(w http.ResponseWriter, r *http.Request, sel func(ctx context.Context, cartID, id uuid.UUID) error) {
	var req SelectRequest
	if err := decodeRequest(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := sel(r.Context(), cart.ID, uuid.MustParse(req.ID)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, r, http.StatusOK, cart.ID)
}

// resolve finds or lazily creates the principal's cart. On failure it
// writes the error and returns false.
func (h *CartHandler) resolve(w http.ResponseWriter, r *http.Request) (*domain.Cart, bool) {
	cart, err := h.service.Resolve(r.Context(), principal(r), true)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return nil, false
	}
	return cart, true
}

func (h *CartHandler) writeCart(w http.ResponseWriter, r *http.Request, status int, cartID uuid.UUID) {
	view, err := h.service.View(r.Context(), cartID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	saved, err := h.service.Saved(r.Context(), view.Cart)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	eval := h.service.Completeness(view)
	reasons := eval.Errors(r.Context(), false)

	subtotal := view.Subtotal()
	resp := cartResponse{
		ID:                view.Cart.ID,
		Items:             make([]lineResponse, 0, len(view.Items)),
		Adjustments:       make([]lineResponse, 0, len(view.Adjustments)),
		Subtotal:          domain.FormatMoney(subtotal),
		GrandTotal:        domain.FormatMoney(view.GrandTotal()),
		DeliveryAddress:   view.DeliveryAddress,
		PaymentMethod:     view.PaymentMethod,
		Email:             view.Cart.Email,
		IsComplete:        reasons.Empty(),
		IncompleteReasons: reasons,
		IsAuthenticated:   !view.Cart.Anonymous(),
		GeneratedAt:       time.Now().Unix(),

		SavedPaymentMethods:    append(make([]*domain.PaymentMethod, 0, len(saved.PaymentMethods)), saved.PaymentMethods...),
		SavedDeliveryAddresses: append(make([]*domain.DeliveryAddress, 0, len(saved.DeliveryAddresses)), saved.DeliveryAddresses...),
	}
	for _, it := range view.Items {
		resp.Items = append(resp.Items, itemResponse(it))
	}
	for _, a := range view.Adjustments {
		resp.Adjustments = append(resp.Adjustments, lineResponse{ID: a.ID, Type: a.Type, Data: a.Data, Total: domain.FormatMoney(a.Total(subtotal))})
	}

	httputil.WriteJSON(w, status, httputil.Response{Data: resp})
}

// decodeRequest decodes and validates the body. Malformed JSON becomes an
// INVALID_INPUT error; validation failures keep their field messages.
func decodeRequest(r *http.Request, dst any) error {
	err := validator.DecodeAndValidate(r, dst)
	var valErr *validator.ValidationError
	if err == nil || errors.As(err, &valErr) {
		return err
	}
	return apperrors.InvalidInput("invalid request body: " + err.Error())
}
