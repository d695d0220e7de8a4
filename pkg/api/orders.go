package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/middleware"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/store"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tenancy"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxOrderItems   = 100
	maxBodyBytes    = 1 << 20
)

// OrderHandler serves the order endpoints. Every handler returns its
// failure instead of writing it.
type OrderHandler struct {
	store store.Store
	now   func() time.Time
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(s store.Store) *OrderHandler {
	return &OrderHandler{store: s, now: time.Now}
}

// RegisterRoutes registers all API routes. wrap turns an error-returning
// handler into an http.Handler, normally through the execution guard.
func (h *OrderHandler) RegisterRoutes(r *mux.Router, wrap func(middleware.Handler) http.Handler) {
	staff := middleware.RequireRole(models.RoleAdmin, models.RoleStaff)

	r.Handle("/health", wrap(h.Health)).Methods("GET")
	r.Handle("/orders", wrap(h.CreateOrder)).Methods("POST")
	r.Handle("/orders", wrap(h.ListOrders)).Methods("GET")
	r.Handle("/orders/{id}", wrap(h.GetOrder)).Methods("GET")
	r.Handle("/orders/{id}/confirm-payment", wrap(middleware.Chain(h.ConfirmPayment, staff))).Methods("POST")
	r.Handle("/orders/{id}/cancel", wrap(h.CancelOrder)).Methods("POST")

	r.NotFoundHandler = wrap(routeNotFound)
	r.MethodNotAllowedHandler = wrap(methodNotAllowed)
}

func routeNotFound(w http.ResponseWriter, r *http.Request) error {
	return apperr.BusinessRule(apperr.RuleRouteNotFound, "Route not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) error {
	return apperr.BusinessRule(apperr.RuleMethodNotAllowed, "Method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// storeError translates store failures into the error taxonomy. Context
// errors pass through so the guard can tell timeouts apart.
func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		return apperr.BusinessRule(apperr.RuleOrderNotFound, "Order not found").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	default:
		return apperr.Internal(err)
	}
}

func validateOrderRequest(req *models.OrderRequest) error {
	var violations []apperr.FieldViolation
	add := func(field, rule, msg string) {
		violations = append(violations, apperr.FieldViolation{Field: field, Rule: rule, Message: msg})
	}

	if strings.TrimSpace(req.CustomerName) == "" {
		add("customer_name", "required", "customer name is required")
	}
	if len(req.Items) == 0 {
		add("items", "required", "at least one item is required")
	}
	if len(req.Items) > maxOrderItems {
		add("items", "max", fmt.Sprintf("at most %d items are allowed", maxOrderItems))
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.Name) == "" {
			add(fmt.Sprintf("items[%d].name", i), "required", "item name is required")
		}
		if it.Quantity <= 0 {
			add(fmt.Sprintf("items[%d].quantity", i), "min", "quantity must be at least 1")
		}
		if it.PriceCents < 0 {
			add(fmt.Sprintf("items[%d].price_cents", i), "min", "price must not be negative")
		}
	}

	if len(violations) > 0 {
		return apperr.Validation("Invalid order", violations...)
	}
	return nil
}

// CreateOrder places a new pending order for the caller's tenant
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) error {
	tenantID, err := tenancy.TenantID(r.Context())
	if err != nil {
		return apperr.Unauthorized("").WithCause(err)
	}

	var req models.OrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return apperr.Validation("Malformed request body",
			apperr.FieldViolation{Field: "body", Rule: "json", Message: "request body must be a JSON object"}).WithCause(err)
	}
	if err := validateOrderRequest(&req); err != nil {
		return err
	}

	now := h.now().UTC()
	order := &models.Order{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: req.CustomerPhone,
		Items:         req.Items,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.TotalCents = order.Total()

	if err := h.store.CreateOrder(r.Context(), order); err != nil {
		return storeError(err)
	}
	return writeJSON(w, http.StatusCreated, order)
}

// GetOrder returns one order of the caller's tenant
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) error {
	tenantID, err := tenancy.TenantID(r.Context())
	if err != nil {
		return apperr.Unauthorized("").WithCause(err)
	}

	order, err := h.store.GetOrder(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		return storeError(err)
	}
	return writeJSON(w, http.StatusOK, order)
}

func parsePage(r *http.Request) (store.Page, error) {
	page := store.Page{Number: 1, Size: defaultPageSize}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return page, apperr.BusinessRule(apperr.RuleInvalidPagination, "page must be a positive integer")
		}
		page.Number = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return page, apperr.BusinessRule(apperr.RuleInvalidPagination,
				fmt.Sprintf("page_size must be between 1 and %d", maxPageSize))
		}
		page.Size = n
	}
	return page, nil
}

// ListOrders returns a page of the caller's orders, newest first
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) error {
	tenantID, err := tenancy.TenantID(r.Context())
	if err != nil {
		return apperr.Unauthorized("").WithCause(err)
	}

	page, err := parsePage(r)
	if err != nil {
		return err
	}

	res, err := h.store.ListOrders(r.Context(), tenantID, page)
	if err != nil {
		return storeError(err)
	}
	return writeJSON(w, http.StatusOK, res)
}

// transition moves an order out of Pending. An order that was confirmed,
// cancelled or reclaimed in the meantime yields a business rule failure.
func (h *OrderHandler) transition(w http.ResponseWriter, r *http.Request, to models.OrderStatus, payment models.PaymentStatus) error {
	tenantID, err := tenancy.TenantID(r.Context())
	if err != nil {
		return apperr.Unauthorized("").WithCause(err)
	}
	id := mux.Vars(r)["id"]

	ok, err := h.store.TransitionOrder(r.Context(), tenantID, id, models.OrderStatusPending, to, payment)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return apperr.BusinessRule(apperr.RuleOrderNotPending, "Order is no longer pending").
			WithDetail("order_id", id)
	}

	order, err := h.store.GetOrder(r.Context(), tenantID, id)
	if err != nil {
		return storeError(err)
	}
	return writeJSON(w, http.StatusOK, order)
}

// ConfirmPayment marks a pending order as paid and confirmed
func (h *OrderHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) error {
	return h.transition(w, r, models.OrderStatusConfirmed, models.PaymentStatusPaid)
}

// CancelOrder cancels a pending order
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) error {
	return h.transition(w, r, models.OrderStatusCancelled, models.PaymentStatusUnpaid)
}

// Health reports whether the store is reachable
func (h *OrderHandler) Health(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.HealthCheck(r.Context()); err != nil {
		return storeError(err)
	}
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
