package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Identitas user diisi oleh API gateway di depan service ini.
const (
	headerUserID  = "X-User-ID"
	headerAdminID = "X-Admin-ID"
)

const (
	headerIdemKey  = "Idempotency-Key"
	headerReplayed = "Idempotent-Replayed"
)

type OrdersHandler struct {
	Orders *orders.Service
	Cache  OrderCache
	Idem   OrderIdempotency
}

type orderLineReq struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type createOrderReq struct {
	Items             []orderLineReq `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddressID string         `json:"shipping_address_id" validate:"required"`
	BillingAddressID  string         `json:"billing_address_id"`
	ShippingMethod    string         `json:"shipping_method" validate:"required"`
	PaymentMethod     string         `json:"payment_method" validate:"required,oneof=bank_transfer credit_card ewallet qris"`
	Notes             string         `json:"notes" validate:"max=500"`
}

type cancelReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/history", h.history)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/confirm-delivery", h.confirmDelivery)
		r.Post("/{id}/payment-session", h.paymentSession)
	})
}

func userActor(r *http.Request) (orders.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(headerUserID))
	if id == "" {
		return orders.Actor{}, apperr.Security("missing " + headerUserID + " header")
	}
	return orders.Actor{ID: id}, nil
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := userActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := strings.TrimSpace(r.Header.Get(headerIdemKey))
	if o := h.replayFromCache(ctx, actor, key); o != nil {
		w.Header().Set(headerReplayed, "true")
		writeJSON(w, http.StatusOK, o)
		return
	}

	in := orders.CreateOrderRequest{
		UserID:            actor.ID,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		ShippingMethod:    req.ShippingMethod,
		PaymentMethod:     req.PaymentMethod,
		Notes:             req.Notes,
		IdempotencyKey:    key,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, orders.LineInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	o, replayed, err := h.Orders.CreateIdempotent(ctx, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if key != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, actor.ID, key, o.ID); err != nil {
			logging.FromContext(ctx).Warn("idempotency remember failed", zap.Error(err))
		}
	}
	if replayed {
		w.Header().Set(headerReplayed, "true")
		writeJSON(w, http.StatusOK, o)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// replayFromCache serves a retried create from the idempotency fast path.
// Any miss or error falls through to the database check in the service.
func (h *OrdersHandler) replayFromCache(ctx context.Context, actor orders.Actor, key string) *orders.Order {
	if key == "" || h.Idem == nil {
		return nil
	}
	id, err := h.Idem.Lookup(ctx, actor.ID, key)
	if err != nil {
		logging.FromContext(ctx).Warn("idempotency lookup failed", zap.Error(err))
		return nil
	}
	if id == "" {
		return nil
	}
	o, err := h.Orders.Get(ctx, id, actor)
	if err != nil {
		return nil
	}
	return o
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := userActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListForUser(ctx, actor.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := userActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache; order milik user lain tetap 404
	if h.Cache != nil {
		if o, err := h.Cache.Get(ctx, orderID); err == nil && o != nil {
			if o.UserID != actor.ID {
				writeError(w, r, apperr.NotFound("order", orderID))
				return
			}
			writeJSON(w, http.StatusOK, o)
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.Get(ctx, orderID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, o); err != nil {
			logging.FromContext(ctx).Warn("order cache set failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) history(w http.ResponseWriter, r *http.Request) {
	actor, err := userActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hist, err := h.Orders.History(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, err := userActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelReq
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), actor, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(r.Context(), h.Cache, o.ID)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	actor, err := userActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.ConfirmDelivery(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(r.Context(), h.Cache, o.ID)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) paymentSession(w http.ResponseWriter, r *http.Request) {
	actor, err := userActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orderID := chi.URLParam(r, "id")
	sess, err := h.Orders.CreatePaymentSession(r.Context(), orderID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(r.Context(), h.Cache, orderID)
	writeJSON(w, http.StatusOK, sess)
}

// invalidate drops a cached order after a write. A stale entry expires by TTL
// if this fails.
func invalidate(ctx context.Context, c OrderCache, orderID string) {
	if c == nil || orderID == "" {
		return
	}
	if err := c.Invalidate(ctx, orderID); err != nil {
		logging.FromContext(ctx).Warn("order cache invalidate failed", zap.String("order_id", orderID), zap.Error(err))
	}
}
