package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	Orders    *orders.Service
	Inventory *inventory.Service
	Cache     OrderCache
}

type updateStatusReq struct {
	Status         string `json:"status" validate:"required,oneof=confirmed processing shipped delivered cancelled"`
	Notes          string `json:"notes" validate:"max=500"`
	TrackingNumber string `json:"tracking_number" validate:"max=64"`
}

type adjustStockReq struct {
	Delta int    `json:"delta" validate:"ne=0"`
	Type  string `json:"type" validate:"required,oneof=INITIAL STOCK_IN STOCK_OUT ADJUSTMENT"`
	Notes string `json:"notes" validate:"max=500"`
}

type thresholdReq struct {
	Threshold *int `json:"threshold" validate:"required,min=0"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Get("/orders/{id}/payments", h.payments)
		r.Get("/inventory/{productID}", h.stock)
		r.Post("/inventory/{productID}/adjust", h.adjust)
		r.Put("/inventory/{productID}/threshold", h.threshold)
		r.Get("/inventory/{productID}/ledger", h.ledger)
		r.Get("/inventory/{productID}/reconcile", h.reconcile)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(headerAdminID)) == "" {
			writeError(w, r, apperr.Security("missing "+headerAdminID+" header"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func adminID(r *http.Request) string { return strings.TrimSpace(r.Header.Get(headerAdminID)) }

func (h *AdminHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.AdminUpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, adminID(r), orders.Metadata{
		Notes:          req.Notes,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(r.Context(), h.Cache, o.ID)
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) payments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.Payments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.PaymentRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) stock(w http.ResponseWriter, r *http.Request) {
	lvl, err := h.Inventory.CheckStock(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lvl)
}

func (h *AdminHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustStockReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := h.Inventory.Adjust(r.Context(), inventory.AdjustInput{
		ProductID: chi.URLParam(r, "productID"),
		Delta:     req.Delta,
		Type:      inventory.TxType(req.Type),
		Notes:     req.Notes,
		ActorID:   adminID(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *AdminHandler) threshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	if err := h.Inventory.SetThreshold(r.Context(), productID, *req.Threshold); err != nil {
		writeError(w, r, err)
		return
	}
	lvl, err := h.Inventory.CheckStock(r.Context(), productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lvl)
}

func (h *AdminHandler) ledger(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.Inventory.History(r.Context(), chi.URLParam(r, "productID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []inventory.Transaction{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	d, err := h.Inventory.Reconcile(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
