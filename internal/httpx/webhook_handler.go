package httpx

import (
	"io"
	"net/http"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/go-chi/chi/v5"
)

type WebhookHandler struct {
	Webhook PaymentWebhook
	Cache   OrderCache
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.payment)
}

// payment answers 200 for applied, duplicate and ignored notifications so the
// gateway stops retrying. Verification failures are 4xx, retryable ones 5xx.
func (h *WebhookHandler) payment(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperr.Validation("unreadable notification body"))
		return
	}
	res, err := h.Webhook.Handle(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(r.Context(), h.Cache, res.OrderID)
	writeJSON(w, http.StatusOK, res)
}
