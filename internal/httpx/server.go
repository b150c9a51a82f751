package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// PaymentWebhook processes one raw gateway notification.
type PaymentWebhook interface {
	Handle(ctx context.Context, raw []byte) (orders.PaymentResult, error)
}

// OrderCache is an optional read-through cache for GET /orders/{id}.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Set(ctx context.Context, o *orders.Order) error
	Invalidate(ctx context.Context, orderID string) error
}

// OrderIdempotency is an optional fast path for Idempotency-Key on
// POST /orders. The orders table stays authoritative.
type OrderIdempotency interface {
	Lookup(ctx context.Context, userID, key string) (string, error)
	Remember(ctx context.Context, userID, key, orderID string) error
}

type Server struct {
	Orders      *orders.Service
	Inventory   *inventory.Service
	Webhook     PaymentWebhook
	Cache       OrderCache
	Idempotency OrderIdempotency
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

func NewRouter(s *Server) *chi.Mux {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	oh := &OrdersHandler{Orders: s.Orders, Cache: s.Cache, Idem: s.Idempotency}
	oh.Register(r)
	if s.Inventory != nil {
		ah := &AdminHandler{Orders: s.Orders, Inventory: s.Inventory, Cache: s.Cache}
		ah.Register(r)
	}
	if s.Webhook != nil {
		wh := &WebhookHandler{Webhook: s.Webhook, Cache: s.Cache}
		wh.Register(r)
	}
	return r
}

// accessLog logs one line per request with the chi request id and records
// the latency histogram by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		log := s.Log.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		r = r.WithContext(logging.ContextWithLogger(r.Context(), log))

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.Metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), elapsed.Seconds())
		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
		)
	})
}
