// Package httpapi публикует HTTP API заказов, остатков и вебхука платежей.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/ordering"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/reconciliation"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

// OrderService: операции над заказами и остатками, которые нужны API.
type OrderService interface {
	CreateOrder(ctx context.Context, req ordering.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	SearchOrders(ctx context.Context, term string) ([]domain.Order, error)
	GetInventory(ctx context.Context, productID string) (domain.InventoryRecord, error)
	AdjustInventory(ctx context.Context, productID string, adj domain.InventoryAdjustment) (domain.InventoryRecord, error)
}

// Reconciler обрабатывает уведомления платёжного провайдера.
type Reconciler interface {
	Handle(ctx context.Context, n reconciliation.Notification) reconciliation.Result
}

// Handler содержит HTTP-обработчики API.
type Handler struct {
	orders         OrderService
	reconciler     Reconciler
	logger         *log.Entry
	webhookTimeout time.Duration
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithWebhookTimeout ограничивает время сверки одного уведомления.
func WithWebhookTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.webhookTimeout = timeout
		}
	}
}

// NewHandler создаёт обработчики API.
func NewHandler(orders OrderService, reconciler Reconciler, opts ...Option) *Handler {
	h := &Handler{
		orders:         orders,
		reconciler:     reconciler,
		logger:         log.WithField("component", "http-api"),
		webhookTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes собирает chi-роутер с middleware и трассировкой.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultRequestTimeout))

		r.Post("/orders", h.createOrder)
		r.Get("/orders/search", h.searchOrders)
		r.Get("/orders/{orderId}/status", h.orderStatus)

		r.Get("/inventory/{productId}", h.getInventory)
		r.Put("/inventory/{productId}", h.adjustInventory)
	})

	// Вебхук не ограничивается middleware.Timeout: ответ всегда 200,
	// а время сверки задаёт webhookTimeout.
	r.Post("/webhooks/mercadopago", h.paymentWebhook)
	r.Post("/webhooks/payments", h.paymentWebhook)

	return otelhttp.NewHandler(r, "sweetbar-oms",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// accessLog пишет одну строку на запрос.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("http request")
	})
}
