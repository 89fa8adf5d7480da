package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/toko-offers/internal/alerts"
	"github.com/noah-isme/toko-offers/internal/analytics"
	"github.com/noah-isme/toko-offers/internal/audit"
	"github.com/noah-isme/toko-offers/internal/auth"
	"github.com/noah-isme/toko-offers/internal/basket"
	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/health"
	"github.com/noah-isme/toko-offers/internal/obs"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/queue"
	"github.com/noah-isme/toko-offers/internal/ratelimit"
	"github.com/noah-isme/toko-offers/internal/security"
	"github.com/noah-isme/toko-offers/internal/stock"
)

// RouterOptions carries the HTTP-only collaborators.
type RouterOptions struct {
	Verifier *auth.Verifier
	// APILimiter throttles every /api/v1 request per client. Nil disables it.
	APILimiter  ratelimit.Limiter
	HTTPMetrics *obs.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Tracing     bool
}

// Router mounts the API on a chi router.
func (d *Deps) Router(opts RouterOptions) http.Handler {
	cfg := d.Config
	logger := d.Logger

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Repository: d.Catalog, Bus: d.Bus, Logger: &logger})
	purchaseHandler := partner.NewHandler(partner.HandlerConfig{Repository: d.Catalog, Selector: d.Selector})
	offerHandler := offer.NewHandler(offer.HandlerConfig{Repository: d.Offers, Catalog: d.Catalog})
	basketHandler := &basket.Handler{Svc: d.Baskets}
	alertHandler := &alerts.Handler{Svc: d.Alerts}
	analyticsHandler := &analytics.Handler{Svc: d.Analytics}
	stockHandler := &stock.Handler{Ledger: d.Ledger, Catalog: d.Catalog}
	queueAdmin := &queue.AdminHandler{Queue: d.Queue, Logger: logger}
	healthHandler := health.Handler{Probes: d.Probes()}
	auditHandler := audit.Handler{Store: d.AuditStore}
	audited := audit.Recorder{
		Service: audit.Service{Store: d.AuditStore, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSamplingRate},
		Logger:  logger,
	}.Middleware

	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL, Prefix: "idem:"}
	voucherLimit := ratelimit.Handler{
		Limiter: ratelimit.Window{Client: d.Redis, Prefix: "rl:voucher", Size: cfg.BasketRateWindow, Max: cfg.BasketRateMax},
		Key:     ratelimit.KeyByUserOrParam("id"),
		Logger:  logger,
	}
	authn := auth.Middleware{Verifier: opts.Verifier, TrustUserHeader: cfg.AuthTrustUserHeader}
	admin := auth.RequireRole(auth.RoleAdmin)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: opts.HTTPMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: cfg.HSTSMaxAge}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.UserHeader, common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Total-Count", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(authn.Authenticate)
		v.Use(ratelimit.Handler{Limiter: opts.APILimiter, Key: ratelimit.KeyByClient, Logger: logger}.Middleware)

		v.Get("/categories", catalogHandler.Categories)
		v.Get("/items", catalogHandler.Items)
		v.Route("/items/{id}", func(item chi.Router) {
			item.Get("/", catalogHandler.Item)
			item.Get("/purchase-info", purchaseHandler.PurchaseInfo)
			item.Get("/ranges", offerHandler.ItemRanges)
			item.Post("/alerts", alertHandler.Subscribe)
		})
		v.Delete("/alerts/{id}", alertHandler.Cancel)
		v.Get("/offers", offerHandler.Offers)
		v.With(admin, audited(audit.RouteConfig{Action: "range.create", ResourceType: "range"})).Post("/ranges", offerHandler.CreateRange)

		v.Route("/baskets", func(b chi.Router) {
			b.With(idem.Middleware).Post("/", basketHandler.Create)
			b.Route("/{id}", func(one chi.Router) {
				one.Get("/", basketHandler.Get)
				one.Post("/lines", basketHandler.AddLine)
				one.Patch("/lines/{ref}", basketHandler.SetLineQuantity)
				one.With(voucherLimit.Middleware).Post("/vouchers", basketHandler.AddVoucher)
				one.Delete("/vouchers/{code}", basketHandler.RemoveVoucher)
				one.Get("/shipping-methods", basketHandler.ShippingMethods)
				one.With(idem.Middleware).Post("/submit", basketHandler.Submit)
			})
		})

		v.Route("/analytics", func(a chi.Router) {
			a.Get("/items/{id}", analyticsHandler.Item)
			a.Get("/me", analyticsHandler.Me)
			a.With(admin).Get("/top-items", analyticsHandler.TopItems)
		})

		v.Route("/admin", func(a chi.Router) {
			a.Use(admin)
			a.Get("/stock-alerts", alertHandler.StockAlerts)
			a.With(audited(audit.RouteConfig{Action: "stock.restock", ResourceType: "stock_record", ResourceIDParam: "id"})).
				Put("/stock-records/{id}", stockHandler.Restock)
			a.Get("/queues/{kind}", queueAdmin.Stats)
			a.Get("/queues/{kind}/dlq", queueAdmin.ListDLQ)
			a.With(audited(audit.RouteConfig{Action: "queue.replay", ResourceType: "queue", ResourceIDParam: "kind"})).
				Post("/queues/{kind}/dlq/replay", queueAdmin.ReplayDLQ)
			a.Get("/audit", auditHandler.List)
		})
	})

	return r
}

// NewAPILimiter builds the per-client limiter from RATE_LIMIT. "off" disables
// it.
func (d *Deps) NewAPILimiter() (ratelimit.Limiter, error) {
	if d.Config.RateLimit == "off" {
		return nil, nil
	}
	return ratelimit.NewFixed(d.Redis, d.Config.RateLimit, "rl:api")
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
