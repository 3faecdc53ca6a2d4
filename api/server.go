/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. hlog:       zerolog access log carrying the request id
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Per-request deadline; lock waits honour it
  5. secure:     Security headers (unrolled/secure)
  6. CORS:       Cross-origin requests for the CRM frontend
  7. httprate:   Per-IP rate limit on /api
  8. Identity:   Actor from bearer JWT or X-User-* headers on /api

ROUTE GROUPS:
  /healthz              Liveness and store ping
  /api/clientes/*       Per-client installments, debts and summary
  /api/dividas/*        Debt operations
  /api/parcelas/*       Installment operations and history
  /api/historico/*      History entry deletion
  /api/scenarios/*      Demo data, only with RouterConfig.DemoScenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/unrolled/secure"
)

// RouterConfig holds the middleware settings.
type RouterConfig struct {
	Logger             zerolog.Logger
	CORSOrigins        []string
	RateLimitPerMinute int // 0 disables the limit
	JWTSecret          string
	RequestTimeout     time.Duration
	Production         bool
	DemoScenarios      bool // mounts /api/scenarios, which can wipe the store
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !cfg.Production,
	})

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-User-Name"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(cfg.RateLimitPerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
				}),
			))
		}
		r.Use(Identity(cfg.JWTSecret))

		r.Route("/clientes/{clienteId}", func(r chi.Router) {
			r.Get("/parcelas", h.ListInstallments)
			r.Get("/resumo", h.ClientSummary)
			r.Post("/contrato", h.CreateContractPlan)
			r.Get("/dividas", h.ListDebts)
			r.Post("/dividas", h.CreateDebt)
		})

		r.Route("/dividas/{id}", func(r chi.Router) {
			r.Get("/", h.GetDebt)
			r.Delete("/", h.DeleteDebt)
			r.Get("/resumo", h.DebtSummary)
		})

		r.Route("/parcelas/{id}", func(r chi.Router) {
			r.Get("/", h.GetInstallment)
			r.Put("/", h.EditTerms)
			r.Post("/pagamentos", h.RegisterPayment)
			r.Put("/pagamento", h.EditPayment)
			r.Post("/reabrir", h.ReopenPayment)
			r.Get("/historico", h.History)
			r.Post("/comentarios", h.AddComment)
		})

		r.Delete("/historico/{entryId}", h.DeleteAuditEntry)

		if cfg.DemoScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestIDField adds chi's request id to the request logger.
func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
