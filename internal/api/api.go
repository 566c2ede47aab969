package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fundval/pkg/fundval"
)

// Valuer is the engine surface the HTTP API needs.
type Valuer interface {
	FundInfo(ctx context.Context, code string) (fundval.FundSnapshot, error)
	History(ctx context.Context, code string, days int) []fundval.NavHistoryPoint
	RecentChanges(ctx context.Context, code string) string
	Calculate(ctx context.Context, holdings []fundval.Holding) fundval.PortfolioSummary
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger         *slog.Logger
	AllowedOrigins []string
}

// NewRouter builds the HTTP API router.
func NewRouter(engine Valuer, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	h := &handler{engine: engine}

	r.Get("/api/health", h.health)

	r.Route("/api/funds/{code}", func(r chi.Router) {
		r.Get("/", h.fundInfo)
		r.Get("/history", h.fundHistory)
		r.Get("/recent-changes", h.recentChanges)
	})

	r.Post("/api/portfolio/calculate", h.calculate)

	return r
}

type handler struct {
	engine Valuer
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
