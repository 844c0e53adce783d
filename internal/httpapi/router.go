// Package httpapi exposes job submission and inspection over HTTP.
package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"shortform/internal/config"
	"shortform/internal/httpapi/handlers"
	"shortform/internal/httpkit"
	"shortform/internal/pkg/logger"
	"shortform/internal/pkg/middleware"
)

type Deps struct {
	Pool      *pgxpool.Pool
	RDB       *redis.Client
	Cfg       config.Config
	QueueName string
	Log       *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Recovery(d.Log))

	allowedOrigins := envCSV("CORS_ALLOWED_ORIGINS", []string{
		"http://localhost:5173",
	})
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(handlers.Deps{
		Pool:      d.Pool,
		RDB:       d.RDB,
		Cfg:       d.Cfg,
		QueueName: d.QueueName,
		Log:       d.Log,
	})

	r.Get("/health", h.Health)

	r.Post("/jobs", middleware.WrapHandler(d.Log, h.PostJob))
	r.Get("/jobs", middleware.WrapHandler(d.Log, h.ListJobs))
	r.Get("/jobs/{jobId}", middleware.WrapHandler(d.Log, h.GetJob))
	r.Post("/jobs/{jobId}/cancel", middleware.WrapHandler(d.Log, h.CancelJob))

	r.Post("/run", middleware.WrapHandler(d.Log, h.Run))

	return r
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
