package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"gifmill/internal/httpapi/handlers"
	"gifmill/internal/httpkit"
	"gifmill/internal/observability"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/pkg/middleware"
	"gifmill/internal/ports"
)

type Deps struct {
	Handlers handlers.Deps

	CORSOrigins        []string
	RateLimitPerMinute int
	MaxBodyBytes       int64
	// RequestTimeout bounds job submission and status lookups; zero disables it.
	RequestTimeout time.Duration

	RequestLogs      ports.RequestLogWriter
	Geo              ports.CountryResolver
	RequestLogPrefix string

	// MetricsHandler serves /metrics; nil leaves the route out.
	MetricsHandler http.Handler
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	log := d.Log
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}
	metrics := d.Handlers.Metrics
	if metrics == nil {
		metrics = observability.Nop()
		d.Handlers.Metrics = metrics
	}

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAgeSeconds:  600,
	}))
	r.Use(requestMetrics(metrics))
	r.Use(middleware.RequestLog(log, d.RequestLogs, d.Geo, d.RequestLogPrefix))

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.Get("/health", h.Health)
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	bounded := func(next http.Handler) http.Handler { return next }
	if d.RequestTimeout > 0 {
		bounded = middleware.Timeout(d.RequestTimeout)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// ---- JOBS ----
		r.Group(func(r chi.Router) {
			r.Use(bounded)
			r.Use(middleware.MaxBodySize(d.MaxBodyBytes))
			r.Use(middleware.RateLimit(d.RateLimitPerMinute))

			r.Post("/video-to-gif", wrap(h.VideoToGIF))
			r.Post("/gif-maker", wrap(h.GIFMaker))
			r.Post("/resize", wrap(h.Resize))
			r.Post("/crop", wrap(h.Crop))
			r.Post("/optimize", wrap(h.Optimize))
			r.Post("/reverse", wrap(h.Reverse))
			r.Post("/add-text", wrap(h.AddText))
			r.Post("/add-text-layers", wrap(h.AddTextLayers))
			r.Post("/ai/add-text", wrap(h.AIAddText))
			r.Post("/gif-metadata", wrap(h.GIFMetadata))
		})

		// ---- RESULTS ----
		r.With(bounded).Get("/task-status/{taskId}", wrap(h.TaskStatus))
		r.Get("/download-result/*", wrap(h.DownloadResult))
		r.Get("/download/*", wrap(h.Download))
	})

	return r
}

// requestMetrics counts requests by route pattern once the handler ran.
func requestMetrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Request(r.Context(), r.Method, route, status)
		})
	}
}
