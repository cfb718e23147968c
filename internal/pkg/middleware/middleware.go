// Package middleware provides HTTP middleware for the gifmill API.
package middleware

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gifmill/internal/httpkit"
	"gifmill/internal/models"
	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/ports"
)

// RequestIDHeader is the header name for request IDs.
const RequestIDHeader = "X-Request-ID"

// GenericErrorMessage is returned for any non-public failure.
const GenericErrorMessage = "An unexpected error occurred. Please try again later."

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	size        int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush lets streamed downloads pass through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestID adds a unique request ID to each request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := logger.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs HTTP requests with structured logging.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)
			reqLog := log.FromContext(r.Context())

			reqLog.Debug("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)

			next.ServeHTTP(wrapped, r)

			logFn := reqLog.Info
			if wrapped.status >= 500 {
				logFn = reqLog.Error
			} else if wrapped.status >= 400 {
				logFn = reqLog.Warn
			}
			logFn("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"size", wrapped.size,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Recovery recovers from panics and logs them.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.FromContext(r.Context()).Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
					)
					httpkit.WriteErrBody(w, http.StatusInternalServerError, httpkit.ErrorBody{
						Error: GenericErrorMessage,
						Code:  string(errors.CodeInternal),
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Timeout bounds the request context. Handlers that honour ctx and have not
// written anything yet get a 504.
func Timeout(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			if !wrapped.wroteHeader && stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				httpkit.WriteErrBody(w, http.StatusGatewayTimeout, httpkit.ErrorBody{
					Error: "request timeout",
					Code:  string(errors.CodeTimeout),
				})
			}
		})
	}
}

// MaxBodySize rejects declared oversize bodies up front and caps the rest.
// Handlers see *http.MaxBytesError once a streamed body crosses the limit.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				WriteError(w, errors.PayloadTooLarge(limit))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// RateLimit allows perMinute requests per client IP with a burst of the same
// size. perMinute <= 0 disables limiting.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if perMinute <= 0 {
			return next
		}
		limiters := sync.Map{} // ip -> *cachedLimiter
		ttl := 10 * time.Minute

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			limiter := getOrCreateLimiter(&limiters, ip, perMinute, ttl)
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "60")
				WriteError(w, errors.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func getOrCreateLimiter(limiters *sync.Map, key string, perMinute int, ttl time.Duration) *rate.Limiter {
	if v, ok := limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	actual, loaded := limiters.LoadOrStore(key, &cachedLimiter{limiter: limiter, expiresAt: time.Now().Add(ttl)})
	if loaded {
		cached := actual.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		limiters.Store(key, &cachedLimiter{limiter: limiter, expiresAt: time.Now().Add(ttl)})
	}
	return limiter
}

// ClientIP returns the host part of RemoteAddr. RealIP (chi) runs first and
// has already applied X-Forwarded-For / X-Real-IP.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestLog records requests whose path starts with prefix. Writes happen
// off the request path; failures are logged and dropped.
func RequestLog(log *logger.Logger, store ports.RequestLogWriter, geo ports.CountryResolver, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			if prefix != "" && !strings.HasPrefix(r.URL.Path, prefix) {
				return
			}
			entry := &models.APILog{
				IP:        ClientIP(r),
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
				Method:    r.Method,
				CreatedAt: time.Now().UTC(),
			}
			reqLog := log.FromContext(r.Context())
			go func() {
				if geo != nil {
					if cc, err := geo.CountryCode(entry.IP); err == nil {
						entry.Country = cc
					}
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := store.InsertAPILog(ctx, entry); err != nil {
					reqLog.Warn("request log write failed", "error", err.Error(), "path", entry.Path)
				}
			}()
		})
	}
}

// ErrorHandlerFunc is a handler that reports failures by returning them.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request) error

// WrapHandler wraps a handler function that returns an error.
func WrapHandler(log *logger.Logger, fn ErrorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			HandleError(w, r, log, err)
		}
	}
}

// HandleError logs err and writes the client envelope.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		err = errors.PayloadTooLarge(maxErr.Limit)
	}

	reqLog := log.FromContext(r.Context())
	code := errors.GetCode(err)
	status := errors.GetHTTPStatus(err)

	logFields := []any{
		"error", err.Error(),
		"code", string(code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	for k, v := range errors.GetFields(err) {
		logFields = append(logFields, k, v)
	}

	if status >= 500 {
		var gmErr *errors.Error
		if errors.As(err, &gmErr) && len(gmErr.Stack) > 0 {
			logFields = append(logFields, "stack", gmErr.StackTrace())
		}
		reqLog.Error("request failed", logFields...)
	} else {
		reqLog.Warn("request error", logFields...)
	}

	WriteError(w, err)
}

// WriteError writes the JSON envelope for err. Queue outages use the
// {"error":"queue_unavailable","message":...} shape clients retry on.
func WriteError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := errors.GetHTTPStatus(err)

	if code == errors.CodeQueueUnavailable {
		httpkit.WriteErrBody(w, status, httpkit.ErrorBody{
			Error:   "queue_unavailable",
			Message: errors.UserMessage(err, GenericErrorMessage),
		})
		return
	}
	httpkit.WriteErrBody(w, status, httpkit.ErrorBody{
		Error: errors.UserMessage(err, GenericErrorMessage),
		Code:  string(code),
	})
}
