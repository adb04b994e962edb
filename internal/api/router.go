package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wonny/stratstats/internal/api/handlers"
	"github.com/wonny/stratstats/internal/events"
	"github.com/wonny/stratstats/internal/metrics"
	"github.com/wonny/stratstats/pkg/logger"
)

// HeaderRequestID carries the request correlation id
const HeaderRequestID = "X-Request-Id"

// Path patterns
const (
	idPattern    = "{id:[0-9]+}"
	datePattern  = "{date:[0-9]{4}-[0-9]{2}-[0-9]{2}}"
	monthPattern = "{month:[0-9]{4}-[0-9]{2}}"
)

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(
	statsHandler *handlers.StatisticsHandler,
	hub *events.Hub,
	limiter *UploadLimiter,
	m *metrics.Metrics,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Statistics change notifications
	if hub != nil {
		r.HandleFunc("/ws/statistics", hub.ServeWS).Methods("GET")
	}

	api := r.PathPrefix("/api/strategies/" + idPattern).Subrouter()

	// Daily statistics
	api.Handle("/daily-statistics/upload", limiter.Middleware(http.HandlerFunc(statsHandler.Upload))).Methods("POST")
	api.HandleFunc("/daily-statistics/delete", statsHandler.DeleteDailyBulk).Methods("POST")
	api.HandleFunc("/daily-statistics/"+datePattern, statsHandler.PutDaily).Methods("PUT")
	api.HandleFunc("/daily-statistics/"+datePattern, statsHandler.DeleteDaily).Methods("DELETE")
	api.HandleFunc("/daily-statistics", statsHandler.ListDaily).Methods("GET")

	// Monthly statistics
	api.HandleFunc("/monthly-statistics", statsHandler.ListMonthly).Methods("GET")
	api.HandleFunc("/monthly-statistics/export", statsHandler.ExportMonthly).Methods("GET")
	api.HandleFunc("/monthly-statistics/"+monthPattern, statsHandler.GetMonth).Methods("GET")

	// Maintenance
	api.HandleFunc("/statistics", statsHandler.DeleteHistory).Methods("DELETE")
	api.HandleFunc("/statistics/rebuild", statsHandler.Rebuild).Methods("POST")
	api.HandleFunc("/statistics/verify", statsHandler.Verify).Methods("GET")

	// Apply middleware
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log, m))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "stratstats-api",
	})
}

// statusRecorder captures the response status for logs and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the recorder
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// requestIDMiddleware propagates or assigns X-Request-Id
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and records request metrics
func loggingMiddleware(log *logger.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// Call next handler
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.HTTPRequest(route, r.Method, rec.status, time.Since(start))

			// Log request
			log.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"request_id": r.Header.Get(HeaderRequestID),
				"duration":   time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
