package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/health"
)

// NewRouter собирает корневой обработчик: API, /metrics и health-пробы.
// Пустой allowedOrigins отключает CORS-заголовки.
func NewRouter(api *Handler, healthHandler *health.Handler, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(api.logger))

	api.Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if healthHandler != nil {
		router.Handle("/healthz", healthHandler).Methods(http.MethodGet)
		router.HandleFunc("/readyz", healthHandler.ReadinessHandler).Methods(http.MethodGet)
	}
	router.HandleFunc("/livez", health.LivenessHandler).Methods(http.MethodGet)

	if len(allowedOrigins) == 0 {
		return router
	}

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(router)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *log.Entry) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Debug("http request")
		})
	}
}
