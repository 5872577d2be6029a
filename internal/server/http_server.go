package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/oggyb/studymatch/internal/app"
	"github.com/oggyb/studymatch/internal/telemetry"
)

// NewHTTPHandler builds the HTTP edge: service routes, /metrics and /health,
// wrapped in CORS for browser clients.
func NewHTTPHandler(appCtx *app.AppContext, routes ...RouteRegistrar) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler(appCtx)).Methods(http.MethodGet)

	for _, rr := range routes {
		rr.RegisterRoutes(r)
	}

	origins := []string{"*"}
	if appCtx.Config != nil && len(appCtx.Config.HTTP.AllowedOrigins) > 0 {
		origins = appCtx.Config.HTTP.AllowedOrigins
	}
	// browsers refuse credentials with a wildcard origin
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           600,
	})
	return c.Handler(r)
}

// StartHTTPServer serves handler until ctx is cancelled.
func StartHTTPServer(ctx context.Context, appCtx *app.AppContext, handler http.Handler) error {
	srv := &http.Server{
		Addr:              appCtx.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func healthHandler(appCtx *app.AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"db": "ok", "redis": "ok"}
		healthy := true

		if sqlDB, err := appCtx.DB.DB(); err != nil {
			checks["db"], healthy = err.Error(), false
		} else if err := sqlDB.PingContext(ctx); err != nil {
			checks["db"], healthy = err.Error(), false
		}
		if err := appCtx.RedisCache.Ping(ctx); err != nil {
			checks["redis"], healthy = err.Error(), false
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"healthy": healthy, "checks": checks})
	}
}
