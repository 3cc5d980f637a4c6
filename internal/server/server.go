package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/purposegate/internal/engine"
	"github.com/xela07ax/purposegate/internal/infra/auth"
	"github.com/xela07ax/purposegate/internal/policy"
)

// Reloader перечитывает политики на всех инстансах. Реализует *engine.PolicyReloader.
type Reloader interface {
	Broadcast(ctx context.Context) error
}

type GatewayServer struct {
	router *chi.Mux
	logger *zap.Logger

	gateway   *engine.Gateway
	snapshots policy.Snapshotter
	reloader  Reloader
	adminHash string // пусто - служебные ручки не регистрируются
}

// NewGatewayServer собирает HTTP периметр шлюза со всеми зависимостями
func NewGatewayServer(
	logger *zap.Logger,
	gw *engine.Gateway,
	snapshots policy.Snapshotter,
	reloader Reloader,
	adminTokenHash string,
) *GatewayServer {
	s := &GatewayServer{
		router:    chi.NewRouter(),
		logger:    logger.Named("http"),
		gateway:   gw,
		snapshots: snapshots,
		reloader:  reloader,
		adminHash: adminTokenHash,
	}

	s.routes()
	return s
}

func (s *GatewayServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	// На чужой метод - голый 405 без тела
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	// --- 2. Точка принятия решений ---
	r.Group(func(r chi.Router) {
		r.Use(engine.TracingMiddleware)

		r.Post("/v1/decide", s.gateway.HandleHTTPRequest)
		r.Post("/v1/tools/{tool}", s.gateway.HandleHTTPRequest)
	})

	r.Get("/healthz", s.health)

	// --- 3. Служебный периметр (операторский токен) ---
	if s.adminHash != "" {
		r.Group(func(r chi.Router) {
			r.Use(auth.NewAdminMiddleware(s.adminHash, s.logger))
			r.Post("/admin/policies/reload", s.reload)
		})
	}
}

func (s *GatewayServer) policyCount() int {
	if reg := s.snapshots.Current(); reg != nil {
		return reg.Len()
	}
	return 0
}

func (s *GatewayServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "policies": s.policyCount()})
}

func (s *GatewayServer) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.reloader.Broadcast(r.Context()); err != nil {
		s.logger.Error("manual policy reload failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	s.logger.Info("policies reloaded by operator", zap.Int("policies", s.policyCount()))
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "policies": s.policyCount()})
}

// accessLog аналог middleware.Logger, но через zap. Заголовки (и токен) не пишем.
func (s *GatewayServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// ServeHTTP позволяет использовать GatewayServer как стандартный http.Handler
func (s *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
