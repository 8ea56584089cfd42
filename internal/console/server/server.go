package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/console/handler"
	"github.com/xela07ax/pinch-bridge/internal/infra/auth"
)

// ConsoleServer — control plane моста: логин, HITL-очередь, журнал,
// каталог способностей и диагностика шлюза.
type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	authValidator auth.TokenValidator

	authHandler     *handler.AuthHandler     // /auth/token
	approvalHandler *handler.ApprovalHandler // /v1/approvals (HITL)
	auditHandler    *handler.AuditHandler    // /v1/audit
	abilityHandler  *handler.AbilityHandler  // /v1/abilities
	gatewayHandler  *handler.GatewayHandler  // /v1/gateway
	dashHandler     *handler.DashboardHandler
}

func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	approvalH *handler.ApprovalHandler,
	auditH *handler.AuditHandler,
	abilityH *handler.AbilityHandler,
	gatewayH *handler.GatewayHandler,
	dashH *handler.DashboardHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		authHandler:     authH,
		approvalHandler: approvalH,
		auditHandler:    auditH,
		abilityHandler:  abilityH,
		gatewayHandler:  gatewayH,
		dashHandler:     dashH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (HS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Каталог способностей (рантайм-выключатель)
		r.Route("/v1/abilities", func(r chi.Router) {
			r.Get("/", s.abilityHandler.List)
			r.Route("/{name}", func(r chi.Router) {
				r.Post("/disable", s.abilityHandler.Disable)
				r.Post("/enable", s.abilityHandler.Enable)
			})
		})

		// Human-in-the-loop (Approvals)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/decide", s.approvalHandler.Decide)
			})
		})

		// Диагностика соединения со шлюзом
		r.Post("/v1/gateway/test", s.gatewayHandler.Test)

		// Аудит и логи
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
