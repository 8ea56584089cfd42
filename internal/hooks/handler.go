package hooks

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/domain"
	"github.com/xela07ax/pinch-bridge/internal/metrics"
	"github.com/xela07ax/pinch-bridge/internal/ratelimit"
)

// maxBodySize — предел тела входящего запроса; батчи больше не живут.
const maxBodySize = 1 << 20

// Handler — HTTP-слой входящего канала (data plane).
type Handler struct {
	pipeline *Pipeline
	auth     *Authenticator
	window   *ratelimit.Window
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewHandler(pipeline *Pipeline, auth *Authenticator, window *ratelimit.Window, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Handler{
		pipeline: pipeline,
		auth:     auth,
		window:   window,
		notifier: notifier,
		metrics:  m,
		logger:   logger.Named("hooks-api"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/v1/hook", h.handleHook)
	r.Post("/v1/events", h.handleEvent)

	return r
}

// handleHook — вход для действий шлюза.
func (h *Handler) handleHook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Ни одного настроенного credential — API административно выключен
	if !h.auth.Configured() {
		h.writeError(w, http.StatusServiceUnavailable, "inbound API is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.auth.Authenticate(r, body); err != nil {
		h.logger.Warn("unauthenticated hook request", zap.String("remote", r.RemoteAddr))
		h.metrics.HookDuration.WithLabelValues("unauthenticated", "401").Observe(time.Since(start).Seconds())
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Входящий rate-гейт общий на канал: защищает сайт от взбесившегося шлюза.
	allowed, err := h.window.Allow(r.Context(), "inbound:hook")
	if err != nil {
		h.logger.Error("inbound rate check failed", zap.Error(err))
	}
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.window.RetryAfter(r.Context(), "inbound:hook").Seconds())))
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req domain.HookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}

	res := h.pipeline.Handle(r.Context(), &req)

	h.metrics.HookDuration.WithLabelValues(req.Action, strconv.Itoa(res.Status)).Observe(time.Since(start).Seconds())
	h.writeResult(w, res)
}

// eventRequest — уведомление от сайта о событии жизненного цикла
// (публикация, комментарий, заказ). Уходит диспетчеру наружу.
type eventRequest struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Configured() {
		h.writeError(w, http.StatusServiceUnavailable, "inbound API is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.auth.Authenticate(r, body); err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Event == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "event and message are required")
		return
	}

	// Диспетчер сам решает судьбу: гейты, лимиты, ретраи. Событие принято.
	sent := h.notifier.Dispatch(r.Context(), req.Event, req.Message, req.Data, 0)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true, "dispatched": sent})
}

func (h *Handler) writeResult(w http.ResponseWriter, res *Result) {
	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	json.NewEncoder(w).Encode(res.Body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
