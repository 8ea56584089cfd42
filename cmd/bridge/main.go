package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/abilities"
	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/breaker"
	"github.com/xela07ax/pinch-bridge/internal/dispatch"
	"github.com/xela07ax/pinch-bridge/internal/features"
	"github.com/xela07ax/pinch-bridge/internal/gateway"
	"github.com/xela07ax/pinch-bridge/internal/hooks"
	"github.com/xela07ax/pinch-bridge/internal/infra"
	"github.com/xela07ax/pinch-bridge/internal/jobs"
	"github.com/xela07ax/pinch-bridge/internal/kv"
	"github.com/xela07ax/pinch-bridge/internal/loopguard"
	"github.com/xela07ax/pinch-bridge/internal/mcp"
	"github.com/xela07ax/pinch-bridge/internal/metrics"
	"github.com/xela07ax/pinch-bridge/internal/ratelimit"
	"github.com/xela07ax/pinch-bridge/internal/repository/postgres"
)

const version = "0.3.0"

func main() {
	mcpMode := flag.Bool("mcp", false, "serve the ability registry over MCP stdio instead of HTTP")
	flag.Parse()

	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal("redis unreachable", zap.Error(err))
	}
	pingCancel()

	auditRepo, err := postgres.NewAuditRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer auditRepo.Close()

	// Теперь данные полетят в базу пачками
	recorder := audit.NewRecorder(auditRepo, logger)
	recorder.Start()
	defer recorder.Stop()

	store := kv.NewRedisStore(rdb)
	flags := features.New(cfg.Features)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// 3. Исходящий контур: диспетчер вебхуков к шлюзу
	cb := breaker.New(store, recorder, logger, cfg.Gateway.CBThreshold, cfg.Gateway.CBCooldown)
	client := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.SendTimeout, cb, flags, logger)
	queue := jobs.NewRedisQueue(rdb)
	guard := loopguard.New()

	dispatcher := dispatch.New(dispatch.Options{
		Client:        client,
		Window:        ratelimit.NewWindow(store, cfg.Limits.OutboundPerMinute),
		Queue:         queue,
		Guard:         guard,
		Validator:     dispatch.NewURLValidator(false),
		Sink:          recorder,
		Flags:         flags,
		Metrics:       m,
		Logger:        logger,
		SiteURL:       cfg.Site.URL,
		SigningSecret: cfg.Gateway.SigningSecret,
	})

	// 4. Входящий контур: реестр способностей и hook-конвейер
	rest := abilities.NewRESTConnector(cfg.Site.URL, cfg.Site.User, cfg.Site.AppPass, cfg.Site.Timeout, logger)
	registry := abilities.NewRegistry(cfg.Approvals.Required)
	if err := abilities.RegisterSiteAbilities(registry, abilities.NewProtectedConnector(rest)); err != nil {
		logger.Fatal("ability registry init failed", zap.Error(err))
	}

	pipeline := hooks.NewPipeline(hooks.PipelineOptions{
		Registry:  registry,
		Budget:    ratelimit.NewBudget(store, cfg.Limits.DailyWriteCap, cfg.Limits.AlertPercent),
		Approvals: hooks.NewApprovalQueue(store, recorder),
		Identity:  hooks.NewIdentity(cfg.Site.AgentUser, guard),
		Notifier:  dispatcher,
		Purger:    auditRepo,
		Sink:      recorder,
		Flags:     flags,
		Logger:    logger,
	})

	// Режим MCP: тот же конвейер, но транспорт — stdio, HTTP не поднимаем.
	if *mcpMode || (flags.Enabled(features.MCPServer) && isStdioSession()) {
		mcpSrv := mcp.NewServer(pipeline, registry, client, version, logger)
		if err := mcpSrv.ServeStdio(); err != nil {
			logger.Fatal("mcp server failed", zap.Error(err))
		}
		return
	}

	// 5. Фоновый воркер отложенных задач (ретраи, чистка аудита)
	worker := jobs.NewWorker(queue, logger)
	worker.Register(jobs.HookWebhookRetry, dispatcher.RetryJobHandler())
	worker.Register(jobs.HookAuditCleanup, auditCleanupHandler(auditRepo, queue, logger))
	go worker.Run(appCtx)

	if err := scheduleAuditCleanup(appCtx, queue, time.Now()); err != nil {
		logger.Warn("audit cleanup scheduling failed", zap.Error(err))
	}

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort))
		logger.Info("metrics exporter started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics exporter failed", zap.Error(err))
		}
	}()

	// 6. HTTP Server + Graceful Shutdown
	hookHandler := hooks.NewHandler(pipeline, hooks.NewAuthenticator(
		cfg.Hooks.BearerToken,
		cfg.Hooks.HeaderToken,
		cfg.Hooks.HMACSecret,
		cfg.Hooks.HMACTolerance,
		flags,
	), ratelimit.NewWindow(store, cfg.Limits.InboundPerMinute), dispatcher, m, logger)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      hookHandler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("pinch bridge started", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("pinch bridge stopping...")
	cancel() // останавливаем воркер и фоновые горутины

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("pinch bridge exited properly")
}

// cleanupArgs — фиксированный payload задачи чистки: одинаковые аргументы
// дают планировщику дедупликацию, так что в очереди висит не больше одной.
type cleanupArgs struct {
	Cadence string `json:"cadence"`
}

var dailyCleanup = cleanupArgs{Cadence: "daily"}

// scheduleAuditCleanup ставит чистку журнала на ближайшую полночь UTC,
// если она еще не запланирована.
func scheduleAuditCleanup(ctx context.Context, queue jobs.Queue, now time.Time) error {
	pending, err := queue.HasPending(ctx, jobs.HookAuditCleanup, dailyCleanup)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return queue.Schedule(ctx, jobs.HookAuditCleanup, next, dailyCleanup)
}

// auditCleanupHandler выметает записи старше срока хранения и
// перепланирует себя на следующие сутки.
func auditCleanupHandler(repo *postgres.AuditRepo, queue jobs.Queue, logger *zap.Logger) jobs.HandlerFunc {
	return func(ctx context.Context, args json.RawMessage) error {
		cutoff := time.Now().UTC().AddDate(0, 0, -audit.RetentionDays)
		purged, err := repo.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("audit log purged",
			zap.Int64("rows", purged),
			zap.Time("cutoff", cutoff))
		return scheduleAuditCleanup(ctx, queue, time.Now())
	}
}

// isStdioSession — эвристика для запуска под MCP-клиентом: stdin не терминал.
func isStdioSession() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}
