package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/abilities"
	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/breaker"
	"github.com/xela07ax/pinch-bridge/internal/console/handler"
	"github.com/xela07ax/pinch-bridge/internal/console/server"
	"github.com/xela07ax/pinch-bridge/internal/console/service"
	"github.com/xela07ax/pinch-bridge/internal/dispatch"
	"github.com/xela07ax/pinch-bridge/internal/features"
	"github.com/xela07ax/pinch-bridge/internal/gateway"
	"github.com/xela07ax/pinch-bridge/internal/hooks"
	"github.com/xela07ax/pinch-bridge/internal/infra"
	"github.com/xela07ax/pinch-bridge/internal/jobs"
	"github.com/xela07ax/pinch-bridge/internal/kv"
	"github.com/xela07ax/pinch-bridge/internal/loopguard"
	"github.com/xela07ax/pinch-bridge/internal/ratelimit"
	"github.com/xela07ax/pinch-bridge/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и ресурсы
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	// Проверяем соединение с таймаутом
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

	recorder := audit.NewRecorder(auditRepo, logger)
	recorder.Start()
	defer recorder.Stop()

	store := kv.NewRedisStore(rdb)
	flags := features.New(cfg.Features)

	// 2. Общий с data plane стек: консоль видит то же состояние в Redis,
	// что и мост — предохранитель, бюджет, очередь подтверждений.
	cb := breaker.New(store, recorder, logger, cfg.Gateway.CBThreshold, cfg.Gateway.CBCooldown)
	client := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.SendTimeout, cb, flags, logger)
	queue := jobs.NewRedisQueue(rdb)
	guard := loopguard.New()
	budget := ratelimit.NewBudget(store, cfg.Limits.DailyWriteCap, cfg.Limits.AlertPercent)
	approvals := hooks.NewApprovalQueue(store, recorder)

	dispatcher := dispatch.New(dispatch.Options{
		Client:        client,
		Window:        ratelimit.NewWindow(store, cfg.Limits.OutboundPerMinute),
		Queue:         queue,
		Guard:         guard,
		Validator:     dispatch.NewURLValidator(false),
		Sink:          recorder,
		Flags:         flags,
		Logger:        logger,
		SiteURL:       cfg.Site.URL,
		SigningSecret: cfg.Gateway.SigningSecret,
	})

	rest := abilities.NewRESTConnector(cfg.Site.URL, cfg.Site.User, cfg.Site.AppPass, cfg.Site.Timeout, logger)
	registry := abilities.NewRegistry(cfg.Approvals.Required)
	if err := abilities.RegisterSiteAbilities(registry, abilities.NewProtectedConnector(rest)); err != nil {
		logger.Fatal("ability registry init failed", zap.Error(err))
	}

	// Конвейер нужен консоли для исполнения одобренных способностей.
	pipeline := hooks.NewPipeline(hooks.PipelineOptions{
		Registry:  registry,
		Budget:    budget,
		Approvals: approvals,
		Identity:  hooks.NewIdentity(cfg.Site.AgentUser, guard),
		Notifier:  dispatcher,
		Purger:    auditRepo,
		Sink:      recorder,
		Flags:     flags,
		Logger:    logger,
	})

	// 3. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(cfg.Auth.AdminUser, cfg.Auth.AdminPassHash, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	approvalService := service.NewApprovalService(approvals, pipeline)
	auditService := service.NewAuditService(auditRepo)
	abilityService := service.NewAbilityService(registry)
	gatewayService := service.NewGatewayService(client)
	dashService := service.NewDashboardService(auditRepo, queue, approvals, budget, client, cb, logger)

	consoleSrv := server.NewConsoleServer(
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewApprovalHandler(approvalService),
		handler.NewAuditHandler(auditService),
		handler.NewAbilityHandler(abilityService),
		handler.NewGatewayHandler(gatewayService),
		handler.NewDashboardHandler(dashService),
	)

	// 4. Запуск сервера
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Console.Host, strconv.Itoa(cfg.Console.Port)),
		Handler:      consoleSrv,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
