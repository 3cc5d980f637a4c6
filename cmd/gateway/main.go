package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/purposegate/internal/audit"
	"github.com/xela07ax/purposegate/internal/engine"
	"github.com/xela07ax/purposegate/internal/infra"
	"github.com/xela07ax/purposegate/internal/infra/auth"
	"github.com/xela07ax/purposegate/internal/policy"
	"github.com/xela07ax/purposegate/internal/repository/postgres"
	"github.com/xela07ax/purposegate/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		// логгера еще нет - пишем как умеем
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("gateway stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, configPath string, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	// При SIGINT/SIGTERM cancel() остановит слушателей
	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Политики: холодная загрузка, без валидной таблицы не стартуем
	store := policy.NewStore(policy.ConfigSource{Path: configPath}, logger, func(r *policy.Registry) {
		metrics.PoliciesLoaded.Set(float64(r.Len()))
	})
	if err := store.Refresh(appCtx); err != nil {
		return err
	}

	// 3. Идентичность
	identity, err := buildIdentity(cfg.Auth, metrics, logger)
	if err != nil {
		return err
	}

	// 4. Аудит: Postgres, если задан, иначе в лог
	var sink audit.Storage = audit.LogSink{Logger: logger.Named("audit")}
	if cfg.Database.URL != "" {
		repo, err := postgres.NewAuditRepo(appCtx, cfg.Database)
		if err != nil {
			return err
		}
		defer repo.Close()
		sink = repo
	}
	trail := audit.NewTrail(sink, logger, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		OnDrop:        metrics.AuditDropped.Inc,
	})
	metrics.WatchAuditBuffer(trail.Pending)
	trail.Start()
	defer trail.Stop() // Drain: дописываем буфер после остановки серверов

	// 5. Ядро
	gw := engine.NewGateway(identity, policy.NewPurposeEnforcer(store), trail, metrics, logger, cfg.Server.MaxBodyBytes)

	// 6. Перезагрузка политик: Redis (все инстансы) + SIGHUP (локально)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	reloader := engine.NewPolicyReloader(store, rdb, logger)
	go reloader.Listen(appCtx)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloader.WatchSignals(appCtx, hup)

	// 7. HTTP
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewGatewayServer(logger, gw, store, reloader, cfg.Admin.TokenHash),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr), zap.String("auth_mode", cfg.Auth.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 8. gRPC (опционально)
	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer(grpc.ChainUnaryInterceptor(
			engine.UnaryRecoveryInterceptor(logger),
			engine.UnaryTracingInterceptor(),
		))
		engine.RegisterDecisionService(grpcSrv, engine.NewGRPCDecisionServer(gw))
		go func() {
			logger.Info("gRPC server started", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// 9. Graceful Shutdown
	var runErr error
	select {
	case <-appCtx.Done():
		logger.Info("gateway stopping...")
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(runErr))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
	logger.Info("gateway exited properly")
	return runErr
}

func buildIdentity(cfg infra.AuthConfig, metrics *engine.Metrics, logger *zap.Logger) (auth.AppIDExtractor, error) {
	claims := auth.ClaimNames{Primary: cfg.AppIDClaim, Alias: cfg.AppIDAliasClaim}

	if cfg.Mode == infra.AuthModeDecode {
		logger.Warn("auth.mode=decode: token signatures are NOT verified, any caller can forge appid. Never use outside a sandbox")
		return auth.NewDecoder(claims), nil
	}

	var keys auth.KeyProvider
	if cfg.JWKSURL != "" {
		keys = auth.NewJWKSClient(cfg.JWKSURL, auth.JWKSOptions{
			TTL:            cfg.JWKSTTL,
			Logger:         logger,
			OnBreakerState: metrics.SetBreakerOpen,
		})
	} else {
		pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		keys = auth.StaticKey{Key: pub}
	}

	return auth.NewValidator(keys, auth.ValidatorOptions{
		Audience: cfg.Audience,
		Issuer:   cfg.Issuer,
		Leeway:   cfg.Leeway,
		Claims:   claims,
	}), nil
}
