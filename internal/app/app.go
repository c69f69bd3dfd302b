// Package app собирает зависимости сервиса и управляет жизненным циклом серверов.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sweetbar-oms/internal/health"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/httpapi"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/notification"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/outbox"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/telemetry"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/version"
)

const shutdownTimeout = 5 * time.Second

// SetupLogging настраивает формат и уровень логирования процесса.
func SetupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func setupTelemetry(ctx context.Context, cfg Config, serviceName string, logger *log.Entry) telemetry.ShutdownFunc {
	v, _, _ := version.Info()
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: v,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.WithError(err).Warn("telemetry is disabled")
		return func(context.Context) error { return nil }
	}
	return shutdown
}

// Run запускает HTTP API, gRPC health, метрики и relay уведомлений.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	shutdownTelemetry := setupTelemetry(ctx, cfg, cfg.ServiceName, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown with error")
		}
	}()

	rt, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	deps := NewDependencies(cfg, rt.store, rt.outboxRepo, logger)

	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}
	defer closeKafka(kafkaProducer, logger)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := make(chan struct{})
	var workers sync.WaitGroup

	var (
		publisher    domain.OutboxPublisher
		dlqPublisher domain.OutboxPublisher
	)
	if kafkaProducer != nil {
		publisher = kafka.NewOutboxPublisher(kafkaProducer, cfg.KafkaNotificationTopic)
		dlqPublisher = kafka.NewOutboxPublisher(kafkaProducer, cfg.KafkaDLQTopic)
		logger.WithField("topic", cfg.KafkaNotificationTopic).Info("notification tasks go through kafka")
	} else {
		ledger, err := openDeliveryLedger(cfg.LedgerPath, logger)
		if err != nil {
			cancelWorkers()
			return err
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				logger.WithError(err).Warn("failed to close delivery ledger")
			}
		}()

		consumer := newTaskConsumer(cfg, rt.store, ledger, deps.Metrics, logger)
		publisher = notification.NewLocalPublisher(consumer, logger.WithField("layer", "notification-local"))
		logger.Info("notification tasks are dispatched in-process")
	}

	worker := outbox.NewWorker(rt.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		worker.Run(workerCtx)
	}()
	go func() {
		workers.Wait()
		close(workersDone)
	}()
	defer shutdownOutboxWorker(cancelWorkers, workersDone, logger)

	api := httpapi.NewHandler(deps.Orders, deps.Reconciler, httpapi.WithLogger(logger.WithField("layer", "http")))
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	apiSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: 10 * time.Second}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	v, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(v)
	healthHandler.RegisterChecker("storage", rt.storageChecker)
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(rt.outboxRepo, cfg.OutboxMaxPending))
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// RunNotificationWorker читает задания из Kafka и отправляет уведомления.
func RunNotificationWorker(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "notification-worker")
	if !cfg.KafkaEnabled() {
		return errors.New("kafka.brokers is required for the notification worker")
	}
	if err := cfg.validateSharedStorage(); err != nil {
		return err
	}

	shutdownTelemetry := setupTelemetry(ctx, cfg, cfg.ServiceName+"-notification-worker", logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	rt, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	ledger, err := openDeliveryLedger(cfg.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.WithError(err).Warn("failed to close delivery ledger")
		}
	}()

	dlqProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return fmt.Errorf("init dlq producer: %w", err)
	}
	defer closeKafka(dlqProducer, logger)

	deps := NewDependencies(cfg, rt.store, rt.outboxRepo, logger)
	taskConsumer := newTaskConsumer(cfg, rt.store, ledger, deps.Metrics, logger)

	consumer, err := initNotificationConsumer(cfg, taskConsumer, dlqProducer, logger)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	v, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(v)
	healthHandler.RegisterChecker("storage", rt.storageChecker)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем consumer")
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
	shutdownHTTP(metricsSrv, logger)
	return ctx.Err()
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection для grpcurl
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// shutdownOutboxWorker останавливает фоновые воркеры и ждёт их завершения.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info("outbox worker stopped")
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}
