package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"usvprotocol/core/events"
	"usvprotocol/core/state"
	"usvprotocol/native/cdp"
	nativecommon "usvprotocol/native/common"
	"usvprotocol/native/pricefeed"
	"usvprotocol/observability/logging"
	"usvprotocol/observability/metrics"
	telemetry "usvprotocol/observability/otel"
	"usvprotocol/services/usvd/config"
	"usvprotocol/services/usvd/journal"
	"usvprotocol/services/usvd/oracle"
	"usvprotocol/services/usvd/server"
	"usvprotocol/storage"
)

const serviceName = "usvd"

var version = "dev"

func main() {
	cfgPath := flag.String("config", "services/usvd/config.yaml", "path to usvd configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("usvd: load config: %v", err)
	}

	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.Logging.Level))}
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays))
	}
	logger := logging.Setup(serviceName, cfg.Environment, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ApplyEnv(telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}))
	if err != nil {
		log.Fatalf("usvd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("usvd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	manager := state.NewManager(db)
	if err := state.EnsureStateVersion(manager, cfg.Storage.AllowMigrate); err != nil {
		return err
	}
	logger.Info("state opened", "backend", cfg.Storage.Backend)

	j, err := journal.Open(cfg.Journal.DSN, logger.With("component", "journal"))
	if err != nil {
		return err
	}
	defer j.Close()
	logger.Info("journal opened", "dsn", logging.MaskDSN(cfg.Journal.DSN))

	hub := server.NewHub(256, logger)
	emitter := events.NewFanout(metrics.Events(), j, hub)

	sinks := oracle.Sinks{
		Primary:   pricefeed.NewStaticPrimary(pricefeed.PythPrice{}),
		Secondary: pricefeed.NewStaticSecondary(pricefeed.SecondaryRound{}),
	}
	stakeRate := cfg.Oracle.StakeRate
	if stakeRate == 0 {
		stakeRate = pricefeed.FeedDecimalPrecision
	}
	feedOpts := []pricefeed.Option{
		pricefeed.WithStore(manager),
		pricefeed.WithEmitter(emitter),
		pricefeed.WithLogger(logger.With("component", "pricefeed")),
	}
	if cfg.DevMode() {
		feedOpts = append(feedOpts, pricefeed.WithDevPrice(cfg.Oracle.DevPrice))
	}
	feed, err := pricefeed.NewFeed(sinks.Primary, sinks.Secondary, pricefeed.NewFixedRate(stakeRate), feedOpts...)
	if err != nil {
		return err
	}

	pauses := nativecommon.NewPauses()
	engine := cdp.NewEngine(cfg.Params)
	engine.SetState(state.NewCDPState(manager))
	engine.SetOracle(feed)
	engine.SetPauses(pauses)
	engine.SetEmitter(emitter)
	engine.SetLogger(logger.With("component", "cdp"))

	registry := oracle.NewRegistry()
	primary, err := registry.Primary(cfg.Oracle.Primary)
	if err != nil {
		return err
	}
	secondary, err := registry.Secondary(cfg.Oracle.Secondary)
	if err != nil {
		return err
	}
	poller, err := oracle.New(engine, feed, sinks, primary, secondary, cfg.Oracle.Interval.Duration, oracle.WithLogger(logger.With("component", "oracle")))
	if err != nil {
		return err
	}

	if !feed.State().Initialized {
		poller.Refresh(ctx)
		if err := feed.Init(ctx, time.Now().Unix()); err != nil {
			return err
		}
	}
	if err := engine.Init(ctx); err != nil && !errors.Is(err, cdp.ErrAlreadyInitialized) {
		return err
	}

	srv, err := server.New(server.Config{
		Engine:  engine,
		Feed:    feed,
		Pauses:  pauses,
		Journal: j,
		Hub:     hub,
		Auth: server.AuthConfig{
			Secret:    cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			ClockSkew: cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		Logger:    logger.With("component", "http"),
	})
	if err != nil {
		return err
	}

	grpcListener, err := net.Listen("tcp", cfg.Listen.GRPC)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("grpc server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle poller stopped", "error", err)
		}
	}()

	logger.Info("auth configured", logging.MaskField("jwt_secret", cfg.Auth.JWTSecret), "issuer", cfg.Auth.Issuer)
	logger.Info("usvd started", "http", cfg.Listen.HTTP, "grpc", cfg.Listen.GRPC, "dev", cfg.DevMode())
	return srv.Run(ctx, cfg.Listen.HTTP)
}
