package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/imprint-pub/imprint/client"
	"github.com/imprint-pub/imprint/internal/config"
	"github.com/imprint-pub/imprint/internal/infra/database"
	"github.com/imprint-pub/imprint/internal/infra/gateway"
	"github.com/imprint-pub/imprint/internal/infra/repository"
	"github.com/imprint-pub/imprint/internal/present/rest"
	"github.com/imprint-pub/imprint/internal/present/rest/middleware"
	"github.com/imprint-pub/imprint/internal/service"
	"github.com/imprint-pub/imprint/internal/usecase"
	"github.com/imprint-pub/imprint/policy"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	domainConf := conf.Domain()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := setupTrace(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer shutdown()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := database.MigratePostgres(db); err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	recordRepo := repository.NewRecordRepository(db)
	draftRepo := repository.NewDraftRepository(db)
	relayRepo := repository.NewRelayRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	relayGateway := gateway.NewRelayGateway(gateway.Options{
		Timeout:          domainConf.RelayTimeout,
		MinContentLength: domainConf.MinContentLength,
		BackoffInitial:   domainConf.BackoffInitial,
		BackoffFactor:    domainConf.BackoffFactor,
		BackoffCap:       domainConf.BackoffCap,
	})

	signer, err := service.NewLocalSigner(domainConf.PrivateKey)
	if err != nil {
		slog.Error("invalid site private key")
		os.Exit(1)
	}

	authService := service.NewAuthService(domainConf)
	signalService := service.NewSignalService(rdb)
	engagementService := service.NewEngagementService(relayGateway, relayRepo, mc)
	commentService := service.NewCommentService(relayGateway, relayRepo, settingRepo)

	publishUsecase := usecase.NewPublishUsecase(
		recordRepo, draftRepo, relayRepo, relayGateway, signer, signalService, *domainConf)
	feedUsecase := usecase.NewFeedUsecase(recordRepo, settingRepo)
	draftUsecase := usecase.NewDraftUsecase(draftRepo)
	relayAdminUsecase := usecase.NewRelayAdminUsecase(relayRepo, auditRepo)
	adminUsecase := usecase.NewAdminUsecase(settingRepo, auditRepo)

	indexerInterval := 5 * time.Minute
	if conf.Server.IndexerInterval != "" {
		parsed, err := time.ParseDuration(conf.Server.IndexerInterval)
		if err != nil {
			slog.Error("invalid indexer interval", slog.String("error", err.Error()))
			os.Exit(1)
		}
		indexerInterval = parsed
	}
	indexer := service.NewIndexer(
		domainConf, recordRepo, relayRepo, relayGateway, signalService, indexerInterval)
	if conf.Server.ModerationPolicy != "" {
		doc, err := policy.LoadDocument(conf.Server.ModerationPolicy)
		if err != nil {
			slog.Error("failed to load moderation policy", slog.String("error", err.Error()))
			os.Exit(1)
		}
		indexer.SetModeration(doc)
	}
	go indexer.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("imprint"))
	}

	authMiddleware := middleware.NewAuthMiddleware(authService, *domainConf)
	e.Use(authMiddleware.IdentifyRequester)

	handler := rest.NewHandler(
		*domainConf,
		publishUsecase,
		feedUsecase,
		draftUsecase,
		relayAdminUsecase,
		adminUsecase,
		engagementService,
		commentService,
		signalService,
		signer,
		client.New(),
	)
	handler.RegisterRoutes(e, authMiddleware.RequireAdmin)

	listen := conf.Server.Listen
	if listen == "" {
		listen = ":8000"
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	e.Logger.Fatal(e.Start(listen))
}

func setupTrace(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(semconv.ServiceName("imprint")),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("trace shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}
