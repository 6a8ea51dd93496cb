package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-gate/internal/config"
	"github.com/iliyamo/ticket-gate/internal/database"
	"github.com/iliyamo/ticket-gate/internal/handler"
	"github.com/iliyamo/ticket-gate/internal/issuance"
	"github.com/iliyamo/ticket-gate/internal/logger"
	"github.com/iliyamo/ticket-gate/internal/metrics"
	"github.com/iliyamo/ticket-gate/internal/middleware"
	"github.com/iliyamo/ticket-gate/internal/qrimage"
	"github.com/iliyamo/ticket-gate/internal/queue"
	"github.com/iliyamo/ticket-gate/internal/redemption"
	"github.com/iliyamo/ticket-gate/internal/repository"
	"github.com/iliyamo/ticket-gate/internal/router"
	"github.com/iliyamo/ticket-gate/internal/storage"
	"github.com/iliyamo/ticket-gate/internal/ticket"
	"github.com/iliyamo/ticket-gate/internal/tracing"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment

	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Fatal("tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	secret, fallback, err := cfg.TicketSecret()
	if err != nil {
		log.Fatal("ticket secret", zap.Error(err))
	}
	if fallback {
		log.Warn("QR_CODE_SECRET is not set, using the development secret; tickets are forgeable",
			zap.String("env", cfg.Env))
	}
	codec, err := ticket.NewCodec(secret,
		ticket.WithMaxAge(cfg.TicketMaxAge),
		ticket.WithChecksumLength(cfg.ChecksumLength),
	)
	if err != nil {
		log.Fatal("ticket codec", zap.Error(err))
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	orders := repository.NewOrderRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	publisher := queue.NewPublisher(cfg.RabbitMQURL, queue.WithPublisherLogger(log))

	issuerOpts := []issuance.Option{issuance.WithPublisher(publisher), issuance.WithLogger(log)}
	if cfg.S3Bucket != "" {
		awsCfg, err := storage.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("aws config", zap.Error(err))
		}
		issuerOpts = append(issuerOpts, issuance.WithUploader(storage.NewS3Uploader(awsCfg, cfg.S3Bucket, cfg.S3Prefix)))
	} else {
		log.Info("S3_BUCKET not set, ticket images are not uploaded")
	}
	issuer := issuance.NewIssuer(codec, orders, qrimage.NewRenderer(cfg.QRImageSize), issuerOpts...)

	redeemer := redemption.NewService(codec, orders,
		redemption.WithLogger(log),
		redemption.WithPublisher(publisher),
	)

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn("redis unavailable, scan rate limiting disabled")
	} else {
		defer rdb.Close()
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(log))

	tickets := handler.NewTicketHandler(redeemer, issuer, log)
	router.RegisterRoutes(e, db, reg)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, log))
	router.RegisterAdmin(e, tickets, cfg.JWTSecret, limiter)
	router.RegisterCustomer(e, tickets, cfg.JWTSecret)

	go func() {
		if err := queue.StartOrderConsumer(ctx, cfg.RabbitMQURL, issuer, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("order consumer stopped", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if err := publisher.Close(shutdownCtx); err != nil {
		log.Warn("ticket events not flushed", zap.Error(err))
	}
}
