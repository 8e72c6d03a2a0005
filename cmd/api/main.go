package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/config"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/handlers"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/logging"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/realtime"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/invitation"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/mailer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN, db.PoolConfig{
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxOpenConns / 2,
		MaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	hub := realtime.NewHub(logger)
	pubs := events.Multi{hub}

	if cfg.RedisAddr != "" {
		rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		bridge := realtime.NewRedisBridge(rdb, hub, realtime.DefaultChannel, logger)
		pubs = append(pubs, bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("redis bridge stopped", zap.Error(err))
			}
		}()
		logger.Info("redis fan-out enabled", zap.String("addr", cfg.RedisAddr))
	}

	if cfg.MQURL != "" {
		mq, err := events.NewAMQPPublisher(cfg.MQURL)
		if err != nil {
			return err
		}
		defer mq.Close()
		pubs = append(pubs, mq)
		logger.Info("amqp publishing enabled")
	}

	var sender mailer.Sender = mailer.LogSender{Log: logger}
	if cfg.EmailEnabled() {
		ses, err := mailer.NewSESSender(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSRegion, cfg.EmailFrom, logger)
		if err != nil {
			return err
		}
		sender = ses
	} else {
		logger.Warn("email provider not configured, invitation emails are only logged")
	}

	deps := handlers.Deps{
		Config: cfg,
		DB:     gdb,
		Log:    logger,
		Events: pubs,
		Hub:    hub,
		Sender: sender,
		Now:    time.Now,
	}
	svc := handlers.NewServices(deps)

	if err := invitation.NewWorker(svc.Invitations, cfg.ExpiryScanSchedule, logger).Start(ctx); err != nil {
		return err
	}

	app := handlers.NewApp(deps, svc)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("port", cfg.AppPort))
		errc <- app.Listen(":" + cfg.AppPort)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
