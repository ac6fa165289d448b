package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/civicworks/grantflow/internal/app"
	"github.com/civicworks/grantflow/internal/app/config"
	"github.com/civicworks/grantflow/internal/app/httpapi"
	"github.com/civicworks/grantflow/internal/app/storage/postgres"
	"github.com/civicworks/grantflow/pkg/logger"
)

var configPath = flag.String("config", "", "optional YAML config file overriding the environment")

func main() {
	flag.Parse()

	// .env is best-effort: absent in production, handy in development.
	_ = godotenv.Load()

	log := logger.NewDefault("grantflow")

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stores app.Stores
	if cfg.Database.URL != "" {
		db, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			log.WithError(err).Fatal("connect to database")
		}
		defer db.Close()
		store := postgres.New(db)
		stores = app.Stores{
			Users:        store,
			Validations:  store,
			Projects:     store,
			Funds:        store,
			Applications: store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	application, err := app.New(stores, app.Options{
		TokenTTL:              cfg.Tokens.TTL,
		PurgeSchedule:         cfg.Tokens.PurgeSchedule,
		AnonymizedEmailDomain: cfg.Accounts.AnonymizedEmailDomain,
		MailAttempts:          cfg.Mail.SendAttempts,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpapi.NewHandler(application, []byte(cfg.Auth.JWTSecret), log),
	}

	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("goodbye")
}
