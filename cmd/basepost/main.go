// Command basepost runs the content-monetization server: articles gated
// behind x402 payment challenges, with purchase and rating records on the
// side.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/basedotnews/basepost/internal/api"
	"github.com/basedotnews/basepost/internal/catalog"
	"github.com/basedotnews/basepost/internal/config"
	"github.com/basedotnews/basepost/internal/facilitator"
	"github.com/basedotnews/basepost/internal/identity"
	"github.com/basedotnews/basepost/internal/paywall"
	"github.com/basedotnews/basepost/internal/records"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "basepost:", err)
		os.Exit(1)
	}
}

func run() error {
	// Best effort; the environment itself wins over .env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	cat := catalog.New(catalog.NewFileStore(cfg.ArticlesFile),
		catalog.WithTTL(cfg.CatalogTTL),
		catalog.WithLogger(logger))

	recs, err := records.Open(cfg.RecordsFile, logger)
	if err != nil {
		return err
	}
	defer recs.Close()

	ids := identityChain(cfg, logger)
	server := api.New(cat, recs, ids, cfg.PaymentNetwork(), cfg.UploadsDir, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(paywall.Middleware(paywall.Config{
		Resolver:    &api.PaywallResolver{Catalog: cat, Network: cfg.PaymentNetwork()},
		Facilitator: facilitator.NewClient(cfg.FacilitatorURL),
		PlatformFee: platformFee(cfg),
		BaseURL:     cfg.BaseURL,
		Logger:      logger,
		OnSettleFailure: func(slug, payer string, err error) {
			// The content already shipped; all that is left is to leave a
			// reconciliation trail.
			logger.Error("unreconciled payment",
				"slug", slug,
				"payer", payer,
				"error", err)
		},
	}))
	server.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"port", cfg.Port,
			"network", cfg.Network,
			"facilitator", cfg.FacilitatorURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func platformFee(cfg *config.Config) *paywall.Pricing {
	if cfg.PlatformPayTo == "" {
		return nil
	}
	amount, _ := paywall.ParseMoney(cfg.PlatformPrice)
	return &paywall.Pricing{
		Amount:      amount,
		PayTo:       cfg.PlatformPayTo,
		Network:     cfg.PaymentNetwork(),
		Description: "article publishing fee",
		MimeType:    "application/json",
	}
}

func identityChain(cfg *config.Config, logger *slog.Logger) *identity.Chain {
	var resolvers []identity.Resolver
	if cfg.FarcasterAPIURL != "" {
		resolvers = append(resolvers, identity.NewFarcaster(cfg.FarcasterAPIURL, cfg.FarcasterAPIKey))
	}
	if cfg.ENSAPIURL != "" {
		resolvers = append(resolvers, identity.NewENS(cfg.ENSAPIURL))
	}
	resolvers = append(resolvers, identity.Truncated{})
	return identity.NewChain(logger, resolvers...)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
