package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate/cmd/server/config"
	"paygate/internal/api"
	"paygate/internal/observability"
	"paygate/internal/payment"
	"paygate/internal/realtime"

	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	gatewayCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	rateCfg, err := config.LoadRateLimit()
	if err != nil {
		return err
	}
	webhookCfg, err := config.LoadWebhook()
	if err != nil {
		return err
	}
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}

	attempts, cleanupAttempts, err := buildAttemptStore(ctx, rateCfg)
	if err != nil {
		return err
	}
	defer cleanupAttempts()

	gateway, err := buildGateway(gatewayCfg)
	if err != nil {
		return err
	}

	var receipts *payment.FileReceiptStore
	if gatewayCfg.ReceiptDir != "" {
		receipts, err = payment.NewFileReceiptStore(gatewayCfg.ReceiptDir)
		if err != nil {
			return err
		}
	}

	hub := realtime.NewHub()
	go hub.Run()

	session := payment.NewSession(gateway, attempts, payment.SessionConfig{
		Providers: payment.DefaultProviders(),
		Events:    hub,
		Logf:      log.Printf,
	})
	defer session.Close()

	metrics := observability.NewMetrics()
	obsSrv, obsErr := startObservabilityServer(metrics)
	if obsErr != nil {
		return obsErr
	}

	apiServer := api.NewServer(api.ServerConfig{
		Session:       session,
		Hub:           hub,
		Metrics:       metrics,
		Receipts:      receipts,
		WebhookSecret: webhookCfg.Secret,
	})

	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: apiServer.Router(),
	}

	log.Printf("payment API listening on %s (gateway mode %s)", httpCfg.Addr, gatewayCfg.Mode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(0)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if obsSrv != nil {
			obsCtx, obsCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer obsCancel()
			_ = obsSrv.Shutdown(obsCtx)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildGateway(cfg config.GatewayConfig) (payment.ProviderGateway, error) {
	if cfg.Mode == "live" {
		return payment.NewHTTPGateway(nil), nil
	}
	return payment.NewSimulatedGateway(), nil
}

func startObservabilityServer(metrics *observability.Metrics) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}
