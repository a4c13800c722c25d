package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"updownbot/internal/broker"
	"updownbot/internal/chain"
	"updownbot/internal/config"
	"updownbot/internal/engine"
	"updownbot/internal/history"
	"updownbot/internal/md"
	"updownbot/internal/metrics"
	"updownbot/internal/order"
	"updownbot/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID, cfg.DecisionsMaxSizeMB)
	if err != nil {
		log.Fatalf("decision logger error: %v", err)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			log.Printf("failed to close decision logger: %v", err)
		}
	}()

	backend, err := historyBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("history backend error: %v", err)
	}

	rpc, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		log.Fatalf("rpc error: %v", err)
	}
	defer rpc.Close()

	feed, err := priceFeed(cfg, rpc)
	if err != nil {
		log.Fatalf("price feed error: %v", err)
	}

	// signer stays a nil interface without a key so the pipeline reports it missing.
	var signer order.Signer
	account := cfg.WalletAddress
	if cfg.PrivateKey != "" {
		wallet, err := chain.NewWallet(cfg.PrivateKey)
		if err != nil {
			log.Fatalf("wallet error: %v", err)
		}
		signer = wallet
		if account == "" {
			account = wallet.Address()
		}
	}

	balances, err := chain.NewBalanceReader(rpc, cfg.USDCAddress, account)
	if err != nil {
		log.Fatalf("balance reader error: %v", err)
	}

	venue := broker.New(broker.Options{
		MarketsURL:   cfg.MarketsURL,
		MarketsQuery: cfg.MarketsQuery,
		ClobURL:      cfg.ClobURL,
		Timeout:      cfg.HTTPTimeout,
	})
	pipeline := order.NewPipeline(cfg.Mode == config.ModeLive, order.Credentials{
		APIKey:     cfg.PolyAPIKey,
		APISecret:  cfg.PolyAPISecret,
		Passphrase: cfg.PolyPassphrase,
	}, signer, venue)

	engineImpl := engine.New(engine.Deps{
		History:  history.NewStore(backend),
		Feed:     feed,
		Balances: balances,
		Markets:  venue,
		Pipeline: pipeline,
		Limits: risk.Limits{
			MinBalance:    decimal.NewFromFloat(cfg.MinBalance),
			MaxBetPercent: decimal.NewFromFloat(cfg.MaxBetPercent),
		},
		Slippage:  decimal.NewFromFloat(cfg.Slippage),
		Decisions: decisions,
	})

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("failed to stop metrics server: %v", err)
			}
		}()
	}

	log.Printf("starting bot mode=%s run_id=%s feed=%s history=%s account=%s", cfg.Mode, runID, cfg.FeedSource, cfg.HistoryBackend, account)
	err = engine.NewScheduler(engineImpl).Run(ctx)
	var cfgErr *order.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		// deferred cleanup is skipped by Fatalf, so flush the audit log first.
		_ = decisions.Close()
		log.Fatalf("fatal configuration error: %v", cfgErr)
	case err != nil && !errors.Is(err, context.Canceled):
		log.Printf("scheduler stopped: %v", err)
	}

	log.Printf("bot shutdown complete")
}

func historyBackend(ctx context.Context, cfg config.Config) (history.Backend, error) {
	if cfg.HistoryBackend == config.BackendS3 {
		return history.NewS3Backend(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Key)
	}
	return history.NewFileBackend(cfg.HistoryPath), nil
}

func priceFeed(cfg config.Config, rpc chain.Caller) (engine.PriceReader, error) {
	if cfg.FeedSource == config.FeedAlpaca {
		return md.NewAlpacaFeed(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaSymbol), nil
	}
	return chain.NewPriceFeed(rpc, cfg.FeedAddress)
}

func logLevel(value string) slog.Level {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
