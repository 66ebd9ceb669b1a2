package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fantasim/railpay/internal/api"
	"github.com/Fantasim/railpay/internal/classify"
	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/engine"
	"github.com/Fantasim/railpay/internal/feed"
	"github.com/Fantasim/railpay/internal/ledger"
	"github.com/Fantasim/railpay/internal/logging"
	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/price"
	"github.com/Fantasim/railpay/internal/quote"
	"github.com/Fantasim/railpay/internal/rails"
	"github.com/Fantasim/railpay/internal/settle"
	"github.com/btcsuite/btcd/chaincfg"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("railpay %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: railpay <command>

Commands:
  serve     Start the payment engine HTTP server
  version   Print version information
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting railpay",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"logLevel", cfg.LogLevel,
		"walletId", cfg.WalletID,
	)

	store, err := ledger.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("ledger store ready", "path", cfg.DBPath)

	// Rail clients. The local backend carries all four rails in-process;
	// live SDK-backed clients replace it per deployment.
	backend := rails.NewLocalBackend(
		map[models.Rail]int64{
			models.RailLedger:  1_000_000,
			models.RailInvoice: 1_000_000,
			models.RailAsset:   1_000_000,
			models.RailOnchain: 1_000_000,
		},
		map[models.Rail]bool{
			models.RailLedger: cfg.LedgerRailEnabled,
			models.RailAsset:  cfg.AssetRailEnabled,
		},
		models.RailLimits{
			MinSats: config.DefaultMinSendSats,
			MaxSats: config.DefaultMaxSendSats,
		},
	)
	clients := backend.Clients()
	swapper := &rails.LocalSwapSimulator{FeePPM: 3000}

	brackets, err := cfg.ParseFeeBrackets()
	if err != nil {
		return fmt.Errorf("failed to parse support fee brackets: %w", err)
	}
	fees := quote.NewSupportFeeSchedule(brackets)

	rates := price.NewRateService()
	minter := rails.NewInvoiceMinter()

	quoter := quote.New(clients, swapper, backend, rates, minter, fees)

	hub := feed.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	sources := make([]feed.Source, 0, len(models.AllRails))
	for _, rail := range models.AllRails {
		sources = append(sources, feed.NewStoreSource(rail, store.ListByRail))
	}
	feedEngine := feed.NewEngine(sources, hub)

	executor := settle.New(clients, backend, store, cfg.WalletID, cfg.SupportFeeAddress, feedEngine.Refresh)
	if err := executor.ReconcilePending(); err != nil {
		return fmt.Errorf("failed to reconcile pending entries: %w", err)
	}

	netParams := networkParams(cfg.Network)
	classifier := classify.New(netParams, cfg.OwnIdentities)

	eng := engine.New(classifier, quoter, executor, feedEngine)

	router := api.NewRouter(eng, hub, cfg)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	hubCancel()

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Let in-flight finality pollers and side payments finish recording.
	executor.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

func networkParams(network string) *chaincfg.Params {
	if network == "mainnet" {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}
