// Package main provides the quartermastd daemon - a hardware wallet
// companion that discovers accounts, syncs transactions and labels.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quartermast-wallet/quartermast/internal/config"
	"github.com/quartermast-wallet/quartermast/internal/discovery"
	"github.com/quartermast-wallet/quartermast/internal/indexer"
	"github.com/quartermast-wallet/quartermast/internal/labeling"
	"github.com/quartermast-wallet/quartermast/internal/signer"
	"github.com/quartermast-wallet/quartermast/internal/storage"
	"github.com/quartermast-wallet/quartermast/internal/syncer"
	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir        = flag.String("data-dir", "~/.quartermast", "Data directory")
		indexerURL     = flag.String("indexer", "", "Blockbook API URL, overrides config")
		wsURL          = flag.String("ws", "", "Blockbook websocket URL, overrides config")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		enableLabeling = flag.Bool("enable-labeling", false, "Enable encrypted labeling on startup")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("quartermastd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	cfg, err := config.Load(effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *indexerURL != "" {
		cfg.Indexer.URL = *indexerURL
	}
	if *wsURL != "" {
		cfg.Indexer.WebsocketURL = *wsURL
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir
	if *testnet {
		cfg.NetworkType = config.Testnet
	} else {
		cfg.NetworkType = config.Mainnet
	}

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Initialize the signer. Only the software emulator transport is
	// wired in this build.
	if !cfg.Signer.Emulate {
		log.Fatal("No hardware signer transport configured, set signer.emulate with a mnemonic")
	}
	sgn, err := signer.NewEmulator(cfg.Signer.EmulatorMnemonic, "", cfg.IsTestnet())
	if err != nil {
		log.Fatal("Failed to initialize signer emulator", "error", err)
	}
	log.Info("Signer initialized", "mode", "emulator", "network", cfg.NetworkType)

	// Initialize the chain indexer
	blockbook := indexer.NewBlockbookClient(cfg.Indexer.URL, cfg.Indexer.Timeout)
	if err := blockbook.Connect(ctx); err != nil {
		log.Fatal("Failed to connect to indexer", "url", cfg.Indexer.URL, "error", err)
	}
	defer blockbook.Close()
	log.Info("Indexer connected", "url", cfg.Indexer.URL)

	// Discovery components
	deriver := discovery.NewDeriver(cfg.IsTestnet())
	fetcher := discovery.NewFetcher(deriver, blockbook, cfg.Discovery.GapLimit, log.Component("discovery"))
	manager := discovery.NewManager(sgn, deriver, fetcher, cfg.NetworkType.CoinType(), log.Component("discovery"))

	// Labeling: cloud store is optional, local cache always works
	var cloud labeling.FileStore
	if cfg.Labeling.Cloud.Bucket != "" {
		s3Store, err := labeling.NewS3Store(ctx, cfg.Labeling.Cloud)
		if err != nil {
			log.Fatal("Failed to initialize cloud store", "error", err)
		}
		cloud = s3Store
		log.Info("Cloud metadata store initialized", "bucket", cfg.Labeling.Cloud.Bucket)
	}
	labelMgr, err := labeling.NewManager(store, sgn, cloud, dataPath, cfg.Labeling, log.Component("labeling"))
	if err != nil {
		log.Fatal("Failed to initialize labeling manager", "error", err)
	}
	if err := labelMgr.Init(ctx); err != nil {
		log.Warn("Failed to restore labeling state", "error", err)
	}
	if *enableLabeling && !labelMgr.Enabled() {
		if err := labelMgr.Enable(ctx); err != nil {
			log.Warn("Failed to enable labeling", "error", err)
		}
	}

	// Syncer service
	svc := syncer.New(store, manager, fetcher, blockbook, labelMgr, log.Component("syncer"))

	log.Info("Starting account discovery...")
	if err := svc.Discover(ctx); err != nil {
		log.Fatal("Account discovery failed", "error", err)
	}

	// Realtime push channel
	sub := indexer.NewSubscriber(cfg.Indexer.WebsocketURL, log.Component("ws"))
	realtime := syncer.NewRealtime(svc, sub, log.Component("realtime"))
	realtimeUp := false
	if err := realtime.Start(ctx); err != nil {
		log.Warn("Realtime channel unavailable, relying on periodic refresh", "error", err)
	} else {
		realtimeUp = true
	}

	printBanner(log, cfg, dataPath)

	// Periodic full refresh
	go func() {
		ticker := time.NewTicker(cfg.Discovery.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := svc.RefreshAll(ctx); err != nil {
					log.Error("Periodic refresh failed", "error", err)
				}
				if realtimeUp {
					if err := realtime.Resubscribe(); err != nil {
						log.Warn("Failed to refresh address subscription", "error", err)
					}
				}
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	cancel()

	// Close the push channel first so no handlers race the storage close.
	if realtimeUp {
		if err := realtime.Stop(); err != nil {
			log.Error("Error stopping realtime channel", "error", err)
		}
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, dataPath string) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  quartermast wallet daemon (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Indexer:  %s", cfg.Indexer.URL)
	log.Infof("  Push:     %s", cfg.Indexer.WebsocketURL)
	log.Infof("  Data dir: %s", dataPath)
	log.Infof("  Gap limit: %d | Refresh: %s", cfg.Discovery.GapLimit, cfg.Discovery.RefreshInterval)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
