package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"proxyvm/config"
	"proxyvm/core"
	"proxyvm/core/contracts"
	"proxyvm/core/genesis"
	"proxyvm/explorer"
	"proxyvm/observability/logging"
	"proxyvm/observability/otel"
	"proxyvm/rpc"
	"proxyvm/storage"
)

const authSecretEnv = "PROXYVM_AUTH_SECRET"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PROXYVM_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}

	logger := logging.Setup("proxyvmd", env, logging.Options{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		FileMaxMB:   cfg.LogFileMaxMB,
		FileBackups: cfg.LogFileBackup,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "proxyvmd",
			Environment: env,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
			Traces:      true,
		})
		if err != nil {
			logger.Error("failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", slog.Any("error", err))
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "world"))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	world := core.NewWorld(db, core.WithLogger(logger))
	for _, code := range []core.Contract{
		contracts.NewCounterV1(),
		contracts.NewCounterV2(),
		contracts.NewVault(),
	} {
		if err := world.RegisterCode(code); err != nil {
			logger.Error("failed to register code", "code", code.Manifest().Ref(), slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := world.Load(); err != nil {
		logger.Error("failed to load world state", slog.Any("error", err))
		os.Exit(1)
	}

	genesisPath := *genesisFlag
	if genesisPath == "" {
		genesisPath = cfg.GenesisFile
	}
	if genesisPath != "" {
		file, err := genesis.Load(genesisPath)
		if err != nil {
			logger.Error("failed to load genesis file", slog.Any("error", err))
			os.Exit(1)
		}
		bound, err := file.Apply(world)
		if err != nil {
			logger.Error("failed to apply genesis", slog.Any("error", err))
			os.Exit(1)
		}
		for alias, addr := range bound {
			logger.Info("genesis instance deployed", "alias", alias, "address", addr.Hex())
		}
	}

	index, err := explorer.Open(cfg.ExplorerDSN)
	if err != nil {
		logger.Error("failed to open explorer index", slog.Any("error", err))
		os.Exit(1)
	}
	go index.Watch(ctx, world)

	authSecret := cfg.AuthSecret
	if fromEnv := strings.TrimSpace(os.Getenv(authSecretEnv)); fromEnv != "" {
		authSecret = fromEnv
	}

	server := rpc.NewServer(world,
		rpc.WithLogger(logger),
		rpc.WithExplorer(index),
		rpc.WithAuthSecret(authSecret),
		rpc.WithRateLimit(cfg.RequestsPerMinute, cfg.RequestBurst),
	)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           otelhttp.NewHandler(server.Router(), "proxyvm.rpc"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting JSON-RPC server", "addr", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rpc server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
