package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"creditline/config"
	"creditline/core/events"
	"creditline/core/types"
	"creditline/crypto"
	"creditline/native/credit"
	"creditline/observability"
	"creditline/observability/logging"
	"creditline/rpc"
	"creditline/rpc/modules"
	"creditline/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CREDITLINE_ENV"))
	logger := logging.Setup("creditlined", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	authority, err := crypto.DecodeAddress(cfg.Credit.Authority)
	if err != nil {
		logger.Error("Invalid credit authority address", slog.String("authority", cfg.Credit.Authority), slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dataDir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	engine := credit.NewEngine(authority, cfg.Credit.Terms())
	engine.SetState(credit.NewStore(db))
	engine.SetRateModel(cfg.Credit.RateModel())
	if manager := cfg.Credit.MarkdownManager(); manager != nil {
		engine.SetDefaultMarkdownManager(manager)
	}
	engine.SetPauses(cfg.Pauses)
	engine.SetEmitter(&logEmitter{log: logger})

	token := cfg.RPCAuthToken()
	if token == "" {
		logger.Warn("No RPC auth token configured; mutating methods are disabled", slog.String("env", cfg.RPCAuthTokenEnv))
	}

	server := rpc.NewServer(modules.NewCreditModule(engine, authority), rpc.ServerConfig{AuthToken: token}, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening", slog.String("address", cfg.RPCAddress))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", slog.Any("error", err))
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// logEmitter surfaces ledger events through the structured log and keeps the
// default counter current.
type logEmitter struct {
	log *slog.Logger
}

func (l *logEmitter) Emit(ev events.Event) {
	attrs := []any{slog.String("event", ev.EventType())}
	if carrier, ok := ev.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.log.Info("ledger event", attrs...)

	if started, ok := ev.(events.CreditDefaultStarted); ok {
		observability.Ledger().RecordDefault(started.Market)
	}
}
