package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"fundval/internal/api"
	"fundval/internal/config"
	"fundval/internal/logging"
	"fundval/pkg/fundval"
)

var getppid = os.Getppid
var sleep = time.Sleep
var exit = os.Exit

func main() {
	var configPath string
	var dataDir string
	var port int
	var host string
	var cacheBackend string

	flag.StringVar(&configPath, "config", "", "Path to a .toml or .json config file")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for logs and the SQLite cache")
	flag.IntVar(&port, "port", 0, "Port to run the server on (overrides config)")
	flag.StringVar(&host, "host", "", "Host to bind the server to (overrides config)")
	flag.StringVar(&cacheBackend, "cache", "", "Cache backend: memory, sqlite, redis or none (overrides config)")
	flag.Parse()

	if dataDir != "" {
		config.SetRuntimeDataDir(dataDir)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		exit(1)
		return
	}
	applyFlags(&cfg, host, port, cacheBackend)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		exit(1)
		return
	}

	logger, writer, err := newLogger(cfg)
	if err != nil {
		slog.Error("failed to initialize logger", "err", err)
		exit(1)
		return
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close log writer", "err", err)
		}
	}()

	engine, err := openEngine(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize engine", "err", err)
		exit(1)
		return
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("failed to close engine", "err", err)
		}
	}()

	if os.Getenv("FUNDVAL_PARENT_WATCH") == "1" {
		go watchParent(logger)
	}

	server := newServer(cfg, engine, logger)
	logger.Info("server starting", "addr", server.Addr, "cache", cfg.Cache.Backend)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	signal.Stop(stop)

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
}

func applyFlags(cfg *config.Config, host string, port int, cacheBackend string) {
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if cacheBackend != "" {
		cfg.Cache.Backend = cacheBackend
	}
}

// newLogger logs to stdout and a daily file under the data dir unless the
// config names a log dir.
func newLogger(cfg config.Config) (*slog.Logger, *logging.DailyWriter, error) {
	logDir := cfg.Log.Dir
	if logDir == "" {
		dataDir, err := config.GetDataDir()
		if err != nil {
			return nil, nil, err
		}
		logDir = filepath.Join(dataDir, "logs")
	}
	return logging.New(logging.Options{
		Dir:           logDir,
		RetentionDays: cfg.Log.RetentionDays,
		Level:         logging.ParseLevel(cfg.Log.Level, slog.LevelInfo),
		Format:        cfg.Log.Format,
		Console:       os.Stdout,
	})
}

func openEngine(cfg config.Config, logger *slog.Logger) (*fundval.Engine, error) {
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}
	opts := cfg.EngineOptions()
	opts.Logger = logger
	opts.Store = store
	engine, err := fundval.Open(opts)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return engine, nil
}

func newServer(cfg config.Config, engine *fundval.Engine, logger *slog.Logger) *http.Server {
	handler := api.NewRouter(engine, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	handler = middleware.Compress(5)(handler)

	return &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A cold portfolio can take several upstream round trips per holding.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func watchParent(logger *slog.Logger) {
	for {
		sleep(1 * time.Second)
		if getppid() == 1 {
			logger.Info("parent process exited; shutting down")
			exit(0)
		}
	}
}
