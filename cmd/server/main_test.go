package main

import (
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"fundval/internal/config"
	"fundval/pkg/fundval"
)

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(&cfg, "", 0, "")
	if cfg.Server.Addr() != "127.0.0.1:8000" || cfg.Cache.Backend != config.CacheMemory {
		t.Fatalf("empty flags must keep config: %+v", cfg.Server)
	}
	applyFlags(&cfg, "0.0.0.0", 9001, "none")
	if cfg.Server.Addr() != "0.0.0.0:9001" || cfg.Cache.Backend != config.CacheNone {
		t.Fatalf("flags must override config: %+v %+v", cfg.Server, cfg.Cache)
	}
}

func TestOpenEngineWithSQLiteCache(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = config.CacheSQLite
	cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "cache.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine, err := openEngine(cfg, logger)
	if err != nil {
		t.Fatalf("openEngine: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(cfg.Cache.SQLitePath); err != nil {
		t.Fatalf("expected cache db file: %v", err)
	}
}

func TestNewServerServesHealth(t *testing.T) {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := fundval.Open(fundval.Options{Logger: logger})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer engine.Close()

	server := newServer(cfg, engine, logger)
	if server.Addr != "127.0.0.1:8000" || server.WriteTimeout != 120*time.Second {
		t.Fatalf("unexpected server: %s %v", server.Addr, server.WriteTimeout)
	}
	rr := httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestWatchParentExits(t *testing.T) {
	origGetppid := getppid
	origSleep := sleep
	origExit := exit
	defer func() {
		getppid = origGetppid
		sleep = origSleep
		exit = origExit
	}()

	getppid = func() int { return 1 }
	sleep = func(time.Duration) {}

	done := make(chan struct{})
	exit = func(code int) {
		close(done)
		runtime.Goexit()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	go watchParent(logger)

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("watchParent did not exit")
	}
}

func TestMainLifecycle(t *testing.T) {
	tmp := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(cwd) }()

	origArgs := os.Args
	origCommandLine := flag.CommandLine
	defer func() {
		os.Args = origArgs
		flag.CommandLine = origCommandLine
		config.SetRuntimeDataDir("")
	}()

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flag.CommandLine.SetOutput(io.Discard)
	os.Args = []string{
		"server",
		"--data-dir", tmp,
		"--port", "18765",
		"--host", "127.0.0.1",
		"--cache", "none",
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(syscall.SIGTERM)
		}
	}()

	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("main did not exit")
	}
	if _, err := os.Stat(filepath.Join(tmp, "logs")); err != nil {
		t.Fatalf("expected log dir under data dir: %v", err)
	}
}
