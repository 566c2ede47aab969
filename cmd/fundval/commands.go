package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/subcommands"

	"fundval/internal/config"
	"fundval/internal/logging"
	"fundval/pkg/fundval"
)

// env carries what every subcommand shares: the config flag, output streams
// and the engine constructor.
type env struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
	open       func(configPath string, logger *slog.Logger) (*fundval.Engine, error)
}

func newEnv(stdout, stderr io.Writer) *env {
	return &env{stdout: stdout, stderr: stderr, open: openEngine}
}

func register(c *subcommands.Commander, e *env) {
	c.Register(&calcCmd{env: e}, "valuation")
	c.Register(&infoCmd{env: e}, "valuation")
	c.Register(&historyCmd{env: e}, "valuation")
	c.Register(&changesCmd{env: e}, "valuation")
}

func openEngine(configPath string, logger *slog.Logger) (*fundval.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}
	opts := cfg.EngineOptions()
	opts.Logger = logger
	opts.Store = store
	engine, err := fundval.Open(opts)
	if err != nil && store != nil {
		_ = store.Close()
	}
	return engine, err
}

// logger sends engine logs to stderr so stdout stays parseable JSON.
func (e *env) logger() *slog.Logger {
	level := logging.ParseLevel(os.Getenv("FUNDVAL_LOG_LEVEL"), slog.LevelWarn)
	return slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))
}

// run opens the engine, hands it to fn and prints fn's result as indented JSON.
func (e *env) run(ctx context.Context, fn func(context.Context, *fundval.Engine) (any, error)) subcommands.ExitStatus {
	engine, err := e.open(e.configPath, e.logger())
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		return subcommands.ExitFailure
	}
	defer engine.Close()

	result, err := fn(ctx, engine)
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		return subcommands.ExitFailure
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(e.stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type calcCmd struct {
	*env
	holdingsFile string
}

func (*calcCmd) Name() string     { return "calc" }
func (*calcCmd) Synopsis() string { return "value a portfolio of fund holdings" }
func (*calcCmd) Usage() string {
	return `fundval calc -f <holdings.json>

  Reads holdings as a JSON array or a {"holdings": [...]} object ("-" reads
  stdin) and prints the portfolio summary.
`
}

func (p *calcCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.holdingsFile, "f", "", "Holdings JSON file, or - for stdin.")
}

func (p *calcCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.holdingsFile == "" {
		fmt.Fprintln(p.stderr, "Error: -f is required.")
		return subcommands.ExitUsageError
	}
	holdings, err := readHoldings(p.holdingsFile)
	if err != nil {
		fmt.Fprintln(p.stderr, err)
		return subcommands.ExitFailure
	}
	return p.run(ctx, func(ctx context.Context, engine *fundval.Engine) (any, error) {
		return engine.Calculate(ctx, holdings), nil
	})
}

func readHoldings(name string) ([]fundval.Holding, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("read holdings: %w", err)
	}
	return fundval.DecodeHoldings(data)
}

type infoCmd struct {
	*env
}

func (*infoCmd) Name() string     { return "info" }
func (*infoCmd) Synopsis() string { return "print the current snapshot of one fund" }
func (*infoCmd) Usage() string {
	return `fundval info <code>
`
}

func (*infoCmd) SetFlags(*flag.FlagSet) {}

func (p *infoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	code, status := singleCode(p.stderr, f)
	if status != subcommands.ExitSuccess {
		return status
	}
	return p.run(ctx, func(ctx context.Context, engine *fundval.Engine) (any, error) {
		return engine.FundInfo(ctx, code)
	})
}

type historyCmd struct {
	*env
	days int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print recent NAV history of one fund" }
func (*historyCmd) Usage() string {
	return `fundval history [-days <n>] <code>

  Prints NAV history ending yesterday, latest first. An empty list means the
  history could not be fetched.
`
}

func (p *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.days, "days", 0, "Calendar days of history (0 uses the configured window).")
}

func (p *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	code, status := singleCode(p.stderr, f)
	if status != subcommands.ExitSuccess {
		return status
	}
	if p.days < 0 {
		fmt.Fprintln(p.stderr, "Error: -days must not be negative.")
		return subcommands.ExitUsageError
	}
	return p.run(ctx, func(ctx context.Context, engine *fundval.Engine) (any, error) {
		return engine.History(ctx, code, p.days), nil
	})
}

type changesCmd struct {
	*env
}

func (*changesCmd) Name() string     { return "changes" }
func (*changesCmd) Synopsis() string { return "print the recent daily growth line of one fund" }
func (*changesCmd) Usage() string {
	return `fundval changes <code>
`
}

func (*changesCmd) SetFlags(*flag.FlagSet) {}

func (p *changesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	code, status := singleCode(p.stderr, f)
	if status != subcommands.ExitSuccess {
		return status
	}
	return p.run(ctx, func(ctx context.Context, engine *fundval.Engine) (any, error) {
		return map[string]string{"code": code, "changes": engine.RecentChanges(ctx, code)}, nil
	})
}

func singleCode(stderr io.Writer, f *flag.FlagSet) (string, subcommands.ExitStatus) {
	if f.NArg() != 1 || f.Arg(0) == "" {
		fmt.Fprintln(stderr, "Error: exactly one fund code is required.")
		return "", subcommands.ExitUsageError
	}
	return f.Arg(0), subcommands.ExitSuccess
}
