package mobile

import (
	"context"
	"encoding/json"
	"time"

	"fundval/pkg/fundval"
)

// Core wraps the valuation engine for gomobile bindings. Bound methods take
// and return strings so they survive the language bridge.
type Core struct {
	engine *fundval.Engine
}

// Open initializes the engine with a SQLite cache at cachePath. An empty
// path keeps the cache in memory.
func Open(cachePath string) (*Core, error) {
	return OpenWithUpstream(cachePath, "", "")
}

// OpenWithUpstream is Open with overridden quote and fund page base URLs.
// Empty values keep the public endpoints.
func OpenWithUpstream(cachePath, quoteBaseURL, fundBaseURL string) (*Core, error) {
	opts := fundval.Options{
		QuoteBaseURL: quoteBaseURL,
		FundBaseURL:  fundBaseURL,
	}
	if cachePath != "" {
		store, err := fundval.OpenSQLiteStore(cachePath)
		if err != nil {
			return nil, err
		}
		opts.Store = store
	}
	engine, err := fundval.Open(opts)
	if err != nil {
		if opts.Store != nil {
			_ = opts.Store.Close()
		}
		return nil, err
	}
	return &Core{engine: engine}, nil
}

// Close releases resources.
func (c *Core) Close() error {
	if c == nil || c.engine == nil {
		return nil
	}
	return c.engine.Close()
}

// CalculateJSON values the holdings in holdingsJSON and returns the summary
// as JSON. Both a bare array and a {"holdings": [...]} object are accepted.
func (c *Core) CalculateJSON(holdingsJSON string) (string, error) {
	holdings, err := fundval.DecodeHoldings([]byte(holdingsJSON))
	if err != nil {
		return "", err
	}
	ctx, cancel := callContext()
	defer cancel()
	return marshalJSON(c.engine.Calculate(ctx, holdings))
}

// FundInfoJSON returns the current snapshot for code as JSON.
func (c *Core) FundInfoJSON(code string) (string, error) {
	ctx, cancel := callContext()
	defer cancel()
	snap, err := c.engine.FundInfo(ctx, code)
	if err != nil {
		return "", err
	}
	return marshalJSON(snap)
}

// HistoryJSON returns up to days of NAV history as JSON. Zero days selects
// the default window.
func (c *Core) HistoryJSON(code string, days int) (string, error) {
	if days < 0 {
		return "", fundval.NewError(fundval.ErrCodeInvalidInput, "days must not be negative")
	}
	ctx, cancel := callContext()
	defer cancel()
	return marshalJSON(c.engine.History(ctx, code, days))
}

// RecentChanges returns the recent daily growth summary line for code.
func (c *Core) RecentChanges(code string) string {
	ctx, cancel := callContext()
	defer cancel()
	return c.engine.RecentChanges(ctx, code)
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
