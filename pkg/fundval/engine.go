package fundval

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	defaultWorkers           = 8
	defaultHistoryWindowDays = 30
	recentChangesWindowDays  = 11
	recentChangesPageSize    = 20

	recentChangesNoData = "无数据"
	recentChangesFailed = "获取失败"
)

// Options controls Engine initialization. Zero values fall back to defaults.
type Options struct {
	Logger     *slog.Logger
	HTTPClient HTTPDoer
	// Store backs the valuation cache. Nil means an in-process MemoryStore
	// unless DisableCache is set.
	Store        Store
	DisableCache bool

	QuoteBaseURL   string
	FundBaseURL    string
	QuoteTimeout   time.Duration
	PageTimeout    time.Duration
	HistoryTimeout time.Duration

	RetryAttempts int
	RetryDelay    time.Duration
	RateLimit     float64
	RateBurst     int

	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration

	Workers           int
	HistoryWindowDays int
	HistoryPageSize   int

	// Now overrides the clock used to resolve history windows.
	Now func() time.Time
}

// Engine values portfolios. It is safe for concurrent use; every Calculate
// call keeps its own accumulator and shares only the cache.
type Engine struct {
	logger     *slog.Logger
	quotes     *quoteFetcher
	history    *historyFetcher
	cache      *ValuationCache
	workers    int
	windowDays int
	now        func() time.Time
}

// Open builds an Engine from explicit dependencies.
func Open(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryAttempts < 0 || opts.Workers < 0 || opts.HistoryWindowDays < 0 {
		return nil, NewError(ErrCodeInvalidInput, "retry attempts, workers and history window must not be negative")
	}

	up := newUpstream(upstreamOptions{
		Logger:        logger,
		HTTPClient:    opts.HTTPClient,
		RateLimit:     opts.RateLimit,
		RateBurst:     opts.RateBurst,
		RetryDelay:    defaultDuration(opts.RetryDelay, time.Second),
		FailThreshold: opts.FailThreshold,
		FailWindow:    defaultDuration(opts.FailWindow, 60*time.Second),
		Cooldown:      defaultDuration(opts.Cooldown, 120*time.Second),
	})

	store := opts.Store
	if store == nil && !opts.DisableCache {
		store = NewMemoryStore()
	}
	if opts.DisableCache {
		store = nil
	}

	now := opts.Now
	if now == nil {
		now = NowInShanghai
	}

	return &Engine{
		logger: logger,
		quotes: newQuoteFetcher(up, quoteFetcherOptions{
			QuoteBaseURL: opts.QuoteBaseURL,
			FundBaseURL:  opts.FundBaseURL,
			QuoteTimeout: opts.QuoteTimeout,
			PageTimeout:  opts.PageTimeout,
			Attempts:     opts.RetryAttempts,
		}),
		history: newHistoryFetcher(up, historyFetcherOptions{
			FundBaseURL: opts.FundBaseURL,
			Timeout:     opts.HistoryTimeout,
			PageSize:    opts.HistoryPageSize,
		}),
		cache:      NewValuationCache(store, logger),
		workers:    defaultInt(opts.Workers, defaultWorkers),
		windowDays: defaultInt(opts.HistoryWindowDays, defaultHistoryWindowDays),
		now:        now,
	}, nil
}

// Close releases the cache store.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	return e.cache.Close()
}

// FundInfo returns the current snapshot for code, read through the cache.
func (e *Engine) FundInfo(ctx context.Context, code string) (FundSnapshot, error) {
	return getOrCompute(ctx, e.cache, snapshotKey(code), SnapshotTTL, func(ctx context.Context) (FundSnapshot, error) {
		return e.quotes.Fetch(ctx, code)
	})
}

// History returns up to days calendar days of NAV history ending yesterday,
// latest first. Failures yield an empty sequence.
func (e *Engine) History(ctx context.Context, code string, days int) []NavHistoryPoint {
	if days <= 0 {
		days = e.windowDays
	}
	start, end := historyWindow(e.now(), days)
	points, err := getOrCompute(ctx, e.cache, historyKey(code, start, end), HistoryTTL, func(ctx context.Context) ([]NavHistoryPoint, error) {
		return e.history.fetch(ctx, code, start, end)
	})
	if err != nil {
		e.logger.Warn("nav history unavailable", "code", code, "start", start.Format(dateLayout), "end", end.Format(dateLayout), "err", err)
		return []NavHistoryPoint{}
	}
	return points
}

// RecentChanges returns the daily growth figures of roughly the last two
// trading weeks as one display string, oldest first.
func (e *Engine) RecentChanges(ctx context.Context, code string) string {
	start, end := historyWindow(e.now(), recentChangesWindowDays)
	text, err := getOrCompute(ctx, e.cache, recentChangesKey(code), RecentChangesTTL, func(ctx context.Context) (string, error) {
		rows, err := e.history.fetchRows(ctx, code, start, end, recentChangesPageSize)
		if err != nil {
			return "", err
		}
		return recentChangesText(rows), nil
	})
	if err != nil {
		if errors.Is(err, errHistoryContentMissing) {
			return recentChangesNoData
		}
		e.logger.Error("recent changes unavailable", "code", code, "err", err)
		return recentChangesFailed
	}
	return text
}
