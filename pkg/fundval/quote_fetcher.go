package fundval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultQuoteBaseURL = "http://fundgz.1234567.com.cn"
	defaultFundBaseURL  = "http://fund.eastmoney.com"

	serviceQuote = "Eastmoney Fund GZ"
	servicePage  = "Eastmoney Fund Page"
)

// listedPrefixes routes listed/LOF codes to the detail page scraper. The match is
// an ordered prefix check, so an open-end code that happens to start with one of
// these letters is misrouted; that is a known limitation of the upstream scheme.
var listedPrefixes = []string{"OF", "F", "SH", "SZ"}

// reJSONP extracts the JSON object from "jsonpgz({...});".
var reJSONP = regexp.MustCompile(`^[A-Za-z_$][\w$]*\((.*)\)`)

// isListedCode reports whether code is fetched through the listed/LOF path.
func isListedCode(code string) bool {
	for _, p := range listedPrefixes {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

type quoteFetcherOptions struct {
	QuoteBaseURL string
	FundBaseURL  string
	QuoteTimeout time.Duration
	PageTimeout  time.Duration
	Attempts     int
}

// quoteFetcher retrieves a single fund's current valuation snapshot.
type quoteFetcher struct {
	up           *upstream
	quoteBaseURL string
	fundBaseURL  string
	quoteTimeout time.Duration
	pageTimeout  time.Duration
	attempts     int
}

func newQuoteFetcher(up *upstream, opts quoteFetcherOptions) *quoteFetcher {
	return &quoteFetcher{
		up:           up,
		quoteBaseURL: strings.TrimRight(defaultString(opts.QuoteBaseURL, defaultQuoteBaseURL), "/"),
		fundBaseURL:  strings.TrimRight(defaultString(opts.FundBaseURL, defaultFundBaseURL), "/"),
		quoteTimeout: defaultDuration(opts.QuoteTimeout, 5*time.Second),
		pageTimeout:  defaultDuration(opts.PageTimeout, 10*time.Second),
		attempts:     defaultInt(opts.Attempts, 3),
	}
}

// Fetch returns the snapshot for code. It fails with ErrUpstreamUnavailable once
// retries are exhausted, or ErrParse when the response never had the expected shape.
func (f *quoteFetcher) Fetch(ctx context.Context, code string) (FundSnapshot, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return FundSnapshot{}, NewError(ErrCodeInvalidInput, "fund code is required")
	}
	if isListedCode(code) {
		return f.fetchListed(ctx, code)
	}
	return f.fetchOpenEnd(ctx, code)
}

func (f *quoteFetcher) fetchOpenEnd(ctx context.Context, code string) (FundSnapshot, error) {
	url := fmt.Sprintf("%s/js/%s.js", f.quoteBaseURL, code)
	var snapshot FundSnapshot
	err := f.up.retry(ctx, serviceQuote, code, f.attempts, func(ctx context.Context) error {
		body, err := f.up.get(ctx, url, f.quoteTimeout)
		if err != nil {
			return err
		}
		snapshot, err = parseOpenEndQuote(code, body)
		return err
	})
	if err != nil {
		return FundSnapshot{}, err
	}
	return snapshot, nil
}

func parseOpenEndQuote(code string, body []byte) (FundSnapshot, error) {
	matches := reJSONP.FindSubmatch(body)
	if matches == nil {
		return FundSnapshot{}, NewError(ErrCodeParse, "quote body is not a JSONP payload")
	}
	var data map[string]any
	if err := json.Unmarshal(matches[1], &data); err != nil {
		return FundSnapshot{}, WrapError(ErrCodeUpstreamUnavailable, "decode quote payload", err)
	}
	unitNav, err := parseFloat(data["dwjz"])
	if err != nil {
		return FundSnapshot{}, WrapError(ErrCodeParse, "quote payload has no usable dwjz", err)
	}
	name, _ := data["name"].(string)
	asOf, _ := data["gztime"].(string)
	return newOpenEndSnapshot(code, name, asOf, unitNav, optionalFloat(data["gsz"]), optionalFloat(data["gszzl"])), nil
}

func (f *quoteFetcher) fetchListed(ctx context.Context, code string) (FundSnapshot, error) {
	url := fmt.Sprintf("%s/%s.html", f.fundBaseURL, code)
	var snapshot FundSnapshot
	err := f.up.retry(ctx, servicePage, code, f.attempts, func(ctx context.Context) error {
		body, err := f.up.get(ctx, url, f.pageTimeout)
		if err != nil {
			return err
		}
		snapshot, err = parseListedPage(code, url, body)
		return err
	})
	if err != nil {
		return FundSnapshot{}, err
	}
	return snapshot, nil
}

// parseListedPage reads the detail page. Every element is addressed by the
// page's own markup; a missing one means the layout drifted.
func parseListedPage(code, pageURL string, body []byte) (FundSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return FundSnapshot{}, WrapError(ErrCodeParse, "parse detail page", err)
	}

	nameLink := doc.Find(`a[target="_self"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		return href == pageURL
	}).First()
	if nameLink.Length() == 0 {
		return FundSnapshot{}, NewError(ErrCodeParse, "detail page has no fund name link")
	}

	dataNums := doc.Find("dd.dataNums")
	if dataNums.Length() < 2 {
		return FundSnapshot{}, NewError(ErrCodeParse, fmt.Sprintf("detail page has %d dataNums blocks, want 2", dataNums.Length()))
	}
	valueSpan := dataNums.Eq(1).Find("span").First()
	if valueSpan.Length() == 0 {
		return FundSnapshot{}, NewError(ErrCodeParse, "detail page value block has no span")
	}
	value, err := parseFloat(valueSpan.Text())
	if err != nil {
		return FundSnapshot{}, WrapError(ErrCodeParse, "detail page value is not a number", err)
	}

	dateBlock := doc.Find("dl.dataItem02").First()
	if dateBlock.Length() == 0 {
		return FundSnapshot{}, NewError(ErrCodeParse, "detail page has no dataItem02 block")
	}
	dateParagraph := dateBlock.Find("p").First()
	if dateParagraph.Length() == 0 {
		return FundSnapshot{}, NewError(ErrCodeParse, "detail page date block has no paragraph")
	}

	return newListedSnapshot(code, strings.TrimSpace(nameLink.Text()), strings.TrimSpace(dateParagraph.Text()), value), nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func defaultDuration(v time.Duration, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultInt(v int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
