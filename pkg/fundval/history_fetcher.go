package fundval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const serviceHistory = "Eastmoney Fund LSJZ"

// reHistoryContent pulls the HTML table out of `var apidata={ content:"...",records:...}`.
var reHistoryContent = regexp.MustCompile(`content:"(.*?)",records:`)

// errHistoryContentMissing marks a response without the content wrapper.
var errHistoryContentMissing = errors.New("history response has no content wrapper")

type historyFetcherOptions struct {
	FundBaseURL string
	Timeout     time.Duration
	PageSize    int
}

// historyFetcher reads historical unit NAVs from the lsjz table endpoint.
type historyFetcher struct {
	up       *upstream
	baseURL  string
	timeout  time.Duration
	pageSize int
}

// historyRow is one table row as text, in source order.
type historyRow struct {
	date    string
	unitNav string
	growth  string
}

func newHistoryFetcher(up *upstream, opts historyFetcherOptions) *historyFetcher {
	return &historyFetcher{
		up:       up,
		baseURL:  strings.TrimRight(defaultString(opts.FundBaseURL, defaultFundBaseURL), "/"),
		timeout:  defaultDuration(opts.Timeout, 10*time.Second),
		pageSize: defaultInt(opts.PageSize, 40),
	}
}

// fetch returns the points between start and end, latest first. Callers own
// the fallback to an empty sequence so failures stay out of the cache.
func (f *historyFetcher) fetch(ctx context.Context, code string, start, end time.Time) ([]NavHistoryPoint, error) {
	rows, err := f.fetchRows(ctx, code, start, end, f.perPage(start, end))
	if err != nil {
		return nil, err
	}
	return historyPoints(rows), nil
}

// perPage asks for at least one row per calendar day of the window in a single page.
func (f *historyFetcher) perPage(start, end time.Time) int {
	days := int(end.Sub(start).Hours()/24) + 1
	if days > f.pageSize {
		return days
	}
	return f.pageSize
}

func (f *historyFetcher) fetchRows(ctx context.Context, code string, start, end time.Time, per int) ([]historyRow, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, NewError(ErrCodeInvalidInput, "fund code is required")
	}
	query := url.Values{}
	query.Set("type", "lsjz")
	query.Set("code", code)
	query.Set("page", "1")
	query.Set("sdate", start.Format(dateLayout))
	query.Set("edate", end.Format(dateLayout))
	query.Set("per", strconv.Itoa(per))
	endpoint := fmt.Sprintf("%s/f10/F10DataApi.aspx?%s", f.baseURL, query.Encode())

	var rows []historyRow
	err := f.up.retry(ctx, serviceHistory, code, 1, func(ctx context.Context) error {
		body, err := f.up.get(ctx, endpoint, f.timeout)
		if err != nil {
			return err
		}
		rows, err = parseHistoryBody(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func parseHistoryBody(body []byte) ([]historyRow, error) {
	matches := reHistoryContent.FindSubmatch(body)
	if matches == nil {
		return nil, WrapError(ErrCodeParse, "extract history content", errHistoryContentMissing)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(matches[1])))
	if err != nil {
		return nil, WrapError(ErrCodeParse, "parse history table", err)
	}
	var rows []historyRow
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			// header row
			return
		}
		rows = append(rows, historyRow{
			date:    cellText(cells, 0),
			unitNav: cellText(cells, 1),
			growth:  cellText(cells, 3),
		})
	})
	return rows, nil
}

func cellText(cells *goquery.Selection, i int) string {
	if i >= cells.Length() {
		return ""
	}
	return strings.TrimSpace(cells.Eq(i).Text())
}

// historyPoints converts rows, dropping rows without a numeric NAV or a valid
// date, and sorts latest first.
func historyPoints(rows []historyRow) []NavHistoryPoint {
	points := make([]NavHistoryPoint, 0, len(rows))
	for _, row := range rows {
		if _, err := time.Parse(dateLayout, row.date); err != nil {
			continue
		}
		nav, err := parseFloat(row.unitNav)
		if err != nil {
			continue
		}
		points = append(points, NavHistoryPoint{
			Date:               row.date,
			UnitNav:            floatPtr(nav),
			DailyGrowthPercent: optionalFloat(strings.TrimSuffix(row.growth, "%")),
			DailyGrowthRaw:     row.growth,
		})
	}
	// ISO dates sort lexically.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date > points[j].Date
	})
	return points
}

// recentChangesText joins the growth cells ending in "%" in reverse source order.
func recentChangesText(rows []historyRow) string {
	changes := make([]string, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if strings.HasSuffix(rows[i].growth, "%") {
			changes = append(changes, rows[i].growth)
		}
	}
	return strings.Join(changes, " , ")
}
