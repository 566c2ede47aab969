package fundval

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

var testNow = time.Date(2024, 1, 6, 10, 30, 0, 0, shanghaiLocation)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUpstream serves canned quote, page and history bodies and counts hits per path.
type fakeUpstream struct {
	mu       sync.Mutex
	quotes   map[string]string
	pages    map[string]string
	history  map[string]string
	failing  map[string]bool
	hits     map[string]int
	lastHist map[string]string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		quotes:   map[string]string{},
		pages:    map[string]string{},
		history:  map[string]string{},
		failing:  map[string]bool{},
		hits:     map[string]int{},
		lastHist: map[string]string{},
	}
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	failing := f.failing[r.URL.Path]
	f.mu.Unlock()
	if failing {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/js/"):
		code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/js/"), ".js")
		f.mu.Lock()
		body, ok := f.quotes[code]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	case r.URL.Path == "/f10/F10DataApi.aspx":
		code := r.URL.Query().Get("code")
		f.mu.Lock()
		f.lastHist[code] = r.URL.RawQuery
		body, ok := f.history[code]
		f.mu.Unlock()
		if !ok {
			_, _ = io.WriteString(w, emptyHistoryBody)
			return
		}
		_, _ = io.WriteString(w, body)
	case strings.HasSuffix(r.URL.Path, ".html"):
		code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".html")
		f.mu.Lock()
		body, ok := f.pages[code]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeUpstream) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeUpstream) totalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.hits {
		total += n
	}
	return total
}

func (f *fakeUpstream) setQuote(code, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[code] = body
}

func (f *fakeUpstream) setFailing(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[path] = true
}

// setupTestEngine starts a fake upstream and an Engine pointed at it.
func setupTestEngine(t *testing.T, tweak func(*Options)) (*Engine, *fakeUpstream, *httptest.Server) {
	t.Helper()
	fake := newFakeUpstream()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	opts := Options{
		Logger:       quietLogger(),
		QuoteBaseURL: server.URL,
		FundBaseURL:  server.URL,
		RetryDelay:   time.Millisecond,
		Now:          func() time.Time { return testNow },
	}
	if tweak != nil {
		tweak(&opts)
	}
	engine, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine, fake, server
}

func quoteBody(code, name, dwjz, gsz, gszzl string) string {
	return fmt.Sprintf(`jsonpgz({"fundcode":"%s","name":"%s","jzrq":"2024-01-05","dwjz":"%s","gsz":"%s","gszzl":"%s","gztime":"2024-01-06 10:30"});`,
		code, name, dwjz, gsz, gszzl)
}

func listedPage(pageURL, name, value, date string) string {
	return fmt.Sprintf(`<html><body>
<div class="fundDetail-tit"><a href="%s" target="_self">%s</a></div>
<dl class="dataItem01"><dd class="dataNums"><span class="ui-font-large">0.98</span></dd></dl>
<dl class="dataItem02"><dt><p>单位净值 (%s)</p></dt><dd class="dataNums"><span class="ui-font-large">%s</span><span>1.2%%</span></dd></dl>
</body></html>`, pageURL, name, date, value)
}

const historyTableBody = `var apidata={ content:"<table class='w782 comm lsjz'><thead><tr><th class='first'>净值日期</th><th>单位净值</th><th>累计净值</th><th>日增长率</th><th>申购状态</th><th>赎回状态</th><th class='tor last'>分红送配</th></tr></thead><tbody>` +
	`<tr><td>2024-01-03</td><td class='tor bold'>1.1000</td><td class='tor bold'>3.2000</td><td class='tor bold grn'>-0.50%</td><td>开放申购</td><td>开放赎回</td><td class='red unbold'></td></tr>` +
	`<tr><td>2024-01-05</td><td class='tor bold'>1.1200</td><td class='tor bold'>3.2200</td><td class='tor bold red'>1.82%</td><td>开放申购</td><td>开放赎回</td><td class='red unbold'></td></tr>` +
	`<tr><td>2024-01-04</td><td class='tor bold'>--</td><td class='tor bold'></td><td class='tor bold'>--</td><td>开放申购</td><td>开放赎回</td><td class='red unbold'></td></tr>` +
	`<tr><td>2024-01-02</td><td class='tor bold'>1.1055</td><td class='tor bold'>3.1900</td><td class='tor bold'>--</td><td>开放申购</td><td>开放赎回</td><td class='red unbold'></td></tr>` +
	`</tbody></table>",records:4,pages:1,curpage:1};`

const emptyHistoryBody = `var apidata={ content:"<table class='w782 comm lsjz'><thead><tr><th class='first'>净值日期</th><th>单位净值</th><th>累计净值</th><th>日增长率</th></tr></thead><tbody><tr><td colspan='7' align='center'>暂无数据!</td></tr></tbody></table>",records:0,pages:0,curpage:1};`
