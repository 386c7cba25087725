package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"PulseBoard/internal/domain/models"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/procfs"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(baseURL string) ClientConfig {
	return ClientConfig{BaseURL: baseURL, Timeout: 2 * time.Second}
}

func TestFinnhubQuoteFetch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "AAPL" || r.URL.Query().Get("token") != "k" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":101.5,"d":1.5,"dp":1.5,"h":102,"l":99,"o":100,"pc":100}`))
	})

	f := NewFinnhubQuotes(NewHTTPClient(testClient(srv.URL), nil), "k")
	q, err := f.Fetch(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.Symbol != "AAPL" || q.CurrentPrice == nil || *q.CurrentPrice != 101.5 {
		t.Fatalf("unexpected quote %+v", q)
	}
	if q.PercentChange == nil || *q.PercentChange != 1.5 {
		t.Fatalf("unexpected percent change %v", q.PercentChange)
	}
}

func TestFinnhubUnknownSymbolIsMalformed(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0}`))
	})
	f := NewFinnhubQuotes(NewHTTPClient(testClient(srv.URL), nil), "k")
	if _, err := f.Fetch(context.Background(), "NOPE"); !errors.Is(err, models.ErrUpstreamMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestNon2xxIsUnavailable(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	f := NewFinnhubQuotes(NewHTTPClient(testClient(srv.URL), nil), "k")
	if _, err := f.Fetch(context.Background(), "AAPL"); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestOpenWeatherConvertsKelvin(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/2.5/weather" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("lat") != "37.5665" {
			t.Errorf("unexpected lat %s", r.URL.Query().Get("lat"))
		}
		_, _ = w.Write([]byte(`{"weather":[{"main":"Clear","description":"clear sky","icon":"01d"}],"main":{"temp":300.0,"humidity":40}}`))
	})

	clock := clockwork.NewFakeClock()
	ow := NewOpenWeather(NewHTTPClient(testClient(srv.URL), nil), "k", models.MajorCities(), clock)
	wd, err := ow.Fetch(context.Background(), "seoul")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if wd.City != "Seoul" || wd.CityKo != "서울" {
		t.Fatalf("unexpected city %+v", wd)
	}
	if wd.TemperatureCelsius != 26.85 {
		t.Fatalf("expected 26.85, got %v", wd.TemperatureCelsius)
	}
	if wd.Humidity != 40 || wd.Weather != "Clear" || wd.Icon != "01d" {
		t.Fatalf("unexpected conditions %+v", wd)
	}
}

func TestKelvinToCelsius(t *testing.T) {
	cases := []struct {
		k, want float64
	}{
		{273.15, 0},
		{0, -273.15},
		{288.712, 15.56},
		{250, -23.15},
	}
	for _, tc := range cases {
		if got := KelvinToCelsius(tc.k); got != tc.want {
			t.Fatalf("KelvinToCelsius(%v) = %v, want %v", tc.k, got, tc.want)
		}
	}
}

func TestParseFeedRSS(t *testing.T) {
	long := strings.Repeat("a", 250)
	body := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
<item><title> First </title><link>https://x/1</link><description><![CDATA[<p>Hello <b>world</b></p>]]></description><pubDate>Mon, 01 Jan 2024</pubDate></item>
<item><title>Second</title><link>https://x/2</link><description>` + long + `</description></item>
</channel></rss>`

	items, err := ParseFeed([]byte(body), "yahoo")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "First" || items[0].Link != "https://x/1" || items[0].Description != "Hello world" {
		t.Fatalf("unexpected first item %+v", items[0])
	}
	if items[0].Source != "yahoo" || items[0].PubDate != "Mon, 01 Jan 2024" {
		t.Fatalf("unexpected first item meta %+v", items[0])
	}
	if want := strings.Repeat("a", 200) + "..."; items[1].Description != want {
		t.Fatalf("expected truncated description, got %d chars", len(items[1].Description))
	}
}

func TestParseFeedAtom(t *testing.T) {
	body := `<feed xmlns="http://www.w3.org/2005/Atom">
<entry><title>A</title><link href="https://y/a"/><summary>sum</summary><updated>2024-01-01T00:00:00Z</updated></entry>
</feed>`
	items, err := ParseFeed([]byte(body), "yonhap")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	it := items[0]
	if it.Link != "https://y/a" || it.Description != "sum" || it.PubDate != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected atom item %+v", it)
	}
}

func TestParseFeedCapsItems(t *testing.T) {
	var b strings.Builder
	b.WriteString("<rss><channel>")
	for i := 0; i < 150; i++ {
		b.WriteString("<item><title>x</title></item>")
	}
	b.WriteString("</channel></rss>")
	items, err := ParseFeed([]byte(b.String()), "s")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 100 {
		t.Fatalf("expected 100 items, got %d", len(items))
	}
}

func TestParseFeedRejectsNonFeed(t *testing.T) {
	if _, err := ParseFeed([]byte(`<html><body>maintenance</body></html>`), "s"); !errors.Is(err, models.ErrUpstreamMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestRSSFeedsFetch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<rss><channel><item><title>n</title><link>l</link></item></channel></rss>`))
	})
	feeds := map[models.FeedSource]FeedSpec{
		models.FeedYahooMarket: {URL: srv.URL + "/rss", Title: "Yahoo", Source: "yahoo"},
	}
	r := NewRSSFeeds(NewHTTPClient(ClientConfig{Timeout: time.Second}, nil), feeds, clockwork.NewFakeClock())

	feed, err := r.Fetch(context.Background(), string(models.FeedYahooMarket))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if feed.ItemCount != 1 || feed.Title != "Yahoo" || feed.Items[0].Source != "yahoo" {
		t.Fatalf("unexpected feed %+v", feed)
	}
	if _, err := r.Fetch(context.Background(), "NOPE"); !errors.Is(err, models.ErrConfigurationInvalid) {
		t.Fatalf("expected invalid config for unknown feed, got %v", err)
	}
}

func TestTrafficPassesThroughJSON(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("getType") != "json" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"body":{"items":[{"roadName":"A1"}]}}`))
	})
	tr := NewTrafficEvents(NewHTTPClient(testClient(srv.URL), nil), "k")
	doc, err := tr.Fetch(context.Background(), PublicDataKey)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(doc), "A1") {
		t.Fatalf("unexpected document %s", doc)
	}
}

func TestEmergencyMergesDays(t *testing.T) {
	var (
		mu    sync.Mutex
		dates []string
	)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dates = append(dates, r.URL.Query().Get("crtDt"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"body":[{"MSG_CN":"flood","RCPTN_RGN_NM":"Seoul","SN":"42","EMRG_STEP_NM":"safety"}]}`))
	})

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC))
	em := NewEmergencyAlerts(NewHTTPClient(testClient(srv.URL), nil), "k", clock)
	doc, err := em.Fetch(context.Background(), PublicDataKey)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dates) != 2 || dates[0] != "20240302" || dates[1] != "20240301" {
		t.Fatalf("expected Seoul-local today and yesterday, got %v", dates)
	}

	var out struct {
		Items []EmergencyMessage `json:"items"`
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 2 || out.Items[0].Message != "flood" || out.Items[0].SerialNumber != 42 {
		t.Fatalf("unexpected items %+v", out.Items)
	}
}

func TestParseEmergencyWrappedForm(t *testing.T) {
	body := `{"today":"{\"body\":[{\"MSG_CN\":\"a\",\"SN\":1}]}","yesterday":{"body":[{"MSG_CN":"b"}]}}`
	items, err := parseEmergency([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 2 || items[0].Message != "a" || items[0].SerialNumber != 1 || items[1].Message != "b" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestCPUPercent(t *testing.T) {
	prev := procfs.CPUStat{User: 100, System: 50, Idle: 850}
	cur := procfs.CPUStat{User: 130, System: 70, Idle: 900}
	if got := CPUPercent(&prev, cur); got != 50 {
		t.Fatalf("expected 50%%, got %v", got)
	}
	if got := CPUPercent(&cur, cur); got != 0 {
		t.Fatalf("expected 0 for identical samples, got %v", got)
	}
}

func TestCollectReportsRuntimeStats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewSystemCollector(t.TempDir(), clock, nil)
	clock.Advance(3 * time.Second)

	sys := c.Collect()
	if sys.ThreadCount <= 0 || sys.HeapMax == 0 {
		t.Fatalf("runtime stats missing: %+v", sys)
	}
	if sys.UptimeMillis != 3000 {
		t.Fatalf("expected uptime 3000ms, got %d", sys.UptimeMillis)
	}
	if sys.HeapUsagePercent <= 0 || sys.HeapUsagePercent > 100 {
		t.Fatalf("heap percent out of range: %v", sys.HeapUsagePercent)
	}
}
