package models

import "time"

// SnapshotType discriminates DashboardData payloads.
type SnapshotType string

const (
	SnapshotStocks  SnapshotType = "stocks"
	SnapshotWeather SnapshotType = "weather"
	SnapshotNews    SnapshotType = "news"
	SnapshotSystem  SnapshotType = "system"
	SnapshotFull    SnapshotType = "full"
)

// DashboardData is an immutable point-in-time aggregate. Sections come from
// independently refreshed caches, so their FetchedAt stamps may differ.
type DashboardData struct {
	Type      SnapshotType  `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Stocks    *StocksData   `json:"stocks,omitempty"`
	Weather   []WeatherData `json:"weather,omitempty"`
	News      *NewsData     `json:"news,omitempty"`
	System    *SystemData   `json:"system,omitempty"`
}

// NewSystemSnapshot wraps telemetry in a system snapshot.
func NewSystemSnapshot(sys SystemData, at time.Time) DashboardData {
	return DashboardData{Type: SnapshotSystem, Timestamp: at, System: &sys}
}

type StocksData struct {
	Quotes    []StockQuote `json:"quotes"`
	FetchedAt time.Time    `json:"fetchedAt"`
}

// StockQuote carries nil price fields when the upstream quote is unavailable.
type StockQuote struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	CurrentPrice  *float64 `json:"currentPrice"`
	Change        *float64 `json:"change"`
	PercentChange *float64 `json:"percentChange"`
	HighPrice     *float64 `json:"highPrice"`
	LowPrice      *float64 `json:"lowPrice"`
	OpenPrice     *float64 `json:"openPrice"`
	PreviousClose *float64 `json:"previousClose"`
}

// Quote is a raw upstream quote.
type Quote struct {
	Symbol        string    `json:"symbol"`
	CurrentPrice  *float64  `json:"c"`
	Change        *float64  `json:"d"`
	PercentChange *float64  `json:"dp"`
	HighPrice     *float64  `json:"h"`
	LowPrice      *float64  `json:"l"`
	OpenPrice     *float64  `json:"o"`
	PreviousClose *float64  `json:"pc"`
	FetchedAt     time.Time `json:"-"`
}

// StockQuoteFrom labels a raw quote. A nil quote yields an empty quote.
func StockQuoteFrom(symbol, name string, q *Quote) StockQuote {
	sq := StockQuote{Symbol: symbol, Name: name}
	if q == nil {
		return sq
	}
	sq.CurrentPrice = q.CurrentPrice
	sq.Change = q.Change
	sq.PercentChange = q.PercentChange
	sq.HighPrice = q.HighPrice
	sq.LowPrice = q.LowPrice
	sq.OpenPrice = q.OpenPrice
	sq.PreviousClose = q.PreviousClose
	return sq
}

type WeatherData struct {
	City               string    `json:"city"`
	CityKo             string    `json:"cityKo"`
	TemperatureCelsius float64   `json:"temperatureCelsius"`
	Humidity           int       `json:"humidity"`
	Weather            string    `json:"weather"`
	Icon               string    `json:"icon"`
	FetchedAt          time.Time `json:"fetchedAt"`
}

// DisplayName prefers the localized city name.
func (w WeatherData) DisplayName() string {
	if w.CityKo != "" {
		return w.CityKo
	}
	return w.City
}

type NewsData struct {
	YahooNews  []NewsItem `json:"yahooNews"`
	YonhapNews []NewsItem `json:"yonhapNews"`
	FetchedAt  time.Time  `json:"fetchedAt"`
}

type NewsItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Source  string `json:"source"`
	PubDate string `json:"pubDate"`
}

// SystemData is process and host telemetry. ThreadCount is the goroutine count.
type SystemData struct {
	CPUUsage           float64 `json:"cpuUsage"`
	MemoryUsagePercent float64 `json:"memoryUsagePercent"`
	MemoryUsed         uint64  `json:"memoryUsed"`
	MemoryTotal        uint64  `json:"memoryTotal"`
	HeapUsagePercent   float64 `json:"heapUsagePercent"`
	HeapUsed           uint64  `json:"heapUsed"`
	HeapMax            uint64  `json:"heapMax"`
	ThreadCount        int     `json:"threadCount"`
	GCCount            uint32  `json:"gcCount"`
	GCTimeMillis       int64   `json:"gcTime"`
	UptimeMillis       int64   `json:"uptimeMillis"`
}

// DashboardConfig is the per-user dashboard layout.
type DashboardConfig struct {
	YoutubeURL *string        `json:"youtubeUrl"`
	Tickers    []TickerConfig `json:"tickers"`
}

type TickerConfig struct {
	Symbol string `json:"symbol" validate:"required,max=16"`
	Name   string `json:"name" validate:"max=64"`
}

const DefaultYoutubeURL = "https://www.youtube.com/watch?v=jfKfPfyJRdk"

// DefaultDashboardConfig is served to users without saved settings.
func DefaultDashboardConfig() DashboardConfig {
	url := DefaultYoutubeURL
	return DashboardConfig{
		YoutubeURL: &url,
		Tickers: []TickerConfig{
			{Symbol: "SPY", Name: "S&P500"},
			{Symbol: "QLD", Name: "NAS2X"},
			{Symbol: "NVDA", Name: "NVIDIA"},
			{Symbol: "TSLA", Name: "TESLA"},
			{Symbol: "SNPS", Name: "Synop"},
			{Symbol: "REKR", Name: "Rekor"},
			{Symbol: "SMCX", Name: "SMC"},
			{Symbol: "ETHU", Name: "ETH2X"},
			{Symbol: "BITX", Name: "BTC2X"},
			{Symbol: "GLDM", Name: "Gold"},
			{Symbol: "XXRP", Name: "XRP"},
			{Symbol: "SOLT", Name: "SOL"},
		},
	}
}

// Symbols lists the configured ticker symbols in order.
func (c DashboardConfig) Symbols() []string {
	out := make([]string, 0, len(c.Tickers))
	for _, t := range c.Tickers {
		out = append(out, t.Symbol)
	}
	return out
}
