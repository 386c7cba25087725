package models

import "time"

// FeedSource names a configured RSS/Atom feed.
type FeedSource string

const (
	FeedYahooMarket FeedSource = "YAHOO_MARKET"
	FeedYonhapAll   FeedSource = "YONHAP_ALL"
)

// Feed is a parsed RSS 2.0 or Atom document.
type Feed struct {
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Source    string     `json:"source"`
	ItemCount int        `json:"itemCount"`
	Items     []FeedItem `json:"items"`
	FetchedAt time.Time  `json:"fetchedAt"`
}

type FeedItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	PubDate     string `json:"pubDate"`
	Source      string `json:"source"`
}

// NewsItems converts feed items to dashboard news items.
func (f Feed) NewsItems() []NewsItem {
	out := make([]NewsItem, 0, len(f.Items))
	for _, it := range f.Items {
		out = append(out, NewsItem{Title: it.Title, Link: it.Link, Source: it.Source, PubDate: it.PubDate})
	}
	return out
}
