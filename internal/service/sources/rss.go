package sources

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"PulseBoard/internal/domain/models"

	"github.com/jonboulle/clockwork"
	"resty.dev/v3"
)

const (
	maxFeedItems      = 100
	maxDescriptionLen = 200
)

// FeedSpec describes one configured feed.
type FeedSpec struct {
	URL    string
	Title  string
	Source string // short source tag stamped on every item
}

// DefaultFeeds are the dashboard news feeds.
func DefaultFeeds() map[models.FeedSource]FeedSpec {
	return map[models.FeedSource]FeedSpec{
		models.FeedYahooMarket: {URL: "https://finance.yahoo.com/news/rssindex", Title: "Yahoo Finance - Market News", Source: "yahoo"},
		models.FeedYonhapAll:   {URL: "https://www.yonhapnewstv.co.kr/browse/feed/", Title: "Yonhap News TV", Source: "yonhap"},
	}
}

// RSSFeeds fetches and parses RSS 2.0, RSS 1.0 and Atom documents. Keys are
// FeedSource names.
type RSSFeeds struct {
	client *resty.Client
	feeds  map[models.FeedSource]FeedSpec
	clock  clockwork.Clock
}

func NewRSSFeeds(client *resty.Client, feeds map[models.FeedSource]FeedSpec, clock clockwork.Clock) *RSSFeeds {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if len(feeds) == 0 {
		feeds = DefaultFeeds()
	}
	return &RSSFeeds{client: client, feeds: feeds, clock: clock}
}

// Keys lists the configured feed keys.
func (r *RSSFeeds) Keys() []string {
	out := make([]string, 0, len(r.feeds))
	for k := range r.feeds {
		out = append(out, string(k))
	}
	return out
}

func (r *RSSFeeds) Fetch(ctx context.Context, key string) (models.Feed, error) {
	spec, ok := r.feeds[models.FeedSource(key)]
	if !ok {
		return models.Feed{}, models.InvalidConfig("unknown feed %q", key)
	}

	body, err := getBody(ctx, r.client, spec.URL, nil)
	if err != nil {
		return models.Feed{}, err
	}
	items, err := ParseFeed(body, spec.Source)
	if err != nil {
		return models.Feed{}, err
	}
	return models.Feed{
		URL:       spec.URL,
		Title:     spec.Title,
		Source:    spec.Source,
		ItemCount: len(items),
		Items:     items,
		FetchedAt: r.clock.Now().UTC(),
	}, nil
}

// EmptyFeed is served for a feed that never loaded.
func EmptyFeed(key string) models.Feed {
	spec := DefaultFeeds()[models.FeedSource(key)]
	return models.Feed{URL: spec.URL, Title: spec.Title, Source: spec.Source, Items: []models.FeedItem{}}
}

type xmlLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

type xmlEntry struct {
	Title       string    `xml:"title"`
	Links       []xmlLink `xml:"link"`
	Description string    `xml:"description"`
	Summary     string    `xml:"summary"`
	PubDate     string    `xml:"pubDate"`
	Updated     string    `xml:"updated"`
}

// xmlDoc covers <rss><channel><item>, RDF's root-level <item> and Atom's <entry>.
type xmlDoc struct {
	Channel struct {
		Items []xmlEntry `xml:"item"`
	} `xml:"channel"`
	Items   []xmlEntry `xml:"item"`
	Entries []xmlEntry `xml:"entry"`
}

// ParseFeed extracts at most 100 items from an RSS or Atom body.
func ParseFeed(body []byte, source string) ([]models.FeedItem, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var doc xmlDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	entries := doc.Channel.Items
	if len(entries) == 0 {
		entries = doc.Items
	}
	if len(entries) == 0 {
		entries = doc.Entries
	}
	if len(entries) == 0 && !looksLikeFeed(body) {
		return nil, fmt.Errorf("%w: no rss or atom root", models.ErrUpstreamMalformed)
	}
	if len(entries) > maxFeedItems {
		entries = entries[:maxFeedItems]
	}

	items := make([]models.FeedItem, 0, len(entries))
	for _, e := range entries {
		desc := e.Description
		if strings.TrimSpace(desc) == "" {
			desc = e.Summary
		}
		pub := e.PubDate
		if strings.TrimSpace(pub) == "" {
			pub = e.Updated
		}
		items = append(items, models.FeedItem{
			Title:       strings.TrimSpace(e.Title),
			Link:        e.link(),
			Description: CleanDescription(desc),
			PubDate:     strings.TrimSpace(pub),
			Source:      source,
		})
	}
	return items, nil
}

func (e xmlEntry) link() string {
	for _, l := range e.Links {
		if s := strings.TrimSpace(l.Text); s != "" {
			return s
		}
	}
	for _, l := range e.Links {
		if l.Href != "" {
			return l.Href
		}
	}
	return ""
}

func looksLikeFeed(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<rss") || strings.Contains(head, "<feed") || strings.Contains(head, "<rdf")
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// CleanDescription strips markup and caps the text at 200 characters.
func CleanDescription(s string) string {
	s = strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
	if utf8.RuneCountInString(s) <= maxDescriptionLen {
		return s
	}
	return string([]rune(s)[:maxDescriptionLen]) + "..."
}
