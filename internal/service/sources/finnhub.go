package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"PulseBoard/internal/domain/models"

	"resty.dev/v3"
)

// FinnhubQuotes fetches one quote per symbol from the Finnhub REST API.
type FinnhubQuotes struct {
	client *resty.Client
	apiKey string
}

func NewFinnhubQuotes(client *resty.Client, apiKey string) *FinnhubQuotes {
	return &FinnhubQuotes{client: client, apiKey: apiKey}
}

// Fetch returns the quote for symbol. Finnhub answers unknown symbols with an
// all-zero body, which is reported as malformed.
func (f *FinnhubQuotes) Fetch(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	body, err := getBody(ctx, f.client, "/quote", map[string]string{
		"symbol": symbol,
		"token":  f.apiKey,
	})
	if err != nil {
		return models.Quote{}, err
	}

	var q models.Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return models.Quote{}, err
	}
	if isZero(q.CurrentPrice) && isZero(q.PreviousClose) {
		return models.Quote{}, fmt.Errorf("%w: no quote for %s", models.ErrUpstreamMalformed, symbol)
	}
	q.Symbol = symbol
	return q, nil
}

func isZero(p *float64) bool { return p == nil || *p == 0 }
