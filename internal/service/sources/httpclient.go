package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"PulseBoard/internal/domain/models"
	applogger "PulseBoard/pkg/logger"

	"resty.dev/v3"
)

// ClientConfig shapes the resty client shared by the adapters of one upstream.
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
}

func (c *ClientConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 500 * time.Millisecond
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = 5 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "PulseBoard/1.0"
	}
}

// NewHTTPClient builds a resty client with timeout and bounded retries on
// transport errors, 5xx, 408 and 429.
func NewHTTPClient(cfg ClientConfig, log *applogger.Logger) *resty.Client {
	cfg.setDefaults()
	if log == nil {
		log = applogger.Nop()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryConditions(retryCondition).
		AddRetryHooks(func(r *resty.Response, err error) {
			fields := []applogger.Field{
				applogger.String("url", r.Request.URL),
				applogger.Int("attempt", r.Request.Attempt),
			}
			if err != nil {
				fields = append(fields, applogger.Error(err))
			} else {
				fields = append(fields, applogger.Int("status", r.StatusCode()))
			}
			log.Debug("retrying upstream request", fields...)
		})
	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}
	return client
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	switch code := r.StatusCode(); {
	case code >= 500:
		return true
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	}
	return false
}

// getBody issues a GET and returns the body of a 2xx response. Non-2xx and
// transport failures wrap ErrUpstreamUnavailable; an empty body wraps
// ErrUpstreamMalformed.
func getBody(ctx context.Context, client *resty.Client, path string, params map[string]string) ([]byte, error) {
	req := client.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d", models.ErrUpstreamUnavailable, resp.StatusCode())
	}
	body := resp.Bytes()
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", models.ErrUpstreamMalformed)
	}
	return body, nil
}
