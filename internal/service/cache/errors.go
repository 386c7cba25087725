package cache

import (
	"encoding/json"
	"encoding/xml"
	"errors"

	"PulseBoard/internal/domain/models"
)

// Classify maps a fetch error onto the upstream taxonomy. Decode failures are
// malformed; everything else (transport, timeouts, non-2xx) is unavailable.
func Classify(source, key string, err error) error {
	if err == nil {
		return nil
	}
	var ue *models.UpstreamError
	if errors.As(err, &ue) {
		return err
	}

	kind := models.ErrUpstreamUnavailable
	var (
		jsonSyntax *json.SyntaxError
		jsonType   *json.UnmarshalTypeError
		xmlSyntax  *xml.SyntaxError
	)
	switch {
	case errors.Is(err, models.ErrUpstreamMalformed),
		errors.As(err, &jsonSyntax),
		errors.As(err, &jsonType),
		errors.As(err, &xmlSyntax):
		kind = models.ErrUpstreamMalformed
	}
	return &models.UpstreamError{Source: source, Key: key, Kind: kind, Err: err}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrUpstreamMalformed):
		return "malformed"
	default:
		return "unavailable"
	}
}
