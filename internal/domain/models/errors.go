package models

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrUpstreamMalformed    = errors.New("upstream response malformed")
	ErrConnectionLost       = errors.New("connection lost")
	ErrRuleNotFound         = errors.New("alert rule not found")
	ErrRecordNotFound       = errors.New("record not found")
	ErrConfigurationInvalid = errors.New("configuration invalid")
)

// UpstreamError carries the failing source and key alongside its class.
type UpstreamError struct {
	Source string
	Key    string
	Kind   error // ErrUpstreamUnavailable or ErrUpstreamMalformed
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Source, e.Key, e.Kind, e.Err)
}

// Unwrap exposes both the class and the cause to errors.Is.
func (e *UpstreamError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// InvalidConfig wraps ErrConfigurationInvalid with a field-level reason.
func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigurationInvalid, fmt.Sprintf(format, args...))
}
