package harvest

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies why a fetch ended without a response.
type FetchErrorKind string

// Fetch error kinds.
const (
	// FetchClient is a non-retryable response such as 404 or 403.
	FetchClient FetchErrorKind = "client"
	// FetchExhausted means every attempt hit a transient failure.
	FetchExhausted FetchErrorKind = "exhausted"
	// FetchCanceled means the caller's context ended first.
	FetchCanceled FetchErrorKind = "canceled"
)

// FetchError is the terminal outcome of a fetch call that produced no usable response.
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Attempts   int
	Kind       FetchErrorKind
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s (%s): %s after %d attempt(s)", e.URL, e.Source, e.Kind, e.Attempts)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(", last status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError marks a single malformed upstream item. The run skips it and counts it.
type ParseError struct {
	Source string
	Item   string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("parse %s item: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("parse %s item %q: %v", e.Source, e.Item, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SourceError records that a whole source failed.
type SourceError struct {
	Source  string
	Timeout bool
	Err     error
}

func (e *SourceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("source %s timed out: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("source %s failed: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ConfigError is fatal and raised before any fetch begins.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid config"
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// WriteError is fatal and raised when an output destination cannot be written.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
