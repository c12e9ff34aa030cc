// Package render turns web pages into PDF files.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrorKind classifies render failures.
type ErrorKind string

const (
	KindInvalidURL ErrorKind = "invalid_url"
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindCrash      ErrorKind = "crash"
)

// Error is returned by every renderer in this package.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a render error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// NormalizeURL prepares user input for a renderer: surrounding space is
// trimmed and a bare host such as "example.com" gets an http:// scheme.
// Only http and https are accepted.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty url")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", errors.New("url contains whitespace")
	}
	if !schemePattern.MatchString(s) {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("url has no host")
	}
	return u.String(), nil
}

// networkMarkers are substrings renderers put in messages for failures to
// reach the site.
var networkMarkers = []string{
	"net::ERR_",
	"HostNotFoundError",
	"ConnectionRefusedError",
	"RemoteHostClosedError",
	"UnknownNetworkError",
	"SslHandshakeFailedError",
	"no such host",
	"connection refused",
}

var invalidURLMarkers = []string{
	"net::ERR_INVALID_URL",
	"ProtocolUnknownError",
	"Cannot navigate to invalid URL",
}

// classify wraps err in an *Error with the best matching kind.
func classify(ctx context.Context, target string, err error) error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}

	kind := KindCrash
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case containsAny(msg, invalidURLMarkers):
		kind = KindInvalidURL
	case containsAny(msg, networkMarkers):
		kind = KindNetwork
	}
	return &Error{Kind: kind, URL: target, Err: err}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
