// Package auth attaches the bearer token to connection URLs.
//
// The server authenticates the WebSocket upgrade with a "token" query
// parameter. Tokens are never refreshed here; a new token means a new
// connection.
package auth

import (
	"fmt"
	"net/url"
	"strings"
)

// TokenParam is the query parameter carrying the bearer token.
const TokenParam = "token"

// BuildURL returns endpoint with token attached as the "token" query
// parameter. Existing query parameters are kept; an existing token is
// replaced. http and https endpoints are mapped to ws and wss. An empty
// token leaves the endpoint's query untouched.
func BuildURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}

	if token != "" {
		q := u.Query()
		q.Set(TokenParam, token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// Redact replaces the token in a URL built by BuildURL so it can be
// logged. Unparseable input is returned as "<invalid url>".
func Redact(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has(TokenParam) {
		q.Set(TokenParam, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
