package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// Endpoint returns an attribute describing an RPC endpoint without leaking
// credentials. Hosted providers embed API keys in the userinfo, query string or
// final path segment, so only scheme and host survive.
func Endpoint(key, raw string) slog.Attr {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return slog.String(key, raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return slog.String(key, RedactedValue)
	}
	masked := u.Scheme + "://" + u.Host
	if u.User != nil || u.RawQuery != "" || strings.Trim(u.Path, "/") != "" {
		masked += "/" + RedactedValue
	}
	return slog.String(key, masked)
}
