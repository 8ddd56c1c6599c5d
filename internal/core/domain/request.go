package domain

import "time"

// Request is a normalized bot request record.
// It is the canonical representation the engine consumes; log-format
// specific parsing happens in source adapters before records get here.
type Request struct {
	// ID is the unique identifier for the request within a run.
	ID string

	// Timestamp is the UTC instant the request arrived at the edge.
	// Millisecond precision or better is required.
	Timestamp time.Time

	// ClientIP is the requesting client address.
	ClientIP string

	// Method is the HTTP method.
	Method string

	// Host is the requested host.
	Host string

	// Path is the URL path (no query string).
	Path string

	// QueryString is the raw query string, without the leading '?'.
	QueryString string

	// StatusCode is the HTTP response status.
	StatusCode int

	// UserAgent is the raw user-agent header.
	UserAgent string

	// Provider classifies the user agent (OpenAI, Anthropic, ...).
	// Derived at ingest; authoritative partitioning key.
	Provider Provider

	// Category classifies the request intent (user_request, crawler, other).
	Category BotCategory

	// ResponseBytes is the response body size, when the log carries it.
	ResponseBytes *int64

	// RequestBytes is the request body size, when the log carries it.
	RequestBytes *int64

	// ResponseTimeMS is the edge response time, when the log carries it.
	ResponseTimeMS *float64

	// CacheStatus is the CDN cache result (HIT, MISS, ...). Empty when absent.
	CacheStatus string

	// EdgeLocation is the serving edge POP. Empty when absent.
	EdgeLocation string

	// Referer is the referer header. Empty when absent.
	Referer string

	// Protocol is the HTTP protocol version. Empty when absent.
	Protocol string

	// SSLProtocol is the TLS version. Empty when absent.
	SSLProtocol string
}

// URL returns the request URL path plus query string, the form the
// tokenizer and session naming operate on.
func (r Request) URL() string {
	if r.QueryString == "" {
		return r.Path
	}
	return r.Path + "?" + r.QueryString
}

// UnixMilli returns the timestamp at millisecond resolution.
// All gap arithmetic in the bundler uses this value.
func (r Request) UnixMilli() int64 {
	return r.Timestamp.UnixMilli()
}
