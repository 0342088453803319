// Package provider contains shared plumbing for completion service adapters:
// HTTP transport setup and upstream error handling.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"

	chat "github.com/eugener/palantir/internal"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching for the upstream completion API.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// APIError is an error response from the upstream completion service.
type APIError struct {
	StatusCode int
	Body       string
}

// Error returns a formatted error string including status and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps the upstream status onto the domain sentinels: HTTP 429 is the
// "upstream exhausted" condition, everything else a generic upstream failure.
// Neither is ever conflated with the quota ledger's own denial.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return chat.ErrUpstreamExhausted
	}
	return chat.ErrUpstream
}

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}

// WrapTransportError normalizes connection-level failures (DNS, refused,
// timeout) into the generic upstream sentinel, preserving the cause.
func WrapTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrUpstream) || errors.Is(err, chat.ErrUpstreamExhausted) {
		return err
	}
	return fmt.Errorf("%w: %w", chat.ErrUpstream, err)
}
