package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// classify turns a proxy call failure into a transient or permanent fetch error.
// Caller cancellation is passed through untouched.
func classify(err error, statusCode int) error {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}
	if err == nil {
		err = errors.New(http.StatusText(statusCode))
	}

	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= http.StatusInternalServerError:
		return &pricing.TransientFetchError{StatusCode: statusCode, Err: err}
	case statusCode >= http.StatusBadRequest:
		return &pricing.PermanentFetchError{StatusCode: statusCode, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("proxy call canceled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &pricing.TransientFetchError{Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return &pricing.PermanentFetchError{Err: err}
		}
		return &pricing.TransientFetchError{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return &pricing.PermanentFetchError{Err: err}
	}
	return &pricing.TransientFetchError{Err: err}
}

// validateTarget rejects URLs the proxy cannot possibly fetch.
func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &pricing.PermanentFetchError{Err: fmt.Errorf("malformed url: %w", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &pricing.PermanentFetchError{Err: fmt.Errorf("malformed url %q: unsupported scheme", raw)}
	}
	if u.Hostname() == "" {
		return &pricing.PermanentFetchError{Err: fmt.Errorf("malformed url %q: missing host", raw)}
	}
	return nil
}
