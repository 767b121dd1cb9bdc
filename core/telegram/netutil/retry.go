// Package netutil classifies failed Bot API calls as retryable or final.
package netutil

import (
	"errors"
	"net"
	"net/url"
	"time"

	tele "gopkg.in/telebot.v4"
)

// maxFloodWait caps the server requested pause so one job cannot stall a worker.
const maxFloodWait = 30 * time.Second

// ShouldRetry reports whether a transport error is worth retrying: dial
// failures and timeouts seen by net/http while contacting the Bot API.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() || opErr.Op == "dial" {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		if urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
			return ShouldRetry(urlErr.Err)
		}
	}
	return false
}

// Backoff decides whether a failed call is retried and how long to wait
// first. Flood control waits for the server supplied retry_after; 5xx
// responses and transport failures back off linearly from base.
func Backoff(err error, base time.Duration, attempt int) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	linear := base * time.Duration(attempt)

	var flood tele.FloodError
	if errors.As(err, &flood) {
		wait := time.Duration(flood.RetryAfter) * time.Second
		if wait <= 0 {
			wait = linear
		}
		return min(wait, maxFloodWait), true
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return linear, apiErr.Code >= 500
	}

	return linear, ShouldRetry(err)
}
