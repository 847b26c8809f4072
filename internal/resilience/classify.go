package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/sony/gobreaker"

	"github.com/castreel/api/internal/apperr"
)

// StatusCoder is implemented by HTTP provider errors.
type StatusCoder interface {
	StatusCode() int
	RequestMethod() string
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// DefaultRetryable retries network errors, timeouts, 429 and 5xx on idempotent methods.
func DefaultRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || isBreakerRejection(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		switch {
		case code == http.StatusTooManyRequests:
			return true
		case code >= 500:
			return isIdempotent(sc.RequestMethod())
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return apperr.Is(err, apperr.KindTransientProvider)
}

// QuotaLimitedRetryable is used for video APIs that bill per submission: any
// 5xx is retried, while 429 means the quota is gone and is returned at once.
func QuotaLimitedRetryable(err error) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == http.StatusTooManyRequests {
			return false
		}
		return code >= 500
	}
	return DefaultRetryable(err)
}

// IsQuotaExceeded reports a 429 from a provider.
func IsQuotaExceeded(err error) bool {
	var sc StatusCoder
	return errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests
}

// countsAsFailure decides what the breaker records as a failure. Client errors
// other than 429 say nothing about the provider's health.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || apperr.Is(err, apperr.KindValidation) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return true
}
