package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/avast/retry-go/v4"
	"github.com/sashabaranov/go-openai"

	"skillbot/internal/domain"
)

// RetryPolicy controls how often and how patiently a provider call is retried.
type RetryPolicy struct {
	Retries  int
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries three times with exponential backoff from 500ms.
var DefaultRetryPolicy = RetryPolicy{Retries: 3, Delay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// withRetry runs fn until it succeeds, fails permanently or the policy is
// exhausted. The returned error is typed with a domain kind.
func withRetry(ctx context.Context, provider string, p RetryPolicy, logger *slog.Logger, fn func() error) error {
	err := retry.Do(
		fn,
		retry.RetryIf(retryable),
		retry.Attempts(uint(p.Retries+1)),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying provider call", "provider", provider, "attempt", n+1, "max_attempts", p.Retries+1, "err", err)
		}),
	)
	if err == nil {
		return nil
	}
	return typed(provider, err)
}

// statusOf extracts the HTTP status code carried by an SDK error, or 0.
func statusOf(err error) int {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}

// retryable reports whether a failed call may succeed when repeated: rate
// limits, server errors and transport failures are; client errors and
// cancellation are not.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch status := statusOf(err); {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	case status > 0:
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var oaiReq *openai.RequestError
	return errors.As(err, &oaiReq)
}

// kindOf maps a provider failure to a domain kind.
func kindOf(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTimeout
	}
	switch status := statusOf(err); {
	case status == http.StatusTooManyRequests, status == 529:
		return domain.KindCapacity
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return domain.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.KindTimeout
	}
	return domain.KindExecution
}

func typed(provider string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.NewError(kindOf(err), fmt.Sprintf("%s request failed", provider), err)
}
