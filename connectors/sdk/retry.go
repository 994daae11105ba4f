// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdk

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"conhub/platform/connectors/base"
)

// RetryConfig configures connector-side retries of idempotent upstream reads.
// The router itself never retries.
type RetryConfig struct {
	MaxRetries      int              // Maximum number of retry attempts
	InitialInterval time.Duration    // Initial wait interval
	MaxInterval     time.Duration    // Maximum wait interval
	Multiplier      float64          // Backoff multiplier
	Jitter          float64          // Jitter factor (0-1)
	RetryIf         func(error) bool // Custom retry condition
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
		RetryIf:         DefaultRetryCondition,
	}
}

// NoRetry performs exactly one attempt
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 0}
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"no such host",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"i/o timeout",
	"tls handshake timeout",
	"eof",
	"429",
	"502",
	"503",
	"504",
}

// DefaultRetryCondition returns true for transient errors. Classified
// connector errors (not found, auth, bad query) are never retried.
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if kind := base.KindOf(err); kind != base.KindInternal {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsConnectivityError reports whether err indicates the upstream is
// unreachable or overloaded, as opposed to a bad request. The health
// aggregator uses it to trigger an immediate probe.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return DefaultRetryCondition(err)
}

// RetryableError wraps an error to indicate it should be retried
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is marked as retryable
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// GetRetryAfter returns the retry-after duration if specified
func GetRetryAfter(err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return retryable.RetryAfter
	}
	return 0
}

// RetryFunc is the function type that can be retried
type RetryFunc[T any] func() (T, error)

// RetryWithBackoff executes fn with exponential backoff. Only idempotent
// reads may be wrapped; token exchanges must not be.
func RetryWithBackoff[T any](ctx context.Context, config *RetryConfig, fn RetryFunc[T]) (T, error) {
	var zero T

	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) && (config.RetryIf == nil || !config.RetryIf(err)) {
			return zero, err
		}
		if attempt >= config.MaxRetries {
			break
		}

		waitTime := interval
		if retryAfter := GetRetryAfter(err); retryAfter > 0 {
			waitTime = retryAfter
		}
		if config.Jitter > 0 {
			jitter := waitTime.Seconds() * config.Jitter * (rand.Float64()*2 - 1)
			waitTime += time.Duration(jitter * float64(time.Second))
		}
		if config.MaxInterval > 0 && waitTime > config.MaxInterval {
			waitTime = config.MaxInterval
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(waitTime):
		}

		interval = time.Duration(float64(interval) * config.Multiplier)
		if config.MaxInterval > 0 && interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}

	if config.MaxRetries == 0 {
		return zero, lastErr
	}
	return zero, &RetryError{
		Err:      lastErr,
		Attempts: config.MaxRetries + 1,
	}
}

// RetryError indicates all retry attempts failed
type RetryError struct {
	Err      error
	Attempts int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}
