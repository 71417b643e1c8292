package recovery

import (
	"errors"
	"math"
	"time"

	"github.com/vietddude/impactwatcher/internal/infra/chain/evm"
)

// FailureCategory separates failures worth retrying from the rest.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier maps an error to a failure category.
type Classifier func(err error) FailureCategory

// ClassifySource treats an unavailable chain endpoint as transient and
// everything else as permanent.
func ClassifySource(err error) FailureCategory {
	if errors.Is(err, evm.ErrSourceUnavailable) {
		return CategoryTransient
	}
	return CategoryPermanent
}

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultBackoff returns the in-process retry policy for a recovery pass.
// 2s, 4s, 8s (max 60s). Zero attempts leaves the retry to the next start.
func DefaultBackoff(maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  maxAttempts,
		Classifier:   ClassifySource,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	classify := s.Classifier
	if classify == nil {
		classify = ClassifySource
	}
	return classify(err) == CategoryTransient
}
