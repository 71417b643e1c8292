package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/provider"
)

// ErrAllProvidersFailed is returned when no provider produced a usable result.
var ErrAllProvidersFailed = errors.New("all providers failed")

// RetryConfig defines retry behavior against a single provider.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     2,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFailover:
		return "failover"
	case ActionFatal:
		return "fatal"
	}
	return "unknown"
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	if errors.Is(err, provider.ErrThrottled) || errors.Is(err, provider.ErrBlocked) {
		return ActionFailover
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(sLower, "forbidden") ||
		strings.Contains(sLower, "quota") || strings.Contains(sLower, "plan limit") ||
		strings.Contains(sLower, "unauthorized") ||
		strings.Contains(sLower, "rate limit") ||
		strings.Contains(sLower, "count exceeded") {
		return ActionFailover
	}

	// Network, 5xx, malformed payloads
	return ActionRetry
}

// CallWithRetry executes an RPC call and decodes its result, retrying with
// exponential backoff while the error is classified retryable.
func CallWithRetry(
	ctx context.Context,
	p provider.Provider,
	method string,
	params []any,
	config RetryConfig,
	decode func(json.RawMessage) error,
) error {
	attempts := max(config.MaxAttempts, 1)
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		raw, err := p.Call(ctx, method, params)
		if err == nil {
			if err = decode(raw); err != nil {
				err = fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ClassifyError(err) != ActionRetry || attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt, config)):
		}
	}

	return lastErr
}

// CallWithFailover tries every provider of the chain in router order. Any
// failure of a provider, including a result that does not decode, moves on to
// the next one. Only the last provider's error is returned.
func CallWithFailover(
	ctx context.Context,
	router Router,
	chainID domain.ChainID,
	method string,
	params []any,
	config RetryConfig,
	decode func(json.RawMessage) error,
) error {
	providers := router.Providers(chainID)
	if len(providers) == 0 {
		return fmt.Errorf("no providers for chain %s: %w", chainID, ErrAllProvidersFailed)
	}

	chain := string(chainID)
	var lastErr error
	for _, p := range providers {
		name := p.GetName()
		start := time.Now()
		err := CallWithRetry(ctx, p, method, params, config, decode)
		latency := time.Since(start)

		metrics.RPCCallsTotal.WithLabelValues(chain, name, method).Inc()
		metrics.RPCLatency.WithLabelValues(chain, name, method).Observe(latency.Seconds())

		if err == nil {
			router.RecordSuccess(name, latency)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fmt.Errorf("provider %s: %w", name, err)
		router.RecordFailure(name, err)
		metrics.RPCErrorsTotal.WithLabelValues(chain, name, ClassifyError(err).String()).Inc()
	}

	return fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// Backoff returns the delay before retry number attempt (zero based).
func Backoff(attempt int, config RetryConfig) time.Duration {
	mult := config.BackoffMultiple
	if mult <= 0 {
		mult = 2
	}
	delay := float64(config.InitialDelay) * math.Pow(mult, float64(attempt))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
