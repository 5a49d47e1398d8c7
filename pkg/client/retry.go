package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotConnected indicates the connection was shut down
	ErrNotConnected = errors.New("not connected to server")
	// ErrInvalidOptions indicates unusable client options
	ErrInvalidOptions = errors.New("invalid client options")
	// ErrTimeout indicates a lookup ran past the request timeout
	ErrTimeout = errors.New("request timed out")
)

// IsRetryableError reports whether a lookup that failed with err may succeed
// when sent again. Index errors such as NotFound or DataLoss never do.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// retryPolicy spaces out repeated lookups against a busy or restarting server
type retryPolicy struct {
	maxRetries int
	initial    time.Duration
	max        time.Duration
	factor     float64
	jitter     float64
}

func newRetryPolicy(options ClientOptions) retryPolicy {
	return retryPolicy{
		maxRetries: options.MaxRetries,
		initial:    options.InitialBackoff,
		max:        options.MaxBackoff,
		factor:     options.BackoffFactor,
		jitter:     options.RetryJitter,
	}
}

// delay is the pause before retry number attempt, counting from zero
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.max
	if f := float64(p.initial) * math.Pow(p.factor, float64(attempt)); f < float64(p.max) {
		d = time.Duration(f)
	}
	if p.jitter > 0 {
		d += time.Duration(rand.Float64() * p.jitter * float64(d))
	}
	return d
}

// do runs attempt until it succeeds, fails permanently, runs out of retries
// or ctx ends
func (p retryPolicy) do(ctx context.Context, attempt func() error) error {
	for n := 0; ; n++ {
		err := attempt()
		if err == nil || !IsRetryableError(err) || n >= p.maxRetries {
			return err
		}

		timer := time.NewTimer(p.delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
