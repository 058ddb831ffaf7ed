package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"golang.org/x/time/rate"

	"docqa/types"
)

// guard applies the per-call timeout and client-side rate limit shared by
// every provider and classifies what goes wrong as a provider error.
type guard struct {
	timeout time.Duration
	limiter *rate.Limiter
}

func newGuard(timeout time.Duration, rps float64) guard {
	g := guard{timeout: timeout}
	if rps > 0 {
		burst := max(1, int(math.Ceil(rps)))
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return g
}

func (g guard) do(ctx context.Context, op string, call func(context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return types.ProviderErr(op, err)
		}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := call(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isContextErr(err) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return types.ProviderErr(op, err)
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func errCountMismatch(want, got int) error {
	return fmt.Errorf("provider returned %d embeddings for %d inputs", got, want)
}

func closeIfCloser(v any) error {
	if c, ok := v.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
