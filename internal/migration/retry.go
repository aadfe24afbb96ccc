// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package migration

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry policy for flaky per-record I/O. Kept short: a record that keeps
// failing belongs in the skipped count, not in an endless backoff loop.
const (
	retryBase     = 100 * time.Millisecond
	retryAttempts = 3
)

// RetryTransient runs op with capped exponential backoff. Step
// implementations wrap per-record store or network calls in it so a
// transient failure retries before the record is counted as skipped.
func RetryTransient(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(retryAttempts, retry.NewExponential(retryBase))
	//nolint:wrapcheck // callers wrap the final error into a record error
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
