// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunBatch executes requests with at most workers runs in flight.
// Results come back in request order. Individual run failures are
// recorded in their Result, not returned: the batch keeps going, and
// only a setup error (a run directory that cannot be created) or
// cancellation aborts it.
func (r *Runner) RunBatch(ctx context.Context, requests []Request, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([]*Result, len(requests))
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, request := range requests {
		i, request := i, request
		group.Go(func() error {
			result, err := r.Run(ctx, request)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
