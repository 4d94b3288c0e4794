// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"context"
	"fmt"
	"runtime"
)

// FitJob is one independent fit for FitMany.
type FitJob struct {
	Data   Data
	Config *Config
}

// FitMany runs independent fits with at most maxConcurrent running
// at a time (GOMAXPROCS if maxConcurrent < 1). Jobs may share a
// design matrix. Results are in job order. The first error stops
// scheduling further jobs and is returned.
func FitMany(ctx context.Context, jobs []FitJob, maxConcurrent int) ([]*Result, error) {
	if maxConcurrent < 1 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(jobs))
	thr := throttle{Max: maxConcurrent}
	for i, job := range jobs {
		if err := thr.Acquire(ctx); err != nil {
			thr.Report(err)
			break
		}
		go func(i int, job FitJob) {
			defer thr.Release()
			result, err := Fit(job.Data, job.Config)
			if err != nil {
				thr.Report(fmt.Errorf("job %d: %w", i, err))
				return
			}
			results[i] = result
		}(i, job)
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
