// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"context"
	"sync"
)

// throttle limits the number of concurrently running jobs and keeps
// the first error reported by any of them.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	slots     chan struct{}
	setupOnce sync.Once
	mtx       sync.Mutex
	err       error
}

// Acquire waits for a free slot. It fails without taking a slot if
// ctx is done or an error has already been reported.
func (t *throttle) Acquire(ctx context.Context) error {
	t.setupOnce.Do(func() { t.slots = make(chan struct{}, t.Max) })
	if err := t.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case t.slots <- struct{}{}:
		t.wg.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *throttle) Release() {
	<-t.slots
	t.wg.Done()
}

func (t *throttle) Report(err error) {
	if err == nil {
		return
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *throttle) Err() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.err
}

// Wait waits for all acquired slots to be released.
func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
