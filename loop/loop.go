// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package loop implements a serial execution context for callbacks.
//
// A [Loop] runs posted functions one at a time, in the order they were
// posted, on a single goroutine. Sessions, timers, and registries that share a
// loop never observe each other's callbacks running concurrently.
package loop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
)

// A Loop is a single-goroutine executor for posted functions. Construct a
// loop with [New]; the zero value is not ready for use.
type Loop struct {
	ready chan struct{} // signals that tasks were added or the loop stopped
	tasks *taskgroup.Group

	μ       sync.Mutex
	queue   queue.Queue[func()]
	stopped bool
}

// New constructs a new loop and starts its service goroutine. The loop runs
// until Stop is called.
func New() *Loop {
	lp := &Loop{
		ready: make(chan struct{}, 1),
		tasks: taskgroup.New(nil),
	}
	lp.tasks.Go(lp.run)
	return lp
}

func (lp *Loop) run() error {
	for {
		lp.μ.Lock()
		next, ok := lp.queue.Pop()
		stopped := lp.stopped
		lp.μ.Unlock()

		if ok {
			next()
			continue
		} else if stopped {
			return nil
		}
		<-lp.ready
	}
}

func (lp *Loop) signal() {
	select {
	case lp.ready <- struct{}{}:
	default:
		// A wakeup is already pending.
	}
}

// Post schedules f to run on the loop after all previously-posted functions.
// It reports whether f was accepted; once the loop has stopped, Post discards
// f and returns false.
func (lp *Loop) Post(f func()) bool {
	lp.μ.Lock()
	defer lp.μ.Unlock()
	if lp.stopped {
		return false
	}
	lp.queue.Add(f)
	lp.signal()
	return true
}

// Do runs f on the loop and blocks until it has finished. It reports false
// without running f if the loop has stopped. Do must not be called from a
// function running on lp, or it will deadlock.
func (lp *Loop) Do(f func()) bool {
	done := make(chan struct{})
	if !lp.Post(func() { defer close(done); f() }) {
		return false
	}
	<-done
	return true
}

// AfterFunc arranges for f to be posted to the loop after d has elapsed.
// The returned timer can be used to cancel the call.
func (lp *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	t := new(Timer)
	t.timer = time.AfterFunc(d, func() {
		lp.Post(func() {
			if !t.stopped.Load() {
				f()
			}
		})
	})
	return t
}

// Stop prevents further functions from being posted to lp, and blocks until
// all the functions already posted have run. Stop is safe to call multiple
// times; subsequent calls simply wait.
func (lp *Loop) Stop() {
	lp.μ.Lock()
	lp.stopped = true
	lp.signal()
	lp.μ.Unlock()
	lp.tasks.Wait()
}

// Len reports the number of functions waiting to run on lp.
func (lp *Loop) Len() int {
	lp.μ.Lock()
	defer lp.μ.Unlock()
	return lp.queue.Len()
}

// A Timer is a cancellable call scheduled by [Loop.AfterFunc].
type Timer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

// Stop cancels the call. It is safe to call Stop from any goroutine, and
// after Stop returns the function will not run even if it has already been
// posted to the loop. Stop reports whether the call was cancelled before the
// timer fired. A nil *Timer is valid and Stop reports false.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.stopped.Store(true)
	return t.timer.Stop()
}
