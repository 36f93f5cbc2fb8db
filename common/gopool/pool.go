// Package gopool runs short-lived fork fetch tasks on a shared goroutine pool.
package gopool

import (
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	// Init a instance pool when importing ants.
	defaultPool, _   = ants.NewPool(ants.DefaultAntsPoolSize, ants.WithExpiryDuration(10*time.Second))
	minNumberPerTask = 5
)

// Submit submits a task to pool.
func Submit(task func()) error {
	return defaultPool.Submit(task)
}

// Release closes the default pool.
func Release() {
	defaultPool.Release()
}

// Threads returns how many workers are worth starting for the given number of
// tasks, never more than limit (or the CPU count when limit is zero).
func Threads(tasks int, limit int) int {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	threads := tasks / minNumberPerTask
	if threads > limit {
		threads = limit
	} else if threads == 0 {
		threads = 1
	}
	return threads
}

// Run executes fn for every index in [0, n) on at most workers pool goroutines
// and waits for all of them. The first error returned by fn is reported.
func Run(n int, workers int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
		jobs  = make(chan int, n)
	)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	for w := 0; w < Threads(n, workers); w++ {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			for i := range jobs {
				if err := fn(i); err != nil {
					once.Do(func() { first = err })
				}
			}
		}
		if err := Submit(task); err != nil {
			// Pool exhausted or released, run inline.
			task()
		}
	}
	wg.Wait()
	return first
}
