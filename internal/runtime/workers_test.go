package runtime

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolRunsSubmittedJobs(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.Stop()

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if !pool.Submit(func() {
			defer wg.Done()
			done.Add(1)
		}) {
			t.Fatal("Submit rejected a job on a running pool")
		}
	}
	wg.Wait()

	if done.Load() != 100 {
		t.Errorf("ran %d jobs, want 100", done.Load())
	}
}

func TestWorkerPoolStopRejectsNewJobs(t *testing.T) {
	pool := newWorkerPool(1)
	pool.Stop()

	if pool.Submit(func() {}) {
		t.Error("Submit should reject jobs after Stop")
	}
}

func TestWorkerPoolStopWaitsForAcceptedJobs(t *testing.T) {
	pool := newWorkerPool(2)

	var finished atomic.Bool
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	pool.Stop()

	if !finished.Load() {
		t.Error("Stop returned before an accepted job finished")
	}
}

func TestWorkerPoolSizeFloor(t *testing.T) {
	pool := newWorkerPool(0)
	defer pool.Stop()

	ran := make(chan struct{})
	if !pool.Submit(func() { close(ran) }) {
		t.Fatal("pool with floored size should accept jobs")
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}
