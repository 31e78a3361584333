package runtime

import "sync"

// workerPool runs stream ingestion jobs on a fixed set of goroutines, so a
// flood of inbound streams cannot spawn unbounded goroutines. Jobs are
// small: decode one stream and publish the result to the router.
type workerPool struct {
	jobs chan func()
	wg   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	p := &workerPool{
		jobs: make(chan func(), size*2),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit queues a job, blocking while the pool is saturated. It reports
// false once the pool has stopped. A job accepted before Stop is always
// run.
func (p *workerPool) Submit(job func()) bool {
	if job == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	p.jobs <- job
	return true
}

// Stop rejects further submissions, then drains queued jobs and waits for
// in-flight jobs to finish.
func (p *workerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
