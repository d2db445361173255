package dispatch

import (
	"sync"
)

// decodePool is a bounded worker pool for CPU-bound frame parsing. Envelope
// and payload decoding run here so the actor's receive loop never spends its
// scheduling turn on parsing.
type decodePool struct {
	jobs chan func()
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newDecodePool(workers, queueSize int) *decodePool {
	p := &decodePool{
		jobs: make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *decodePool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// submit blocks until a worker can accept the job. Returns false if the pool
// has been closed.
func (p *decodePool) submit(job func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.jobs <- job
	p.mu.Unlock()
	return true
}

func (p *decodePool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
