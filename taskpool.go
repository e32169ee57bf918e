package voroclust

import (
	"runtime"
	"sync"
)

// TaskPool runs submitted closures on a fixed set of goroutines. Jobs are
// taken in FIFO order. Wait blocks until every submitted job has finished.
type TaskPool struct {
	numWorkers int

	mu      sync.Mutex
	jobs    *sync.Cond // signalled on submit and close
	idle    *sync.Cond // signalled when pending drops to zero
	queue   []func()
	pending int // queued plus running
	closed  bool

	wg sync.WaitGroup
}

// NewTaskPool starts numWorkers goroutines. numWorkers <= 0 uses
// runtime.GOMAXPROCS(0).
func NewTaskPool(numWorkers int) *TaskPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	p := &TaskPool{numWorkers: numWorkers}
	p.jobs = sync.NewCond(&p.mu)
	p.idle = sync.NewCond(&p.mu)

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

// NumWorkers returns the number of worker goroutines.
func (p *TaskPool) NumWorkers() int { return p.numWorkers }

func (p *TaskPool) worker() {
	defer p.wg.Done()

	p.mu.Lock()
	for {
		for len(p.queue) == 0 && !p.closed {
			p.jobs.Wait()
		}
		if len(p.queue) == 0 {
			// closed and drained
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		job()

		p.mu.Lock()
		p.pending--
		if p.pending == 0 {
			p.idle.Broadcast()
		}
	}
}

// Submit enqueues job. It returns ErrPoolClosed after Close.
func (p *TaskPool) Submit(job func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, job)
	p.pending++
	p.jobs.Signal()
	return nil
}

// Wait blocks until all submitted jobs have completed.
func (p *TaskPool) Wait() {
	p.mu.Lock()
	for p.pending > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Close lets the workers finish the queued jobs, then stops them.
// It is safe to call more than once.
func (p *TaskPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.jobs.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}
