// Package workerpool implements the Worker Pool Manager (§4.D): named
// pools of goroutines fed through bounded request channels, draining
// results through bounded result channels, grounded on the teacher's
// channel-driven sinkWriter fan-out in pkg/engine/engine.go.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/indexcore/solrupdater/internal/metrics"
)

// Request is one unit of work submitted to a pool.
type Request struct {
	ID      uint64
	Payload interface{}
}

// Result is the outcome of processing a Request.
type Result struct {
	ID      uint64
	Value   interface{}
	Err     error
	Payload interface{}
}

// WorkFunc processes one request on a single worker goroutine. state is
// the per-worker value returned by the pool's Initializer, nil when none
// was configured.
type WorkFunc func(ctx context.Context, state interface{}, req Request) (interface{}, error)

// Initializer builds a per-worker state value (e.g. a reconnected
// document-store handle) exactly once per worker goroutine.
type Initializer func(ctx context.Context) (interface{}, error)

// Pool is a named, bounded worker pool. With Concurrency == 0 requests
// run inline on the submitting goroutine — no goroutines are spawned,
// matching single-threaded debugging runs.
type Pool struct {
	name        string
	concurrency int
	work        WorkFunc
	init        Initializer

	requests chan Request
	results  chan Result

	wg      sync.WaitGroup
	pending sync.WaitGroup

	mu      sync.Mutex
	nextID  uint64
	inFlght int64
}

// Options configures a new Pool.
type Options struct {
	Name        string
	Concurrency int
	QueueDepth  int
	Work        WorkFunc
	Init        Initializer
}

// New starts a worker pool. Concurrency 0 disables background workers;
// addRequest processes synchronously instead.
func New(ctx context.Context, opts Options) *Pool {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = opts.Concurrency*2 + 1
	}

	p := &Pool{
		name:        opts.Name,
		concurrency: opts.Concurrency,
		work:        opts.Work,
		init:        opts.Init,
		requests:    make(chan Request, depth),
		results:     make(chan Result, depth),
	}

	for i := 0; i < opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
	return p
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()

	var state interface{}
	if p.init != nil {
		s, err := p.init(ctx)
		if err != nil {
			// A worker that cannot initialize drains and fails every
			// request it is handed rather than blocking the pool.
			state = nil
			for req := range p.requests {
				p.emit(Result{ID: req.ID, Payload: req.Payload, Err: fmt.Errorf("worker init: %w", err)})
			}
			return
		}
		state = s
	}

	for req := range p.requests {
		metrics.WorkerPoolInFlight.WithLabelValues(p.name).Inc()
		val, err := p.work(ctx, state, req)
		metrics.WorkerPoolInFlight.WithLabelValues(p.name).Dec()
		p.emit(Result{ID: req.ID, Value: val, Err: err, Payload: req.Payload})
	}
}

func (p *Pool) emit(r Result) {
	p.results <- r
	atomic.AddInt64(&p.inFlght, -1)
	p.pending.Done()
}

// AddRequest submits payload for processing, assigning it a monotonic
// request id. When Concurrency is 0 the work runs inline before
// returning.
func (p *Pool) AddRequest(ctx context.Context, payload interface{}) uint64 {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	req := Request{ID: id, Payload: payload}
	p.pending.Add(1)
	atomic.AddInt64(&p.inFlght, 1)
	metrics.WorkerPoolDepth.WithLabelValues(p.name).Inc()

	if p.concurrency == 0 {
		val, err := p.work(ctx, nil, req)
		metrics.WorkerPoolDepth.WithLabelValues(p.name).Dec()
		p.emit(Result{ID: id, Value: val, Err: err, Payload: payload})
		return id
	}

	p.requests <- req
	metrics.WorkerPoolDepth.WithLabelValues(p.name).Dec()
	return id
}

// CheckForResults drains whatever results are immediately available
// without blocking.
func (p *Pool) CheckForResults() []Result {
	var out []Result
	for {
		select {
		case r := <-p.results:
			out = append(out, r)
		default:
			return out
		}
	}
}

// GetResult blocks for the next available result.
func (p *Pool) GetResult(ctx context.Context) (Result, bool) {
	select {
	case r, ok := <-p.results:
		return r, ok
	case <-ctx.Done():
		return Result{}, false
	}
}

// RequestsPending reports how many submitted requests have not yet
// produced a result.
func (p *Pool) RequestsPending() int {
	return int(atomic.LoadInt64(&p.inFlght))
}

// WaitUntilDone blocks until every submitted request has a result
// available in the results channel.
func (p *Pool) WaitUntilDone() {
	p.pending.Wait()
}

// DestroyWorkerPools closes the request channel and waits for every
// worker goroutine to exit, then closes the results channel.
func (p *Pool) DestroyWorkerPools() {
	close(p.requests)
	p.wg.Wait()
	close(p.results)
}
