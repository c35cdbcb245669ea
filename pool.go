package taskqueue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type workerState int

const (
	workerIdle workerState = iota
	workerBusy
	workerTerminated
)

// workerHandle is the controller's view of one execution unit. The
// unit reference is exclusively owned by the pool: nothing outside
// the pool sends on its inbox or closes its quit channel.
type workerHandle struct {
	id     string
	state  workerState
	corrId string
	unit   *worker
}

// pool holds the registered configuration and live state for one job
// type. Every field is guarded by mu; the event loop and all public
// operations take it, so membership changes, dispatch and correlation
// handling for a single job type are mutually exclusive while
// distinct job types proceed independently.
type pool struct {
	jobType     string
	handlerName string
	capacity    int
	queueDepth  int
	deadline    time.Duration

	mux *Mux
	log *slog.Logger

	mu       sync.Mutex
	workers  []*workerHandle // in spawn order; monotonic ULID ids make this id order too
	waiting  []*pendingRequest
	inflight map[string]*pendingRequest
	closed   bool

	// last failed floor respawn, surfaced through health()
	respawnErr error

	results chan resultMessage
	exits   chan exitSignal
	done    chan struct{}
}

// PoolHealth is a point-in-time snapshot of one job type's pool.
type PoolHealth struct {
	JobType  string
	Workers  int
	Capacity int
	InFlight int
	Waiting  int

	// Degraded reports that the most recent attempt to respawn the
	// pool back to its floor failed; LastError carries the cause.
	Degraded  bool
	LastError string
}

func newPool(jobType, handlerName string, capacity, queueDepth int, deadline time.Duration, mux *Mux, log *slog.Logger) *pool {
	p := &pool{
		jobType:     jobType,
		handlerName: handlerName,
		capacity:    capacity,
		queueDepth:  queueDepth,
		deadline:    deadline,
		mux:         mux,
		log:         log,
		inflight:    make(map[string]*pendingRequest),
		results:     make(chan resultMessage, capacity),
		exits:       make(chan exitSignal, capacity),
		done:        make(chan struct{}),
	}
	go p.run()
	return p
}

// run is the pool's event loop: it consumes worker responses and
// lifecycle exit signals until the pool is closed.
func (p *pool) run() {
	for {
		select {
		case <-p.done:
			return
		case res := <-p.results:
			p.handleResult(res)
		case sig := <-p.exits:
			p.handleExit(sig)
		}
	}
}

// spawn adds one worker. It returns false with a nil error when the
// pool is already at its capacity bound.
func (p *pool) spawn() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrManagerClosed
	}
	if len(p.workers) >= p.capacity {
		return false, nil
	}
	if _, err := p.spawnLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// spawnLocked creates a new execution unit and appends its handle to
// the pool. The handle joins the membership only after the init
// handshake succeeds; a failed handshake leaves the pool untouched.
func (p *pool) spawnLocked() (*workerHandle, error) {
	id := ulid.Make().String()
	unit, err := spawnWorker(id, initMessage{HandlerName: p.handlerName}, p.mux, p.results, p.exits, p.log)
	if err != nil {
		return nil, err
	}

	h := &workerHandle{id: id, state: workerIdle, unit: unit}
	p.workers = append(p.workers, h)
	return h, nil
}

// terminate retires the most recently spawned worker, preferring an
// idle one. It is a no-op at or below the floor of one.
func (p *pool) terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.workers) <= 1 {
		return
	}

	idx := -1
	for i := len(p.workers) - 1; i >= 0; i-- {
		if p.workers[i].state == workerIdle {
			idx = i
			break
		}
	}
	if idx == -1 {
		// all busy: the most recent worker goes, but its request is
		// rejected first, never silently dropped
		idx = len(p.workers) - 1
	}
	p.retireLocked(idx, ErrWorkerTerminated)
}

// retireLocked removes the worker at idx, rejecting its in-flight
// request (if any) with cause before the handle is destroyed.
func (p *pool) retireLocked(idx int, cause error) {
	h := p.workers[idx]
	if h.corrId != "" {
		if req, ok := p.inflight[h.corrId]; ok {
			delete(p.inflight, h.corrId)
			req.stopTimer()
			req.handle.complete(nil, cause)
		}
	}
	h.state = workerTerminated
	h.corrId = ""
	close(h.unit.quit)
	p.workers = append(p.workers[:idx], p.workers[idx+1:]...)
}

// submit routes a payload to an idle worker, spawns one when there is
// spare capacity, or queues the request. It never blocks the caller;
// the outcome arrives through the returned handle.
func (p *pool) submit(payload any) (*ResultHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrManagerClosed
	}

	handle := newResultHandle()
	req := &pendingRequest{jobType: p.jobType, payload: payload, handle: handle, submittedAt: time.Now()}
	handle.cancel = func() { p.cancelRequest(req) }

	if w := p.idleLocked(); w != nil {
		p.assignLocked(w, req)
		return handle, nil
	}

	if len(p.workers) < p.capacity {
		w, err := p.spawnLocked()
		if err != nil {
			return nil, err
		}
		p.assignLocked(w, req)
		return handle, nil
	}

	if len(p.waiting) >= p.queueDepth {
		return nil, ErrPoolSaturated
	}
	p.waiting = append(p.waiting, req)
	return handle, nil
}

// idleLocked returns the idle worker with the lowest id. Ids are
// monotonic ULIDs, so scanning in spawn order is scanning in id order.
func (p *pool) idleLocked() *workerHandle {
	for _, h := range p.workers {
		if h.state == workerIdle {
			return h
		}
	}
	return nil
}

// assignLocked binds req to w: generates the correlation id, arms the
// deadline and sends the job message. The inbox has capacity one and
// w is idle, so the send cannot block.
func (p *pool) assignLocked(w *workerHandle, req *pendingRequest) {
	corrId := ulid.Make().String()
	req.corrId = corrId
	p.inflight[corrId] = req
	w.state = workerBusy
	w.corrId = corrId
	req.timer = time.AfterFunc(p.deadline, func() { p.expire(corrId) })
	w.unit.inbox <- jobMessage{CorrelationId: corrId, JobType: p.jobType, Payload: req.payload}
}

func (p *pool) handleResult(res resultMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req, ok := p.inflight[res.CorrelationId]; ok {
		delete(p.inflight, res.CorrelationId)
		req.stopTimer()
		if res.Err != nil {
			req.handle.complete(nil, fmt.Errorf("%w: %v", ErrJobProcessing, res.Err))
		} else {
			req.handle.complete(res.Result, nil)
		}
	}

	w := p.findLocked(res.WorkerId)
	if w == nil || w.state != workerBusy || w.corrId != res.CorrelationId {
		// late response from a worker that already timed out or was retired
		return
	}
	w.state = workerIdle
	w.corrId = ""
	p.drainLocked(w)
}

// handleExit reacts to a worker crash: the in-flight request (if any)
// is rejected, the handle is removed, and a single respawn restores
// the floor. Exits of workers already retired deliberately are ignored.
func (p *pool) handleExit(sig exitSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, h := range p.workers {
		if h.id == sig.WorkerId {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	p.log.Error("worker crashed", "job_type", p.jobType, "worker_id", sig.WorkerId, "error", sig.Cause)

	h := p.workers[idx]
	if h.corrId != "" {
		if req, ok := p.inflight[h.corrId]; ok {
			delete(p.inflight, h.corrId)
			req.stopTimer()
			req.handle.complete(nil, fmt.Errorf("%w: %v", ErrWorkerCrash, sig.Cause))
		}
		h.corrId = ""
	}
	h.state = workerTerminated
	close(h.unit.quit)
	p.workers = append(p.workers[:idx], p.workers[idx+1:]...)

	p.restoreFloorLocked()
}

// expire rejects a request whose deadline passed with no response.
// The worker that held it is presumed wedged: it is terminated rather
// than reused, and the pool respawns back to its floor.
func (p *pool) expire(corrId string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.inflight[corrId]
	if !ok {
		return
	}
	delete(p.inflight, corrId)
	req.handle.complete(nil, ErrJobTimeout)

	for i, h := range p.workers {
		if h.corrId == corrId {
			h.corrId = "" // already rejected above
			p.retireLocked(i, ErrJobTimeout)
			break
		}
	}
	p.restoreFloorLocked()
}

// restoreFloorLocked attempts a single respawn when the pool has
// fallen below its floor of one. Failure is logged and surfaced
// through health(), never returned to a caller.
func (p *pool) restoreFloorLocked() {
	if p.closed || len(p.workers) >= 1 {
		return
	}
	w, err := p.spawnLocked()
	if err != nil {
		p.respawnErr = err
		p.log.Error("respawn after worker loss failed", "job_type", p.jobType, "error", err)
		return
	}
	p.respawnErr = nil
	p.drainLocked(w)
}

// drainLocked hands the head of the wait queue to a newly idle
// worker, preserving FIFO submission order within the pool.
func (p *pool) drainLocked(w *workerHandle) {
	if len(p.waiting) == 0 || w.state != workerIdle {
		return
	}
	req := p.waiting[0]
	p.waiting = p.waiting[1:]
	p.assignLocked(w, req)
}

// cancelRequest withdraws req. See ResultHandle.Cancel for the
// queued vs dispatched semantics.
func (p *pool) cancelRequest(req *pendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, queued := range p.waiting {
		if queued == req {
			p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
			req.handle.complete(nil, ErrJobCanceled)
			return
		}
	}

	// Already dispatched or already terminal: advisory only. The
	// inflight entry stays behind so the worker's eventual response
	// still returns it to the idle set.
	req.handle.complete(nil, ErrJobCanceled)
}

func (p *pool) findLocked(workerId string) *workerHandle {
	for _, h := range p.workers {
		if h.id == workerId {
			return h
		}
	}
	return nil
}

func (p *pool) workerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *pool) canSpawn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers) < p.capacity
}

func (p *pool) health() PoolHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := PoolHealth{
		JobType:  p.jobType,
		Workers:  len(p.workers),
		Capacity: p.capacity,
		InFlight: len(p.inflight),
		Waiting:  len(p.waiting),
	}
	if p.respawnErr != nil {
		h.Degraded = true
		h.LastError = p.respawnErr.Error()
	}
	return h
}

// close tears the pool down deterministically: queued requests are
// rejected, in-flight requests are rejected, every worker is stopped
// and the event loop exits.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for _, req := range p.waiting {
		req.handle.complete(nil, ErrManagerClosed)
	}
	p.waiting = nil

	for corrId, req := range p.inflight {
		delete(p.inflight, corrId)
		req.stopTimer()
		req.handle.complete(nil, ErrWorkerTerminated)
	}

	for _, h := range p.workers {
		h.state = workerTerminated
		close(h.unit.quit)
	}
	p.workers = nil
	p.mu.Unlock()

	close(p.done)
}
