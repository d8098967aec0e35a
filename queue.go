// Package pipeq implements a thread-safe, bounded-or-unbounded
// multi-producer/multi-consumer in-process queue of fixed-size byte records,
// plus a pipeline builder that chains queues with worker goroutines. It is a
// from-scratch reimplementation of the classic single-mutex, two-condvar
// "pipe" design: a dynamically resized circular buffer, producer/consumer
// reference counting for deterministic shutdown, and bounded-capacity
// backpressure.
package pipeq

import (
	"context"
	"sync"
)

// Queue is the shared state behind a matched pair of handles: the ring
// buffer, the mutex guarding it, the two wakeup conditions, and the
// producer/consumer reference counts that drive blocking and shutdown.
type Queue struct {
	mu sync.Mutex

	justPushed sync.Cond // signaled after every push
	justPopped sync.Cond // signaled after every pop, and after the last consumer leaves

	r *ring // nil once the last consumer has released

	elemSize int // read-only after construction
	maxCap   int // read-only after construction

	producerRefs int
	consumerRefs int
}

// NewQueue constructs a Queue along with its first producer and consumer
// handle, each counted once, the way pipe_new's single returned pipe_t
// starts both refcounts at 1 — except here the two roles are distinct types
// from the start (Design Note 9.1/9.2), instead of one object overloaded
// with both counts.
//
// elemSize must be nonzero. limit == 0 means unbounded; otherwise the queue
// can hold at most the next power of two >= max(limit, minCap) elements
// before Push blocks.
func NewQueue(elemSize, limit int, opts ...Option) (*Queue, *ProducerHandle, *ConsumerHandle, error) {
	if elemSize <= 0 {
		return nil, nil, nil, ErrInvalidUsage
	}

	cfg := newQueueConfig(opts)

	maxCap := maxInt
	if limit > 0 {
		maxCap = nextPow2(max(limit, cfg.minCap))
	}

	q := &Queue{
		r:            newRing(elemSize, cfg.minCap, maxCap),
		elemSize:     elemSize,
		maxCap:       maxCap,
		producerRefs: 1,
		consumerRefs: 1,
	}
	q.justPushed.L = &q.mu
	q.justPopped.L = &q.mu

	return q, &ProducerHandle{q: q}, &ConsumerHandle{q: q}, nil
}

// NewProducer mints a new producer handle, bumping the producer refcount.
func (q *Queue) NewProducer() *ProducerHandle {
	q.mu.Lock()
	q.producerRefs++
	q.mu.Unlock()
	return &ProducerHandle{q: q}
}

// NewConsumer mints a new consumer handle, bumping the consumer refcount.
func (q *Queue) NewConsumer() *ConsumerHandle {
	q.mu.Lock()
	q.consumerRefs++
	q.mu.Unlock()
	return &ConsumerHandle{q: q}
}

// Reserve raises the ring's minimum capacity to min(count, maxCap) and
// grows the buffer now if needed, so pushes up to count don't reallocate.
// count == 0 resets the floor to DefaultMinCap, matching pipe_reserve.
func (q *Queue) Reserve(count int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.r == nil {
		return
	}
	if count == 0 {
		count = DefaultMinCap
	}
	if count <= q.r.elemCount {
		return
	}

	if count > q.maxCap {
		count = q.maxCap
	}
	q.r.minCap = count
	q.r.resize(count)
}

// ProducerHandle is a thin, refcounted capability to push into a Queue.
type ProducerHandle struct {
	q        *Queue
	released bool
}

// ConsumerHandle is a thin, refcounted capability to pop from a Queue.
type ConsumerHandle struct {
	q        *Queue
	released bool
}

// Release decrements the producer refcount. Releasing an already-released
// handle is a programming error and returns ErrInvalidUsage instead of
// corrupting the count.
func (h *ProducerHandle) Release() error {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if h.released {
		return ErrInvalidUsage
	}
	h.released = true
	q.producerRefs--

	// Wake any consumer blocked waiting for more data: if this was the last
	// producer, they need to notice producer_refcount==0 and stop waiting.
	// pipe.c's pipe_producer_free never does this, which is why a consumer
	// blocked in pipe_pop can hang forever once the last producer frees
	// itself without an intervening push; the Termination law in §8 of the
	// spec requires the wakeup, so it's added here.
	q.justPushed.Broadcast()
	return nil
}

// Release decrements the consumer refcount. If this was the last consumer,
// the ring's buffer is released immediately; further pushes become no-ops.
// Releasing an already-released handle returns ErrInvalidUsage.
func (h *ConsumerHandle) Release() error {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if h.released {
		return ErrInvalidUsage
	}
	h.released = true
	q.consumerRefs--

	if q.consumerRefs == 0 {
		q.r = nil
		// Wake any producer blocked waiting for room: it needs to notice
		// consumer_refcount==0 and drop its data instead of waiting forever.
		// Same latent gap as above, mirrored on the opposite side.
		q.justPopped.Broadcast()
	}
	return nil
}

// Push blocks until all of src has been admitted, or until ctx is done, or
// until the queue has no consumers left (in which case it silently drops
// src and returns nil — the buffer is already gone, so there is nothing
// meaningful a producer could do with that information).
//
// len(src) must be a multiple of the queue's element size.
func (h *ProducerHandle) Push(ctx context.Context, src []byte) error {
	if h.released {
		return ErrInvalidUsage
	}
	q := h.q
	if len(src) == 0 {
		return nil
	}
	if len(src)%q.elemSize != 0 {
		return ErrInvalidUsage
	}

	count := len(src) / q.elemSize

	for count > 0 {
		q.mu.Lock()

		for q.r != nil && q.r.elemCount == q.maxCap && q.consumerRefs > 0 {
			if err := waitCtx(&q.justPopped, ctx); err != nil {
				q.mu.Unlock()
				return err
			}
		}

		if q.r == nil || q.consumerRefs == 0 {
			// Dropped: with no consumer left nobody can be waiting in Pop,
			// so justPushed is deliberately not broadcast here.
			q.mu.Unlock()
			return nil
		}

		admitted := q.maxCap - q.r.elemCount
		if admitted > count {
			admitted = count
		}
		q.r.growIfNeeded(admitted)
		q.r.pushBytes(src[:admitted*q.elemSize], admitted)

		q.mu.Unlock()
		q.justPushed.Broadcast()

		src = src[admitted*q.elemSize:]
		count -= admitted
	}

	return nil
}

// Pop blocks until dst can be filled, or until it can return early because
// every producer is gone, or until ctx is done. It returns the number of
// elements written (dst[:n*elemSize] is valid) and ErrClosed once producers
// are gone and the buffer is empty — Design Note 9.6's explicit end-of-
// stream signal, in place of a bare zero return with no error.
//
// len(dst) must be a multiple of the queue's element size.
func (h *ConsumerHandle) Pop(ctx context.Context, dst []byte) (int, error) {
	if h.released {
		return 0, ErrInvalidUsage
	}
	q := h.q
	if len(dst)%q.elemSize != 0 {
		return 0, ErrInvalidUsage
	}

	count := len(dst) / q.elemSize
	if count == 0 {
		return 0, nil
	}
	if count > q.maxCap {
		count = q.maxCap
	}

	q.mu.Lock()

	for q.r.elemCount < count && q.producerRefs > 0 {
		if err := waitCtx(&q.justPushed, ctx); err != nil {
			q.mu.Unlock()
			return 0, err
		}
	}

	admitted := q.r.elemCount
	if admitted > count {
		admitted = count
	}

	if admitted == 0 {
		q.mu.Unlock()
		q.justPopped.Broadcast()
		return 0, ErrClosed
	}

	q.r.popBytes(dst[:admitted*q.elemSize], admitted)
	q.mu.Unlock()

	q.justPopped.Broadcast()
	return admitted, nil
}

// waitCtx blocks on cond.Wait, honoring ctx cancellation if ctx is non-nil.
// cond's lock must already be held on entry and is held again on return,
// matching cond.Wait's own contract. On cancellation it returns ctx.Err().
func waitCtx(cond *sync.Cond, ctx context.Context) error {
	if ctx == nil {
		cond.Wait()
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cond.L.Lock()
			cond.Broadcast()
			cond.L.Unlock()
		case <-stop:
		}
		close(done)
	}()

	cond.Wait()

	// Release the lock while we wait for the watcher goroutine to notice it
	// can stop; otherwise, if it's mid-Lock from the ctx.Done() branch above,
	// we'd deadlock against our own hold of cond.L.
	cond.L.Unlock()
	close(stop)
	<-done
	cond.L.Lock()

	return ctx.Err()
}
