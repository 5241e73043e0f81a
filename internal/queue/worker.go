package queue

import (
	"context"

	"go.uber.org/zap"
)

// PlaybackFunc performs one item's playback (resolve voice/text, fetch
// the TTS stream, hand it to the audio sink, await completion). It is
// supplied by the owning session so this package stays independent of
// C5's attachment state and C2's pipeline.
type PlaybackFunc func(ctx context.Context, item Item) error

// Worker drains exactly one Queue, one item at a time, until it sees a
// sentinel. Errors from PlaybackFunc are logged and never stop the
// loop, matching spec.md §4.6's "never crashes the session" contract.
type Worker struct {
	queue    *Queue
	playback PlaybackFunc
	logger   *zap.Logger

	done chan struct{}
}

// NewWorker builds a Worker bound to queue and playback.
func NewWorker(q *Queue, playback PlaybackFunc, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, playback: playback, logger: logger, done: make(chan struct{})}
}

// Run drains the queue until a sentinel is dequeued or ctx is
// cancelled. Intended to be launched with `go worker.Run(ctx)`; callers
// wait on Done() for termination.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		item := w.dequeueOrDone(ctx)
		if item == nil {
			return
		}
		if item.IsSentinel() {
			return
		}
		if err := w.playback(ctx, *item); err != nil {
			w.logger.Error("utterance playback failed", zap.Error(err))
		}
	}
}

// dequeueOrDone blocks on the queue's Dequeue in a helper goroutine so
// a context cancellation can still unblock Run, since Queue.Dequeue
// itself has no context awareness.
func (w *Worker) dequeueOrDone(ctx context.Context) *Item {
	type result struct{ item Item }
	ch := make(chan result, 1)
	go func() { ch <- result{w.queue.Dequeue()} }()

	select {
	case r := <-ch:
		return &r.item
	case <-ctx.Done():
		return nil
	}
}

// Stop enqueues a sentinel and blocks until the worker's loop exits.
// The sentinel bypasses the queue's drop policy so a full, Reject-
// policy queue can never refuse it and deadlock this call.
func (w *Worker) Stop() {
	w.queue.enqueueForce(Sentinel())
	<-w.done
}

// Done returns a channel closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
