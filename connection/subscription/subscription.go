/*
The subscription package turns broker deliveries into cancellable, resumable
streams. Each stream buffers deliveries in an unbounded fifo so the broker's
synchronous fan-out never blocks on a slow consumer; callers drain at their
own pace through Next or Chan. A stream ends exactly once: by End, or by the
connection tearing down underneath it.
*/
package subscription

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/eapache/queue"

	"github.com/seanericksonpl12/AsyncSockets/wire"
)

// The EndedError resolves any waiting Next call once a stream is over.
type EndedError struct {
	Reason error
}

func (e *EndedError) Error() string {
	if e.Reason != nil {
		return "subscription ended: " + e.Reason.Error()
	}
	return "subscription ended"
}

func (e *EndedError) Unwrap() error { return e.Reason }

type Stream[T any] struct {
	lock    sync.Mutex
	pending *queue.Queue
	ended   bool
	reason  error

	// Signalled (capacity 1) on every delivery
	wake chan struct{}

	// Closed on End so every waiter wakes, not just one
	done chan struct{}

	// Removes this stream's broker registration; runs exactly once
	unsubscribe func()
	endOnce     sync.Once
}

// NewStream builds a stream whose broker registration is undone by
// unsubscribe when the stream ends.
func NewStream[T any](unsubscribe func()) *Stream[T] {
	return &Stream[T]{
		pending:     queue.New(),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
}

// Deliver is the broker-facing entry point. Cheap and non-blocking, as the
// broker requires. Deliveries after the stream has ended are dropped.
func (s *Stream[T]) Deliver(value T) {
	s.lock.Lock()
	if s.ended {
		s.lock.Unlock()
		return
	}
	s.pending.Add(value)
	s.lock.Unlock()

	s.signal()
}

// Next blocks until a value is available, the stream ends, or ctx is
// cancelled. Values already queued are drained before the end condition is
// reported, so ending a stream never discards deliveries.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.lock.Lock()
		if s.pending.Length() > 0 {
			value := s.pending.Remove().(T)
			refill := s.pending.Length() > 0
			s.lock.Unlock()
			if refill {
				// The per-delivery signal can be coalesced; hand the wakeup
				// on so concurrent waiters drain everything that is queued
				s.signal()
			}
			return value, nil
		}
		if s.ended {
			reason := s.reason
			s.lock.Unlock()
			return zero, &EndedError{Reason: reason}
		}
		s.lock.Unlock()

		select {
		case <-s.wake:
		case <-s.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Chan exposes the stream as a receive channel, closed when the stream ends.
// An abandoned consumer never pins the pump: once the stream ends, the
// goroutine exits even if nobody is receiving, dropping whatever was still
// queued.
func (s *Stream[T]) Chan() <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			value, err := s.Next(context.Background())
			if err != nil {
				return
			}
			select {
			case out <- value:
			case <-s.done:
				return
			}
		}
	}()
	return out
}

// End terminates the stream and removes its broker registration. Idempotent.
func (s *Stream[T]) End(reason error) {
	s.endOnce.Do(func() {
		s.lock.Lock()
		s.ended = true
		s.reason = reason
		s.lock.Unlock()

		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		close(s.done)
	})
}

// Ended reports whether the stream is over.
func (s *Stream[T]) Ended() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.ended
}

func (s *Stream[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Decoded is a typed view over a message stream: each message's payload is
// JSON-decoded into T. Messages that fail to decode are skipped rather than
// surfaced, matching the typed receive contract: callers only ever see
// decoded values or the end of the stream.
type Decoded[T any] struct {
	stream *Stream[wire.Message]
}

func NewDecoded[T any](stream *Stream[wire.Message]) *Decoded[T] {
	return &Decoded[T]{stream: stream}
}

func (d *Decoded[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		message, err := d.stream.Next(ctx)
		if err != nil {
			return zero, err
		}

		var value T
		if err := json.Unmarshal(message.Data(), &value); err != nil {
			continue
		}
		return value, nil
	}
}

func (d *Decoded[T]) Chan() <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			value, err := d.Next(context.Background())
			if err != nil {
				return
			}
			select {
			case out <- value:
			case <-d.stream.done:
				return
			}
		}
	}()
	return out
}

func (d *Decoded[T]) End(reason error) {
	d.stream.End(reason)
}
