/*
The pending package tracks in-flight callers: each Record is a one-shot slot
resolved exactly once, by success, failure, or forced cancellation at
teardown, whichever lands first. The Registry keys records by generated id so
concurrent callers never collide, and dispatches results oldest-first.
*/
package pending

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"
)

// Result is what a Record resolves to: a value or an error, never both.
type Result[T any] struct {
	Value T
	Err   error
}

// Record is one in-flight caller's placeholder awaiting exactly one future
// resolution. The resolved flag is checked under the lock so double
// resolution is impossible no matter which events race.
type Record[T any] struct {
	id string

	lock     sync.Mutex
	resolved bool
	done     chan Result[T]
}

func newRecord[T any](id string) *Record[T] {
	return &Record[T]{
		id: id,
		// Buffered so resolution never blocks on an abandoned caller
		done: make(chan Result[T], 1),
	}
}

func (r *Record[T]) Id() string {
	return r.id
}

// Done yields the record's single result.
func (r *Record[T]) Done() <-chan Result[T] {
	return r.done
}

// Complete resolves the record with a value. Returns false if the record was
// already resolved.
func (r *Record[T]) Complete(value T) bool {
	return r.resolve(Result[T]{Value: value})
}

// Fail resolves the record with an error. Returns false if the record was
// already resolved.
func (r *Record[T]) Fail(err error) bool {
	return r.resolve(Result[T]{Err: err})
}

func (r *Record[T]) resolve(result Result[T]) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.resolved {
		return false
	}
	r.resolved = true
	r.done <- result
	return true
}

// Registry holds the currently waiting records for one kind of operation.
type Registry[T any] struct {
	lock    sync.Mutex
	records map[string]*Record[T]

	// Ids in arrival order so inbound results go to the oldest waiter. May
	// contain ids of records that have since been removed; they are skipped
	// at dispatch time.
	order *queue.Queue

	// Once sealed, every new record fails immediately with this error;
	// closes the race between teardown and a caller arriving right after it
	sealed    bool
	sealedErr error
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		records: make(map[string]*Record[T]),
		order:   queue.New(),
	}
}

// Add registers a new record and returns it. After FailAll the returned
// record is already resolved with the teardown error.
func (reg *Registry[T]) Add() *Record[T] {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	record := newRecord[T](uuid.New().String())
	if reg.sealed {
		record.Fail(reg.sealedErr)
		return record
	}
	reg.records[record.id] = record
	reg.order.Add(record.id)
	return record
}

// Remove forgets a record without resolving it, e.g. when its caller's
// context is cancelled. Removing an unknown id is a no-op and never disturbs
// other callers' records.
func (reg *Registry[T]) Remove(id string) {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	delete(reg.records, id)
}

// CompleteOldest resolves the oldest waiting record with value. Returns false
// if no record is waiting.
func (reg *Registry[T]) CompleteOldest(value T) bool {
	if record := reg.takeOldest(); record != nil {
		return record.Complete(value)
	}
	return false
}

// Complete resolves a specific record by id.
func (reg *Registry[T]) Complete(id string, value T) bool {
	if record := reg.take(id); record != nil {
		return record.Complete(value)
	}
	return false
}

// Fail resolves a specific record by id with an error.
func (reg *Registry[T]) Fail(id string, err error) bool {
	if record := reg.take(id); record != nil {
		return record.Fail(err)
	}
	return false
}

// FailAll resolves every waiting record with err, empties the registry, and
// seals it so late arrivals fail with the same error. Used at teardown so no
// caller is ever left hanging.
func (reg *Registry[T]) FailAll(err error) {
	reg.lock.Lock()
	reg.sealed = true
	reg.sealedErr = err
	remaining := make([]*Record[T], 0, len(reg.records))
	for id, record := range reg.records {
		remaining = append(remaining, record)
		delete(reg.records, id)
	}
	for reg.order.Length() > 0 {
		reg.order.Remove()
	}
	reg.lock.Unlock()

	for _, record := range remaining {
		record.Fail(err)
	}
}

// Len reports how many records are currently waiting.
func (reg *Registry[T]) Len() int {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	return len(reg.records)
}

func (reg *Registry[T]) take(id string) *Record[T] {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	record, ok := reg.records[id]
	if !ok {
		return nil
	}
	delete(reg.records, id)
	return record
}

func (reg *Registry[T]) takeOldest() *Record[T] {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	for reg.order.Length() > 0 {
		id := reg.order.Remove().(string)
		if record, ok := reg.records[id]; ok {
			delete(reg.records, id)
			return record
		}
		// Stale id from a removed record; keep looking
	}
	return nil
}
