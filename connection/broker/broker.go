/*
The broker package is the fan-out primitive of the connection layer: every
value pushed is delivered to every currently registered subscriber. One mutex
guards both delivery and structural mutation, so no push can ever observe a
half-updated subscriber set. Delivery callbacks run synchronously under that
mutex and in registration order, which means they must be cheap; anything
worth awaiting belongs downstream of the subscriber's own channel.
*/
package broker

import (
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Token identifies one subscriber registration for later removal.
type Token string

// Subscriber receives every published value. Called synchronously, must not
// block.
type Subscriber[T any] func(value T)

type Broker[T any] struct {
	lock        sync.Mutex
	subscribers *orderedmap.OrderedMap[Token, Subscriber[T]]
	closed      bool
	closeReason error
}

func New[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: orderedmap.New[Token, Subscriber[T]](),
	}
}

// Publish delivers value to every current subscriber in registration order.
// A no-op once the broker is closed.
func (b *Broker[T]) Publish(value T) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}

	for pair := b.subscribers.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value(value)
	}
}

// Subscribe registers a delivery callback and returns the token that removes
// it. Subscribing to a closed broker returns an empty token and the callback
// will never fire.
func (b *Broker[T]) Subscribe(subscriber Subscriber[T]) Token {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return Token("")
	}

	token := Token(uuid.New().String())
	b.subscribers.Set(token, subscriber)
	return token
}

// Unsubscribe removes a registration. Removing an unknown token is a no-op.
func (b *Broker[T]) Unsubscribe(token Token) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.subscribers.Delete(token)
}

// Edit applies a structural transform over the current registrations under
// the same lock as Publish. The transform receives every live token and
// returns whether to keep it.
func (b *Broker[T]) Edit(keep func(token Token) bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	var drop []Token
	for pair := b.subscribers.Oldest(); pair != nil; pair = pair.Next() {
		if !keep(pair.Key) {
			drop = append(drop, pair.Key)
		}
	}
	for _, token := range drop {
		b.subscribers.Delete(token)
	}
}

// NumSubscribers reports the current registration count.
func (b *Broker[T]) NumSubscribers() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.subscribers.Len()
}

// Close drops every subscriber and refuses all future registrations.
// Idempotent; the first reason wins.
func (b *Broker[T]) Close(reason error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	b.closeReason = reason
	b.subscribers = orderedmap.New[Token, Subscriber[T]]()
}

// Closed reports whether Close has been called, and with what reason.
func (b *Broker[T]) Closed() (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.closed, b.closeReason
}
