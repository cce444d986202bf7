package broker

import (
	"fmt"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestBroker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Broker Suite")
}

var _ = Describe("Broker", func() {
	var b *Broker[int]

	BeforeEach(func() {
		b = New[int]()
	})

	Context("Publishing", func() {
		When("multiple subscribers are registered", func() {
			const numSubscribers = 10
			const numMessages = 1000

			var received [][]int
			var lock sync.Mutex

			BeforeEach(func() {
				received = make([][]int, numSubscribers)
				for i := 0; i < numSubscribers; i++ {
					i := i
					b.Subscribe(func(value int) {
						lock.Lock()
						received[i] = append(received[i], value)
						lock.Unlock()
					})
				}

				for m := 0; m < numMessages; m++ {
					b.Publish(m)
				}
			})

			It("delivers every value to every subscriber exactly once and in order", func() {
				for i := 0; i < numSubscribers; i++ {
					Expect(received[i]).To(HaveLen(numMessages), "subscriber %d lost or duplicated messages", i)
					for m := 0; m < numMessages; m++ {
						Expect(received[i][m]).To(Equal(m))
					}
				}
			})
		})

		When("publishers race with subscription changes", func() {
			It("never observes a half-updated subscriber set", func() {
				var wg sync.WaitGroup
				stop := make(chan struct{})

				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
							b.Publish(1)
						}
					}
				}()

				for i := 0; i < 100; i++ {
					token := b.Subscribe(func(int) {})
					b.Unsubscribe(token)
				}

				close(stop)
				wg.Wait()
				Expect(b.NumSubscribers()).To(Equal(0))
			})
		})
	})

	Context("Structural edits", func() {
		When("all subscribers are removed via Edit", func() {
			var oldCount int
			var newCount int

			BeforeEach(func() {
				for i := 0; i < 5; i++ {
					b.Subscribe(func(int) { oldCount++ })
				}

				b.Edit(func(token Token) bool { return false })
				b.Publish(1)

				// A fresh subscriber registered after the purge still works
				b.Subscribe(func(int) { newCount++ })
				b.Publish(2)
			})

			It("stops delivery to old subscribers without affecting new ones", func() {
				Expect(oldCount).To(Equal(0), "a removed subscriber still received a value")
				Expect(newCount).To(Equal(1), "a subscriber added after the edit was not delivered to")
			})
		})

		When("removing a subscriber that does not exist", func() {
			It("is a no-op", func() {
				Expect(func() { b.Unsubscribe(Token("never registered")) }).ToNot(Panic())
			})
		})
	})

	Context("Closing", func() {
		When("the broker has been closed", func() {
			var delivered int

			BeforeEach(func() {
				b.Subscribe(func(int) { delivered++ })
				b.Close(fmt.Errorf("connection went away"))
			})

			It("drops all subscribers and refuses new ones", func() {
				b.Publish(1)
				Expect(delivered).To(Equal(0))

				token := b.Subscribe(func(int) { delivered++ })
				Expect(token).To(Equal(Token("")))
				b.Publish(2)
				Expect(delivered).To(Equal(0))
			})

			It("reports its close reason", func() {
				closed, reason := b.Closed()
				Expect(closed).To(BeTrue())
				Expect(reason).To(MatchError("connection went away"))
			})

			It("tolerates a second close", func() {
				Expect(func() { b.Close(fmt.Errorf("again")) }).ToNot(Panic())
			})
		})
	})
})
