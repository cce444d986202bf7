/*
The heartbeat package keeps an idle connection alive and detects a silently
dead peer: at every interval it sends a ping, and if the previous ping's pong
never arrived the connection is declared dead. One miss is fatal; there is no
retry budget and deliberately no grace window, so a pong that lands exactly on
the next tick can still count as missed.
*/
package heartbeat

import (
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/seanericksonpl12/AsyncSockets/logger"
)

type Status int

const (
	NotStarted Status = iota
	WaitingForPong
	Received
)

// Delegate is the manager's non-owning handle back to the connection. It is
// deliberately narrow so the manager can never extend the connection's
// lifetime.
type Delegate interface {
	SendPing() error
	// CloseGoingAway initiates a graceful close with a going-away code
	CloseGoingAway() error
	// ForceClose is the fallback when the graceful close itself fails
	ForceClose()
}

type Manager struct {
	logger   *logger.Logger
	delegate Delegate

	lock   sync.Mutex
	status Status
	tmb    *tomb.Tomb
}

func New(logger *logger.Logger, delegate Delegate) *Manager {
	return &Manager{
		logger:   logger,
		delegate: delegate,
	}
}

// Start begins the heartbeat loop, cancelling any prior run first. The loop
// stops on Stop, or permanently once a heartbeat is missed.
func (m *Manager) Start(interval time.Duration) {
	m.Stop()

	m.lock.Lock()
	m.status = NotStarted
	m.tmb = &tomb.Tomb{}
	tmb := m.tmb
	m.lock.Unlock()

	tmb.Go(func() error {
		m.logger.Infof("Heartbeat started with interval %s", interval)
		defer m.logger.Infof("Heartbeat stopped")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-tmb.Dying():
				return nil
			case <-ticker.C:
				if missed := m.beat(); missed {
					m.logger.Errorf("no pong received within %s, closing connection", interval)

					if err := m.delegate.CloseGoingAway(); err != nil {
						m.logger.Errorf("graceful close after missed heartbeat failed: %s", err)
						m.delegate.ForceClose()
					}
					return nil
				}
			}
		}
	})
}

// beat inspects the status at one tick and reports whether the heartbeat was
// missed.
func (m *Manager) beat() bool {
	m.lock.Lock()

	if m.status == WaitingForPong {
		m.lock.Unlock()
		return true
	}

	m.status = WaitingForPong
	m.lock.Unlock()

	// Ping outside the lock; Received may land while the write is in flight
	if err := m.delegate.SendPing(); err != nil {
		m.logger.Errorf("failed to send heartbeat ping: %s", err)
	}
	return false
}

// Received marks the current heartbeat as answered. Safe to call from any
// goroutine, including the receive path.
func (m *Manager) Received() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.status = Received
}

// Status returns a snapshot of the heartbeat state.
func (m *Manager) Status() Status {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.status
}

// Stop ends the current run. Idempotent and safe to call before Start or
// during teardown.
func (m *Manager) Stop() {
	m.lock.Lock()
	tmb := m.tmb
	m.tmb = nil
	m.lock.Unlock()

	if tmb != nil && tmb.Alive() {
		tmb.Kill(nil)
		tmb.Wait()
	}
}
