// Package connstate tracks the connection state machine shared by the
// capture source and the publisher:
//
//	Uninitialized --open ok--> Connected --i/o failure--> Reconnecting --open ok--> Connected
//
// Connected and Degraded swap freely, Reconnecting loops on itself, and any
// state moves to the terminal Stopped state.
package connstate

import (
	"fmt"
	"sync"
	"time"

	"vidrelay/internal/core/domain"
)

// Tracker is safe for concurrent readers; transitions are expected to come
// from the owning stage only.
type Tracker struct {
	name string

	mu              sync.RWMutex
	state           domain.ConnectionState
	reconnects      uint64
	stateChangeTime time.Time

	onStateChange func(name string, from, to domain.ConnectionState)
}

func New(name string) *Tracker {
	return &Tracker{
		name:            name,
		state:           domain.StateUninitialized,
		stateChangeTime: time.Now(),
	}
}

// OnStateChange registers a callback run synchronously after every
// accepted transition, outside the lock.
func (t *Tracker) OnStateChange(fn func(name string, from, to domain.ConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

func (t *Tracker) Name() string { return t.name }

func (t *Tracker) State() domain.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Reconnects counts entries into Reconnecting.
func (t *Tracker) Reconnects() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reconnects
}

func (t *Tracker) Since() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Since(t.stateChangeTime)
}

func (t *Tracker) Connected() error    { return t.transitionTo(domain.StateConnected) }
func (t *Tracker) Degraded() error     { return t.transitionTo(domain.StateDegraded) }
func (t *Tracker) Reconnecting() error { return t.transitionTo(domain.StateReconnecting) }
func (t *Tracker) Stopped() error      { return t.transitionTo(domain.StateStopped) }

func allowed(from, to domain.ConnectionState) bool {
	if to == domain.StateStopped {
		return true
	}
	switch from {
	case domain.StateUninitialized:
		return to == domain.StateConnected
	case domain.StateConnected:
		return to == domain.StateDegraded || to == domain.StateReconnecting
	case domain.StateDegraded:
		return to == domain.StateConnected || to == domain.StateReconnecting
	case domain.StateReconnecting:
		return to == domain.StateConnected || to == domain.StateReconnecting
	default:
		return false
	}
}

func (t *Tracker) transitionTo(to domain.ConnectionState) error {
	t.mu.Lock()
	from := t.state
	if from == to && to != domain.StateReconnecting {
		t.mu.Unlock()
		return nil
	}
	if !allowed(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%s: invalid transition %s -> %s", t.name, from, to)
	}
	if from == to {
		// reconnecting loops on itself without counting a new sequence
		t.mu.Unlock()
		return nil
	}

	t.state = to
	t.stateChangeTime = time.Now()
	if to == domain.StateReconnecting {
		t.reconnects++
	}
	cb := t.onStateChange
	t.mu.Unlock()

	if cb != nil {
		cb(t.name, from, to)
	}
	return nil
}
