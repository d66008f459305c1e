package chat

import (
	"context"
	"errors"
	"sync"
)

// ErrTurnStopped is the cancellation cause of a turn stopped on request.
var ErrTurnStopped = errors.New("turn stopped")

// StopRegistry tracks the cancel functions of turns running on this instance.
type StopRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

func NewStopRegistry() *StopRegistry {
	return &StopRegistry{cancels: make(map[string]context.CancelCauseFunc)}
}

// Register makes turnID stoppable. A second registration replaces the first.
func (r *StopRegistry) Register(turnID string, cancel context.CancelCauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[turnID] = cancel
}

func (r *StopRegistry) Remove(turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, turnID)
}

// Stop cancels the turn and reports whether it was running here.
func (r *StopRegistry) Stop(turnID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[turnID]
	delete(r.cancels, turnID)
	r.mu.Unlock()

	if ok {
		cancel(ErrTurnStopped)
	}
	return ok
}

// Len is the number of running turns.
func (r *StopRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
