package hass

import (
	"context"
	"sync"
)

// Mock is an in-memory Client for tests and for running without a broker.
// States are set directly and mode changes are recorded.
type Mock struct {
	mu     sync.Mutex
	states map[string]State

	// SetModeErr, when set, is returned from every SetMode call.
	SetModeErr error
	// ModeCalls records every successful SetMode call in order.
	ModeCalls []ModeCall
}

// ModeCall is one recorded SetMode invocation.
type ModeCall struct {
	EntityID string
	Mode     string
}

// NewMock creates an empty mock client.
func NewMock() *Mock {
	return &Mock{states: make(map[string]State)}
}

// SetState sets the value (and optional attributes) of an entity.
func (m *Mock) SetState(entityID, value string, attributes map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[entityID] = State{Value: value, Attributes: attributes}
}

// RemoveState forgets an entity.
func (m *Mock) RemoveState(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, entityID)
}

// GetState implements StateReader.
func (m *Mock) GetState(entityID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[entityID]
	return state, ok
}

// SetMode implements ModeSetter. The applied mode is reflected back into the
// entity's state so resync behaves like a real inverter select.
func (m *Mock) SetMode(_ context.Context, entityID, mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetModeErr != nil {
		return m.SetModeErr
	}
	m.ModeCalls = append(m.ModeCalls, ModeCall{EntityID: entityID, Mode: mode})
	state := m.states[entityID]
	state.Value = mode
	m.states[entityID] = state
	return nil
}

// LastMode returns the most recently applied mode, or "" when none.
func (m *Mock) LastMode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ModeCalls) == 0 {
		return ""
	}
	return m.ModeCalls[len(m.ModeCalls)-1].Mode
}
