package hass

import "context"

// State is the last known state of a Home Assistant entity.
type State struct {
	Value      string
	Attributes map[string]any
}

// StateReader reads the last known state of entities. Implementations must
// return immediately from a local cache, never block on the network.
type StateReader interface {
	// GetState returns the current state of the entity. The second return is
	// false when the entity has never been seen.
	GetState(entityID string) (State, bool)
}

// ModeSetter applies an operating mode to a select entity.
type ModeSetter interface {
	SetMode(ctx context.Context, entityID, mode string) error
}

// Client combines reading entity state and setting modes.
type Client interface {
	StateReader
	ModeSetter
}

// NumericState returns the entity's state parsed as a float. The second
// return is false when the entity is missing or its state is not numeric.
func NumericState(r StateReader, entityID string) (float64, bool) {
	if entityID == "" {
		return 0, false
	}
	state, ok := r.GetState(entityID)
	if !ok {
		return 0, false
	}
	return parseFloat(state.Value)
}
