// Package reachability provides the connectivity signal the sync queue
// consumes: a current online/offline state plus edge-triggered
// notifications when the state flips.
package reachability

// Provider exposes the current connectivity state.
type Provider interface {
	IsOnline() bool
}

// Monitor is a Provider that also notifies subscribers about state
// transitions. Subscribers receive the new state (true when the device
// just came online) and must call the returned cancel function when done.
type Monitor interface {
	Provider
	Subscribe() (<-chan bool, func())
}

// StaticProvider is a fixed connectivity state. Useful in tests and for
// callers that manage connectivity themselves.
type StaticProvider bool

// IsOnline ...
func (p StaticProvider) IsOnline() bool {
	return bool(p)
}
