package edgequeue

// NetworkMonitor is an optional collaborator the processor consults
// synchronously during filtering, and whose edge transitions it reacts to
// in order to gate online-only jobs. Implementations must be safe for
// concurrent use; Subscribe's callback may be invoked from any goroutine.
type NetworkMonitor interface {
	// IsConnected reports the current connectivity state.
	IsConnected() bool

	// Subscribe registers fn to be called whenever connectivity changes.
	// It returns an unsubscribe function.
	Subscribe(fn func(isConnected bool)) (unsubscribe func())
}
