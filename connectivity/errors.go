package connectivity

import "fmt"

// ErrActionNotFound is returned when Call targets an action with no route
// and no local handler.
type ErrActionNotFound struct {
	Action string
}

func (e *ErrActionNotFound) Error() string {
	return fmt.Sprintf("connectivity: unknown action: %s", e.Action)
}

// ErrNoFactory is logged by Reload when a route names an unregistered strategy.
type ErrNoFactory struct {
	Action   string
	Strategy string
}

func (e *ErrNoFactory) Error() string {
	return fmt.Sprintf("connectivity: no transport for strategy %q (action %s)", e.Strategy, e.Action)
}

// ErrFactoryFailed is logged by Reload when a factory rejects a route.
type ErrFactoryFailed struct {
	Action   string
	Strategy string
	Endpoint string
	Cause    error
}

func (e *ErrFactoryFailed) Error() string {
	return fmt.Sprintf("connectivity: %s route for %s (endpoint %s): %v", e.Strategy, e.Action, e.Endpoint, e.Cause)
}

func (e *ErrFactoryFailed) Unwrap() error { return e.Cause }

// ErrPanic wraps a panic recovered by the Recovery middleware.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}
