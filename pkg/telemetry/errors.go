package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by dispatcher operations invoked
	// before Initialize.
	ErrNotInitialized = errors.New("telemetry: dispatcher not initialized")

	// ErrAlreadyInitialized is returned by a repeated Initialize call.
	// Initialization is single-use.
	ErrAlreadyInitialized = errors.New("telemetry: dispatcher already initialized")

	// ErrDisposed is returned by any operation after Dispose. Disposal is
	// terminal.
	ErrDisposed = errors.New("telemetry: dispatcher disposed")

	// ErrConfigMismatch is returned by an adapter's Initialize when the
	// config value is not the type the adapter expects.
	ErrConfigMismatch = errors.New("telemetry: adapter config mismatch")

	errUnknownRecordKind = errors.New("telemetry: unknown record kind")
)

// DeliveryError describes a failed delivery attempt to one backend
// adapter. Delivery errors never reach the Submit caller; they are logged
// and converted into an offline-buffer enqueue.
type DeliveryError struct {
	Adapter string

	// StatusCode is the HTTP status for transport adapters, 0 otherwise.
	StatusCode int

	Err error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf(
			"telemetry: delivery to %q failed with status %d: %v",
			e.Adapter, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("telemetry: delivery to %q failed: %v", e.Adapter, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
