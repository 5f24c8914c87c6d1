package sensor

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotReady is wrapped by every DeviceError.
	ErrDeviceNotReady = errors.New("device not ready")
	ErrNotInitialized = errors.New("sensor not initialized")
)

// DeviceError reports that backend setup failed. Sampling must not start.
type DeviceError struct {
	Device string
	Err    error
}

func newDeviceError(device string, cause error) *DeviceError {
	return &DeviceError{Device: device, Err: fmt.Errorf("%w: %w", ErrDeviceNotReady, cause)}
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// SampleError is a failed acquisition cycle. It is transient.
type SampleError struct {
	Err error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sample: %v", e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// ValidationError rejects a malformed injection request.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
