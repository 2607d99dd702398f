//go:build !linux

package keystroke

import (
	"context"

	"keyseq/internal/sequence"
)

// DeviceSource is unavailable outside Linux.
type DeviceSource struct {
	BaseSource
}

// NewDeviceSource returns a source whose Start fails with ErrNotAvailable.
func NewDeviceSource(scope *sequence.Scope, opts DeviceOptions) (*DeviceSource, error) {
	return &DeviceSource{}, nil
}

// Devices returns nil.
func (s *DeviceSource) Devices() []Device { return nil }

// Available returns false on unsupported platforms.
func (s *DeviceSource) Available() (bool, string) {
	return false, "input device reading not implemented for this platform"
}

// Start returns ErrNotAvailable.
func (s *DeviceSource) Start(ctx context.Context) error {
	return ErrNotAvailable
}

// Stop is a no-op on unsupported platforms.
func (s *DeviceSource) Stop() error {
	return nil
}
