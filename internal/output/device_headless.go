//go:build headless

package output

import (
	"errors"
	"time"
)

// ErrNoDevice is returned by NewDevice in headless builds
var ErrNoDevice = errors.New("audio device not available in headless build")

// Device is a stub; headless builds render through Pump
type Device struct{}

func NewDevice(r Renderer, sink FrameSink, buffer time.Duration) (*Device, error) {
	return nil, ErrNoDevice
}

func (d *Device) Read(p []byte) (int, error) {
	return len(p), nil
}

func (d *Device) Start() {}

func (d *Device) Close() error {
	return nil
}
