//go:build !linux

package capture

import (
	"errors"
	"time"

	"vidrelay/internal/core/domain"
)

var errNoV4L2 = errors.New("memory-mapped capture requires linux")

// V4L2Device is unavailable off Linux; Open always fails so the source
// keeps retrying like any other missing device.
type V4L2Device struct{}

func NewV4L2Device(domain.PixelFormat) *V4L2Device { return &V4L2Device{} }

func (d *V4L2Device) Open(string, int, int) (DeviceFormat, error) { return DeviceFormat{}, errNoV4L2 }
func (d *V4L2Device) RequestBuffers(int) (int, error)             { return 0, errNoV4L2 }
func (d *V4L2Device) MapBuffer(int) ([]byte, error)               { return nil, errNoV4L2 }
func (d *V4L2Device) Unmap([]byte) error                          { return nil }
func (d *V4L2Device) Enqueue(int) error                           { return errNoV4L2 }
func (d *V4L2Device) Dequeue() (int, int, error)                  { return -1, 0, errNoV4L2 }
func (d *V4L2Device) StreamOn() error                             { return errNoV4L2 }
func (d *V4L2Device) StreamOff() error                            { return nil }
func (d *V4L2Device) WaitReady(time.Duration) (bool, error)       { return false, errNoV4L2 }
func (d *V4L2Device) Close() error                                { return nil }
