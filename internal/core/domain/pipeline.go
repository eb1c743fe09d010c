package domain

import (
	"strings"
	"time"
)

// PipelineConfig is the immutable snapshot the supervisor is built from.
// Components receive copies; changing anything requires a restart.
type PipelineConfig struct {
	SourceURL string
	SinkURL   string

	EnableTransform bool
	Stages          []string

	InputFPS    float64
	OutputFPS   float64
	Width       int
	Height      int
	PixelFormat PixelFormat
	Codec       string
	Bitrate     int

	// PipelineTimeBase is the internal clock frames are stamped in once
	// they leave the source.
	PipelineTimeBase Rational

	MaxQueuedFrames int

	TransientThreshold   int
	TransientBackoff     time.Duration
	ReconnectInterval    time.Duration
	StartupRetryInterval time.Duration
	ReadTimeout          time.Duration
	ReadinessTimeout     time.Duration
	MaxReadinessTimeouts int
	DeviceBuffers        int

	PublishReconnectInterval time.Duration
	MTU                      int
	PayloadType              uint8
	SenderReportInterval     time.Duration
}

// DefaultPipelineConfig captures 1280x1024 NV12 at 18 fps and publishes
// at 30 fps.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		EnableTransform:          true,
		Stages:                   []string{"fps", "hflip"},
		InputFPS:                 18,
		OutputFPS:                30,
		Width:                    1280,
		Height:                   1024,
		PixelFormat:              PixelFormatNV12,
		Codec:                    "h264",
		Bitrate:                  2_000_000,
		PipelineTimeBase:         Rational{Num: 1, Den: 90000},
		TransientThreshold:       10,
		TransientBackoff:         10 * time.Millisecond,
		ReconnectInterval:        30 * time.Millisecond,
		StartupRetryInterval:     5 * time.Second,
		ReadTimeout:              5 * time.Second,
		ReadinessTimeout:         50 * time.Millisecond,
		MaxReadinessTimeouts:     3,
		DeviceBuffers:            4,
		PublishReconnectInterval: 30 * time.Millisecond,
		MTU:                      1200,
		PayloadType:              96,
		SenderReportInterval:     time.Second,
	}
}

type SourceKind int

const (
	SourceStreamed SourceKind = iota
	SourceDevice
)

func (k SourceKind) String() string {
	if k == SourceDevice {
		return "device"
	}
	return "streamed"
}

// SourceKind picks the capture variant from the locator scheme. Anything
// that looks like a device node is memory-mapped capture.
func (c PipelineConfig) SourceKind() SourceKind {
	u := c.SourceURL
	if strings.HasPrefix(u, "/dev/") || strings.HasPrefix(u, "v4l2://") {
		return SourceDevice
	}
	return SourceStreamed
}

// InputTimeBase is the tick of the synthetic capture counter.
func (c PipelineConfig) InputTimeBase() Rational { return TimeBaseForRate(c.InputFPS) }

// EncoderTimeBase is one tick per output frame.
func (c PipelineConfig) EncoderTimeBase() Rational { return TimeBaseForRate(c.OutputFPS) }

func (c PipelineConfig) Descriptor() StreamDescriptor {
	return StreamDescriptor{
		Codec:     c.Codec,
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.OutputFPS,
		TimeBase:  c.EncoderTimeBase(),
		Bitrate:   c.Bitrate,
	}
}
