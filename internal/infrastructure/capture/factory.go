// Package capture implements the raw frame sources: memory-mapped capture
// devices and streamed network inputs.
package capture

import (
	"fmt"
	"net/url"
	"strings"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"

	"go.uber.org/zap"
)

var (
	_ ports.RawFrameSource = (*DeviceSource)(nil)
	_ ports.RawFrameSource = (*TCPSource)(nil)
	_ ports.RawFrameSource = (*RTPSource)(nil)
	_ Device               = (*V4L2Device)(nil)
)

// NewSource picks the capture variant for cfg.SourceURL:
//
//	/dev/video0, v4l2:///dev/video0   memory-mapped device
//	rtp://0.0.0.0:5000                raw frames over RTP/UDP (listen)
//	tcp://host:port                   raw frames over TCP (dial)
func NewSource(cfg domain.PipelineConfig, logger *zap.SugaredLogger) (ports.RawFrameSource, error) {
	if cfg.SourceKind() == domain.SourceDevice {
		path := strings.TrimPrefix(cfg.SourceURL, "v4l2://")
		return NewDeviceSource(NewV4L2Device(cfg.PixelFormat), DeviceConfig{
			Path:                 path,
			Width:                cfg.Width,
			Height:               cfg.Height,
			Buffers:              cfg.DeviceBuffers,
			ReadinessTimeout:     cfg.ReadinessTimeout,
			MaxReadinessTimeouts: cfg.MaxReadinessTimeouts,
		}, logger), nil
	}

	u, err := url.Parse(cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", cfg.SourceURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("source %q: missing host:port: %w", cfg.SourceURL, domain.ErrUnsupportedURL)
	}

	sc := StreamConfig{
		Address:     u.Host,
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: cfg.PixelFormat,
		ReadTimeout: cfg.ReadTimeout,
	}
	switch u.Scheme {
	case "tcp":
		return NewTCPSource(sc, logger), nil
	case "rtp", "udp":
		return NewRTPSource(sc, logger), nil
	default:
		return nil, fmt.Errorf("source scheme %q: %w", u.Scheme, domain.ErrUnsupportedURL)
	}
}
