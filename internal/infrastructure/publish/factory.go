// Package publish implements the packet sinks the publisher writes to.
package publish

import (
	"fmt"
	"net/url"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"

	"go.uber.org/zap"
)

var (
	_ ports.PacketSink = (*RTPSink)(nil)
	_ ports.PacketSink = (*TCPSink)(nil)
)

// NewSink picks the sink for cfg.SinkURL:
//
//	rtp://host:port   RTP over UDP, RTCP on port+1
//	tcp://host:port   length-prefixed packets over TCP
func NewSink(cfg domain.PipelineConfig, logger *zap.SugaredLogger) (ports.PacketSink, error) {
	u, err := url.Parse(cfg.SinkURL)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", cfg.SinkURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("sink %q: missing host:port: %w", cfg.SinkURL, domain.ErrUnsupportedURL)
	}

	switch u.Scheme {
	case "rtp", "udp":
		return NewRTPSink(RTPConfig{
			Address:              u.Host,
			RTCPAddress:          u.Query().Get("rtcp"),
			MTU:                  cfg.MTU,
			PayloadType:          cfg.PayloadType,
			SenderReportInterval: cfg.SenderReportInterval,
		}, logger), nil
	case "tcp":
		return NewTCPSink(TCPConfig{Address: u.Host, WriteTimeout: cfg.ReadTimeout}, logger), nil
	default:
		return nil, fmt.Errorf("sink scheme %q: %w", u.Scheme, domain.ErrUnsupportedURL)
	}
}
