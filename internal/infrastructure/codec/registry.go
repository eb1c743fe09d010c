// Package codec provides the encoders behind ports.Codec.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"

	"go.uber.org/zap"
)

var (
	_ ports.Codec       = (*RawVideo)(nil)
	_ ports.Codec       = (*MJPEG)(nil)
	_ ports.Codec       = (*H264)(nil)
	_ ports.Interrupter = (*H264)(nil)
)

type factory func(logger *zap.SugaredLogger) ports.Codec

var registry = map[string]factory{
	"rawvideo": func(*zap.SugaredLogger) ports.Codec { return NewRawVideo() },
	"mjpeg":    func(*zap.SugaredLogger) ports.Codec { return NewMJPEG(DefaultJPEGQuality) },
	"h264":     func(l *zap.SugaredLogger) ports.Codec { return NewH264(l) },
}

// Lookup returns a fresh encoder for name. Unknown names wrap
// domain.ErrCodecUnavailable.
func Lookup(name string, logger *zap.SugaredLogger) (ports.Codec, error) {
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("codec %q (have %s): %w", name, strings.Join(Names(), ", "), domain.ErrCodecUnavailable)
	}
	return f(logger), nil
}

// Names lists the registered codecs.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// queue is the packet buffer between SendFrame and ReceivePacket for
// codecs that produce output synchronously.
type queue struct {
	packets []*domain.Packet
	closed  bool
}

func (q *queue) push(p *domain.Packet) { q.packets = append(q.packets, p) }

func (q *queue) pop() (*domain.Packet, error) {
	if len(q.packets) == 0 {
		if q.closed {
			return nil, domain.ErrEndOfStream
		}
		return nil, domain.ErrWouldBlock
	}
	p := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	return p, nil
}
