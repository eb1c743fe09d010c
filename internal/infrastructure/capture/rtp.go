package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/pkg/optimize"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// rtpClockRate is the RTP video clock.
const rtpClockRate = 90000

const maxDatagram = 64 * 1024

var errIncompleteFrame = errors.New("incomplete frame")

// RTPSource receives raw frames carried over RTP on UDP. A frame is the
// concatenation of the payloads of one timestamp, closed by the marker
// bit. Loss anywhere in a frame drops the whole frame as a transient
// error.
type RTPSource struct {
	cfg    StreamConfig
	logger *zap.SugaredLogger
	pool   *optimize.BytePool

	conn      net.PacketConn
	sessionID string
	readBuf   []byte

	assembly []byte
	frameTS  uint32
	gap      bool
	nextSeq  uint16
	haveSeq  bool

	lastTS  uint32
	extTS   int64
	haveExt bool
}

func NewRTPSource(cfg StreamConfig, logger *zap.SugaredLogger) *RTPSource {
	size := cfg.PixelFormat.FrameSize(cfg.Width, cfg.Height)
	return &RTPSource{
		cfg:      cfg,
		logger:   logger,
		pool:     optimize.NewBytePool(size),
		readBuf:  make([]byte, maxDatagram),
		assembly: make([]byte, 0, size),
	}
}

func (s *RTPSource) Open(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.conn = conn
	s.sessionID = uuid.NewString()
	s.resetAssembly()
	s.haveSeq = false
	s.haveExt = false
	s.logger.Infow("input opened", "stage", "source", "session_id", s.sessionID,
		"address", conn.LocalAddr().String(), "frame_bytes", s.pool.Size())
	return nil
}

// LocalAddr is the bound address; useful when listening on port 0.
func (s *RTPSource) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *RTPSource) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("rtp source: %w: %w", domain.ErrNotConnected, domain.ErrFatal)
	}

	conn := s.conn
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	for {
		n, _, err := conn.ReadFrom(s.readBuf)
		if err != nil {
			return nil, classify("read packet", err)
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(s.readBuf[:n]); err != nil {
			s.gap = true
			return nil, fmt.Errorf("malformed rtp packet: %w: %w", err, domain.ErrTransient)
		}

		frame, err := s.push(&pkt)
		if err != nil || frame != nil {
			return frame, err
		}
	}
}

// push adds one packet to the frame being assembled and returns the frame
// once its marker packet arrives.
func (s *RTPSource) push(pkt *rtp.Packet) (*domain.Frame, error) {
	if s.haveSeq && pkt.SequenceNumber != s.nextSeq {
		s.gap = true
	}
	s.nextSeq = pkt.SequenceNumber + 1
	s.haveSeq = true

	if len(s.assembly) > 0 && pkt.Timestamp != s.frameTS {
		// a new frame started before the previous one was closed
		s.resetAssembly()
		s.frameTS = pkt.Timestamp
		s.assembly = append(s.assembly, pkt.Payload...)
		return nil, fmt.Errorf("frame ts=%d: %w: %w", s.frameTS, errIncompleteFrame, domain.ErrTransient)
	}
	if len(s.assembly) == 0 {
		s.frameTS = pkt.Timestamp
	}

	if len(s.assembly)+len(pkt.Payload) > s.pool.Size() {
		s.gap = true
	} else {
		s.assembly = append(s.assembly, pkt.Payload...)
	}
	if !pkt.Marker {
		return nil, nil
	}

	complete := !s.gap && len(s.assembly) == s.pool.Size()
	ts := s.frameTS
	if !complete {
		got := len(s.assembly)
		s.resetAssembly()
		return nil, fmt.Errorf("frame ts=%d (%d of %d bytes): %w: %w",
			ts, got, s.pool.Size(), errIncompleteFrame, domain.ErrTransient)
	}

	buf := s.pool.Get()
	copy(buf, s.assembly)
	s.resetAssembly()

	frame := domain.NewFrame(buf, s.cfg.Width, s.cfg.Height, s.cfg.PixelFormat)
	frame.PTS = s.extend(ts)
	frame.TimeBase = domain.Rational{Num: 1, Den: rtpClockRate}
	return frame.WithRelease(func() { s.pool.Put(buf) }), nil
}

func (s *RTPSource) resetAssembly() {
	s.assembly = s.assembly[:0]
	s.gap = false
}

// extend unwraps the 32-bit RTP timestamp into a monotonic 64-bit clock.
func (s *RTPSource) extend(ts uint32) int64 {
	if !s.haveExt {
		s.extTS = int64(ts)
		s.haveExt = true
	} else {
		s.extTS += int64(int32(ts - s.lastTS))
	}
	s.lastTS = ts
	return s.extTS
}

func (s *RTPSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.logger.Infow("input closed", "stage", "source", "session_id", s.sessionID)
	return err
}
