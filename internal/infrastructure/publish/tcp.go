package publish

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"vidrelay/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream header written once per session:
//
//	magic "VRLY" | version u8 | codec len u8 | codec | width u16 | height u16 |
//	fps*1000 u32 | time base num u32 | time base den u32
//
// followed by one record per packet:
//
//	length u32 | pts i64 | flags u8 | data
const (
	streamMagic   = "VRLY"
	streamVersion = 1
	recordHeader  = 13
	flagKeyFrame  = 1

	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

type TCPConfig struct {
	Address      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// TCPSink writes length-prefixed packets to a TCP receiver. Timestamps are
// carried in milliseconds.
type TCPSink struct {
	cfg    TCPConfig
	logger *zap.SugaredLogger

	mu        sync.Mutex
	conn      net.Conn
	sessionID string
	header    [recordHeader]byte
}

func NewTCPSink(cfg TCPConfig, logger *zap.SugaredLogger) *TCPSink {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &TCPSink{cfg: cfg, logger: logger}
}

func (s *TCPSink) TimeBase() domain.Rational { return domain.Rational{Num: 1, Den: 1000} }

func (s *TCPSink) Open(ctx context.Context, desc domain.StreamDescriptor) error {
	_ = s.Close()

	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Address, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write(encodeStreamHeader(desc, s.TimeBase())); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write stream header: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.sessionID = uuid.NewString()
	s.mu.Unlock()

	s.logger.Infow("output opened", "stage", "publisher", "session_id", s.sessionID,
		"address", conn.RemoteAddr().String(), "codec", desc.Codec)
	return nil
}

func encodeStreamHeader(desc domain.StreamDescriptor, tb domain.Rational) []byte {
	codec := desc.Codec
	if len(codec) > 255 {
		codec = codec[:255]
	}
	b := make([]byte, 0, len(streamMagic)+2+len(codec)+16)
	b = append(b, streamMagic...)
	b = append(b, streamVersion, byte(len(codec)))
	b = append(b, codec...)
	b = binary.BigEndian.AppendUint16(b, uint16(desc.Width))
	b = binary.BigEndian.AppendUint16(b, uint16(desc.Height))
	b = binary.BigEndian.AppendUint32(b, uint32(desc.FrameRate*1000+0.5))
	b = binary.BigEndian.AppendUint32(b, uint32(tb.Num))
	b = binary.BigEndian.AppendUint32(b, uint32(tb.Den))
	return b
}

func (s *TCPSink) WritePacket(pkt *domain.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("tcp sink: %w", domain.ErrNotConnected)
	}

	binary.BigEndian.PutUint32(s.header[0:4], uint32(len(pkt.Data)))
	binary.BigEndian.PutUint64(s.header[4:12], uint64(pkt.PTS))
	s.header[12] = 0
	if pkt.KeyFrame {
		s.header[12] = flagKeyFrame
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	bufs := net.Buffers{s.header[:], pkt.Data}
	if _, err := bufs.WriteTo(s.conn); err != nil {
		return fmt.Errorf("write packet: %w: %w", err, domain.ErrFatal)
	}
	return nil
}

func (s *TCPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.logger.Infow("output closed", "stage", "publisher", "session_id", s.sessionID)
	return err
}
