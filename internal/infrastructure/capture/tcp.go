package capture

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/pkg/optimize"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDialTimeout = 5 * time.Second

type StreamConfig struct {
	Address     string
	Width       int
	Height      int
	PixelFormat domain.PixelFormat
	ReadTimeout time.Duration
}

// TCPSource reads back-to-back raw frames of a fixed geometry from a TCP
// peer. The stream carries no clock; frames are stamped downstream.
type TCPSource struct {
	cfg    StreamConfig
	logger *zap.SugaredLogger
	pool   *optimize.BytePool

	conn      net.Conn
	sessionID string
}

func NewTCPSource(cfg StreamConfig, logger *zap.SugaredLogger) *TCPSource {
	return &TCPSource{
		cfg:    cfg,
		logger: logger,
		pool:   optimize.NewBytePool(cfg.PixelFormat.FrameSize(cfg.Width, cfg.Height)),
	}
}

func (s *TCPSource) Open(ctx context.Context) error {
	timeout := s.cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Address, err)
	}
	s.conn = conn
	s.sessionID = uuid.NewString()
	s.logger.Infow("input opened", "stage", "source", "session_id", s.sessionID,
		"address", s.cfg.Address, "frame_bytes", s.pool.Size())
	return nil
}

func (s *TCPSource) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("tcp source: %w: %w", domain.ErrNotConnected, domain.ErrFatal)
	}

	conn := s.conn
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	buf := s.pool.Get()
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		s.pool.Put(buf)
		if n > 0 {
			// the stream is no longer frame aligned
			return nil, fmt.Errorf("partial frame (%d of %d bytes): %w: %w", n, len(buf), err, domain.ErrFatal)
		}
		return nil, classify("read frame", err)
	}

	frame := domain.NewFrame(buf, s.cfg.Width, s.cfg.Height, s.cfg.PixelFormat)
	return frame.WithRelease(func() { s.pool.Put(buf) }), nil
}

func (s *TCPSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.logger.Infow("input closed", "stage", "source", "session_id", s.sessionID)
	return err
}
