package services

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// scriptedSource replays a list of read results, then produces frames
// forever (or blocks until ctx ends when hold is set).
type scriptedSource struct {
	mu      sync.Mutex
	script  []error
	pts     int64
	tb      domain.Rational
	hold    bool
	openErr func(attempt int) error

	opens  atomic.Int32
	closes atomic.Int32
	reads  atomic.Int32
}

func (s *scriptedSource) Open(ctx context.Context) error {
	n := s.opens.Add(1)
	if s.openErr != nil {
		return s.openErr(int(n))
	}
	return nil
}

func (s *scriptedSource) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	s.reads.Add(1)

	s.mu.Lock()
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return s.frame(), nil
	}
	hold := s.hold
	s.mu.Unlock()

	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.frame(), nil
}

func (s *scriptedSource) frame() *domain.Frame {
	f := domain.NewFrame(make([]byte, domain.PixelFormatGray.FrameSize(2, 2)), 2, 2, domain.PixelFormatGray)
	if !s.tb.IsZero() {
		s.mu.Lock()
		f.PTS = s.pts
		f.TimeBase = s.tb
		s.pts++
		s.mu.Unlock()
	}
	return f
}

func (s *scriptedSource) Close() error {
	s.closes.Add(1)
	return nil
}

// stubCodec emits one packet per frame carrying the frame PTS, or the
// next value of pts when it is set. With dieAfter set, every session fails
// fatally after that many frames until the codec is opened again.
type stubCodec struct {
	pts      []int64
	openErr  error
	sendErr  error
	dieAfter int

	pending []*domain.Packet
	tb      domain.Rational
	sent    int
	session int
	dead    bool
	opens   int
	closes  int
}

func (c *stubCodec) Name() string { return "stub" }

func (c *stubCodec) Open(params ports.CodecParams) error {
	c.opens++
	c.tb = params.TimeBase
	c.session = 0
	c.dead = false
	return c.openErr
}

func (c *stubCodec) SendFrame(frame *domain.Frame) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.dead || (c.dieAfter > 0 && c.session == c.dieAfter) {
		c.dead = true
		return fmt.Errorf("encoder process exited: %w", domain.ErrFatal)
	}
	pts := frame.PTS
	if c.sent < len(c.pts) {
		pts = c.pts[c.sent]
	}
	c.sent++
	c.session++
	c.pending = append(c.pending, &domain.Packet{
		Data:     append([]byte(nil), frame.Data...),
		PTS:      pts,
		TimeBase: c.tb,
	})
	return nil
}

func (c *stubCodec) ReceivePacket() (*domain.Packet, error) {
	if len(c.pending) == 0 {
		return nil, domain.ErrWouldBlock
	}
	pkt := c.pending[0]
	c.pending = c.pending[1:]
	return pkt, nil
}

func (c *stubCodec) Close() error {
	c.closes++
	return nil
}

// memorySink records packets and fails writes while failWrites > 0.
type memorySink struct {
	mu         sync.Mutex
	tb         domain.Rational
	packets    []*domain.Packet
	failWrites int
	openErr    func(attempt int) error

	opens  atomic.Int32
	closes atomic.Int32
}

func (s *memorySink) Open(ctx context.Context, desc domain.StreamDescriptor) error {
	n := s.opens.Add(1)
	if s.openErr != nil {
		return s.openErr(int(n))
	}
	return nil
}

func (s *memorySink) WritePacket(pkt *domain.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return domain.ErrFatal
	}
	s.packets = append(s.packets, pkt)
	return nil
}

func (s *memorySink) TimeBase() domain.Rational {
	if s.tb.IsZero() {
		return domain.Rational{Num: 1, Den: 90000}
	}
	return s.tb
}

func (s *memorySink) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *memorySink) Packets() []*domain.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Packet(nil), s.packets...)
}

// funcChain is a chain whose behaviour is given per submitted frame.
type funcChain struct {
	submit  func(*domain.Frame) error
	pending []*domain.Frame
	errs    []error
	closed  bool
}

func (c *funcChain) Submit(frame *domain.Frame) error {
	if c.submit != nil {
		if err := c.submit(frame); err != nil {
			return err
		}
	}
	c.pending = append(c.pending, frame)
	return nil
}

func (c *funcChain) Drain() iter.Seq2[*domain.Frame, error] {
	return func(yield func(*domain.Frame, error) bool) {
		for _, err := range c.errs {
			if !yield(nil, err) {
				return
			}
		}
		c.errs = nil
		for len(c.pending) > 0 {
			f := c.pending[0]
			c.pending = c.pending[1:]
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (c *funcChain) Close() error {
	c.closed = true
	return nil
}
