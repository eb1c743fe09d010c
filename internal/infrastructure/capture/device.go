package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"vidrelay/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeviceFormat is the geometry the driver actually accepted.
type DeviceFormat struct {
	Width        int
	Height       int
	BytesPerLine int
	SizeImage    int
	PixelFormat  domain.PixelFormat
}

// Device is the driver boundary of memory-mapped capture. Buffer indices
// are the driver's; MapBuffer returns a view over driver memory that stays
// valid until Unmap.
type Device interface {
	Open(path string, width, height int) (DeviceFormat, error)
	RequestBuffers(count int) (int, error)
	MapBuffer(index int) ([]byte, error)
	Unmap(buf []byte) error
	Enqueue(index int) error
	Dequeue() (index, bytesUsed int, err error)
	StreamOn() error
	StreamOff() error
	// WaitReady blocks up to timeout for a filled buffer.
	WaitReady(timeout time.Duration) (bool, error)
	Close() error
}

type DeviceConfig struct {
	Path                 string
	Width                int
	Height               int
	Buffers              int
	ReadinessTimeout     time.Duration
	MaxReadinessTimeouts int
}

// minQueued is how many buffers must stay with the driver. When handing a
// buffer downstream would leave fewer, the frame is copied instead.
const minQueued = 2

// DeviceSource captures from a memory-mapped device. Frames are zero-copy
// views over driver buffers; releasing a frame requeues its buffer.
type DeviceSource struct {
	cfg    DeviceConfig
	dev    Device
	logger *zap.SugaredLogger

	mu          sync.Mutex
	open        bool
	sessionID   string
	format      DeviceFormat
	buffers     [][]byte
	outstanding map[int]bool
	generation  uint64
	requeueErr  error
	timeouts    int
}

func NewDeviceSource(dev Device, cfg DeviceConfig, logger *zap.SugaredLogger) *DeviceSource {
	if cfg.Buffers <= 0 {
		cfg.Buffers = 4
	}
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = 50 * time.Millisecond
	}
	if cfg.MaxReadinessTimeouts <= 0 {
		cfg.MaxReadinessTimeouts = 3
	}
	return &DeviceSource{
		cfg:         cfg,
		dev:         dev,
		logger:      logger,
		outstanding: make(map[int]bool),
	}
}

func (s *DeviceSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}
	if err := s.initLocked(); err != nil {
		s.teardownLocked()
		return err
	}
	s.sessionID = uuid.NewString()
	s.logger.Infow("capture device opened", "stage", "source", "session_id", s.sessionID,
		"device", s.cfg.Path, "width", s.format.Width, "height", s.format.Height,
		"bytes_per_line", s.format.BytesPerLine, "buffers", len(s.buffers))
	return nil
}

// initLocked opens the device, registers and maps the buffer pool, queues
// every buffer and starts streaming.
func (s *DeviceSource) initLocked() error {
	format, err := s.dev.Open(s.cfg.Path, s.cfg.Width, s.cfg.Height)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Path, err)
	}
	s.open = true
	s.format = format
	s.generation++
	s.timeouts = 0
	s.requeueErr = nil

	n, err := s.dev.RequestBuffers(s.cfg.Buffers)
	if err != nil {
		return fmt.Errorf("request buffers: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("request buffers: driver granted none")
	}

	s.buffers = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		buf, err := s.dev.MapBuffer(i)
		if err != nil {
			return fmt.Errorf("map buffer %d: %w", i, err)
		}
		s.buffers = append(s.buffers, buf)
	}
	for i := range s.buffers {
		if err := s.dev.Enqueue(i); err != nil {
			return fmt.Errorf("queue buffer %d: %w", i, err)
		}
	}
	if err := s.dev.StreamOn(); err != nil {
		return fmt.Errorf("stream on: %w", err)
	}
	return nil
}

// teardownLocked stops streaming, unmaps every buffer that is not held by
// a frame and closes the device. Held buffers are unmapped when their frame
// is released.
func (s *DeviceSource) teardownLocked() {
	if !s.open {
		return
	}
	if err := s.dev.StreamOff(); err != nil {
		s.logger.Debugw("stream off", "stage", "source", "error", err)
	}
	for i, buf := range s.buffers {
		if s.outstanding[i] {
			continue
		}
		if err := s.dev.Unmap(buf); err != nil {
			s.logger.Debugw("unmap buffer", "stage", "source", "index", i, "error", err)
		}
	}
	if err := s.dev.Close(); err != nil {
		s.logger.Debugw("close device", "stage", "source", "error", err)
	}
	s.buffers = nil
	s.outstanding = make(map[int]bool)
	s.generation++
	s.open = false
}

// reinitLocked is the recovery for a device that stopped delivering.
func (s *DeviceSource) reinitLocked() error {
	s.logger.Errorw("max readiness timeouts reached, reinitializing capture device",
		"stage", "source", "session_id", s.sessionID, "device", s.cfg.Path)
	s.teardownLocked()
	if err := s.initLocked(); err != nil {
		s.teardownLocked()
		return err
	}
	return nil
}

func (s *DeviceSource) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, fmt.Errorf("capture device: %w: %w", domain.ErrNotConnected, domain.ErrFatal)
	}
	if err := s.requeueErr; err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("requeue buffer: %w: %w", err, domain.ErrFatal)
	}
	s.mu.Unlock()

	ready, err := s.dev.WaitReady(s.cfg.ReadinessTimeout)
	if err != nil {
		if errors.Is(err, syscall.EINTR) {
			return nil, fmt.Errorf("wait: %w: %w", err, domain.ErrTransient)
		}
		return nil, fmt.Errorf("wait: %w: %w", err, domain.ErrFatal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, fmt.Errorf("capture device: %w: %w", domain.ErrNotConnected, domain.ErrFatal)
	}

	if !ready {
		s.timeouts++
		s.logger.Warnw("capture device readiness timeout", "stage", "source", "retry_count", s.timeouts)
		if s.timeouts >= s.cfg.MaxReadinessTimeouts {
			if err := s.reinitLocked(); err != nil {
				return nil, fmt.Errorf("reinitialize %s: %w: %w", s.cfg.Path, err, domain.ErrFatal)
			}
		}
		return nil, fmt.Errorf("device not ready after %s: %w", s.cfg.ReadinessTimeout, domain.ErrTimeout)
	}

	index, used, err := s.dev.Dequeue()
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return nil, fmt.Errorf("dequeue: %w: %w", err, domain.ErrTransient)
		}
		return nil, fmt.Errorf("dequeue: %w: %w", err, domain.ErrFatal)
	}
	s.timeouts = 0

	if index < 0 || index >= len(s.buffers) {
		return nil, fmt.Errorf("dequeue: driver returned buffer %d of %d: %w", index, len(s.buffers), domain.ErrFatal)
	}
	return s.frameLocked(index, used)
}

// frameLocked wraps buffer index as a frame. NV12 is laid out as the luma
// plane followed by the interleaved chroma plane at the same stride.
func (s *DeviceSource) frameLocked(index, used int) (*domain.Frame, error) {
	f := s.format
	size := f.PixelFormat.FrameSize(f.BytesPerLine, f.Height)
	buf := s.buffers[index]
	if size > len(buf) || (used > 0 && used < size) {
		if err := s.dev.Enqueue(index); err != nil {
			s.requeueErr = err
		}
		return nil, fmt.Errorf("short buffer: %d bytes, need %d: %w", max(used, len(buf)), size, domain.ErrTransient)
	}

	frame := &domain.Frame{
		Data:   buf[:size],
		Stride: f.BytesPerLine,
		Width:  f.Width,
		Height: f.Height,
		Format: f.PixelFormat,
		PTS:    domain.NoPTS,
	}

	queued := len(s.buffers) - len(s.outstanding) - 1
	if queued < minQueued {
		// too few buffers left with the driver; detach and give it back now
		detached := frame.Clone()
		if err := s.dev.Enqueue(index); err != nil {
			s.requeueErr = err
		}
		return detached, nil
	}

	gen := s.generation
	s.outstanding[index] = true
	return frame.WithRelease(func() { s.release(gen, index, buf) }), nil
}

func (s *DeviceSource) release(gen uint64, index int, buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		// the session this buffer came from is gone
		if err := s.dev.Unmap(buf); err != nil {
			s.logger.Debugw("unmap released buffer", "stage", "source", "index", index, "error", err)
		}
		return
	}
	delete(s.outstanding, index)
	if err := s.dev.Enqueue(index); err != nil {
		s.requeueErr = err
	}
}

func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.logger.Infow("capture device closed", "stage", "source", "session_id", s.sessionID)
	}
	s.teardownLocked()
	return nil
}

// Outstanding reports how many buffers are currently held by frames.
func (s *DeviceSource) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}
