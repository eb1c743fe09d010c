package services

import (
	"context"
	"errors"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
	"vidrelay/pkg/connstate"
	"vidrelay/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type FrameSourceConfig struct {
	TransientThreshold   int
	TransientBackoff     time.Duration
	ReconnectInterval    time.Duration
	StartupRetryInterval time.Duration
	InputTimeBase        domain.Rational
	PipelineTimeBase     domain.Rational
}

func FrameSourceConfigFrom(cfg domain.PipelineConfig) FrameSourceConfig {
	return FrameSourceConfig{
		TransientThreshold:   cfg.TransientThreshold,
		TransientBackoff:     cfg.TransientBackoff,
		ReconnectInterval:    cfg.ReconnectInterval,
		StartupRetryInterval: cfg.StartupRetryInterval,
		InputTimeBase:        cfg.InputTimeBase(),
		PipelineTimeBase:     cfg.PipelineTimeBase,
	}
}

// FrameSource turns a RawFrameSource into an endless, strictly increasing
// sequence of frames. Timeouts are retried at once, transient errors are
// backed off and escalate after TransientThreshold in a row, and fatal
// errors close the session and reopen it until it comes back or the
// pipeline stops.
type FrameSource struct {
	raw     ports.RawFrameSource
	cfg     FrameSourceConfig
	conn    *reconnector
	logger  *zap.SugaredLogger
	metrics *MetricsService

	transient int
	counter   int64
	lastPTS   int64
	havePTS   bool
	offset    int64
	rebase    bool

	timeoutLog rate.Sometimes
}

func NewFrameSource(raw ports.RawFrameSource, cfg FrameSourceConfig, logger *zap.SugaredLogger, metrics *MetricsService) *FrameSource {
	if metrics == nil {
		metrics = NewMetricsService(nil)
	}
	if cfg.TransientThreshold <= 0 {
		cfg.TransientThreshold = 10
	}
	if cfg.StartupRetryInterval <= 0 {
		cfg.StartupRetryInterval = cfg.ReconnectInterval
	}

	s := &FrameSource{
		raw:        raw,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		timeoutLog: rate.Sometimes{Interval: time.Second},
	}
	s.conn = newReconnector("source", cfg.ReconnectInterval, cfg.StartupRetryInterval, logger, metrics)
	s.conn.open = raw.Open
	s.conn.close = raw.Close
	return s
}

// Open performs the initial open, retrying until success or cancellation.
func (s *FrameSource) Open(ctx context.Context) error {
	return s.conn.connect(ctx)
}

// ReadFrame blocks until a frame is available. It only returns an error
// (domain.ErrStopped) once ctx is cancelled.
func (s *FrameSource) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	for {
		if ctx.Err() != nil {
			s.conn.stop()
			return nil, domain.ErrStopped
		}

		frame, err := s.raw.ReadFrame(ctx)
		switch {
		case err == nil:
			if s.transient > 0 {
				s.transient = 0
				_ = s.conn.state.Connected()
			}
			s.stamp(frame)
			return frame, nil

		case ctx.Err() != nil:
			s.conn.stop()
			return nil, domain.ErrStopped

		case domain.IsTimeout(err):
			s.timeoutLog.Do(func() {
				s.logger.Debugw("read timeout", "stage", "source", "error", err)
			})

		case domain.IsTransient(err):
			s.transient++
			_ = s.conn.state.Degraded()
			if s.transient >= s.cfg.TransientThreshold {
				s.logger.Warnw("transient errors exceeded threshold, escalating",
					"stage", "source", "count", s.transient, "error", err)
				if rerr := s.reopen(ctx, err); rerr != nil {
					return nil, rerr
				}
				continue
			}
			if serr := retry.Sleep(ctx, s.cfg.TransientBackoff); serr != nil {
				s.conn.stop()
				return nil, domain.ErrStopped
			}

		default:
			if rerr := s.reopen(ctx, err); rerr != nil {
				return nil, rerr
			}
		}
	}
}

func (s *FrameSource) reopen(ctx context.Context, cause error) error {
	s.transient = 0
	if err := s.conn.reconnect(ctx, cause); err != nil {
		if errors.Is(err, domain.ErrStopped) {
			return domain.ErrStopped
		}
		return err
	}
	s.rebase = true
	return nil
}

// stamp moves the frame onto the pipeline clock. A source clock is
// rescaled; without one a synthetic counter at the input rate is used.
// After a reconnect the source clock is re-anchored one frame after the
// last emitted timestamp, and any remaining collision is pushed forward.
func (s *FrameSource) stamp(frame *domain.Frame) {
	tb := s.cfg.PipelineTimeBase
	var pts int64

	if frame.PTS != domain.NoPTS && !frame.TimeBase.IsZero() {
		pts = domain.Rescale(frame.PTS, frame.TimeBase, tb)
		if s.rebase && s.havePTS {
			step := domain.Rescale(1, s.cfg.InputTimeBase, tb)
			s.offset = s.lastPTS + max(step, 1) - pts
		}
		pts += s.offset
	} else {
		pts = domain.Rescale(s.counter, s.cfg.InputTimeBase, tb)
	}
	s.rebase = false
	s.counter++

	if s.havePTS && pts <= s.lastPTS {
		pts = s.lastPTS + 1
	}
	s.lastPTS = pts
	s.havePTS = true

	frame.PTS = pts
	frame.TimeBase = tb
}

// Close stops the state machine and releases the underlying session.
func (s *FrameSource) Close() error {
	s.conn.stop()
	return s.raw.Close()
}

func (s *FrameSource) State() domain.ConnectionState { return s.conn.state.State() }

func (s *FrameSource) Tracker() *connstate.Tracker { return s.conn.state }
