package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
	pipelineerrors "vidrelay/pkg/errors"
	"vidrelay/pkg/tracing"

	"go.uber.org/zap"
)

// ChainBuilder constructs the transform chain once, at startup.
type ChainBuilder func(cfg domain.PipelineConfig) (ports.FrameTransformChain, error)

// Dependencies are the media bindings the supervisor drives.
type Dependencies struct {
	Source     ports.RawFrameSource
	BuildChain ChainBuilder
	Codec      ports.Codec
	Sink       ports.PacketSink
	Metrics    *MetricsService
}

// Supervisor owns the pipeline: it opens every stage in order, runs the
// capture task and the encode task, and tears both down on Stop.
type Supervisor struct {
	cfg     domain.PipelineConfig
	deps    Dependencies
	logger  *zap.SugaredLogger
	metrics *MetricsService

	queue     *FrameQueue
	source    *FrameSource
	transform *Transform
	encoder   *Encoder
	publisher *Publisher

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	startDone chan struct{}

	wg        sync.WaitGroup
	running   atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
}

var _ ports.PipelineService = (*Supervisor)(nil)

func NewSupervisor(cfg domain.PipelineConfig, deps Dependencies, logger *zap.SugaredLogger) *Supervisor {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetricsService(nil)
	}

	s := &Supervisor{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		metrics:   metrics,
		queue:     NewFrameQueue(cfg.MaxQueuedFrames),
		startDone: make(chan struct{}),
	}
	s.source = NewFrameSource(deps.Source, FrameSourceConfigFrom(cfg), logger.Named("source"), metrics)
	s.encoder = NewEncoder(deps.Codec, CodecParamsFrom(cfg), deps.Sink.TimeBase(),
		EncoderConfig{ReopenInterval: cfg.ReconnectInterval}, logger.Named("encoder"), metrics)
	s.publisher = NewPublisher(deps.Sink, PublisherConfig{
		ReconnectInterval:    cfg.PublishReconnectInterval,
		StartupRetryInterval: cfg.StartupRetryInterval,
	}, logger.Named("publisher"), metrics)
	return s
}

// Start brings the stages up in dependency order (source, transform,
// encoder, publisher) and then launches the two pipeline tasks. Source and
// publisher opens retry until they succeed; transform and codec failures
// abort. Start returns once the tasks are running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("pipeline already started")
	}
	s.started = true
	if s.stopped {
		s.mu.Unlock()
		close(s.startDone)
		return pipelineerrors.Wrap(domain.ErrStopped, pipelineerrors.ErrCodeStopped, "supervisor", "stopped before start")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.startDone)

	// the caller's ctx bounds startup only; the tasks live until Stop
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	startCtx, span := tracing.StartSpan(runCtx, "pipeline.start")
	defer span.End()

	s.logger.Infow("initializing video streamer", "source", s.cfg.SourceURL, "sink", s.cfg.SinkURL,
		"source_kind", s.cfg.SourceKind().String(), "transform", s.cfg.EnableTransform)

	if err := s.source.Open(startCtx); err != nil {
		return s.abort(startCtx, "source", err)
	}
	s.logger.Infow("input initialized", "source", s.cfg.SourceURL, "format", string(s.cfg.PixelFormat),
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height))

	if s.cfg.EnableTransform {
		if s.deps.BuildChain == nil {
			return s.abort(startCtx, "transform", pipelineerrors.NewBuildError("transform", errors.New("no chain builder")))
		}
		chain, err := s.deps.BuildChain(s.cfg)
		if err != nil {
			return s.abort(startCtx, "transform", pipelineerrors.NewBuildError("transform", err))
		}
		s.transform = NewTransform(chain, s.logger.Named("transform"), s.metrics)
		s.logger.Infow("transform chain initialized", "stages", s.cfg.Stages,
			"input_fps", s.cfg.InputFPS, "output_fps", s.cfg.OutputFPS)
	}

	if err := s.encoder.Open(); err != nil {
		return s.abort(startCtx, "encoder", err)
	}

	if err := s.publisher.Open(startCtx, s.cfg.Descriptor()); err != nil {
		return s.abort(startCtx, "publisher", err)
	}

	s.logger.Info("video streamer initialized successfully")
	s.running.Store(true)
	s.wg.Add(2)
	go s.captureLoop(runCtx)
	go s.encodeLoop(runCtx)
	return nil
}

func (s *Supervisor) abort(ctx context.Context, stage string, err error) error {
	tracing.RecordError(ctx, err)
	s.cancel()
	s.queue.WakeAndQuit()
	s.closeAll()

	if errors.Is(err, domain.ErrStopped) {
		return pipelineerrors.Wrap(err, pipelineerrors.ErrCodeStopped, stage, "stopped during startup")
	}
	if pipelineerrors.GetPipelineError(err) == nil {
		err = pipelineerrors.NewOpenError(stage, err)
	}
	s.logger.Errorw("pipeline startup failed", "stage", stage, "error", err)
	return err
}

// Stop signals both tasks, wakes the queue so a blocked encode task
// returns, and waits for both to exit. Safe to call more than once and
// while Start is still retrying.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping video streamer")

		s.mu.Lock()
		s.stopped = true
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.queue.WakeAndQuit()
		if started {
			<-s.startDone
		}
		s.wg.Wait()
		s.closeAll()
		s.running.Store(false)
		s.logger.Info("video streamer stopped")
	})
}

// Wait blocks until both pipeline tasks have exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) captureLoop(ctx context.Context) {
	defer s.wg.Done()
	// the encode task must never wait on a producer that is gone
	defer s.queue.WakeAndQuit()

	s.logger.Infow("capture task started", "source_kind", s.cfg.SourceKind().String())
	for {
		start := time.Now()
		frame, err := s.source.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrStopped) {
				s.logger.Errorw("capture task failed", "error", err)
			}
			break
		}
		s.metrics.RecordFrameCaptured(time.Since(start))
		s.logger.Debugw("captured frame", "pts", frame.PTS, "capture_time", time.Since(start))

		if s.transform != nil {
			s.transform.Process(frame, s.enqueue)
		} else {
			s.enqueue(frame)
		}
	}
	s.logger.Info("capture task stopped")
}

func (s *Supervisor) enqueue(frame *domain.Frame) {
	dropped := s.queue.Dropped()
	s.queue.Push(frame)
	if s.queue.Dropped() > dropped {
		s.metrics.RecordFrameDropped("queue_full")
	}
	s.metrics.RecordQueueDepth(s.queue.Len())
}

func (s *Supervisor) encodeLoop(ctx context.Context) {
	defer s.wg.Done()

	s.logger.Info("encode task started")
	defer s.logger.Info("encode task stopped")

	// a codec call stuck on its process must not outlive Stop
	stopInterrupt := context.AfterFunc(ctx, s.encoder.Interrupt)
	defer stopInterrupt()

	for {
		frame, ok := s.queue.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			frame.Release()
			return
		}

		packets, err := s.encoder.Encode(frame)
		for _, pkt := range packets {
			if err := s.publisher.Publish(ctx, pkt); errors.Is(err, domain.ErrStopped) {
				return
			}
		}
		if errors.Is(err, domain.ErrFatal) {
			if err := s.encoder.Reopen(ctx, err); err != nil {
				return
			}
		}
	}
}

func (s *Supervisor) closeAll() {
	s.closeOnce.Do(func() {
		s.logger.Info("cleaning up resources")
		if err := s.source.Close(); err != nil {
			s.logger.Debugw("source close", "error", err)
		}
		if s.transform != nil {
			if err := s.transform.Close(); err != nil {
				s.logger.Debugw("transform close", "error", err)
			}
		}
		if err := s.encoder.Close(); err != nil {
			s.logger.Debugw("encoder close", "error", err)
		}
		if err := s.publisher.Close(); err != nil {
			s.logger.Debugw("publisher close", "error", err)
		}
	})
}

// Running reports whether both tasks have been launched and Stop has not
// completed.
func (s *Supervisor) Running() bool { return s.running.Load() }

func (s *Supervisor) Stats() ports.PipelineStats {
	src := s.source.State()
	pub := s.publisher.State()
	return ports.PipelineStats{
		SourceState:      src,
		PublisherState:   pub,
		SourceStateName:  src.String(),
		SinkStateName:    pub.String(),
		FramesCaptured:   s.metrics.FramesCaptured(),
		FramesDropped:    s.metrics.FramesDropped(),
		FramesEncoded:    s.metrics.FramesEncoded(),
		PacketsPublished: s.metrics.PacketsPublished(),
		TimestampRepairs: s.metrics.TimestampRepairs(),
		SourceReconnects: s.source.Tracker().Reconnects(),
		SinkReconnects:   s.publisher.Tracker().Reconnects(),
		QueueDepth:       s.queue.Len(),
		Running:          s.running.Load(),
	}
}
