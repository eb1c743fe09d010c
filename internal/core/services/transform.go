package services

import (
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Transform runs captured frames through the filter chain on the capture
// task. A frame the chain rejects is dropped and logged; the chain keeps
// serving the frames that follow.
type Transform struct {
	chain   ports.FrameTransformChain
	logger  *zap.SugaredLogger
	metrics *MetricsService

	errLog rate.Sometimes
}

func NewTransform(chain ports.FrameTransformChain, logger *zap.SugaredLogger, metrics *MetricsService) *Transform {
	if metrics == nil {
		metrics = NewMetricsService(nil)
	}
	return &Transform{
		chain:   chain,
		logger:  logger,
		metrics: metrics,
		errLog:  rate.Sometimes{Interval: time.Second},
	}
}

// Process submits frame and hands every frame the chain produces to emit,
// in order. It returns how many frames were emitted. Ownership of frame
// passes to the chain; ownership of emitted frames passes to emit.
func (t *Transform) Process(frame *domain.Frame, emit func(*domain.Frame)) int {
	start := time.Now()

	if err := t.chain.Submit(frame); err != nil {
		t.metrics.RecordFrameDropped("transform_submit")
		t.errLog.Do(func() {
			t.logger.Errorw("error feeding frame to filter", "stage", "transform", "pts", frame.PTS, "error", err)
		})
		frame.Release()
		return 0
	}

	emitted := 0
	for out, err := range t.chain.Drain() {
		if err != nil {
			t.metrics.RecordFrameDropped("transform")
			t.errLog.Do(func() {
				t.logger.Errorw("error getting filtered frame", "stage", "transform", "error", err)
			})
			continue
		}
		t.logger.Debugw("filtered frame", "stage", "transform", "pts", out.PTS, "filter_time", time.Since(start))
		emit(out)
		emitted++
	}
	return emitted
}

func (t *Transform) Close() error {
	return t.chain.Close()
}
