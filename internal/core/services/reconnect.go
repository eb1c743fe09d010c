package services

import (
	"context"
	"errors"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/pkg/connstate"
	"vidrelay/pkg/retry"
	"vidrelay/pkg/tracing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// reconnector is the open/close retry machine shared by the source and the
// publisher. The two differ only in the open and close functions.
type reconnector struct {
	stage           string
	state           *connstate.Tracker
	interval        time.Duration
	startupInterval time.Duration
	logger          *zap.SugaredLogger
	metrics         *MetricsService
	open            func(ctx context.Context) error
	close           func() error
}

func newReconnector(stage string, interval, startupInterval time.Duration, logger *zap.SugaredLogger, metrics *MetricsService) *reconnector {
	r := &reconnector{
		stage:           stage,
		state:           connstate.New(stage),
		interval:        interval,
		startupInterval: startupInterval,
		logger:          logger,
		metrics:         metrics,
	}
	r.state.OnStateChange(func(name string, from, to domain.ConnectionState) {
		r.logger.Infow("connection state changed", "stage", name, "from", from.String(), "to", to.String())
		r.metrics.RecordState(name, to)
	})
	return r
}

// connect performs the first open. It keeps retrying until the session is
// up or ctx is cancelled.
func (r *reconnector) connect(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, r.stage+".open",
		trace.WithAttributes(tracing.StageKey.String(r.stage)))
	defer span.End()

	cfg := retry.FixedInterval(r.startupInterval)
	cfg.OnRetry = func(attempt int, err error) {
		r.logger.Warnw("open failed, retrying", "stage", r.stage, "attempt", attempt,
			"retry_in", r.startupInterval, "error", err)
	}

	attempts, err := retry.Do(ctx, cfg, func(int) error { return r.open(ctx) })
	span.SetAttributes(tracing.AttemptsKey.Int(attempts))
	if err != nil {
		tracing.RecordError(ctx, err)
		_ = r.state.Stopped()
		return r.stopped(err)
	}
	_ = r.state.Connected()
	return nil
}

// reconnect tears the session down and reopens it on a fixed interval. The
// only way out other than success is cancellation of ctx.
func (r *reconnector) reconnect(ctx context.Context, cause error) error {
	ctx, span := tracing.StartSpan(ctx, r.stage+".reconnect",
		trace.WithAttributes(tracing.StageKey.String(r.stage), tracing.ErrorKey.String(errString(cause))))
	defer span.End()

	if err := r.state.Reconnecting(); err != nil {
		r.logger.Debugw("state transition rejected", "stage", r.stage, "error", err)
	}
	r.metrics.RecordReconnect(r.stage)
	r.logger.Errorw("session lost, reconnecting", "stage", r.stage, "error", cause)

	if err := r.close(); err != nil {
		r.logger.Debugw("close before reconnect failed", "stage", r.stage, "error", err)
	}

	start := time.Now()
	cfg := retry.FixedInterval(r.interval)
	cfg.OnRetry = func(attempt int, err error) {
		if attempt == 1 || attempt%100 == 0 {
			r.logger.Warnw("reopen failed", "stage", r.stage, "attempt", attempt, "error", err)
		}
	}

	attempts, err := retry.Do(ctx, cfg, func(int) error { return r.open(ctx) })
	span.SetAttributes(tracing.AttemptsKey.Int(attempts))
	if err != nil {
		_ = r.state.Stopped()
		return r.stopped(err)
	}

	_ = r.state.Connected()
	r.logger.Infow("reconnected", "stage", r.stage, "attempts", attempts, "downtime", time.Since(start))
	return nil
}

func (r *reconnector) stop() {
	_ = r.state.Stopped()
}

func (r *reconnector) stopped(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrStopped
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
