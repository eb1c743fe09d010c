package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"vidrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSourceConfig() FrameSourceConfig {
	return FrameSourceConfig{
		TransientThreshold:   10,
		TransientBackoff:     time.Millisecond,
		ReconnectInterval:    time.Millisecond,
		StartupRetryInterval: time.Millisecond,
		InputTimeBase:        domain.Rational{Num: 1, Den: 18},
		PipelineTimeBase:     domain.Rational{Num: 1, Den: 90000},
	}
}

func transient(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = fmt.Errorf("read: %w", domain.ErrTransient)
	}
	return errs
}

func openSource(t *testing.T, raw *scriptedSource, cfg FrameSourceConfig) *FrameSource {
	t.Helper()
	src := NewFrameSource(raw, cfg, testLogger(), nil)
	require.NoError(t, src.Open(context.Background()))
	require.Equal(t, domain.StateConnected, src.State())
	return src
}

func TestFrameSource_NineTransientsThenFatalReconnectsOnce(t *testing.T) {
	script := append(transient(9), fmt.Errorf("device gone: %w", domain.ErrFatal))
	raw := &scriptedSource{script: script}
	src := openSource(t, raw, testSourceConfig())

	frame, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)

	assert.Equal(t, uint64(1), src.Tracker().Reconnects())
	assert.Equal(t, int32(2), raw.opens.Load())
	assert.Equal(t, int32(1), raw.closes.Load())
	assert.Equal(t, domain.StateConnected, src.State())
}

func TestFrameSource_TransientThresholdEscalates(t *testing.T) {
	raw := &scriptedSource{script: transient(10)}
	src := openSource(t, raw, testSourceConfig())

	_, err := src.ReadFrame(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), src.Tracker().Reconnects())
	assert.Equal(t, int32(2), raw.opens.Load())
}

func TestFrameSource_TransientCounterResetsOnSuccess(t *testing.T) {
	script := append(transient(9), nil)
	script = append(script, transient(9)...)
	raw := &scriptedSource{script: script}
	src := openSource(t, raw, testSourceConfig())

	for i := 0; i < 2; i++ {
		_, err := src.ReadFrame(context.Background())
		require.NoError(t, err)
	}
	assert.Zero(t, src.Tracker().Reconnects())
}

func TestFrameSource_TimeoutsRetryWithoutReconnect(t *testing.T) {
	script := []error{
		fmt.Errorf("poll: %w", domain.ErrTimeout),
		fmt.Errorf("poll: %w", domain.ErrTimeout),
		fmt.Errorf("poll: %w", domain.ErrTimeout),
	}
	raw := &scriptedSource{script: script}
	src := openSource(t, raw, testSourceConfig())

	_, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Zero(t, src.Tracker().Reconnects())
	assert.Equal(t, int32(4), raw.reads.Load())
}

func TestFrameSource_StopWhileReconnecting(t *testing.T) {
	cfg := testSourceConfig()
	cfg.ReconnectInterval = 50 * time.Millisecond

	raw := &scriptedSource{
		script: []error{fmt.Errorf("eof: %w", domain.ErrFatal)},
		openErr: func(attempt int) error {
			if attempt > 1 {
				return fmt.Errorf("refused: %w", domain.ErrFatal)
			}
			return nil
		},
	}
	src := openSource(t, raw, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := src.ReadFrame(ctx)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, domain.ErrStopped)
	assert.Less(t, elapsed, 20*time.Millisecond+cfg.ReconnectInterval+100*time.Millisecond)
	assert.Equal(t, domain.StateStopped, src.State())
}

func TestFrameSource_OpenRetriesUntilCancelled(t *testing.T) {
	raw := &scriptedSource{
		openErr: func(int) error { return fmt.Errorf("no route: %w", domain.ErrFatal) },
	}
	src := NewFrameSource(raw, testSourceConfig(), testLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := src.Open(ctx)
	require.ErrorIs(t, err, domain.ErrStopped)
	assert.Greater(t, raw.opens.Load(), int32(1))
}

func TestFrameSource_SyntheticTimestamps(t *testing.T) {
	raw := &scriptedSource{}
	src := openSource(t, raw, testSourceConfig())

	for i := int64(0); i < 4; i++ {
		f, err := src.ReadFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i*5000, f.PTS)
		assert.Equal(t, domain.Rational{Num: 1, Den: 90000}, f.TimeBase)
	}
}

func TestFrameSource_ReanchorsSourceClockAfterReconnect(t *testing.T) {
	raw := &scriptedSource{
		tb:     domain.Rational{Num: 1, Den: 30},
		script: []error{nil, nil, nil, fmt.Errorf("reset: %w", domain.ErrFatal)},
	}
	raw.openErr = func(attempt int) error {
		if attempt > 1 {
			// the remote restarted its clock
			raw.mu.Lock()
			raw.pts = 0
			raw.mu.Unlock()
		}
		return nil
	}
	src := openSource(t, raw, testSourceConfig())

	var got []int64
	for i := 0; i < 5; i++ {
		f, err := src.ReadFrame(context.Background())
		require.NoError(t, err)
		got = append(got, f.PTS)
	}

	assert.Equal(t, []int64{0, 3000, 6000, 11000, 14000}, got)
}
