package filters

import (
	"fmt"
	"math"

	"vidrelay/internal/core/domain"
)

// FPS converts the frame rate by sampling the input on a fixed output
// cadence. Each output slot shows the latest input frame at or before the
// slot time; inputs that own no slot are dropped and slots between sparse
// inputs repeat the previous frame. Output lags input by one frame.
type FPS struct {
	tb      domain.Rational
	outTB   domain.Rational
	maxFill int64

	prev  *domain.Frame
	start int64
	slot  int64
}

func NewFPS(inputFPS, outputFPS float64, tb domain.Rational) (*FPS, error) {
	if outputFPS <= 0 {
		return nil, fmt.Errorf("output rate must be positive, got %g", outputFPS)
	}
	if inputFPS <= 0 {
		return nil, fmt.Errorf("input rate must be positive, got %g", inputFPS)
	}
	if tb.IsZero() {
		return nil, fmt.Errorf("time base not set")
	}
	return &FPS{
		tb:    tb,
		outTB: domain.TimeBaseForRate(outputFPS),
		// bridge at most one second of missing input
		maxFill: int64(math.Ceil(outputFPS)),
	}, nil
}

func (f *FPS) Name() string { return "fps" }

func (f *FPS) slotTime(k int64) int64 {
	return f.start + domain.Rescale(k, f.outTB, f.tb)
}

func (f *FPS) Apply(frame *domain.Frame) ([]*domain.Frame, error) {
	if frame.PTS == domain.NoPTS {
		return nil, fmt.Errorf("frame without timestamp")
	}
	pts := domain.Rescale(frame.PTS, frame.TimeBase, f.tb)

	if f.prev == nil {
		f.prev = frame
		f.start = pts
		f.slot = 0
		return nil, nil
	}

	// slots owned by prev: every slot time before the new frame
	first := f.slot
	for f.slotTime(f.slot) < pts {
		f.slot++
	}
	n := f.slot - first
	if n > f.maxFill {
		// long gap: emit one frame and resynchronize on the new input
		n = 1
	}

	var out []*domain.Frame
	prev := f.prev
	for i := int64(0); i < n; i++ {
		var o *domain.Frame
		if i == n-1 {
			o = prev
		} else {
			o = prev.Clone()
		}
		o.PTS = f.slotTime(first + i)
		o.TimeBase = f.tb
		out = append(out, o)
	}
	if n == 0 {
		prev.Release()
	}
	f.prev = frame
	return out, nil
}

// Reset drops the held frame.
func (f *FPS) Reset() {
	f.prev.Release()
	f.prev = nil
}
