// Package filters implements the transform chain: a fixed, linear list of
// frame stages built once at startup.
package filters

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
)

var _ ports.FrameTransformChain = (*Chain)(nil)

// Stage consumes one frame and returns the frames it produces, possibly
// none. Ownership of the input passes to the stage.
type Stage interface {
	Name() string
	Apply(frame *domain.Frame) ([]*domain.Frame, error)
}

// Params are the stream properties stages are configured from.
type Params struct {
	InputFPS    float64
	OutputFPS   float64
	Width       int
	Height      int
	PixelFormat domain.PixelFormat
	TimeBase    domain.Rational
}

// Chain runs submitted frames through its stages in order.
type Chain struct {
	stages  []Stage
	pending []*domain.Frame
	closed  bool
}

// ForPipeline builds the chain described by the pipeline snapshot.
func ForPipeline(cfg domain.PipelineConfig) (ports.FrameTransformChain, error) {
	chain, err := Build(cfg.Stages, Params{
		InputFPS:    cfg.InputFPS,
		OutputFPS:   cfg.OutputFPS,
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: cfg.PixelFormat,
		TimeBase:    cfg.PipelineTimeBase,
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// Build constructs a chain from stage specs such as "fps", "fps=25",
// "hflip" or "vflip". Any unknown or misconfigured stage fails the build.
func Build(specs []string, p Params) (*Chain, error) {
	if !supported(p.PixelFormat) {
		return nil, fmt.Errorf("pixel format %q not supported by filters", p.PixelFormat)
	}

	c := &Chain{}
	for _, spec := range specs {
		name, arg, _ := strings.Cut(strings.TrimSpace(spec), "=")
		var stage Stage
		switch name {
		case "fps":
			rate := p.OutputFPS
			if arg != "" {
				r, err := strconv.ParseFloat(arg, 64)
				if err != nil {
					return nil, fmt.Errorf("stage %q: invalid rate: %w", spec, err)
				}
				rate = r
			}
			s, err := NewFPS(p.InputFPS, rate, p.TimeBase)
			if err != nil {
				return nil, fmt.Errorf("stage %q: %w", spec, err)
			}
			stage = s
		case "hflip":
			stage = HFlip{}
		case "vflip":
			stage = VFlip{}
		default:
			return nil, fmt.Errorf("unknown filter %q", name)
		}
		if name != "fps" && arg != "" {
			return nil, fmt.Errorf("stage %q takes no argument", name)
		}
		c.stages = append(c.stages, stage)
	}
	return c, nil
}

// Names lists the stages in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

func (c *Chain) Submit(frame *domain.Frame) error {
	if c.closed {
		return fmt.Errorf("filter chain closed")
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	c.pending = append(c.pending, frame)
	return nil
}

// Drain runs the pending frames through the chain as the caller iterates.
// Frames come out in order; a stage error is yielded in place of the
// frames the failed input would have produced. Draining again yields only
// what was submitted since.
func (c *Chain) Drain() iter.Seq2[*domain.Frame, error] {
	return func(yield func(*domain.Frame, error) bool) {
		for len(c.pending) > 0 {
			frame := c.pending[0]
			c.pending[0] = nil
			c.pending = c.pending[1:]
			if !c.run(0, frame, yield) {
				return
			}
		}
		c.pending = c.pending[:0]
	}
}

func (c *Chain) run(stage int, frame *domain.Frame, yield func(*domain.Frame, error) bool) bool {
	if stage == len(c.stages) {
		return yield(frame, nil)
	}
	s := c.stages[stage]
	out, err := s.Apply(frame)
	if err != nil {
		frame.Release()
		return yield(nil, fmt.Errorf("%s: %w", s.Name(), err))
	}
	for i, f := range out {
		if !c.run(stage+1, f, yield) {
			for _, rest := range out[i+1:] {
				rest.Release()
			}
			return false
		}
	}
	return true
}

// Close releases anything still held by the chain or its stages.
func (c *Chain) Close() error {
	c.closed = true
	for _, f := range c.pending {
		f.Release()
	}
	c.pending = nil
	for _, s := range c.stages {
		if r, ok := s.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
	return nil
}
