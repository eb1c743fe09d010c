package services

import (
	"errors"
	"testing"

	"vidrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestTransform_SubmitErrorDropsOnlyThatFrame(t *testing.T) {
	chain := &funcChain{
		submit: func(f *domain.Frame) error {
			if f.PTS == 1 {
				return errors.New("bad geometry")
			}
			return nil
		},
	}
	metrics := NewMetricsService(nil)
	tr := NewTransform(chain, testLogger(), metrics)

	released := false
	var out []int64
	emit := func(f *domain.Frame) { out = append(out, f.PTS) }

	assert.Equal(t, 1, tr.Process(testFrame(0), emit))
	assert.Equal(t, 0, tr.Process(testFrame(1).WithRelease(func() { released = true }), emit))
	assert.Equal(t, 1, tr.Process(testFrame(2), emit))

	assert.Equal(t, []int64{0, 2}, out)
	assert.True(t, released)
	assert.Equal(t, uint64(1), metrics.FramesDropped())
}

func TestTransform_DrainErrorIsContained(t *testing.T) {
	chain := &funcChain{errs: []error{errors.New("filter hiccup")}}
	metrics := NewMetricsService(nil)
	tr := NewTransform(chain, testLogger(), metrics)

	var out []int64
	n := tr.Process(testFrame(7), func(f *domain.Frame) { out = append(out, f.PTS) })

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{7}, out)
	assert.Equal(t, uint64(1), metrics.FramesDropped())
}

func TestTransform_Close(t *testing.T) {
	chain := &funcChain{}
	tr := NewTransform(chain, testLogger(), nil)
	assert.NoError(t, tr.Close())
	assert.True(t, chain.closed)
}
