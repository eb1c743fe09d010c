package filters

import (
	"errors"
	"testing"

	"vidrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pipelineTB = domain.Rational{Num: 1, Den: 90000}

func testParams() Params {
	return Params{
		InputFPS:    18,
		OutputFPS:   30,
		Width:       4,
		Height:      2,
		PixelFormat: domain.PixelFormatGray,
		TimeBase:    pipelineTB,
	}
}

func stamped(data []byte, w, h int, format domain.PixelFormat, pts int64) *domain.Frame {
	f := domain.NewFrame(data, w, h, format)
	f.PTS = pts
	f.TimeBase = pipelineTB
	return f
}

func drain(t *testing.T, c *Chain) ([]*domain.Frame, []error) {
	t.Helper()
	var frames []*domain.Frame
	var errs []error
	for f, err := range c.Drain() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, f)
	}
	return frames, errs
}

func TestBuild(t *testing.T) {
	c, err := Build([]string{"fps", "hflip", "vflip"}, testParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"fps", "hflip", "vflip"}, c.Names())

	_, err = Build([]string{"sharpen"}, testParams())
	assert.ErrorContains(t, err, "unknown filter")

	_, err = Build([]string{"fps=abc"}, testParams())
	assert.Error(t, err)

	_, err = Build([]string{"hflip=1"}, testParams())
	assert.Error(t, err)

	p := testParams()
	p.InputFPS = 0
	_, err = Build([]string{"fps"}, p)
	assert.Error(t, err)

	p = testParams()
	p.PixelFormat = "rgb24"
	_, err = Build(nil, p)
	assert.Error(t, err)
}

func TestForPipeline(t *testing.T) {
	cfg := domain.DefaultPipelineConfig()
	chain, err := ForPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"fps", "hflip"}, chain.(*Chain).Names())

	cfg.Stages = []string{"blur"}
	_, err = ForPipeline(cfg)
	assert.Error(t, err)
}

func TestHFlip_Gray(t *testing.T) {
	f := stamped([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 4, 2, domain.PixelFormatGray, 0)
	out, err := HFlip{}.Apply(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 3, 2, 1, 8, 7, 6, 5}, out[0].Data)
}

func TestHFlip_NV12KeepsChromaPairs(t *testing.T) {
	data := []byte{
		1, 2, 3, 4, // Y row 0
		5, 6, 7, 8, // Y row 1
		10, 11, 20, 21, // UV row: (U0,V0) (U1,V1)
	}
	out, err := HFlip{}.Apply(stamped(data, 4, 2, domain.PixelFormatNV12, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 3, 2, 1, 8, 7, 6, 5, 20, 21, 10, 11}, out[0].Data)
}

func TestVFlip_I420(t *testing.T) {
	data := []byte{
		1, 2, 3, 4, // Y row 0
		5, 6, 7, 8, // Y row 1
		9, 9, // U
		7, 7, // V
	}
	out, err := VFlip{}.Apply(stamped(data, 4, 2, domain.PixelFormatI420, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7, 8, 1, 2, 3, 4, 9, 9, 7, 7}, out[0].Data)
}

func TestVFlip_RespectsStride(t *testing.T) {
	f := stamped([]byte{1, 2, 0xAA, 3, 4, 0xBB}, 2, 2, domain.PixelFormatGray, 0)
	f.Stride = 3
	out, err := VFlip{}.Apply(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 0xAA, 1, 2, 0xBB}, out[0].Data)
}

func TestFPS_UpsamplesOnOutputCadence(t *testing.T) {
	fps, err := NewFPS(18, 30, pipelineTB)
	require.NoError(t, err)

	var got []int64
	for k := int64(0); k < 18; k++ {
		out, err := fps.Apply(stamped(make([]byte, 8), 4, 2, domain.PixelFormatGray, k*5000))
		require.NoError(t, err)
		for _, f := range out {
			got = append(got, f.PTS)
		}
	}

	require.Len(t, got, 29)
	for i, pts := range got {
		assert.Equal(t, int64(i)*3000, pts)
	}
}

func TestFPS_DownsampleDropsAndReleases(t *testing.T) {
	fps, err := NewFPS(30, 15, pipelineTB)
	require.NoError(t, err)

	released := 0
	emitted := 0
	for k := int64(0); k < 31; k++ {
		f := stamped(make([]byte, 8), 4, 2, domain.PixelFormatGray, k*3000).WithRelease(func() { released++ })
		out, err := fps.Apply(f)
		require.NoError(t, err)
		emitted += len(out)
	}

	assert.Equal(t, 15, emitted)
	assert.Equal(t, 15, released)
}

func TestFPS_LongGapResynchronizes(t *testing.T) {
	fps, err := NewFPS(30, 30, pipelineTB)
	require.NoError(t, err)

	_, _ = fps.Apply(stamped(make([]byte, 8), 4, 2, domain.PixelFormatGray, 0))
	out, err := fps.Apply(stamped(make([]byte, 8), 4, 2, domain.PixelFormatGray, 10*90000))
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestChain_OrderAndErrorContainment(t *testing.T) {
	c, err := Build([]string{"hflip"}, testParams())
	require.NoError(t, err)

	require.NoError(t, c.Submit(stamped([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 4, 2, domain.PixelFormatGray, 1)))
	require.NoError(t, c.Submit(stamped([]byte{8, 7, 6, 5, 4, 3, 2, 1}, 4, 2, domain.PixelFormatGray, 2)))

	frames, errs := drain(t, c)
	assert.Empty(t, errs)
	require.Len(t, frames, 2)
	assert.Equal(t, int64(1), frames[0].PTS)
	assert.Equal(t, []byte{4, 3, 2, 1, 8, 7, 6, 5}, frames[0].Data)

	// not restartable: nothing left to drain
	frames, _ = drain(t, c)
	assert.Empty(t, frames)

	// a short frame is rejected at submit and the chain keeps working
	err = c.Submit(stamped([]byte{1}, 4, 2, domain.PixelFormatGray, 3))
	assert.True(t, errors.Is(err, domain.ErrInvalidFrame))

	require.NoError(t, c.Submit(stamped(make([]byte, 8), 4, 2, domain.PixelFormatGray, 4)))
	frames, _ = drain(t, c)
	assert.Len(t, frames, 1)
}

func TestChain_StageErrorIsYielded(t *testing.T) {
	c, err := Build([]string{"fps"}, testParams())
	require.NoError(t, err)

	f := domain.NewFrame(make([]byte, 8), 4, 2, domain.PixelFormatGray)
	require.NoError(t, c.Submit(f))

	frames, errs := drain(t, c)
	assert.Empty(t, frames)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "fps")
}

func TestChain_CloseReleasesHeldFrames(t *testing.T) {
	c, err := Build([]string{"fps"}, testParams())
	require.NoError(t, err)

	released := false
	f := stamped(make([]byte, 8), 4, 2, domain.PixelFormatGray, 0).WithRelease(func() { released = true })
	require.NoError(t, c.Submit(f))
	frames, _ := drain(t, c)
	assert.Empty(t, frames)

	require.NoError(t, c.Close())
	assert.True(t, released)
	assert.Error(t, c.Submit(stamped(make([]byte, 8), 4, 2, domain.PixelFormatGray, 1)))
}
