package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescale(t *testing.T) {
	tests := []struct {
		name     string
		ts       int64
		from, to Rational
		want     int64
	}{
		{"input to pipeline", 3, Rational{1, 18}, Rational{1, 90000}, 15000},
		{"pipeline to codec", 15000, Rational{1, 90000}, Rational{1, 30}, 5},
		{"rounds half away from zero", 1, Rational{1, 2}, Rational{1, 1}, 1},
		{"negative rounds away from zero", -1, Rational{1, 2}, Rational{1, 1}, -1},
		{"identity", 42, Rational{1, 1000}, Rational{1, 1000}, 42},
		{"no pts passes through", NoPTS, Rational{1, 30}, Rational{1, 90000}, NoPTS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rescale(tt.ts, tt.from, tt.to))
		})
	}
}

func TestTimeBaseForRate(t *testing.T) {
	assert.Equal(t, Rational{Num: 1, Den: 30}, TimeBaseForRate(30))
	assert.Equal(t, Rational{Num: 1000, Den: 29970}, TimeBaseForRate(29.97))
	assert.True(t, TimeBaseForRate(0).IsZero())
}

func TestFrame_ReleaseRunsOnce(t *testing.T) {
	calls := 0
	f := NewFrame(make([]byte, 4), 2, 2, PixelFormatGray).WithRelease(func() { calls++ })
	f.Release()
	f.Release()
	assert.Equal(t, 1, calls)

	var nilFrame *Frame
	assert.NotPanics(t, nilFrame.Release)
}

func TestFrame_CloneDetaches(t *testing.T) {
	released := false
	f := NewFrame([]byte{1, 2, 3, 4}, 2, 2, PixelFormatGray).WithRelease(func() { released = true })
	f.PTS = 7

	c := f.Clone()
	c.Data[0] = 9
	c.Release()

	assert.Equal(t, byte(1), f.Data[0])
	assert.Equal(t, int64(7), c.PTS)
	assert.False(t, released)
}

func TestFrame_Validate(t *testing.T) {
	assert.NoError(t, NewFrame(make([]byte, 6), 2, 2, PixelFormatNV12).Validate())
	assert.ErrorIs(t, NewFrame(make([]byte, 5), 2, 2, PixelFormatNV12).Validate(), ErrInvalidFrame)
	assert.ErrorIs(t, NewFrame(nil, 0, 2, PixelFormatGray).Validate(), ErrInvalidFrame)
	assert.ErrorIs(t, NewFrame(make([]byte, 4), 2, 2, "rgb24").Validate(), ErrInvalidFrame)
}

func TestFrame_PackedDropsRowPadding(t *testing.T) {
	f := NewFrame([]byte{
		1, 2, 0, 0, // Y row 0, stride 4
		3, 4, 0, 0, // Y row 1
		5, 6, 0, 0, // UV row
	}, 2, 2, PixelFormatNV12)
	f.Stride = 4

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.Packed())
}

func TestParsePixelFormat(t *testing.T) {
	p, err := ParsePixelFormat("NV12")
	require.NoError(t, err)
	assert.Equal(t, PixelFormatNV12, p)

	p, err = ParsePixelFormat("i420")
	require.NoError(t, err)
	assert.Equal(t, PixelFormatI420, p)

	_, err = ParsePixelFormat("rgb24")
	assert.Error(t, err)
}

func TestPipelineConfig_Derived(t *testing.T) {
	cfg := DefaultPipelineConfig()

	cfg.SourceURL = "/dev/video0"
	assert.Equal(t, SourceDevice, cfg.SourceKind())
	cfg.SourceURL = "v4l2:///dev/video1"
	assert.Equal(t, SourceDevice, cfg.SourceKind())
	cfg.SourceURL = "rtp://0.0.0.0:5000"
	assert.Equal(t, SourceStreamed, cfg.SourceKind())

	assert.Equal(t, Rational{Num: 1, Den: 18}, cfg.InputTimeBase())
	assert.Equal(t, Rational{Num: 1, Den: 30}, cfg.EncoderTimeBase())

	desc := cfg.Descriptor()
	assert.Equal(t, "h264", desc.Codec)
	assert.Equal(t, 1280, desc.Width)
}
