package domain

import (
	"fmt"
	"strings"
	"sync"
)

type PixelFormat string

const (
	PixelFormatNV12 PixelFormat = "nv12"
	PixelFormatI420 PixelFormat = "yuv420p"
	PixelFormatGray PixelFormat = "gray"
)

// ParsePixelFormat accepts the names used in configuration files.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nv12":
		return PixelFormatNV12, nil
	case "yuv420p", "i420":
		return PixelFormatI420, nil
	case "gray", "grey", "y8":
		return PixelFormatGray, nil
	default:
		return "", fmt.Errorf("unsupported pixel format %q", s)
	}
}

// FrameSize returns the byte size of a tightly packed image.
func (p PixelFormat) FrameSize(width, height int) int {
	switch p {
	case PixelFormatNV12, PixelFormatI420:
		return width*height + 2*((width+1)/2)*((height+1)/2)
	case PixelFormatGray:
		return width * height
	default:
		return 0
	}
}

// Frame is one raw image. A frame is owned by exactly one stage at a time;
// whoever drops it must call Release.
type Frame struct {
	Data     []byte
	Stride   int // bytes per luma row; chroma rows use the same stride for NV12
	Width    int
	Height   int
	Format   PixelFormat
	PTS      int64
	TimeBase Rational

	releaseOnce sync.Once
	release     func()
}

// NewFrame wraps data as a tightly packed frame.
func NewFrame(data []byte, width, height int, format PixelFormat) *Frame {
	return &Frame{
		Data:   data,
		Stride: width,
		Width:  width,
		Height: height,
		Format: format,
		PTS:    NoPTS,
	}
}

// WithRelease attaches the hook that returns the underlying buffer to its
// owner (device queue, pool).
func (f *Frame) WithRelease(fn func()) *Frame {
	f.release = fn
	return f
}

// Release hands the underlying buffer back. Safe to call more than once and
// on a nil frame.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// Clone returns a deep copy that does not reference the original buffer.
// Used to detach views over device memory.
func (f *Frame) Clone() *Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Frame{
		Data:     data,
		Stride:   f.Stride,
		Width:    f.Width,
		Height:   f.Height,
		Format:   f.Format,
		PTS:      f.PTS,
		TimeBase: f.TimeBase,
	}
}

// Validate checks that Data is large enough for the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	stride := f.Stride
	if stride < f.Width {
		return fmt.Errorf("%w: stride %d < width %d", ErrInvalidFrame, stride, f.Width)
	}
	need := f.Format.FrameSize(stride, f.Height)
	if need == 0 {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidFrame, f.Format)
	}
	if len(f.Data) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrInvalidFrame, len(f.Data), need)
	}
	return nil
}

// Packed returns the image with row padding removed, planes back to back.
// The result never aliases Data.
func (f *Frame) Packed() []byte {
	out := make([]byte, f.Format.FrameSize(f.Width, f.Height))
	if f.Stride == f.Width {
		copy(out, f.Data)
		return out
	}

	type rows struct{ stride, width, height int }
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	layout := []rows{{f.Stride, f.Width, f.Height}}
	switch f.Format {
	case PixelFormatNV12:
		layout = append(layout, rows{f.Stride, 2 * cw, ch})
	case PixelFormatI420:
		cs := (f.Stride + 1) / 2
		layout = append(layout, rows{cs, cw, ch}, rows{cs, cw, ch})
	}

	src, dst := 0, 0
	for _, p := range layout {
		for y := 0; y < p.height; y++ {
			copy(out[dst:dst+p.width], f.Data[src+y*p.stride:])
			dst += p.width
		}
		src += p.stride * p.height
	}
	return out
}
