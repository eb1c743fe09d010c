package filters

import "vidrelay/internal/core/domain"

// plane is one image plane inside a frame buffer. width is in pixels;
// pixel is the byte size of one pixel (2 for interleaved NV12 chroma).
type plane struct {
	data   []byte
	stride int
	width  int
	height int
	pixel  int
}

func supported(f domain.PixelFormat) bool {
	switch f {
	case domain.PixelFormatNV12, domain.PixelFormatI420, domain.PixelFormatGray:
		return true
	default:
		return false
	}
}

// planes splits a validated frame into its planes. NV12 chroma uses the
// luma stride; I420 chroma uses half of it.
func planes(f *domain.Frame) []plane {
	w, h, stride := f.Width, f.Height, f.Stride
	luma := plane{data: f.Data[:stride*h], stride: stride, width: w, height: h, pixel: 1}

	cw, ch := (w+1)/2, (h+1)/2
	switch f.Format {
	case domain.PixelFormatNV12:
		off := stride * h
		uv := plane{data: f.Data[off : off+stride*ch], stride: stride, width: cw, height: ch, pixel: 2}
		return []plane{luma, uv}
	case domain.PixelFormatI420:
		cs := (stride + 1) / 2
		off := stride * h
		u := plane{data: f.Data[off : off+cs*ch], stride: cs, width: cw, height: ch, pixel: 1}
		off += cs * ch
		v := plane{data: f.Data[off : off+cs*ch], stride: cs, width: cw, height: ch, pixel: 1}
		return []plane{luma, u, v}
	default:
		return []plane{luma}
	}
}
