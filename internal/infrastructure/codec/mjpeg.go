package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
)

const DefaultJPEGQuality = 80

// MJPEG encodes every frame as an independent JPEG image.
type MJPEG struct {
	quality int
	params  ports.CodecParams
	q       queue
	opened  bool
	buf     bytes.Buffer
}

func NewMJPEG(quality int) *MJPEG {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &MJPEG{quality: quality}
}

func (c *MJPEG) Name() string { return "mjpeg" }

func (c *MJPEG) Open(params ports.CodecParams) error {
	if params.Width <= 0 || params.Height <= 0 {
		return fmt.Errorf("mjpeg: invalid size %dx%d", params.Width, params.Height)
	}
	c.params = params
	c.q = queue{}
	c.opened = true
	return nil
}

func (c *MJPEG) SendFrame(frame *domain.Frame) error {
	if !c.opened || c.q.closed {
		return domain.ErrEndOfStream
	}
	if err := checkFrame(frame, c.params); err != nil {
		return err
	}

	c.buf.Reset()
	if err := jpeg.Encode(&c.buf, toImage(frame), &jpeg.Options{Quality: c.quality}); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	c.q.push(&domain.Packet{
		Data:     bytes.Clone(c.buf.Bytes()),
		PTS:      frame.PTS,
		TimeBase: frame.TimeBase,
		KeyFrame: true,
	})
	return nil
}

func (c *MJPEG) ReceivePacket() (*domain.Packet, error) { return c.q.pop() }

func (c *MJPEG) Close() error {
	c.q.closed = true
	return nil
}

// toImage builds an image over a copy of the frame planes. NV12 chroma is
// deinterleaved into separate Cb and Cr planes.
func toImage(frame *domain.Frame) image.Image {
	w, h := frame.Width, frame.Height
	rect := image.Rect(0, 0, w, h)
	data := frame.Packed()

	if frame.Format == domain.PixelFormatGray {
		return &image.Gray{Pix: data, Stride: w, Rect: rect}
	}

	cw, ch := (w+1)/2, (h+1)/2
	img := &image.YCbCr{
		Y:              data[:w*h],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           rect,
	}
	chroma := data[w*h:]
	if frame.Format == domain.PixelFormatI420 {
		img.Cb = chroma[:cw*ch]
		img.Cr = chroma[cw*ch : 2*cw*ch]
		return img
	}

	img.Cb = make([]byte, cw*ch)
	img.Cr = make([]byte, cw*ch)
	for i := 0; i < cw*ch; i++ {
		img.Cb[i] = chroma[2*i]
		img.Cr[i] = chroma[2*i+1]
	}
	return img
}
