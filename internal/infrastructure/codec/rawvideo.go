package codec

import (
	"fmt"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
)

// RawVideo emits every frame unchanged as one tightly packed packet.
type RawVideo struct {
	params ports.CodecParams
	q      queue
	opened bool
}

func NewRawVideo() *RawVideo { return &RawVideo{} }

func (c *RawVideo) Name() string { return "rawvideo" }

func (c *RawVideo) Open(params ports.CodecParams) error {
	if params.Width <= 0 || params.Height <= 0 {
		return fmt.Errorf("rawvideo: invalid size %dx%d", params.Width, params.Height)
	}
	c.params = params
	c.q = queue{}
	c.opened = true
	return nil
}

func (c *RawVideo) SendFrame(frame *domain.Frame) error {
	if !c.opened || c.q.closed {
		return domain.ErrEndOfStream
	}
	if err := checkFrame(frame, c.params); err != nil {
		return err
	}
	c.q.push(&domain.Packet{
		Data:     frame.Packed(),
		PTS:      frame.PTS,
		TimeBase: frame.TimeBase,
		KeyFrame: true,
	})
	return nil
}

func (c *RawVideo) ReceivePacket() (*domain.Packet, error) { return c.q.pop() }

func (c *RawVideo) Close() error {
	c.q.closed = true
	return nil
}

// checkFrame rejects frames whose geometry differs from what the codec was
// opened with.
func checkFrame(frame *domain.Frame, params ports.CodecParams) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if frame.Width != params.Width || frame.Height != params.Height {
		return fmt.Errorf("%w: frame %dx%d, codec opened for %dx%d", domain.ErrInvalidFrame,
			frame.Width, frame.Height, params.Width, params.Height)
	}
	if params.PixelFormat != "" && frame.Format != params.PixelFormat {
		return fmt.Errorf("%w: frame format %s, codec opened for %s", domain.ErrInvalidFrame,
			frame.Format, params.PixelFormat)
	}
	return nil
}
