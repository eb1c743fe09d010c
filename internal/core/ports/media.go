package ports

import (
	"context"
	"iter"

	"vidrelay/internal/core/domain"
)

// RawFrameSource acquires frames from one medium. ReadFrame errors wrap
// domain.ErrTimeout, domain.ErrTransient or domain.ErrFatal.
type RawFrameSource interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) (*domain.Frame, error)
	Close() error
}

// FrameTransformChain is a linear filter graph. Drain yields whatever the
// chain can produce after the last Submit.
type FrameTransformChain interface {
	Submit(frame *domain.Frame) error
	Drain() iter.Seq2[*domain.Frame, error]
	Close() error
}

// CodecParams configures a Codec before Open.
type CodecParams struct {
	Width       int
	Height      int
	PixelFormat domain.PixelFormat
	TimeBase    domain.Rational
	FrameRate   float64
	GOPSize     int
	Bitrate     int
}

// Codec is a send/receive encoder. ReceivePacket returns
// domain.ErrWouldBlock when it needs more input and domain.ErrEndOfStream
// once drained after Close.
type Codec interface {
	Name() string
	Open(params CodecParams) error
	SendFrame(frame *domain.Frame) error
	ReceivePacket() (*domain.Packet, error)
	Close() error
}

// Interrupter is implemented by codecs whose calls can block on an
// external process. Interrupt makes a blocked call return; the session is
// closed afterwards.
type Interrupter interface {
	Interrupt()
}

// PacketSink is one session to the publishing endpoint. Open writes the
// stream header.
type PacketSink interface {
	Open(ctx context.Context, desc domain.StreamDescriptor) error
	WritePacket(pkt *domain.Packet) error
	TimeBase() domain.Rational
	Close() error
}
