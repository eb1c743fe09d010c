package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
	pipelineerrors "vidrelay/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type EncoderConfig struct {
	// ReopenInterval paces codec restarts after the codec session dies.
	ReopenInterval time.Duration
}

// Encoder feeds frames to a codec and returns the packets it produces with
// timestamps in the sink time base, strictly increasing per stream.
type Encoder struct {
	codec   ports.Codec
	params  ports.CodecParams
	sinkTB  domain.Rational
	stream  int
	repair  *TimestampRepairer
	conn    *reconnector
	logger  *zap.SugaredLogger
	metrics *MetricsService

	opened bool
	errLog rate.Sometimes
}

func NewEncoder(codec ports.Codec, params ports.CodecParams, sinkTB domain.Rational, cfg EncoderConfig, logger *zap.SugaredLogger, metrics *MetricsService) *Encoder {
	if metrics == nil {
		metrics = NewMetricsService(nil)
	}
	e := &Encoder{
		codec:   codec,
		params:  params,
		sinkTB:  sinkTB,
		repair:  NewTimestampRepairer(),
		logger:  logger,
		metrics: metrics,
		errLog:  rate.Sometimes{Interval: time.Second},
	}
	e.conn = newReconnector("encoder", cfg.ReopenInterval, cfg.ReopenInterval, logger, metrics)
	e.conn.open = func(context.Context) error { return e.codec.Open(e.params) }
	e.conn.close = e.codec.Close
	return e
}

// CodecParamsFrom derives encoder settings from the pipeline snapshot: one
// tick per output frame, a GOP of one second.
func CodecParamsFrom(cfg domain.PipelineConfig) ports.CodecParams {
	gop := int(cfg.OutputFPS + 0.5)
	if gop < 1 {
		gop = 1
	}
	return ports.CodecParams{
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: cfg.PixelFormat,
		TimeBase:    cfg.EncoderTimeBase(),
		FrameRate:   cfg.OutputFPS,
		GOPSize:     gop,
		Bitrate:     cfg.Bitrate,
	}
}

// Open initializes the codec. Failure here is fatal to the pipeline.
func (e *Encoder) Open() error {
	if err := e.codec.Open(e.params); err != nil {
		return pipelineerrors.NewCodecUnavailableError(e.codec.Name(), err)
	}
	e.opened = true
	_ = e.conn.state.Connected()
	e.logger.Infow("encoder initialized", "stage", "encoder", "codec", e.codec.Name(),
		"width", e.params.Width, "height", e.params.Height, "time_base", e.params.TimeBase.String(),
		"sink_time_base", e.sinkTB.String())
	return nil
}

// Encode consumes frame and returns every packet the codec has ready. A
// per-frame failure is logged and returned; the encoder stays usable. An
// error wrapping domain.ErrFatal means the codec session is gone and
// Reopen must run before the next frame.
func (e *Encoder) Encode(frame *domain.Frame) ([]*domain.Packet, error) {
	defer frame.Release()
	if !e.opened {
		return nil, fmt.Errorf("encoder: %w", domain.ErrNotConnected)
	}

	start := time.Now()
	frame.PTS = domain.Rescale(frame.PTS, frame.TimeBase, e.params.TimeBase)
	frame.TimeBase = e.params.TimeBase

	var packets []*domain.Packet
	err := e.codec.SendFrame(frame)
	if errors.Is(err, domain.ErrWouldBlock) {
		// codec is full: collect its output, then offer the frame once more
		packets, err = e.drain(packets)
		if err == nil {
			err = e.codec.SendFrame(frame)
		}
	}
	if err != nil {
		e.metrics.RecordEncodeError()
		e.errLog.Do(func() {
			e.logger.Errorw("error sending frame", "stage", "encoder", "pts", frame.PTS, "error", err)
		})
		return packets, fmt.Errorf("encode frame pts=%d: %w", frame.PTS, err)
	}

	packets, err = e.drain(packets)
	if err != nil {
		return packets, err
	}
	e.metrics.RecordFrameEncoded(time.Since(start), len(packets))
	return packets, nil
}

// drain pulls packets until the codec reports it needs more input. Only a
// dead codec session is reported; other receive errors are logged.
func (e *Encoder) drain(packets []*domain.Packet) ([]*domain.Packet, error) {
	for {
		pkt, err := e.codec.ReceivePacket()
		if errors.Is(err, domain.ErrWouldBlock) || errors.Is(err, domain.ErrEndOfStream) {
			return packets, nil
		}
		if err != nil {
			e.metrics.RecordEncodeError()
			e.errLog.Do(func() {
				e.logger.Errorw("error encoding frame", "stage", "encoder", "error", err)
			})
			if errors.Is(err, domain.ErrFatal) {
				return packets, fmt.Errorf("receive packet: %w", err)
			}
			return packets, nil
		}
		packets = append(packets, e.toSink(pkt))
	}
}

// Reopen closes the dead codec session and opens a new one on a fixed
// interval until it succeeds or ctx ends (domain.ErrStopped). Timestamp
// repair state carries over, so packets after the restart keep increasing.
func (e *Encoder) Reopen(ctx context.Context, cause error) error {
	return e.conn.reconnect(ctx, cause)
}

// Interrupt unblocks a codec call stuck on an external process.
func (e *Encoder) Interrupt() {
	if c, ok := e.codec.(ports.Interrupter); ok {
		c.Interrupt()
	}
}

func (e *Encoder) State() domain.ConnectionState { return e.conn.state.State() }

func (e *Encoder) toSink(pkt *domain.Packet) *domain.Packet {
	from := pkt.TimeBase
	if from.IsZero() {
		from = e.params.TimeBase
	}
	pts := domain.Rescale(pkt.PTS, from, e.sinkTB)

	pts, repaired := e.repair.Next(e.stream, pts)
	if repaired {
		e.metrics.RecordTimestampRepair()
		e.logger.Debugw("timestamp repaired", "stage", "encoder", "pts", pts)
	}

	pkt.PTS = pts
	pkt.TimeBase = e.sinkTB
	pkt.StreamIndex = e.stream
	return pkt
}

func (e *Encoder) Close() error {
	if !e.opened {
		return nil
	}
	e.opened = false
	e.conn.stop()
	return e.codec.Close()
}
