package services

import (
	"context"
	"errors"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
	"vidrelay/pkg/connstate"

	"go.uber.org/zap"
)

type PublisherConfig struct {
	ReconnectInterval    time.Duration
	StartupRetryInterval time.Duration
}

// Publisher writes packets to the sink and owns the sink session. A failed
// write drops that packet, tears the session down and reopens it on a fixed
// interval until it succeeds or the pipeline stops.
type Publisher struct {
	sink    ports.PacketSink
	desc    domain.StreamDescriptor
	conn    *reconnector
	logger  *zap.SugaredLogger
	metrics *MetricsService
}

func NewPublisher(sink ports.PacketSink, cfg PublisherConfig, logger *zap.SugaredLogger, metrics *MetricsService) *Publisher {
	if metrics == nil {
		metrics = NewMetricsService(nil)
	}
	if cfg.StartupRetryInterval <= 0 {
		cfg.StartupRetryInterval = cfg.ReconnectInterval
	}

	p := &Publisher{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
	}
	p.conn = newReconnector("publisher", cfg.ReconnectInterval, cfg.StartupRetryInterval, logger, metrics)
	p.conn.open = func(ctx context.Context) error { return p.sink.Open(ctx, p.desc) }
	p.conn.close = sink.Close
	return p
}

// Open establishes the session and writes the stream header, retrying until
// it succeeds or ctx is cancelled.
func (p *Publisher) Open(ctx context.Context, desc domain.StreamDescriptor) error {
	p.desc = desc
	if err := p.conn.connect(ctx); err != nil {
		return err
	}
	p.logger.Infow("output initialized", "stage", "publisher", "codec", desc.Codec,
		"time_base", p.sink.TimeBase().String())
	return nil
}

// Publish sends one packet. On failure the packet is lost and Publish
// returns only after the session is back (nil error) or the pipeline is
// stopping (domain.ErrStopped).
func (p *Publisher) Publish(ctx context.Context, pkt *domain.Packet) error {
	start := time.Now()
	err := p.sink.WritePacket(pkt)
	if err == nil {
		sendTime := time.Since(start)
		p.metrics.RecordPacketPublished(len(pkt.Data), sendTime)
		p.logger.Debugw("sent packet", "stage", "publisher", "pts", pkt.PTS, "send_time", sendTime)
		return nil
	}
	if ctx.Err() != nil {
		p.conn.stop()
		return domain.ErrStopped
	}

	p.metrics.RecordFrameDropped("publish_error")
	if rerr := p.conn.reconnect(ctx, err); rerr != nil {
		if errors.Is(rerr, domain.ErrStopped) {
			return domain.ErrStopped
		}
		return rerr
	}
	return nil
}

// TimeBase is the time base packets must carry when handed to Publish.
func (p *Publisher) TimeBase() domain.Rational { return p.sink.TimeBase() }

func (p *Publisher) Close() error {
	p.conn.stop()
	return p.sink.Close()
}

func (p *Publisher) State() domain.ConnectionState { return p.conn.state.State() }

func (p *Publisher) Tracker() *connstate.Tracker { return p.conn.state }
