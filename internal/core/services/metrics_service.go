package services

import (
	"sync/atomic"
	"time"

	"vidrelay/internal/core/domain"
)

// MetricsObserver receives pipeline events as they happen. The Prometheus
// collector implements it; a nil observer is allowed.
type MetricsObserver interface {
	FrameCaptured(captureTime time.Duration)
	FrameDropped(reason string)
	FrameEncoded(encodeTime time.Duration, packets int)
	PacketPublished(bytes int, sendTime time.Duration)
	TimestampRepaired()
	ReconnectStarted(stage string)
	StateChanged(stage string, state domain.ConnectionState)
	QueueDepth(depth int)
}

// MetricsService keeps the counters behind PipelineStats and forwards every
// event to the observer. Safe for use from both pipeline tasks.
type MetricsService struct {
	observer MetricsObserver

	framesCaptured   atomic.Uint64
	framesDropped    atomic.Uint64
	framesEncoded    atomic.Uint64
	packetsPublished atomic.Uint64
	bytesPublished   atomic.Uint64
	timestampRepairs atomic.Uint64
	encodeErrors     atomic.Uint64
	lastPacketAt     atomic.Int64
}

func NewMetricsService(observer MetricsObserver) *MetricsService {
	return &MetricsService{observer: observer}
}

func (m *MetricsService) RecordFrameCaptured(captureTime time.Duration) {
	m.framesCaptured.Add(1)
	if m.observer != nil {
		m.observer.FrameCaptured(captureTime)
	}
}

func (m *MetricsService) RecordFrameDropped(reason string) {
	m.framesDropped.Add(1)
	if m.observer != nil {
		m.observer.FrameDropped(reason)
	}
}

func (m *MetricsService) RecordFrameEncoded(encodeTime time.Duration, packets int) {
	m.framesEncoded.Add(1)
	if m.observer != nil {
		m.observer.FrameEncoded(encodeTime, packets)
	}
}

func (m *MetricsService) RecordEncodeError() {
	m.encodeErrors.Add(1)
	m.RecordFrameDropped("encode_error")
}

func (m *MetricsService) RecordPacketPublished(bytes int, sendTime time.Duration) {
	m.packetsPublished.Add(1)
	m.bytesPublished.Add(uint64(bytes))
	m.lastPacketAt.Store(time.Now().UnixNano())
	if m.observer != nil {
		m.observer.PacketPublished(bytes, sendTime)
	}
}

func (m *MetricsService) RecordTimestampRepair() {
	m.timestampRepairs.Add(1)
	if m.observer != nil {
		m.observer.TimestampRepaired()
	}
}

func (m *MetricsService) RecordReconnect(stage string) {
	if m.observer != nil {
		m.observer.ReconnectStarted(stage)
	}
}

func (m *MetricsService) RecordState(stage string, state domain.ConnectionState) {
	if m.observer != nil {
		m.observer.StateChanged(stage, state)
	}
}

func (m *MetricsService) RecordQueueDepth(depth int) {
	if m.observer != nil {
		m.observer.QueueDepth(depth)
	}
}

func (m *MetricsService) FramesCaptured() uint64   { return m.framesCaptured.Load() }
func (m *MetricsService) FramesDropped() uint64    { return m.framesDropped.Load() }
func (m *MetricsService) FramesEncoded() uint64    { return m.framesEncoded.Load() }
func (m *MetricsService) PacketsPublished() uint64 { return m.packetsPublished.Load() }
func (m *MetricsService) BytesPublished() uint64   { return m.bytesPublished.Load() }
func (m *MetricsService) TimestampRepairs() uint64 { return m.timestampRepairs.Load() }
func (m *MetricsService) EncodeErrors() uint64     { return m.encodeErrors.Load() }

// SinceLastPacket reports how long ago the publisher last delivered a
// packet; zero if nothing was published yet.
func (m *MetricsService) SinceLastPacket() time.Duration {
	ts := m.lastPacketAt.Load()
	if ts == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ts))
}
