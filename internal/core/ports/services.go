package ports

import (
	"context"

	"vidrelay/internal/core/domain"
)

// PipelineStats is a point-in-time view of the running pipeline.
type PipelineStats struct {
	SourceState      domain.ConnectionState `json:"-"`
	PublisherState   domain.ConnectionState `json:"-"`
	SourceStateName  string                 `json:"source_state"`
	SinkStateName    string                 `json:"publisher_state"`
	FramesCaptured   uint64                 `json:"frames_captured"`
	FramesDropped    uint64                 `json:"frames_dropped"`
	FramesEncoded    uint64                 `json:"frames_encoded"`
	PacketsPublished uint64                 `json:"packets_published"`
	TimestampRepairs uint64                 `json:"timestamp_repairs"`
	SourceReconnects uint64                 `json:"source_reconnects"`
	SinkReconnects   uint64                 `json:"publisher_reconnects"`
	QueueDepth       int                    `json:"queue_depth"`
	Running          bool                   `json:"running"`
}

type PipelineService interface {
	Start(ctx context.Context) error
	Stop()
	Wait()
	Stats() PipelineStats
}
