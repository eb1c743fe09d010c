package monitoring

import (
	"context"
	"fmt"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"
)

// AddConnectionCheck fails while the named stage is not connected. A
// degraded source still counts as up.
func (h *HealthChecker) AddConnectionCheck(stage string, state func() domain.ConnectionState, interval, timeout time.Duration) {
	h.AddCheck(stage, func(ctx context.Context) (bool, error) {
		switch s := state(); s {
		case domain.StateConnected, domain.StateDegraded:
			return true, nil
		default:
			return false, fmt.Errorf("%s is %s", stage, s)
		}
	}, interval, timeout)
}

// AddFlowCheck fails when no packet has been published for longer than
// stall while the pipeline is running.
func (h *HealthChecker) AddFlowCheck(stats func() ports.PipelineStats, sinceLast func() time.Duration, stall, interval, timeout time.Duration) {
	h.AddCheck("flow", func(ctx context.Context) (bool, error) {
		if !stats().Running {
			return false, fmt.Errorf("pipeline not running")
		}
		if d := sinceLast(); d > stall {
			return false, fmt.Errorf("no packets for %s", d.Truncate(time.Millisecond))
		}
		return true, nil
	}, interval, timeout)
}

// AddPipelineChecks registers the readiness checks for a running pipeline:
// both connections up and packets flowing.
func (h *HealthChecker) AddPipelineChecks(p ports.PipelineService, sinceLast func() time.Duration, stall time.Duration) {
	const interval, timeout = 5 * time.Second, time.Second

	h.AddConnectionCheck("source", func() domain.ConnectionState { return p.Stats().SourceState }, interval, timeout)
	h.AddConnectionCheck("publisher", func() domain.ConnectionState { return p.Stats().PublisherState }, interval, timeout)
	h.AddFlowCheck(p.Stats, sinceLast, stall, interval, timeout)
}
