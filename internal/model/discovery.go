package model

import (
	"fmt"
	"time"

	"creatorswap/internal/fixed"
)

// DiscoveryState is the lifecycle position of a price discovery session.
type DiscoveryState uint8

const (
	DiscoveryNotStarted DiscoveryState = iota
	DiscoveryActive
	DiscoveryCompleted
)

func (s DiscoveryState) String() string {
	switch s {
	case DiscoveryActive:
		return "active"
	case DiscoveryCompleted:
		return "completed"
	default:
		return "not_started"
	}
}

func (s DiscoveryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DiscoveryState) UnmarshalText(data []byte) error {
	switch string(data) {
	case "not_started":
		*s = DiscoveryNotStarted
	case "active":
		*s = DiscoveryActive
	case "completed":
		*s = DiscoveryCompleted
	default:
		return fmt.Errorf("unknown discovery state %q", data)
	}
	return nil
}

// EngagementSnapshot is one observation recorded during discovery.
// SmoothedCount is the moving average in 18-decimal fixed point.
type EngagementSnapshot struct {
	Timestamp     time.Time    `json:"timestamp"`
	RawCount      uint64       `json:"raw_count"`
	SmoothedCount fixed.Amount `json:"smoothed_count"`
}

// DiscoverySession is the per-token discovery record.
type DiscoverySession struct {
	TokenID           string               `json:"token_id"`
	State             DiscoveryState       `json:"state"`
	StartTime         time.Time            `json:"start_time"`
	InitialMetric     uint64               `json:"initial_metric"`
	SnapshotCount     int                  `json:"snapshot_count"`
	LastSmoothedCount fixed.Amount         `json:"last_smoothed_count"`
	LastSnapshotAt    time.Time            `json:"last_snapshot_at"`
	CompletedAt       time.Time            `json:"completed_at"`
	Snapshots         []EngagementSnapshot `json:"snapshots,omitempty"`
}

// Clone returns a copy that shares no snapshot storage with s.
func (s DiscoverySession) Clone() DiscoverySession {
	out := s
	if s.Snapshots != nil {
		out.Snapshots = append([]EngagementSnapshot(nil), s.Snapshots...)
	}
	return out
}
