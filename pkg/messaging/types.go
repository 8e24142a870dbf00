package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// SchemaVersion is bumped on any incompatible change to Snapshot.
const SchemaVersion = 1

// Snapshot is the broadcast message published after every step. Every
// snapshot is self-contained; none references a previous one.
type Snapshot struct {
	SchemaVersion int                 `json:"schema_version"`
	Timestep      int                 `json:"timestep"`
	State         SnapshotState       `json:"state"`
	Observation   SnapshotObservation `json:"observation"`
	Info          map[string]any      `json:"info"`
}

type SnapshotState struct {
	Sectors          []SectorReading   `json:"sectors"`
	Events           []EventRecord     `json:"events"`
	DiscoveredEvents []DiscoveredEvent `json:"discovered_events"`
	Budget           float64           `json:"budget"`
	TotalEarnings    float64           `json:"total_earnings"`
	TotalCosts       float64           `json:"total_costs"`
	Upgrades         []string          `json:"upgrades"`
	TimeRemaining    float64           `json:"time_remaining"`
}

type SectorReading struct {
	SectorID         int     `json:"sector_id"`
	SensorReading    float64 `json:"sensor_reading"`
	SensorConfidence float64 `json:"sensor_confidence"`
	ActivityRate     float64 `json:"activity_rate"` // visualization only
}

type EventRecord struct {
	EventType  string  `json:"event_type"`
	Sector     int     `json:"sector"`
	Timestep   int     `json:"timestep"`
	Value      float64 `json:"value"`
	Discovered bool    `json:"discovered"`
}

type DiscoveredEvent struct {
	EventType string  `json:"event_type"`
	Sector    int     `json:"sector"`
	Value     float64 `json:"value"`
}

type SnapshotObservation struct {
	SensorReadings   []float64 `json:"sensor_readings"`
	SensorConfidence []float64 `json:"sensor_confidence"`
	TimeRemaining    []float64 `json:"time_remaining"`
	BudgetRemaining  []float64 `json:"budget_remaining"`
}

// DirectiveKind tags which recognized adjustment a directive carries.
type DirectiveKind int

const (
	DirectiveRewardWeights DirectiveKind = iota
	DirectiveUpgrade
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveRewardWeights:
		return "reward_weights"
	case DirectiveUpgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// Directive is a decoded request from the control client. A single payload
// may carry both recognized kinds. Keys the decoder does not recognize are
// kept verbatim in Ignored.
type Directive struct {
	RewardWeights map[string]float64
	Upgrade       string
	Ignored       map[string]json.RawMessage

	kinds []DirectiveKind
}

// Kinds returns the recognized kinds present, in wire key order
// reward_weights then upgrade.
func (d Directive) Kinds() []DirectiveKind {
	return append([]DirectiveKind(nil), d.kinds...)
}

// Has reports whether the directive carries kind k.
func (d Directive) Has(k DirectiveKind) bool {
	for _, kind := range d.kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Ack statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// AckResponse is the single reply produced for every directive request.
type AckResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DirectiveHandler applies a decoded directive. It runs on the listener
// goroutine, concurrently with the simulation loop.
type DirectiveHandler func(ctx context.Context, d Directive) error

// Config selects the bridge endpoints. When Enabled is false every bridge
// operation is a no-op.
type Config struct {
	PublishAddr string
	RequestAddr string
	Enabled     bool
}

// BroadcastChannel is a one-to-many fire-and-forget publish endpoint.
type BroadcastChannel interface {
	// Bind starts accepting subscribers on addr
	Bind(addr string) error
	// Publish hands payload to every attached subscriber without waiting on any
	Publish(payload []byte) error
	// Close releases the endpoint. Publish after Close is a no-op.
	Close() error
}

// RequestChannel is a strict one-request/one-reply endpoint. After Poll
// yields a request, exactly one Reply must be issued before the next Poll.
type RequestChannel interface {
	// Bind starts accepting requests on addr
	Bind(addr string) error
	// Poll waits at most timeout for a request
	Poll(timeout time.Duration) ([]byte, bool, error)
	// Reply answers the request returned by the last Poll
	Reply(payload []byte) error
	// Close releases the endpoint
	Close() error
}

// Addresser is implemented by channels that can report their bound address.
type Addresser interface {
	Addr() string
}
