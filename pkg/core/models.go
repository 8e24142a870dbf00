package core

import (
	"time"
)

// Exposure modes an agent can pick for an observation.
const (
	ExposureShort = iota
	ExposureMedium
	ExposureLong
)

// Action is what an agent decides to do for one step
type Action struct {
	Sector       int `json:"sector" cbor:"sector"`
	ExposureMode int `json:"exposure_mode" cbor:"exposure_mode"`
}

// Observation is the partial view of the environment an agent sees.
// TimeRemaining and BudgetRemaining are single-element vectors.
type Observation struct {
	SensorReadings   []float64 `json:"sensor_readings" cbor:"sensor_readings"`
	SensorConfidence []float64 `json:"sensor_confidence" cbor:"sensor_confidence"`
	TimeRemaining    []float64 `json:"time_remaining" cbor:"time_remaining"`
	BudgetRemaining  []float64 `json:"budget_remaining" cbor:"budget_remaining"`
}

// Clone returns a deep copy of the observation
func (o Observation) Clone() Observation {
	return Observation{
		SensorReadings:   cloneFloats(o.SensorReadings),
		SensorConfidence: cloneFloats(o.SensorConfidence),
		TimeRemaining:    cloneFloats(o.TimeRemaining),
		BudgetRemaining:  cloneFloats(o.BudgetRemaining),
	}
}

// Info is free-form per-step metadata. Numeric values produced by the
// environment are float64 so they survive a JSON round trip unchanged.
type Info map[string]any

// Sector is the sensor state of one sky sector
type Sector struct {
	SectorID         int
	SensorReading    float64
	SensorConfidence float64
	ActivityRate     float64 // display only
}

// Event is a transient phenomenon in a sector
type Event struct {
	EventType  string
	Sector     int
	Timestep   int
	Value      float64
	Discovered bool
}

// DiscoveredEvent summarizes an event the agent found
type DiscoveredEvent struct {
	EventType string
	Sector    int
	Value     float64
}

// State is the authoritative simulation state at a timestep
type State struct {
	Timestep         int
	Sectors          []Sector
	Events           []Event
	DiscoveredEvents []DiscoveredEvent
	Budget           float64
	TotalEarnings    float64
	TotalCosts       float64
	Upgrades         []string
	TimeRemaining    float64
}

// Clone returns a deep copy that shares no slices with s
func (s State) Clone() State {
	out := s
	out.Sectors = append([]Sector(nil), s.Sectors...)
	out.Events = append([]Event(nil), s.Events...)
	out.DiscoveredEvents = append([]DiscoveredEvent(nil), s.DiscoveredEvents...)
	out.Upgrades = append([]string(nil), s.Upgrades...)
	return out
}

// Money is the financial summary of an episode
type Money struct {
	Earnings float64
	Costs    float64
	Profit   float64
}

type ExperimentStatus struct {
	Running   bool
	StartTime time.Time
	EndTime   time.Time
	Steps     int
	Errors    []error
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	copy(out, in)
	return out
}
