package messaging

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/boristopalov/silentsky/pkg/core"
)

// SchemaVersionError is returned by DecodeSnapshot for snapshots written
// under a different schema.
type SchemaVersionError struct {
	Got int
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("unsupported snapshot schema_version %d (want %d)", e.Got, SchemaVersion)
}

// NewSnapshot builds the wire snapshot from simulation state, the agent's
// last observation and step info. Slices are copied so the result shares
// nothing with the caller.
func NewSnapshot(state core.State, obs core.Observation, info core.Info) Snapshot {
	snap := Snapshot{
		SchemaVersion: SchemaVersion,
		Timestep:      state.Timestep,
		State: SnapshotState{
			Sectors:          make([]SectorReading, 0, len(state.Sectors)),
			Events:           make([]EventRecord, 0, len(state.Events)),
			DiscoveredEvents: make([]DiscoveredEvent, 0, len(state.DiscoveredEvents)),
			Budget:           finite(state.Budget),
			TotalEarnings:    finite(state.TotalEarnings),
			TotalCosts:       finite(state.TotalCosts),
			Upgrades:         append(make([]string, 0, len(state.Upgrades)), state.Upgrades...),
			TimeRemaining:    finite(state.TimeRemaining),
		},
		Observation: SnapshotObservation{
			SensorReadings:   finiteSlice(obs.SensorReadings),
			SensorConfidence: finiteSlice(obs.SensorConfidence),
			TimeRemaining:    finiteSlice(obs.TimeRemaining),
			BudgetRemaining:  finiteSlice(obs.BudgetRemaining),
		},
		Info: finiteInfo(info),
	}
	for _, s := range state.Sectors {
		snap.State.Sectors = append(snap.State.Sectors, SectorReading{
			SectorID:         s.SectorID,
			SensorReading:    finite(s.SensorReading),
			SensorConfidence: finite(s.SensorConfidence),
			ActivityRate:     finite(s.ActivityRate),
		})
	}
	for _, e := range state.Events {
		snap.State.Events = append(snap.State.Events, EventRecord{
			EventType:  e.EventType,
			Sector:     e.Sector,
			Timestep:   e.Timestep,
			Value:      finite(e.Value),
			Discovered: e.Discovered,
		})
	}
	for _, e := range state.DiscoveredEvents {
		snap.State.DiscoveredEvents = append(snap.State.DiscoveredEvents, DiscoveredEvent{
			EventType: e.EventType,
			Sector:    e.Sector,
			Value:     finite(e.Value),
		})
	}
	return snap
}

// EncodeSnapshot serializes a snapshot of the given step.
func EncodeSnapshot(state core.State, obs core.Observation, info core.Info) ([]byte, error) {
	data, err := json.Marshal(NewSnapshot(state, obs, info))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a broadcast message and checks its schema version.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var probe struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if probe.SchemaVersion == nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: missing schema_version")
	}
	if *probe.SchemaVersion != SchemaVersion {
		return Snapshot{}, &SchemaVersionError{Got: *probe.SchemaVersion}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// CoreState converts the snapshot state back into simulation types.
func (s Snapshot) CoreState() core.State {
	state := core.State{
		Timestep:      s.Timestep,
		Budget:        s.State.Budget,
		TotalEarnings: s.State.TotalEarnings,
		TotalCosts:    s.State.TotalCosts,
		Upgrades:      append([]string(nil), s.State.Upgrades...),
		TimeRemaining: s.State.TimeRemaining,
	}
	for _, r := range s.State.Sectors {
		state.Sectors = append(state.Sectors, core.Sector{
			SectorID:         r.SectorID,
			SensorReading:    r.SensorReading,
			SensorConfidence: r.SensorConfidence,
			ActivityRate:     r.ActivityRate,
		})
	}
	for _, e := range s.State.Events {
		state.Events = append(state.Events, core.Event(e))
	}
	for _, e := range s.State.DiscoveredEvents {
		state.DiscoveredEvents = append(state.DiscoveredEvents, core.DiscoveredEvent(e))
	}
	return state
}

// CoreObservation converts the snapshot observation back into simulation types.
func (s Snapshot) CoreObservation() core.Observation {
	return core.Observation(s.Observation).Clone()
}

// JSON has no NaN or Inf; coerce them so encoding never fails.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finiteSlice(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = finite(v)
	}
	return out
}

func finiteInfo(info core.Info) map[string]any {
	out := make(map[string]any, len(info))
	for k, v := range info {
		out[k] = finiteValue(v)
	}
	return out
}

func finiteValue(v any) any {
	switch x := v.(type) {
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case []float64:
		return finiteSlice(x)
	case map[string]any:
		return finiteInfo(x)
	case core.Info:
		return finiteInfo(x)
	default:
		return v
	}
}
