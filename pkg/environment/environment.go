package environment

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/boristopalov/silentsky/pkg/core"
)

// Reward weight keys understood by the observatory.
const (
	WeightDiscovery   = "discovery_value"
	WeightCost        = "operational_cost"
	WeightExploration = "exploration_bias"
)

var (
	eventTypes = []string{"supernova", "pulsar", "gamma_ray_burst", "exoplanet_transit"}

	exposureCost      = [...]float64{5, 10, 20}
	exposureDetection = [...]float64{0.5, 0.7, 0.9}

	// ErrEpisodeOver is returned by Step once the episode has ended.
	ErrEpisodeOver = errors.New("episode is over; call Reset")
)

func defaultWeights() map[string]float64 {
	return map[string]float64{
		WeightDiscovery:   1,
		WeightCost:        1,
		WeightExploration: 0,
	}
}

type Option func(*Observatory)

func WithSectors(n int) Option {
	return func(o *Observatory) {
		o.numSectors = n
	}
}

func WithEpisodeLength(n int) Option {
	return func(o *Observatory) {
		o.episodeLength = n
	}
}

func WithInitialBudget(b float64) Option {
	return func(o *Observatory) {
		o.initialBudget = b
	}
}

// WithSeed fixes the RNG seed used until a Reset passes another one.
func WithSeed(seed int64) Option {
	return func(o *Observatory) {
		o.seed = &seed
	}
}

// WithRewardWeights sets the weights every episode starts from.
func WithRewardWeights(weights map[string]float64) Option {
	return func(o *Observatory) {
		for k, v := range weights {
			o.baseWeights[k] = v
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Observatory) {
		o.logger = logger
	}
}

type activeEvent struct {
	index     int // into state.Events
	remaining int
}

// Observatory is a partially observable sky survey. Each step the agent
// points the telescope at one sector with an exposure mode, paying for the
// exposure and possibly discovering the transient events active there.
type Observatory struct {
	numSectors    int
	episodeLength int
	initialBudget float64
	seed          *int64
	baseWeights   map[string]float64
	logger        *slog.Logger

	mu      sync.RWMutex
	rng     *rand.Rand
	state   core.State
	active  []activeEvent
	weights map[string]float64
	owned   map[string]bool
	done    bool
}

var _ core.Environment = (*Observatory)(nil)

func New(opts ...Option) (*Observatory, error) {
	o := &Observatory{
		numSectors:    8,
		episodeLength: 100,
		initialBudget: 1000,
		baseWeights:   defaultWeights(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.numSectors <= 0 {
		return nil, fmt.Errorf("sectors must be positive, got %d", o.numSectors)
	}
	if o.episodeLength <= 0 {
		return nil, fmt.Errorf("episode length must be positive, got %d", o.episodeLength)
	}
	if o.initialBudget <= 0 {
		return nil, fmt.Errorf("initial budget must be positive, got %g", o.initialBudget)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.Reset(o.seed)
	return o, nil
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// Reset starts a new episode. A nil seed continues from the current RNG,
// or a random one on first use.
func (o *Observatory) Reset(seed *int64) (core.Observation, core.Info) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case seed != nil:
		o.rng = newRand(*seed)
	case o.rng == nil:
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	sectors := make([]core.Sector, o.numSectors)
	for i := range sectors {
		sectors[i] = core.Sector{
			SectorID:     i,
			ActivityRate: 0.02 + 0.13*o.rng.Float64(),
		}
	}
	o.state = core.State{
		Sectors:       sectors,
		Budget:        o.initialBudget,
		TimeRemaining: 1,
	}
	o.active = nil
	o.owned = make(map[string]bool)
	o.weights = make(map[string]float64, len(o.baseWeights))
	for k, v := range o.baseWeights {
		o.weights[k] = v
	}
	o.done = false

	return o.observation(), o.info()
}

// Step advances one timestep. An invalid action is rejected without
// changing any state.
func (o *Observatory) Step(action core.Action) (core.Observation, float64, bool, bool, core.Info, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done {
		return core.Observation{}, 0, false, false, nil, ErrEpisodeOver
	}
	if action.Sector < 0 || action.Sector >= o.numSectors {
		return core.Observation{}, 0, false, false, nil, fmt.Errorf("sector %d out of range [0, %d)", action.Sector, o.numSectors)
	}
	if action.ExposureMode < core.ExposureShort || action.ExposureMode > core.ExposureLong {
		return core.Observation{}, 0, false, false, nil, fmt.Errorf("unknown exposure mode %d", action.ExposureMode)
	}

	o.state.Timestep++
	o.spawnEvents()

	cost := exposureCost[action.ExposureMode]
	o.state.Budget -= cost
	o.state.TotalCosts += cost

	o.decayUnobserved(action.Sector)
	novelty := 1 - o.state.Sectors[action.Sector].SensorConfidence
	earned := o.observe(action)
	o.ageEvents()

	reward := o.weights[WeightDiscovery]*earned -
		o.weights[WeightCost]*cost +
		o.weights[WeightExploration]*novelty

	o.state.TimeRemaining = float64(o.episodeLength-o.state.Timestep) / float64(o.episodeLength)
	terminated := o.state.Budget <= 0
	truncated := o.state.Timestep >= o.episodeLength
	o.done = terminated || truncated

	return o.observation(), reward, terminated, truncated, o.info(), nil
}

func (o *Observatory) spawnEvents() {
	extra := 0
	if o.owned[UpgradeReactionSpeed] {
		extra = 2
	}
	for _, sector := range o.state.Sectors {
		if o.rng.Float64() >= sector.ActivityRate {
			continue
		}
		o.state.Events = append(o.state.Events, core.Event{
			EventType: eventTypes[o.rng.IntN(len(eventTypes))],
			Sector:    sector.SectorID,
			Timestep:  o.state.Timestep,
			Value:     10 + 90*o.rng.Float64(),
		})
		o.active = append(o.active, activeEvent{
			index:     len(o.state.Events) - 1,
			remaining: 3 + o.rng.IntN(8) + extra,
		})
	}
}

// observe points the telescope and returns the value of anything
// discovered.
func (o *Observatory) observe(action core.Action) float64 {
	detection := exposureDetection[action.ExposureMode]
	if o.owned[UpgradeSensorQuality] {
		detection = math.Min(1, detection+0.1)
	}

	target := &o.state.Sectors[action.Sector]
	target.SensorConfidence = math.Max(target.SensorConfidence, detection)
	target.SensorReading = 0.05 * o.rng.Float64()

	var earned float64
	for _, a := range o.active {
		event := &o.state.Events[a.index]
		if event.Sector != action.Sector {
			continue
		}
		strength := event.Value / 100
		target.SensorReading = math.Max(target.SensorReading, strength)
		if event.Discovered || o.rng.Float64() >= detection {
			continue
		}
		event.Discovered = true
		earned += event.Value
		o.state.DiscoveredEvents = append(o.state.DiscoveredEvents, core.DiscoveredEvent{
			EventType: event.EventType,
			Sector:    event.Sector,
			Value:     event.Value,
		})
	}
	o.state.TotalEarnings += earned
	o.state.Budget += earned

	if o.owned[UpgradeFieldOfView] && o.numSectors > 1 {
		for _, n := range []int{action.Sector - 1, action.Sector + 1} {
			neighbor := &o.state.Sectors[(n+o.numSectors)%o.numSectors]
			neighbor.SensorConfidence = math.Max(neighbor.SensorConfidence, detection/2)
		}
	}
	return earned
}

func (o *Observatory) decayUnobserved(observed int) {
	for i := range o.state.Sectors {
		if i == observed {
			continue
		}
		sector := &o.state.Sectors[i]
		sector.SensorConfidence *= 0.9
		sector.SensorReading *= 0.5
	}
	if !o.owned[UpgradePredictionHints] {
		return
	}
	for _, a := range o.active {
		event := o.state.Events[a.index]
		if event.Sector == observed || event.Discovered {
			continue
		}
		sector := &o.state.Sectors[event.Sector]
		sector.SensorReading = math.Max(sector.SensorReading, 0.2*event.Value/100)
	}
}

func (o *Observatory) ageEvents() {
	kept := o.active[:0]
	for _, a := range o.active {
		a.remaining--
		if a.remaining > 0 {
			kept = append(kept, a)
		}
	}
	o.active = kept
}

func (o *Observatory) observation() core.Observation {
	readings := make([]float64, len(o.state.Sectors))
	confidence := make([]float64, len(o.state.Sectors))
	for i, s := range o.state.Sectors {
		readings[i] = s.SensorReading
		confidence[i] = s.SensorConfidence
	}
	return core.Observation{
		SensorReadings:   readings,
		SensorConfidence: confidence,
		TimeRemaining:    []float64{o.state.TimeRemaining},
		BudgetRemaining:  []float64{o.state.Budget / o.initialBudget},
	}
}

func (o *Observatory) info() core.Info {
	return core.Info{
		"timestep":          float64(o.state.Timestep),
		"budget":            o.state.Budget,
		"total_earnings":    o.state.TotalEarnings,
		"total_costs":       o.state.TotalCosts,
		"profit":            o.state.TotalEarnings - o.state.TotalCosts,
		"events_discovered": float64(len(o.state.DiscoveredEvents)),
		"events_total":      float64(len(o.state.Events)),
	}
}

// State returns a deep copy of the current state.
func (o *Observatory) State() core.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

func (o *Observatory) Money() core.Money {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return core.Money{
		Earnings: o.state.TotalEarnings,
		Costs:    o.state.TotalCosts,
		Profit:   o.state.TotalEarnings - o.state.TotalCosts,
	}
}

// UpdateMissionDirectives merges weights into the current reward weights.
// Keys the reward does not use are kept but have no effect.
func (o *Observatory) UpdateMissionDirectives(weights map[string]float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range weights {
		if _, known := o.baseWeights[k]; !known {
			o.logger.Debug("unused reward weight", "key", k)
		}
		o.weights[k] = v
	}
}

// RewardWeights returns a copy of the weights in effect.
func (o *Observatory) RewardWeights() map[string]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]float64, len(o.weights))
	for k, v := range o.weights {
		out[k] = v
	}
	return out
}
