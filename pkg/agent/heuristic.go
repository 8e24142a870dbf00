package agent

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/boristopalov/silentsky/pkg/core"
)

// HeuristicAgent picks sectors with fixed rules. It needs no model and is
// the default for headless runs.
type HeuristicAgent struct {
	id       string
	strategy string
	seed     *int64

	mu      sync.Mutex
	rng     *rand.Rand
	current int
	steps   int
}

var _ core.Agent = (*HeuristicAgent)(nil)

func NewHeuristicAgent(opts ...AgentOption) (*HeuristicAgent, error) {
	params := newParams(opts)
	switch params.Strategy {
	case StrategyGreedy, StrategyRoundRobin, StrategyHybrid, StrategyRandom:
	default:
		return nil, fmt.Errorf("unknown strategy %q", params.Strategy)
	}

	a := &HeuristicAgent{
		id:       params.AgentID,
		strategy: params.Strategy,
		seed:     params.Seed,
	}
	a.rng = a.newRand()
	return a, nil
}

func (a *HeuristicAgent) newRand() *rand.Rand {
	if a.seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(*a.seed), 0))
}

func (a *HeuristicAgent) ID() string {
	return a.id
}

func (a *HeuristicAgent) Strategy() string {
	return a.strategy
}

func (a *HeuristicAgent) Act(ctx context.Context, obs core.Observation) (core.Action, error) {
	if err := ctx.Err(); err != nil {
		return core.Action{}, err
	}
	n := len(obs.SensorReadings)
	if n == 0 || len(obs.SensorConfidence) != n {
		return core.Action{}, fmt.Errorf("observation has %d readings and %d confidences", n, len(obs.SensorConfidence))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.steps++

	switch a.strategy {
	case StrategyGreedy:
		return Greedy(obs), nil
	case StrategyRoundRobin:
		return core.Action{Sector: a.nextSector(n), ExposureMode: core.ExposureMedium}, nil
	case StrategyHybrid:
		if maxOf(obs.SensorReadings) > 0.5 {
			return core.Action{Sector: mostPromising(obs), ExposureMode: core.ExposureLong}, nil
		}
		return core.Action{Sector: a.nextSector(n), ExposureMode: core.ExposureShort}, nil
	default:
		return core.Action{Sector: a.rng.IntN(n), ExposureMode: a.rng.IntN(3)}, nil
	}
}

func (a *HeuristicAgent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = 0
	a.steps = 0
	a.rng = a.newRand()
}

func (a *HeuristicAgent) nextSector(n int) int {
	sector := a.current % n
	a.current = (sector + 1) % n
	return sector
}

// Greedy looks where uncertainty plus signal is highest and exposes
// longer the less the agent knows overall.
func Greedy(obs core.Observation) core.Action {
	maxUncertainty := 0.0
	for _, c := range obs.SensorConfidence {
		maxUncertainty = max(maxUncertainty, 1-c)
	}

	exposure := core.ExposureShort
	switch {
	case maxUncertainty > 0.7:
		exposure = core.ExposureLong
	case maxUncertainty > 0.4:
		exposure = core.ExposureMedium
	}
	return core.Action{Sector: mostPromising(obs), ExposureMode: exposure}
}

// mostPromising returns the first sector maximizing (1-confidence)+reading.
func mostPromising(obs core.Observation) int {
	best, bestScore := 0, 0.0
	for i, reading := range obs.SensorReadings {
		score := 1 - obs.SensorConfidence[i] + reading
		if i == 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		m = max(m, v)
	}
	return m
}
