package episode

import (
	"github.com/google/uuid"

	"github.com/boristopalov/silentsky/pkg/core"
)

// Episode is the full record of one run: per-step actions, the
// observations they were chosen from, rewards and info, plus a summary.
type Episode struct {
	ID           string             `json:"id" cbor:"id"`
	Seed         *int64             `json:"seed" cbor:"seed"`
	Timesteps    []int              `json:"timesteps" cbor:"timesteps"`
	Actions      []core.Action      `json:"actions" cbor:"actions"`
	Observations []core.Observation `json:"observations" cbor:"observations"`
	Rewards      []float64          `json:"rewards" cbor:"rewards"`
	Info         []core.Info        `json:"info" cbor:"info"`
	FinalState   *FinalState        `json:"final_state,omitempty" cbor:"final_state,omitempty"`
}

type FinalState struct {
	TotalReward      float64 `json:"total_reward" cbor:"total_reward"`
	Budget           float64 `json:"budget" cbor:"budget"`
	Earnings         float64 `json:"earnings" cbor:"earnings"`
	Costs            float64 `json:"costs" cbor:"costs"`
	Profit           float64 `json:"profit" cbor:"profit"`
	EventsDiscovered int     `json:"events_discovered" cbor:"events_discovered"`
	EventsTotal      int     `json:"events_total" cbor:"events_total"`
}

// Steps returns the number of recorded steps.
func (e *Episode) Steps() int {
	return len(e.Timesteps)
}

// TotalReward sums the per-step rewards.
func (e *Episode) TotalReward() float64 {
	var total float64
	for _, r := range e.Rewards {
		total += r
	}
	return total
}

// Recorder accumulates an episode step by step. It is used from the
// simulation loop only and is not safe for concurrent use.
type Recorder struct {
	episode     Episode
	totalReward float64
}

func NewRecorder(seed *int64) *Recorder {
	r := &Recorder{}
	r.episode.ID = uuid.New().String()
	if seed != nil {
		s := *seed
		r.episode.Seed = &s
	}
	return r
}

// Record appends one step. obs is the observation the action was chosen
// from.
func (r *Recorder) Record(timestep int, action core.Action, obs core.Observation, reward float64, info core.Info) {
	r.episode.Timesteps = append(r.episode.Timesteps, timestep)
	r.episode.Actions = append(r.episode.Actions, action)
	r.episode.Observations = append(r.episode.Observations, obs.Clone())
	r.episode.Rewards = append(r.episode.Rewards, reward)

	copied := make(core.Info, len(info))
	for k, v := range info {
		copied[k] = v
	}
	r.episode.Info = append(r.episode.Info, copied)
	r.totalReward += reward
}

func (r *Recorder) Steps() int {
	return len(r.episode.Timesteps)
}

func (r *Recorder) TotalReward() float64 {
	return r.totalReward
}

// Finish attaches the final summary and returns the episode.
func (r *Recorder) Finish(state core.State, money core.Money) *Episode {
	r.episode.FinalState = &FinalState{
		TotalReward:      r.totalReward,
		Budget:           state.Budget,
		Earnings:         money.Earnings,
		Costs:            money.Costs,
		Profit:           money.Profit,
		EventsDiscovered: len(state.DiscoveredEvents),
		EventsTotal:      len(state.Events),
	}
	ep := r.episode
	return &ep
}

// Episode returns the episode recorded so far without a summary.
func (r *Recorder) Episode() *Episode {
	ep := r.episode
	return &ep
}
