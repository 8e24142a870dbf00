package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boristopalov/silentsky/pkg/agent"
	"github.com/boristopalov/silentsky/pkg/core"
	"github.com/boristopalov/silentsky/pkg/episode"
	"github.com/boristopalov/silentsky/pkg/messaging"
)

// Publisher receives a snapshot after every step. *messaging.Bridge
// satisfies it.
type Publisher interface {
	Publish(state core.State, obs core.Observation, info core.Info)
}

// DirectiveSource hands over directives received since the last call.
// *messaging.DirectiveQueue satisfies it.
type DirectiveSource interface {
	Drain() []messaging.Directive
}

type Option func(*Runner)

func WithPublisher(p Publisher) Option {
	return func(r *Runner) {
		r.publisher = p
	}
}

func WithDirectives(d DirectiveSource) Option {
	return func(r *Runner) {
		r.directives = d
	}
}

// WithSeed resets the environment with seed and records it.
func WithSeed(seed int64) Option {
	return func(r *Runner) {
		r.seed = &seed
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithProgressEvery sets how many steps pass between progress lines.
func WithProgressEvery(n int) Option {
	return func(r *Runner) {
		r.progressEvery = n
	}
}

// Runner plays one episode of an agent in an environment. Directives
// from the control client are applied between steps on the runner's
// goroutine, so the environment is never mutated mid-step.
type Runner struct {
	env           core.Environment
	agent         core.Agent
	publisher     Publisher
	directives    DirectiveSource
	seed          *int64
	logger        *slog.Logger
	progressEvery int

	mu     sync.RWMutex
	status core.ExperimentStatus
}

func NewRunner(env core.Environment, a core.Agent, opts ...Option) *Runner {
	r := &Runner{
		env:           env,
		agent:         a,
		progressEvery: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Status returns a copy of the current run status.
func (r *Runner) Status() core.ExperimentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := r.status
	status.Errors = append([]error(nil), r.status.Errors...)
	return status
}

// Run plays until the environment terminates or truncates. When ctx is
// cancelled the episode recorded so far is returned with ctx's error.
func (r *Runner) Run(ctx context.Context) (*episode.Episode, error) {
	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return nil, errors.New("runner already running")
	}
	r.status = core.ExperimentStatus{Running: true, StartTime: time.Now()}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.status.Running = false
		r.status.EndTime = time.Now()
		r.mu.Unlock()
	}()

	return r.runLoop(ctx)
}

func (r *Runner) runLoop(ctx context.Context) (*episode.Episode, error) {
	obs, _ := r.env.Reset(r.seed)
	r.agent.Reset()
	recorder := episode.NewRecorder(r.seed)
	r.logger.Info("episode started", "agent", r.agent.ID(), "seed", seedAttr(r.seed))

	finish := func() *episode.Episode {
		return recorder.Finish(r.env.State(), r.env.Money())
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(), err
		}

		action, err := r.agent.Act(ctx, obs)
		if err != nil {
			return finish(), fmt.Errorf("agent %s: %w", r.agent.ID(), err)
		}

		next, reward, terminated, truncated, info, err := r.env.Step(action)
		if err != nil {
			return finish(), fmt.Errorf("step %d: %w", recorder.Steps()+1, err)
		}
		state := r.env.State()

		if r.publisher != nil {
			r.publisher.Publish(state, next, info)
		}
		r.applyDirectives(ctx)

		recorder.Record(state.Timestep, action, obs, reward, info)
		if fb, ok := r.agent.(agent.Feedback); ok {
			fb.Remember(state.Timestep, action, reward)
		}

		r.mu.Lock()
		r.status.Steps = recorder.Steps()
		r.mu.Unlock()

		if r.progressEvery > 0 && state.Timestep%r.progressEvery == 0 {
			r.logger.Info("progress",
				"step", state.Timestep,
				"reward", reward,
				"budget", state.Budget,
			)
		}

		obs = next
		if terminated || truncated {
			ep := finish()
			r.logger.Info("episode complete",
				"steps", ep.Steps(),
				"total_reward", ep.FinalState.TotalReward,
				"budget", ep.FinalState.Budget,
				"events_discovered", ep.FinalState.EventsDiscovered,
				"events_total", ep.FinalState.EventsTotal,
				"terminated", terminated,
			)
			return ep, nil
		}
	}
}

func (r *Runner) applyDirectives(ctx context.Context) {
	if r.directives == nil {
		return
	}
	for _, d := range r.directives.Drain() {
		if err := ApplyDirective(r.env, d); err != nil {
			r.logger.Warn("directive failed", "error", err)
			r.mu.Lock()
			r.status.Errors = append(r.status.Errors, err)
			r.mu.Unlock()
		}
	}
}

// ApplyDirective applies reward weights, then an upgrade purchase.
func ApplyDirective(env core.Environment, d messaging.Directive) error {
	if d.Has(messaging.DirectiveRewardWeights) {
		env.UpdateMissionDirectives(d.RewardWeights)
	}
	if d.Has(messaging.DirectiveUpgrade) {
		if err := env.PurchaseUpgrade(d.Upgrade); err != nil {
			return fmt.Errorf("upgrade %s: %w", d.Upgrade, err)
		}
	}
	return nil
}

func seedAttr(seed *int64) any {
	if seed == nil {
		return "random"
	}
	return *seed
}
