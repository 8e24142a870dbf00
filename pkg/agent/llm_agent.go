package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/boristopalov/silentsky/pkg/core"
	"github.com/boristopalov/silentsky/pkg/memory"
	"github.com/boristopalov/silentsky/pkg/providers"
)

const (
	SYSTEM_PROMPT = `You operate a survey telescope. The sky is divided into sectors and transient events (supernovae, pulsars, gamma ray bursts, exoplanet transits) appear in them and fade after a few steps. Each step you point the telescope at one sector with an exposure mode. SHORT costs 5 and detects an active event half the time, MEDIUM costs 10 and detects 70% of the time, LONG costs 20 and detects 90% of the time. Discovered events pay their value. Your goal is to finish with the highest profit without running out of budget.`

	DECISION_PROMPT_TEMPLATE = `There are %d sectors. Current sensor readings (higher means more signal):
%s
Current sensor confidence (lower means you know less):
%s
Fraction of the episode remaining: %.2f
Fraction of the initial budget remaining: %.2f

Your recent decisions:
%s

Very briefly think about which sector and exposure give the best expected profit, then give your answer after the string "ANSWER" like so: ANSWER: <sector>, <SHORT|MEDIUM|LONG>`
)

var answerPattern = regexp.MustCompile(`(?i)ANSWER:\s*(\d+)\s*,\s*(SHORT|MEDIUM|LONG|[0-2])`)

// LLMAgent asks a language model for each action. When the model fails or
// its answer cannot be used the agent falls back to the greedy heuristic,
// so a step is never lost to the provider.
type LLMAgent struct {
	id     string
	model  string
	client providers.Completer
	memory *memory.Memory
	logger *slog.Logger

	fallbacks int
}

var (
	_ core.Agent = (*LLMAgent)(nil)
	_ Feedback   = (*LLMAgent)(nil)
)

func NewLLMAgent(opts ...AgentOption) (*LLMAgent, error) {
	params := newParams(opts)
	if params.Client == nil {
		return nil, errors.New("llm agent needs a client")
	}
	return &LLMAgent{
		id:     params.AgentID,
		model:  params.Model,
		client: params.Client,
		memory: memory.NewMemory(params.MemorySize),
		logger: params.Logger,
	}, nil
}

func (a *LLMAgent) ID() string {
	return a.id
}

func (a *LLMAgent) Model() string {
	return a.model
}

func (a *LLMAgent) Memory() *memory.Memory {
	return a.memory
}

// Fallbacks returns how many actions came from the heuristic.
func (a *LLMAgent) Fallbacks() int {
	return a.fallbacks
}

func (a *LLMAgent) Act(ctx context.Context, obs core.Observation) (core.Action, error) {
	n := len(obs.SensorReadings)
	if n == 0 || len(obs.SensorConfidence) != n {
		return core.Action{}, fmt.Errorf("observation has %d readings and %d confidences", n, len(obs.SensorConfidence))
	}

	response, err := a.client.Complete(ctx, a.request(obs))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.Action{}, ctxErr
		}
		a.logger.Warn("llm completion failed; using greedy action", "agent", a.id, "error", err)
		return a.fallback(obs), nil
	}
	a.logger.Debug("llm response", "agent", a.id, "response", response)

	action, err := parseActionResponse(response, n)
	if err != nil {
		a.logger.Warn("unusable llm answer; using greedy action", "agent", a.id, "error", err)
		return a.fallback(obs), nil
	}
	return action, nil
}

// Remember stores the outcome of a step for later prompts.
func (a *LLMAgent) Remember(timestep int, action core.Action, reward float64) {
	a.memory.Store(memory.Entry{
		Timestep: timestep,
		Note:     fmt.Sprintf("sector %d %s, reward %.2f", action.Sector, ExposureName(action.ExposureMode), reward),
	})
}

func (a *LLMAgent) Reset() {
	a.memory.Reset()
	a.fallbacks = 0
}

func (a *LLMAgent) fallback(obs core.Observation) core.Action {
	a.fallbacks++
	return Greedy(obs)
}

func (a *LLMAgent) request(obs core.Observation) providers.Request {
	return providers.Request{
		Model:  a.model,
		System: SYSTEM_PROMPT,
		Prompt: fmt.Sprintf(DECISION_PROMPT_TEMPLATE,
			len(obs.SensorReadings),
			formatVector(obs.SensorReadings),
			formatVector(obs.SensorConfidence),
			first(obs.TimeRemaining),
			first(obs.BudgetRemaining),
			a.memory.Format(5),
		),
	}
}

func parseActionResponse(response string, sectors int) (core.Action, error) {
	matches := answerPattern.FindStringSubmatch(response)
	if len(matches) < 3 {
		return core.Action{}, fmt.Errorf("could not find answer in response: %q", response)
	}
	sector, err := strconv.Atoi(matches[1])
	if err != nil {
		return core.Action{}, fmt.Errorf("could not parse sector: %w", err)
	}
	if sector >= sectors {
		return core.Action{}, fmt.Errorf("sector %d out of range [0, %d)", sector, sectors)
	}
	exposure, err := ParseExposure(matches[2])
	if err != nil {
		return core.Action{}, err
	}
	return core.Action{Sector: sector, ExposureMode: exposure}, nil
}

func formatVector(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("  sector %d: %.2f", i, v)
	}
	return strings.Join(parts, "\n")
}

func first(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[0]
}
