package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/boristopalov/silentsky/pkg/config"
	"github.com/boristopalov/silentsky/pkg/core"
	"github.com/boristopalov/silentsky/pkg/providers"
)

// Strategy names for HeuristicAgent.
const (
	StrategyGreedy     = "greedy"
	StrategyRoundRobin = "round_robin"
	StrategyHybrid     = "hybrid"
	StrategyRandom     = "random"
)

// Feedback is implemented by agents that learn from step outcomes.
type Feedback interface {
	Remember(timestep int, action core.Action, reward float64)
}

type AgentParams struct {
	AgentID    string
	Strategy   string
	Seed       *int64
	Model      string
	MemorySize int
	Client     providers.Completer
	Logger     *slog.Logger
}

type AgentOption func(*AgentParams)

func WithAgentId(id string) AgentOption {
	return func(p *AgentParams) {
		p.AgentID = id
	}
}

func WithStrategy(strategy string) AgentOption {
	return func(p *AgentParams) {
		p.Strategy = strategy
	}
}

func WithSeed(seed int64) AgentOption {
	return func(p *AgentParams) {
		p.Seed = &seed
	}
}

func WithModel(model string) AgentOption {
	return func(p *AgentParams) {
		p.Model = model
	}
}

func WithMemorySize(n int) AgentOption {
	return func(p *AgentParams) {
		p.MemorySize = n
	}
}

// WithClient sets the completer an LLMAgent asks for decisions.
func WithClient(c providers.Completer) AgentOption {
	return func(p *AgentParams) {
		p.Client = c
	}
}

func WithLogger(logger *slog.Logger) AgentOption {
	return func(p *AgentParams) {
		p.Logger = logger
	}
}

func defaultAgentParams() *AgentParams {
	return &AgentParams{
		AgentID:    "agent-" + uuid.New().String(),
		Strategy:   StrategyGreedy,
		Model:      "gpt-4o-mini",
		MemorySize: 10,
		Logger:     slog.Default(),
	}
}

func newParams(opts []AgentOption) *AgentParams {
	params := defaultAgentParams()
	for _, opt := range opts {
		opt(params)
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return params
}

// New builds the agent described by cfg. Options are applied after the
// config so callers can override it. An llm agent without a client gets
// one from the configured provider.
func New(ctx context.Context, cfg config.AgentConfig, opts ...AgentOption) (core.Agent, error) {
	base := []AgentOption{WithStrategy(cfg.Strategy)}
	if cfg.Seed != nil {
		base = append(base, WithSeed(*cfg.Seed))
	}
	if cfg.Model != "" {
		base = append(base, WithModel(cfg.Model))
	} else if cfg.Type == "llm" {
		base = append(base, WithModel(providers.DefaultModel(cfg.Provider)))
	}
	if cfg.MemorySize > 0 {
		base = append(base, WithMemorySize(cfg.MemorySize))
	}
	opts = append(base, opts...)

	switch cfg.Type {
	case "heuristic", "":
		a, err := NewHeuristicAgent(opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "llm":
		if newParams(opts).Client == nil {
			client, err := providers.New(ctx, cfg.Provider)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithClient(client))
		}
		a, err := NewLLMAgent(opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
	}
}

var exposureNames = []string{"SHORT", "MEDIUM", "LONG"}

// ExposureName returns SHORT, MEDIUM or LONG.
func ExposureName(mode int) string {
	if mode < 0 || mode >= len(exposureNames) {
		return fmt.Sprintf("EXPOSURE(%d)", mode)
	}
	return exposureNames[mode]
}

// ParseExposure accepts a name or a mode number.
func ParseExposure(s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range exposureNames {
		if s == name || s == fmt.Sprint(i) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown exposure %q", s)
}
