package core

import (
	"context"
)

// Environment defines the rules and mechanics of the simulation
type Environment interface {
	// Reset starts a new episode. A nil seed keeps the current RNG.
	Reset(seed *int64) (Observation, Info)
	// Step advances the environment one timestep given an action
	Step(action Action) (obs Observation, reward float64, terminated, truncated bool, info Info, err error)
	// State returns a copy of the current environment state
	State() State
	// Money returns earnings, costs and profit so far
	Money() Money
	// UpdateMissionDirectives merges new reward weights
	UpdateMissionDirectives(weights map[string]float64)
	// PurchaseUpgrade buys an upgrade with the current budget
	PurchaseUpgrade(name string) error
}

// Agent picks an action from an observation
type Agent interface {
	ID() string
	Act(ctx context.Context, obs Observation) (Action, error)
	Reset()
}
