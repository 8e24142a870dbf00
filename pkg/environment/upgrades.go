package environment

import (
	"fmt"
)

const (
	UpgradeSensorQuality   = "sensor_quality"
	UpgradeFieldOfView     = "field_of_view"
	UpgradeReactionSpeed   = "reaction_speed"
	UpgradePredictionHints = "prediction_hints"
)

var upgradeCosts = map[string]float64{
	UpgradeSensorQuality:   500,
	UpgradeFieldOfView:     500,
	UpgradeReactionSpeed:   500,
	UpgradePredictionHints: 1000,
}

func IsKnownUpgrade(name string) bool {
	_, ok := upgradeCosts[name]
	return ok
}

// UpgradeCost returns the price of a known upgrade.
func UpgradeCost(name string) (float64, bool) {
	cost, ok := upgradeCosts[name]
	return cost, ok
}

func (o *Observatory) IsKnownUpgrade(name string) bool {
	return IsKnownUpgrade(name)
}

func (o *Observatory) UpgradeCost(name string) (float64, bool) {
	return UpgradeCost(name)
}

// PurchaseUpgrade pays for an upgrade out of the current budget. The
// upgrade takes effect from the next step.
func (o *Observatory) PurchaseUpgrade(name string) error {
	cost, ok := upgradeCosts[name]
	if !ok {
		return fmt.Errorf("unknown upgrade %q", name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.owned[name] {
		return fmt.Errorf("upgrade %q already purchased", name)
	}
	if o.state.Budget < cost {
		return fmt.Errorf("upgrade %q costs %.2f, budget is %.2f", name, cost, o.state.Budget)
	}

	o.state.Budget -= cost
	o.state.TotalCosts += cost
	o.state.Upgrades = append(o.state.Upgrades, name)
	o.owned[name] = true
	o.logger.Info("upgrade purchased", "upgrade", name, "cost", cost, "budget", o.state.Budget)
	return nil
}
