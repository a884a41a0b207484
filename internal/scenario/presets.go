package scenario

import (
	"fmt"
	"sort"

	"github.com/nvandessel/meccsim/internal/agent"
)

// Preset names.
const (
	PresetSmoking = "smoking"
	PresetAlcohol = "alcohol"
)

// AlcoholCategories are the service categories of the alcohol preset.
var AlcoholCategories = []string{"Job Centre", "Benefits Office", "Housing Officer", "Community Hub"}

var presets = map[string]func() Config{
	PresetSmoking: Smoking,
	PresetAlcohol: Alcohol,
}

// Smoking is the binary smoking-cessation model: one pool of services whose
// brief interventions multiply the quit probability, and a relapse chance
// that decays with time smoke free.
func Smoking() Config {
	return Config{
		Name:         PresetSmoking,
		Seed:         42,
		Steps:        24,
		Population:   50,
		Stages:       []string{"Smoker", "Ex-smoker"},
		InitialStage: []float64{0.5, 0.5},
		Forward:      []float64{0.01},
		Lapse:        []float64{0.01},
		LapsePolicy:  LapseGeometric,
		LapseDecay:   agent.DefaultLapseDecay,
		Services: []ServiceGroup{{
			Count:                     1,
			VisitProb:                 0.1,
			InterventionProbTrained:   1.0,
			InterventionProbUntrained: 0.1,
			Effect:                    Effect{Policy: agent.PolicyMultiplier, Multiplier: Float(1.1)},
		}},
	}
}

// Alcohol is the four-stage problem-drinking model: people visit four kinds
// of service, and an intervention raises each forward probability to at
// least the service's post-intervention floor.
func Alcohol() Config {
	visit := map[string]float64{
		"Job Centre":      0.1,
		"Benefits Office": 0.1,
		"Housing Officer": 0.05,
		"Community Hub":   0.15,
	}
	groups := make([]ServiceGroup, 0, len(AlcoholCategories))
	for _, c := range AlcoholCategories {
		groups = append(groups, ServiceGroup{
			Category:                  c,
			Count:                     1,
			VisitProb:                 visit[c],
			InterventionProbTrained:   0.5,
			InterventionProbUntrained: 0.05,
			Effect:                    Effect{Policy: agent.PolicyFloor, Floors: []float64{0.2, 0.2, 0.2}},
		})
	}
	return Config{
		Name:         PresetAlcohol,
		Seed:         42,
		Steps:        24,
		Population:   50,
		Stages:       []string{"Pre-contemplation", "Contemplation", "Preparation", "Action"},
		InitialStage: []float64{1, 0, 0, 0},
		Forward:      []float64{0.05, 0.05, 0.05},
		Lapse:        []float64{0.02, 0.02, 0.02},
		LapsePolicy:  LapseConstant,
		Services:     groups,
	}
}

// Preset returns a fresh copy of a named preset.
func Preset(name string) (Config, error) {
	f, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	return f(), nil
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
