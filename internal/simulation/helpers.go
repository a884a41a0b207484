package simulation

import (
	"fmt"

	"github.com/nvandessel/meccsim/internal/agent"
	"github.com/nvandessel/meccsim/internal/rng"
	"github.com/nvandessel/meccsim/internal/scenario"
)

// Binary builds a two-stage config with everybody in the adverse stage and
// no services.
func Binary(seed uint64, population int, forward, lapse float64) scenario.Config {
	return scenario.Config{
		Name:         "binary",
		Seed:         seed,
		Population:   population,
		Stages:       []string{"Smoker", "Ex-smoker"},
		InitialStage: []float64{1, 0},
		Forward:      []float64{forward},
		Lapse:        []float64{lapse},
		LapsePolicy:  scenario.LapseConstant,
	}
}

// WithServices returns cfg with one undifferentiated pool of count trained
// services whose effect is e.
func WithServices(cfg scenario.Config, count int, visit, prob float64, e scenario.Effect) scenario.Config {
	out := cfg.Clone()
	out.Trained = true
	out.Services = []scenario.ServiceGroup{{
		Count:                     count,
		VisitProb:                 visit,
		InterventionProbTrained:   prob,
		InterventionProbUntrained: prob,
		Effect:                    e,
	}}
	return out
}

// RandomConfig derives a valid multi-stage config from seed, covering both
// effect policies, both lapse policies, and a mix of initial stages.
func RandomConfig(seed uint64) scenario.Config {
	r := rng.New(seed)
	stages := 2 + r.IntN(4)
	edges := stages - 1

	cfg := scenario.Config{
		Name:       fmt.Sprintf("random-%d", seed),
		Seed:       seed,
		Population: 20 + r.IntN(80),
		Trained:    r.IntN(2) == 0,
	}
	for i := range stages {
		cfg.Stages = append(cfg.Stages, fmt.Sprintf("stage-%d", i))
	}

	cfg.InitialStage = make([]float64, stages)
	cfg.InitialStage[0] = 0.6
	cfg.InitialStage[r.IntN(stages)] += 0.4

	for range edges {
		cfg.Forward = append(cfg.Forward, r.Float64()*0.3)
		cfg.Lapse = append(cfg.Lapse, r.Float64()*0.3)
	}
	if r.IntN(2) == 0 {
		cfg.LapsePolicy = scenario.LapseGeometric
		cfg.LapseDecay = 0.8 + r.Float64()*0.2
	} else {
		cfg.LapsePolicy = scenario.LapseConstant
	}

	groups := 1 + r.IntN(3)
	for g := range groups {
		group := scenario.ServiceGroup{
			Category:                  fmt.Sprintf("category-%d", g),
			Count:                     1 + r.IntN(3),
			VisitProb:                 r.Float64() * 0.6,
			InterventionProbTrained:   0.5 + r.Float64()*0.5,
			InterventionProbUntrained: r.Float64() * 0.2,
		}
		if r.IntN(2) == 0 {
			group.Effect = scenario.Effect{Policy: agent.PolicyMultiplier, Multiplier: scenario.Float(1 + r.Float64())}
		} else {
			floors := make([]float64, edges)
			for i := range floors {
				floors[i] = r.Float64() * 0.5
			}
			group.Effect = scenario.Effect{Policy: agent.PolicyFloor, Floors: floors}
		}
		cfg.Services = append(cfg.Services, group)
	}
	return cfg
}
