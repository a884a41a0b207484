package scenario

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/meccsim/internal/agent"
)

func TestPresets_Valid(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			cfg, err := Preset(name)
			if err != nil {
				t.Fatalf("Preset(%q) error = %v", name, err)
			}
			if err := cfg.Normalized().Validate(); err != nil {
				t.Errorf("preset %q invalid: %v", name, err)
			}
		})
	}
}

func TestPreset_Unknown(t *testing.T) {
	if _, err := Preset("gambling"); err == nil {
		t.Error("Preset(gambling) should fail")
	}
}

func TestPreset_ReturnsCopies(t *testing.T) {
	a, _ := Preset(PresetAlcohol)
	a.Services[0].Effect.Floors[0] = 0.9
	b, _ := Preset(PresetAlcohol)
	if b.Services[0].Effect.Floors[0] != 0.2 {
		t.Error("mutating one preset copy leaked into the next")
	}
}

func TestValidate(t *testing.T) {
	yes := true
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"smoking preset", func(c *Config) {}, ""},
		{"zero population", func(c *Config) { c.Population = 0 }, ""},
		{"negative population", func(c *Config) { c.Population = -1 }, "population"},
		{"negative steps", func(c *Config) { c.Steps = -3 }, "steps"},
		{"one stage", func(c *Config) {
			c.Stages = []string{"Smoker"}
			c.InitialStage = []float64{1}
			c.Forward = nil
			c.Lapse = nil
		}, "at least 2 stages"},
		{"duplicate stage", func(c *Config) { c.Stages = []string{"A", "A"} }, "duplicate stage"},
		{"blank stage", func(c *Config) { c.Stages = []string{"A", " "} }, "empty name"},
		{"initial wrong length", func(c *Config) { c.InitialStage = []float64{1} }, "initial_stage has 1"},
		{"initial bad sum", func(c *Config) { c.InitialStage = []float64{0.5, 0.6} }, "sum to 1"},
		{"forward wrong length", func(c *Config) { c.Forward = []float64{0.1, 0.1} }, "forward has 2"},
		{"forward out of range", func(c *Config) { c.Forward = []float64{1.5} }, "forward[0]"},
		{"lapse negative", func(c *Config) { c.Lapse = []float64{-0.1} }, "lapse[0]"},
		{"unknown lapse policy", func(c *Config) { c.LapsePolicy = "linear" }, "unknown lapse_policy"},
		{"geometric zero decay", func(c *Config) { c.LapseDecay = 0 }, "lapse_decay must be in"},
		{"geometric decay above one", func(c *Config) { c.LapseDecay = 1.2 }, "lapse_decay must be in"},
		{"geometric decay of one", func(c *Config) { c.LapseDecay = 1 }, "lapse_decay must be in"},
		{"geometric decay just below one", func(c *Config) { c.LapseDecay = 0.999 }, ""},
		{"constant with decay", func(c *Config) {
			c.LapsePolicy = LapseConstant
			c.LapseDecay = 0.5
		}, "requires lapse_policy"},
		{"negative count", func(c *Config) { c.Services[0].Count = -1 }, "count must be non-negative"},
		{"no services but visits", func(c *Config) { c.Services[0].Count = 0 }, "count must be positive"},
		{"no services no visits", func(c *Config) {
			c.Services[0].Count = 0
			c.Services[0].VisitProb = 0
		}, ""},
		{"visit out of range", func(c *Config) { c.Services[0].VisitProb = 2 }, "visit_prob"},
		{"trained prob out of range", func(c *Config) { c.Services[0].InterventionProbTrained = -1 }, "intervention_prob_trained"},
		{"negative multiplier", func(c *Config) { c.Services[0].Effect.Multiplier = Float(-2) }, "multiplier"},
		{"unknown policy", func(c *Config) { c.Services[0].Effect.Policy = "boost" }, "unknown effect policy"},
		{"floors wrong length", func(c *Config) {
			c.Services[0].Effect = Effect{Policy: agent.PolicyFloor, Floors: []float64{0.2, 0.2}}
		}, "floors has 2"},
		{"floor out of range", func(c *Config) {
			c.Services[0].Effect = Effect{Policy: agent.PolicyFloor, Floors: []float64{1.2}}
		}, "floors[0]"},
		{"duplicate category", func(c *Config) {
			c.Services = append(c.Services, c.Services[0])
		}, "duplicate service category"},
		{"group pins trained", func(c *Config) { c.Services[0].Trained = &yes }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Smoking()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Smoking()
	cfg.Population = -1
	cfg.Forward = []float64{2}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"population", "forward[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestNormalized_Defaults(t *testing.T) {
	cfg := Config{
		Population: 10,
		Stages:     []string{"A", "B", "C"},
		Forward:    []float64{0.1, 0.2},
		Services: []ServiceGroup{
			{Count: 1},
			{Category: "GP", Count: 1, Effect: Effect{Policy: agent.PolicyMultiplier}},
		},
	}.Normalized()

	if got := cfg.InitialStage; len(got) != 3 || got[0] != 1 || got[1] != 0 || got[2] != 0 {
		t.Errorf("InitialStage = %v, want [1 0 0]", got)
	}
	if got := cfg.Lapse; len(got) != 2 || got[0] != 0 || got[1] != 0 {
		t.Errorf("Lapse = %v, want [0 0]", got)
	}
	if cfg.LapsePolicy != LapseConstant {
		t.Errorf("LapsePolicy = %q, want %q", cfg.LapsePolicy, LapseConstant)
	}
	if cfg.Services[0].Effect.Policy != agent.PolicyNone {
		t.Errorf("Effect.Policy = %q, want %q", cfg.Services[0].Effect.Policy, agent.PolicyNone)
	}
	if m := cfg.Services[1].Effect.Multiplier; m == nil || *m != 1 {
		t.Errorf("Effect.Multiplier = %v, want 1", m)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("normalized config invalid: %v", err)
	}
	if cfg.EffectiveLapseDecay() != 1 {
		t.Errorf("EffectiveLapseDecay() = %v, want 1", cfg.EffectiveLapseDecay())
	}
}

func TestNormalized_MultiplierFactor(t *testing.T) {
	tests := []struct {
		name   string
		effect Effect
		want   *float64
	}{
		{"omitted factor defaults to one", Effect{Policy: agent.PolicyMultiplier}, Float(1)},
		{"explicit factor kept", Effect{Policy: agent.PolicyMultiplier, Multiplier: Float(2.5)}, Float(2.5)},
		{"explicit zero kept", Effect{Policy: agent.PolicyMultiplier, Multiplier: Float(0)}, Float(0)},
		{"floor policy untouched", Effect{Policy: agent.PolicyFloor, Floors: []float64{0.3}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Population: 1,
				Stages:     []string{"A", "B"},
				Forward:    []float64{0.2},
				Services:   []ServiceGroup{{Count: 1, Effect: tt.effect}},
			}.Normalized()
			got := cfg.Services[0].Effect.Multiplier
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("Multiplier = %v, want unset", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("Multiplier = %v, want %v", got, *tt.want)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("normalized config invalid: %v", err)
			}
		})
	}
}

func TestNormalized_GeometricDecay(t *testing.T) {
	cfg := Config{Stages: []string{"A", "B"}, Forward: []float64{0.1}, LapsePolicy: LapseGeometric}.Normalized()
	if cfg.LapseDecay != agent.DefaultLapseDecay {
		t.Errorf("LapseDecay = %v, want %v", cfg.LapseDecay, agent.DefaultLapseDecay)
	}
}

func TestClone_Independent(t *testing.T) {
	yes := true
	a := Alcohol()
	a.Services[0].Trained = &yes
	b := a.Clone()
	b.Stages[0] = "changed"
	*b.Services[0].Trained = false
	b.Services[1].Effect.Floors[0] = 0.7

	if a.Stages[0] == "changed" || !*a.Services[0].Trained || a.Services[1].Effect.Floors[0] != 0.2 {
		t.Error("Clone shares memory with the original")
	}
}

func TestServiceGroup_IsTrained(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name  string
		group ServiceGroup
		model bool
		want  bool
	}{
		{"inherits true", ServiceGroup{}, true, true},
		{"inherits false", ServiceGroup{}, false, false},
		{"pinned true", ServiceGroup{Trained: &yes}, false, true},
		{"pinned false", ServiceGroup{Trained: &no}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.group.IsTrained(tt.model); got != tt.want {
				t.Errorf("IsTrained(%v) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	if got := Smoking().Categories(); len(got) != 0 {
		t.Errorf("Smoking categories = %v, want none", got)
	}
	got := Alcohol().Categories()
	if len(got) != len(AlcoholCategories) {
		t.Fatalf("Alcohol categories = %v", got)
	}
	for i := range got {
		if got[i] != AlcoholCategories[i] {
			t.Errorf("category %d = %q, want %q", i, got[i], AlcoholCategories[i])
		}
	}
}

func TestEffect_Build(t *testing.T) {
	if _, ok := (Effect{Policy: agent.PolicyMultiplier, Multiplier: Float(2)}).Build().(agent.Multiplier); !ok {
		t.Error("multiplier policy did not build a Multiplier")
	}
	if _, ok := (Effect{Policy: agent.PolicyFloor, Floors: []float64{0.2}}).Build().(agent.Floor); !ok {
		t.Error("floor policy did not build a Floor")
	}
	if _, ok := (Effect{}).Build().(agent.NoEffect); !ok {
		t.Error("empty policy did not build NoEffect")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "minimal",
			doc: `population: 10
stages: [A, B]
forward: [0.1]
`,
		},
		{
			name: "full",
			doc: `name: custom
seed: 7
steps: 12
population: 20
stages: [Pre-contemplation, Contemplation, Action]
initial_stage: [0.5, 0.5, 0]
forward: [0.1, 0.2]
lapse: [0.05, 0.05]
lapse_policy: geometric
lapse_decay: 0.9
trained: true
services:
  - category: GP
    count: 2
    visit_prob: 0.3
    intervention_prob_trained: 0.8
    intervention_prob_untrained: 0.1
    effect:
      policy: floor
      floors: [0.3, 0.3]
  - category: Pharmacy
    count: 1
    visit_prob: 0.1
    intervention_prob_trained: 0.5
    intervention_prob_untrained: 0.5
    trained: false
    effect:
      policy: multiplier
      multiplier: 1.5
`,
		},
		{name: "empty document", doc: "", wantErr: true},
		{name: "unknown field", doc: "population: 10\nstages: [A, B]\nforward: [0.1]\npopulaton: 3\n", wantErr: true},
		{name: "stages not a list", doc: "population: 10\nstages: A\nforward: [0.1]\n", wantErr: true},
		{name: "missing forward", doc: "population: 10\nstages: [A, B]\n", wantErr: true},
		{name: "bad effect policy", doc: "population: 1\nstages: [A, B]\nforward: [0.1]\nservices:\n  - count: 1\n    effect: {policy: boost}\n", wantErr: true},
		{name: "probability out of range", doc: "population: 10\nstages: [A, B]\nforward: [1.5]\n", wantErr: true},
		{name: "malformed yaml", doc: "population: [10\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse() = %+v, want error", cfg)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("error %v does not wrap ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(cfg.InitialStage) != len(cfg.Stages) {
				t.Errorf("InitialStage not normalized: %v", cfg.InitialStage)
			}
		})
	}
}

func TestParse_Fields(t *testing.T) {
	cfg, err := Parse([]byte(`seed: 9
population: 3
stages: [Smoker, Ex-smoker]
forward: [0.25]
services:
  - count: 1
    visit_prob: 1
    intervention_prob_trained: 1
    effect: {policy: multiplier, multiplier: 2}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Seed != 9 || cfg.Population != 3 || cfg.Forward[0] != 0.25 {
		t.Errorf("decoded fields wrong: %+v", cfg)
	}
	if got := cfg.Services[0].Effect.Factor(); got != 2 {
		t.Errorf("multiplier = %v, want 2", got)
	}
}

func TestParse_OmittedMultiplierKeepsForward(t *testing.T) {
	cfg, err := Parse([]byte(`population: 1
stages: [Smoker, Ex-smoker]
forward: [0.2]
trained: true
services:
  - count: 1
    visit_prob: 1
    intervention_prob_trained: 1
    effect: {policy: multiplier}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := cfg.Services[0].Effect.Factor(); got != 1 {
		t.Fatalf("multiplier = %v, want 1", got)
	}

	p := &agent.Person{Forward: append([]float64(nil), cfg.Forward...)}
	cfg.Services[0].Effect.Build().Apply(p)
	if p.Forward[0] != 0.2 {
		t.Errorf("forward after intervention = %v, want 0.2", p.Forward[0])
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			want, _ := Preset(name)
			var buf bytes.Buffer
			if err := Encode(&buf, want); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Parse(buf.Bytes())
			if err != nil {
				t.Fatalf("Parse(Encode()) error = %v\n%s", err, buf.String())
			}
			if got.Population != want.Population || len(got.Services) != len(want.Services) || got.LapsePolicy != want.LapsePolicy {
				t.Errorf("round trip changed config: got %+v", got)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte("population: 5\nstages: [A, B]\nforward: [0.5]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Population != 5 {
		t.Errorf("Population = %d, want 5", cfg.Population)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) should fail")
	}
}
