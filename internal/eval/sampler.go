package eval

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/stratgate/stratgate/internal/model"
)

// ParamRange is one entry in a search space: either an IntRange or a
// FloatRange. The sum is sealed so configuration is validated at
// construction rather than at point of use.
type ParamRange interface {
	validate() error
	sample(rng *rand.Rand) float64
}

// IntRange samples integer values in [Min, Max] on a Step grid.
type IntRange struct {
	Min  int `yaml:"min" json:"min"`
	Max  int `yaml:"max" json:"max"`
	Step int `yaml:"step" json:"step"`
}

func (r IntRange) validate() error {
	if r.Step <= 0 {
		return fmt.Errorf("int range: step must be positive, got %d", r.Step)
	}
	if r.Max < r.Min {
		return fmt.Errorf("int range: max %d < min %d", r.Max, r.Min)
	}
	return nil
}

func (r IntRange) sample(rng *rand.Rand) float64 {
	steps := (r.Max-r.Min)/r.Step + 1
	return float64(r.Min + rng.Intn(steps)*r.Step)
}

// FloatRange samples float values in [Min, Max], snapped to a Step grid
// when Step is positive.
type FloatRange struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

func (r FloatRange) validate() error {
	if r.Step < 0 {
		return fmt.Errorf("float range: negative step %f", r.Step)
	}
	if r.Max < r.Min {
		return fmt.Errorf("float range: max %f < min %f", r.Max, r.Min)
	}
	return nil
}

func (r FloatRange) sample(rng *rand.Rand) float64 {
	v := r.Min + rng.Float64()*(r.Max-r.Min)
	if r.Step > 0 {
		v = r.Min + math.Round((v-r.Min)/r.Step)*r.Step
		if v > r.Max {
			v = r.Max
		}
	}
	return v
}

// SearchSpace maps parameter names to their ranges.
type SearchSpace map[string]ParamRange

// Validate checks every range at construction time.
func (s SearchSpace) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("search space: no parameters defined")
	}
	for name, r := range s {
		if err := r.validate(); err != nil {
			return fmt.Errorf("search space %q: %w", name, err)
		}
	}
	return nil
}

// Sampler produces one parameter assignment per call. Duplicate handling is
// the objective layer's concern, not the sampler's.
type Sampler interface {
	Sample() model.Params
}

// RandomSampler draws independent uniform samples from a search space using
// a seeded generator, so a run's proposal sequence is reproducible.
type RandomSampler struct {
	space SearchSpace
	names []string // sorted for deterministic draw order
	rng   *rand.Rand
}

// NewRandomSampler validates the space and seeds the generator.
func NewRandomSampler(space SearchSpace, seed int64) (*RandomSampler, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)

	return &RandomSampler{
		space: space,
		names: names,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

// Sample draws one assignment. Parameters are drawn in sorted name order so
// identical seeds produce identical sequences regardless of map iteration.
func (s *RandomSampler) Sample() model.Params {
	params := make(model.Params, len(s.names))
	for _, name := range s.names {
		params[name] = s.space[name].sample(s.rng)
	}
	return params
}
