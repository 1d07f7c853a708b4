package eval

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rangeSpec is the on-disk form of one parameter range. The type tag picks
// the concrete range; int ranges default step to 1.
type rangeSpec struct {
	Type string  `yaml:"type"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// UnmarshalYAML decodes a search space from configuration, e.g.
//
//	space:
//	  ma:   {type: int, min: 10, max: 200, step: 5}
//	  stop: {type: float, min: 0.5, max: 5.0, step: 0.1}
func (s *SearchSpace) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]rangeSpec
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("search space: %w", err)
	}

	out := make(SearchSpace, len(raw))
	for name, spec := range raw {
		switch spec.Type {
		case "int":
			step := int(spec.Step)
			if step == 0 {
				step = 1
			}
			out[name] = IntRange{Min: int(spec.Min), Max: int(spec.Max), Step: step}
		case "float":
			out[name] = FloatRange{Min: spec.Min, Max: spec.Max, Step: spec.Step}
		default:
			return fmt.Errorf("search space %q: unknown range type %q", name, spec.Type)
		}
	}

	*s = out
	return s.Validate()
}
