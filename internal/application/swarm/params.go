package swarm

import (
	"fmt"
	"math"
	"sort"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// Tunable parameter names
const (
	ParamSpecializationWeight = "specialization_weight"
	ParamLatencyWeight        = "latency_weight"
	ParamSuccessWeight        = "success_weight"
	ParamMinScore             = "min_score"
	ParamMaxMessages          = "max_messages"
)

// Default routing parameters
const (
	DefaultSpecializationWeight = 0.6
	DefaultLatencyWeight        = 0.2
	DefaultSuccessWeight        = 0.2
	DefaultMinScore             = 0.0
	DefaultMaxMessages          = 20
)

type paramRange struct {
	min, max float64
	integer  bool
}

var paramRanges = map[string]paramRange{
	ParamSpecializationWeight: {min: 0, max: 1},
	ParamLatencyWeight:        {min: 0, max: 1},
	ParamSuccessWeight:        {min: 0, max: 1},
	ParamMinScore:             {min: 0, max: 1},
	ParamMaxMessages:          {min: 1, max: 1000, integer: true},
}

// Parameters are the routing knobs of a swarm
type Parameters struct {
	SpecializationWeight float64 `json:"specialization_weight"`
	LatencyWeight        float64 `json:"latency_weight"`
	SuccessWeight        float64 `json:"success_weight"`
	MinScore             float64 `json:"min_score"`
	MaxMessages          int     `json:"max_messages"`
}

// DefaultParameters returns the default routing parameters
func DefaultParameters() Parameters {
	return Parameters{
		SpecializationWeight: DefaultSpecializationWeight,
		LatencyWeight:        DefaultLatencyWeight,
		SuccessWeight:        DefaultSuccessWeight,
		MinScore:             DefaultMinScore,
		MaxMessages:          DefaultMaxMessages,
	}
}

// ParameterNames lists the tunable parameters
func ParameterNames() []string {
	return []string{
		ParamSpecializationWeight,
		ParamLatencyWeight,
		ParamSuccessWeight,
		ParamMinScore,
		ParamMaxMessages,
	}
}

// Get returns a parameter by name
func (p Parameters) Get(name string) (float64, error) {
	switch name {
	case ParamSpecializationWeight:
		return p.SpecializationWeight, nil
	case ParamLatencyWeight:
		return p.LatencyWeight, nil
	case ParamSuccessWeight:
		return p.SuccessWeight, nil
	case ParamMinScore:
		return p.MinScore, nil
	case ParamMaxMessages:
		return float64(p.MaxMessages), nil
	}
	return 0, fmt.Errorf("%w: unknown parameter %q", domain.ErrInvalidParameter, name)
}

// With returns a copy of p with name set to value
func (p Parameters) With(name string, value float64) (Parameters, error) {
	if err := ValidateParameter(name, value); err != nil {
		return p, err
	}
	switch name {
	case ParamSpecializationWeight:
		p.SpecializationWeight = value
	case ParamLatencyWeight:
		p.LatencyWeight = value
	case ParamSuccessWeight:
		p.SuccessWeight = value
	case ParamMinScore:
		p.MinScore = value
	case ParamMaxMessages:
		p.MaxMessages = int(value)
	}
	return p, nil
}

// Map returns the parameters keyed by name
func (p Parameters) Map() map[string]float64 {
	out := make(map[string]float64, len(paramRanges))
	for _, name := range ParameterNames() {
		v, _ := p.Get(name)
		out[name] = v
	}
	return out
}

// ValidateParameter checks name is known and value in range
func ValidateParameter(name string, value float64) error {
	r, ok := paramRanges[name]
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", domain.ErrInvalidParameter, name)
	}
	if math.IsNaN(value) || value < r.min || value > r.max {
		return fmt.Errorf("%w: %s must be within [%g, %g], got %g",
			domain.ErrInvalidParameter, name, r.min, r.max, value)
	}
	if r.integer && value != math.Trunc(value) {
		return fmt.Errorf("%w: %s must be an integer, got %g", domain.ErrInvalidParameter, name, value)
	}
	return nil
}

// WithOverrides applies overrides on top of p in name order.
// Unknown names and out-of-range values are rejected.
func (p Parameters) WithOverrides(overrides map[string]float64) (Parameters, error) {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	var err error
	for _, name := range names {
		if p, err = p.With(name, overrides[name]); err != nil {
			return p, err
		}
	}
	return p, nil
}
