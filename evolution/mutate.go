// Package evolution maintains the tunable strategy registry and the
// mutate-simulate-select loop that re-tunes it from observed performance.
package evolution

import (
	"math/rand"
	"sort"

	"github.com/BaSui01/memflow/types"
)

// Bound constrains one parameter's domain.
type Bound struct {
	Min, Max float64
}

func (b Bound) clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// unitBound is the default [0,1] domain.
var unitBound = Bound{Min: 0, Max: 1}

// Mutator proposes candidate parameter sets: a few small perturbations of
// the current values plus a few fully random draws, each clamped to its
// parameter's domain.
type Mutator struct {
	rng       *rand.Rand
	rate      float64
	perturbed int
	random    int
	bounds    map[string]Bound
}

// NewMutator builds a mutator. bounds may be nil; unbounded parameters
// default to [0,1].
func NewMutator(rng *rand.Rand, rate float64, perturbed, random int, bounds map[string]Bound) *Mutator {
	return &Mutator{
		rng:       rng,
		rate:      rate,
		perturbed: perturbed,
		random:    random,
		bounds:    bounds,
	}
}

func (m *Mutator) bound(param string) Bound {
	if b, ok := m.bounds[param]; ok {
		return b
	}
	return unitBound
}

// Propose returns candidate parameter sets for the strategy. The current
// set is never included; candidates must strictly beat it to apply.
func (m *Mutator) Propose(s *types.Strategy) []map[string]float64 {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	candidates := make([]map[string]float64, 0, m.perturbed+m.random)

	for i := 0; i < m.perturbed; i++ {
		c := make(map[string]float64, len(names))
		for _, name := range names {
			b := m.bound(name)
			v := s.Parameters[name]
			// Symmetric relative perturbation around the current value.
			delta := v * m.rate * (2*m.rng.Float64() - 1)
			c[name] = b.clamp(v + delta)
		}
		candidates = append(candidates, c)
	}

	for i := 0; i < m.random; i++ {
		c := make(map[string]float64, len(names))
		for _, name := range names {
			b := m.bound(name)
			c[name] = b.Min + m.rng.Float64()*(b.Max-b.Min)
		}
		candidates = append(candidates, c)
	}

	return candidates
}
