package generators

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// DefaultWeights are the relative selection weights of the built-in
// generators.
var DefaultWeights = map[string]int{
	"get_template": 10,
	"template":     20,
	"block_txn":    20,
	"advance_time": 10,
	"send_tx":      20,
	"block":        10,
	"raw_message":  10,
}

// All returns every built-in generator.
func All() []Generator {
	return []Generator{
		GetTemplateGenerator{},
		TemplateGenerator{},
		BlockTxnGenerator{},
		AdvanceTimeGenerator{},
		SendTxGenerator{},
		BlockGenerator{},
		RawMessageGenerator{},
	}
}

type entry struct {
	gen    Generator
	weight int
}

// Registry selects generators by weight.
type Registry struct {
	entries []entry
	logger  *slog.Logger
}

// NewRegistry returns a registry with the built-in generators at their
// default weights. Overrides replace individual weights; a zero weight
// disables a generator.
func NewRegistry(overrides map[string]int, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Registry{logger: logger}
	for _, g := range All() {
		r.entries = append(r.entries, entry{gen: g, weight: DefaultWeights[g.Name()]})
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.SetWeight(name, overrides[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetWeight changes the weight of the named generator.
func (r *Registry) SetWeight(name string, weight int) error {
	if weight < 0 {
		return fmt.Errorf("generator %q: negative weight %d", name, weight)
	}
	for i := range r.entries {
		if r.entries[i].gen.Name() == name {
			r.entries[i].weight = weight
			return nil
		}
	}
	return fmt.Errorf("unknown generator %q", name)
}

// Lookup returns the named generator.
func (r *Registry) Lookup(name string) (Generator, bool) {
	for _, e := range r.entries {
		if e.gen.Name() == name {
			return e.gen, true
		}
	}
	return nil, false
}

// Names returns the registered generator names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.gen.Name()
	}
	return names
}

// Pick selects a generator with probability proportional to its weight.
// It returns false when every weight is zero.
func (r *Registry) Pick(rng ir.Rand) (Generator, bool) {
	total := 0
	for _, e := range r.entries {
		total += e.weight
	}
	if total == 0 {
		return nil, false
	}
	n := rng.Intn(total)
	for _, e := range r.entries {
		if n < e.weight {
			return e.gen, true
		}
		n -= e.weight
	}
	return nil, false
}

// Grow applies rounds randomly picked generators to p. Generators whose
// context requirement is not met are skipped. meta describes p as given,
// so it is dropped once an insertion has shifted instruction indices.
func (r *Registry) Grow(p *ir.Program, rng ir.Rand, meta *ir.PerTestcaseMetadata, rounds int) (*ir.Program, error) {
	for i := 0; i < rounds; i++ {
		g, ok := r.Pick(rng)
		if !ok {
			return p, nil
		}

		next, err := Insert(p, g, rng, meta)
		if IsInvalidContext(err) {
			r.logger.Debug("generator skipped", "generator", g.Name(), "round", i)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", i, err)
		}

		r.logger.Debug("generator applied",
			"generator", g.Name(),
			"round", i,
			"instructions", len(next.Instructions))
		if len(next.Instructions) != len(p.Instructions) {
			meta = nil
		}
		p = next
	}
	return p, nil
}
