package signals

import (
	"fmt"
	"sync"
)

// ScoreFunc computes one signal over a sample. It returns the points earned,
// a short rationale, and an error when the signal could not be computed.
type ScoreFunc func(s *Sample) (points int, rationale string, err error)

// Rule binds a signal to its scoring function.
type Rule struct {
	Signal Signal
	Score  ScoreFunc
}

// Registry holds the rules the scorer aggregates, in registration order.
// Adding a signal means registering a rule; aggregation does not change.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// DefaultRegistry returns a registry with the eight built-in signals.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(SignalExtension, scoreExtension)
	r.MustRegister(SignalTypeMismatch, scoreTypeMismatch)
	r.MustRegister(SignalEntropy, scoreEntropy)
	r.MustRegister(SignalStrings, scoreStrings)
	r.MustRegister(SignalSize, scoreSize)
	r.MustRegister(SignalStackedExtension, scoreStackedExtension)
	r.MustRegister(SignalArchive, scoreArchive)
	r.MustRegister(SignalDeceptiveName, scoreDeceptiveName)
	return r
}

// Register adds a rule. IDs must be unique, weights positive and MaxPoints
// at least 1.
func (r *Registry) Register(sig Signal, fn ScoreFunc) error {
	if sig.ID == "" {
		return fmt.Errorf("signal id is required")
	}
	if sig.Weight <= 0 {
		return fmt.Errorf("signal %s: weight must be positive, got %v", sig.ID, sig.Weight)
	}
	if sig.MaxPoints < 1 {
		return fmt.Errorf("signal %s: max points must be at least 1, got %d", sig.ID, sig.MaxPoints)
	}
	if fn == nil {
		return fmt.Errorf("signal %s: score function is nil", sig.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[sig.ID]; exists {
		return fmt.Errorf("signal %s already registered", sig.ID)
	}
	r.index[sig.ID] = len(r.rules)
	r.rules = append(r.rules, Rule{Signal: sig, Score: fn})
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(sig Signal, fn ScoreFunc) {
	if err := r.Register(sig, fn); err != nil {
		panic(err)
	}
}

// Get returns the rule with the given ID.
func (r *Registry) Get(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Rule{}, false
	}
	return r.rules[i], true
}

// Rules returns a copy of the registered rules in registration order.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules...)
}

// TotalMax is the sum of weight × max points over all rules.
func (r *Registry) TotalMax() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total float64
	for _, rule := range r.rules {
		total += rule.Signal.MaxWeighted()
	}
	return total
}
