package contract

import "sync"

// CustomValidator is a named, caller-registered check consulted for
// RuleCustom constraints (spec §4.3: "a registry of named validators may be
// consulted; unknown validators are ignored (warning)"). It returns a
// non-empty violation message if ctx violates the constraint, or "" if it
// does not.
type CustomValidator func(rule RuleSpec, ctx ActionContext) string

// CustomValidatorRegistry is a simple name->func registry for custom
// constraint validators (SPEC_FULL.md "SUPPLEMENTED FEATURES" item 2),
// mirroring the teacher's registration-map conventions
// (engine.RegisterActivity, hooks.Register).
type CustomValidatorRegistry struct {
	mu         sync.RWMutex
	validators map[string]CustomValidator
}

// NewCustomValidatorRegistry returns an empty registry.
func NewCustomValidatorRegistry() *CustomValidatorRegistry {
	return &CustomValidatorRegistry{validators: make(map[string]CustomValidator)}
}

// Register adds or replaces the validator for name.
func (r *CustomValidatorRegistry) Register(name string, v CustomValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
}

// Lookup returns the validator for name and whether it was found.
func (r *CustomValidatorRegistry) Lookup(name string) (CustomValidator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	return v, ok
}
