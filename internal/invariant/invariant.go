// Package invariant marks hard invariant violations that spec §7 requires to
// fail loudly rather than be handled as ordinary user-facing errors: an
// invalid state transition, or an event appended with a seq that is not
// last_seq+1. Both indicate a bug in the caller, not a runtime condition a
// user action can trigger, so they panic with a distinct type instead of
// returning an error a caller might swallow.
package invariant

import "fmt"

// Violation is the panic value raised when a hard invariant is broken.
type Violation struct {
	// Component names the subsystem that detected the violation (e.g.
	// "statemachine", "eventlog").
	Component string
	// Detail describes what was violated.
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", v.Component, v.Detail)
}

// Raise panics with a Violation built from component and a formatted detail.
func Raise(component, format string, args ...any) {
	panic(&Violation{Component: component, Detail: fmt.Sprintf(format, args...)})
}
