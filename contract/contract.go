// Package contract implements the pre-run and runtime checks of spec §4.3:
// structural/semantic validation of a frozen Contract document, and the
// tool-policy and constraint checks the orchestrator runs on every tool
// call. A Contract is immutable once a run starts; this package never
// mutates one.
package contract

// RuleKind is the closed set of constraint rule kinds (spec §3).
type RuleKind string

const (
	RuleToolBlocked    RuleKind = "tool_blocked"
	RulePathBlocked    RuleKind = "path_blocked"
	RulePatternBlocked RuleKind = "pattern_blocked"
	RuleCustom         RuleKind = "custom"
)

// ApprovalAction is the auto-action taken when an approval rule's condition
// fires without resolution before its timeout (spec §3 approval_rules).
type ApprovalAction string

const (
	ApprovalActionApprove ApprovalAction = "approve"
	ApprovalActionReject  ApprovalAction = "reject"
)

type (
	// SuccessCriterion is one acceptance condition for the run's goal.
	SuccessCriterion struct {
		ID          string
		Description string
		Evidence    string // evidence kind, e.g. "file_exists", "test_pass"
	}

	// Deliverable is one expected output of the run.
	Deliverable struct {
		ID                 string
		Kind                string
		DestinationPattern string // may contain {run_id}/{year}/{month}/{slug}
		Required            bool
	}

	// RuleSpec is the rule-kind-specific payload of a Constraint.
	RuleSpec struct {
		// Tools is consulted for RuleToolBlocked.
		Tools []string
		// Patterns is consulted for RulePathBlocked (glob) and
		// RulePatternBlocked (regex).
		Patterns []string
		// ValidatorName is consulted for RuleCustom.
		ValidatorName string
		// ValidatorArgs is opaque configuration passed to the named
		// custom validator.
		ValidatorArgs map[string]any
	}

	// Constraint is one rule the run must never violate (spec §3/§4.3).
	Constraint struct {
		ID          string
		Description string
		Kind        RuleKind
		Rule        RuleSpec
	}

	// ToolPolicy partitions tool names into allowed/blocked sets, which
	// must be disjoint (spec §3).
	ToolPolicy struct {
		Allowed []string
		Blocked []string
	}

	// ApprovalRule describes when an action of a given kind requires a
	// human checkpoint, and what happens if nobody responds in time.
	ApprovalRule struct {
		ActionType     string
		Condition      string // free-text description of the triggering condition
		TimeoutSeconds int
		AutoAction     ApprovalAction
	}

	// OutputDestination binds a deliverable to a concrete write target.
	OutputDestination struct {
		DeliverableID string
		Path          string
	}

	// Contract is the frozen specification of what a run may and must do
	// (spec §3). It is constructed once, validated via PreRun, and then
	// snapshotted onto the Run record; nothing after run start mutates it.
	Contract struct {
		Goal               string
		SuccessCriteria    []SuccessCriterion
		Deliverables       []Deliverable
		Constraints        []Constraint
		ToolPolicy         ToolPolicy
		IntegrationScopes  []string
		ApprovalRules      []ApprovalRule
		MaxDurationSeconds int
		MaxCostCents       *int64
		InputFiles         []string
		OutputDestinations []OutputDestination
	}
)

// ToolAllowed reports whether name is permitted by p: it must not be
// blocked, and if Allowed is non-empty name must be a member of it
// (spec §4.3 runtime tool-call check).
func (p ToolPolicy) ToolAllowed(name string) bool {
	for _, blocked := range p.Blocked {
		if blocked == name {
			return false
		}
	}
	if len(p.Allowed) == 0 {
		return true
	}
	for _, allowed := range p.Allowed {
		if allowed == name {
			return true
		}
	}
	return false
}
