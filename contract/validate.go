package contract

import "fmt"

// IssueSeverity classifies a pre-run validation finding. Only IssueError
// blocks a run from starting (spec §4.3: "Run proceeds only if no
// error-severity issue remains").
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
)

// Issue is one pre-run validation finding.
type Issue struct {
	Severity IssueSeverity
	Code     string
	Message  string
}

// HasErrors reports whether any issue in issues is error-severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == IssueError {
			return true
		}
	}
	return false
}

// PreRun runs the three semantic pre-run checks of spec §4.3 against a
// decoded Contract and returns every finding, in order. The structural
// check is not part of PreRun: the caller runs it separately via
// ValidateDocument against the raw document.
func PreRun(c Contract) []Issue {
	var issues []Issue

	issues = append(issues, checkToolPolicyConflict(c)...)
	issues = append(issues, checkIDUniqueness(c)...)
	issues = append(issues, checkReferenceIntegrity(c)...)

	return issues
}

// checkToolPolicyConflict implements spec §4.3 pre-run item 2.
func checkToolPolicyConflict(c Contract) []Issue {
	blocked := make(map[string]bool, len(c.ToolPolicy.Blocked))
	for _, name := range c.ToolPolicy.Blocked {
		blocked[name] = true
	}
	var issues []Issue
	for _, name := range c.ToolPolicy.Allowed {
		if blocked[name] {
			issues = append(issues, Issue{
				Severity: IssueError,
				Code:     "tool_policy_conflict",
				Message:  fmt.Sprintf("tool %q is both allowed and blocked", name),
			})
		}
	}
	return issues
}

// checkIDUniqueness implements spec §4.3 pre-run item 3.
func checkIDUniqueness(c Contract) []Issue {
	var issues []Issue

	seen := make(map[string]bool)
	for _, sc := range c.SuccessCriteria {
		if sc.ID == "" {
			issues = append(issues, Issue{Severity: IssueError, Code: "missing_id", Message: "success_criteria entry missing id"})
			continue
		}
		if seen[sc.ID] {
			issues = append(issues, Issue{Severity: IssueError, Code: "duplicate_id", Message: fmt.Sprintf("duplicate success_criteria id %q", sc.ID)})
		}
		seen[sc.ID] = true
	}

	seen = make(map[string]bool)
	for _, d := range c.Deliverables {
		if d.ID == "" {
			issues = append(issues, Issue{Severity: IssueError, Code: "missing_id", Message: "deliverable entry missing id"})
			continue
		}
		if seen[d.ID] {
			issues = append(issues, Issue{Severity: IssueError, Code: "duplicate_id", Message: fmt.Sprintf("duplicate deliverable id %q", d.ID)})
		}
		seen[d.ID] = true
	}

	seen = make(map[string]bool)
	for _, con := range c.Constraints {
		if con.ID == "" {
			issues = append(issues, Issue{Severity: IssueError, Code: "missing_id", Message: "constraint entry missing id"})
			continue
		}
		if seen[con.ID] {
			issues = append(issues, Issue{Severity: IssueError, Code: "duplicate_id", Message: fmt.Sprintf("duplicate constraint id %q", con.ID)})
		}
		seen[con.ID] = true
	}

	return issues
}

// checkReferenceIntegrity implements spec §4.3 pre-run item 4.
func checkReferenceIntegrity(c Contract) []Issue {
	deliverableIDs := make(map[string]bool, len(c.Deliverables))
	for _, d := range c.Deliverables {
		deliverableIDs[d.ID] = true
	}
	var issues []Issue
	for _, out := range c.OutputDestinations {
		if !deliverableIDs[out.DeliverableID] {
			issues = append(issues, Issue{
				Severity: IssueError,
				Code:     "dangling_reference",
				Message:  fmt.Sprintf("output_destinations references unknown deliverable_id %q", out.DeliverableID),
			})
		}
	}
	return issues
}
