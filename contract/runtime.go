package contract

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ActionContext describes the candidate action the orchestrator is about to
// let an agent take, as passed to the runtime tool-call and constraint
// checks (spec §4.3).
type ActionContext struct {
	ToolName string
	FilePath string
	Action   string
}

// DriftType is the closed set of drift.detected payload classifications
// (spec §4.3, §6).
type DriftType string

const (
	DriftUnauthorizedTool DriftType = "unauthorized_tool"
	DriftPathViolation    DriftType = "path_violation"
	DriftLoopDetected     DriftType = "loop_detected"
	DriftConstraintBreach DriftType = "constraint_breach"
)

// Violation is one failed runtime check, carrying enough detail for the
// orchestrator to emit a drift.detected event (spec §4.3).
type Violation struct {
	DriftType  DriftType
	Details    string
	ConstraintID string
	ToolName   string
	Path       string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("contract: %s: %s", v.DriftType, v.Details)
}

// CheckToolCall implements spec §4.3's runtime tool-call check: error if
// the tool is blocked, or if an allow-list is configured and the tool is
// not in it. Returns nil if the call is permitted.
func CheckToolCall(c Contract, toolName string) *Violation {
	for _, blocked := range c.ToolPolicy.Blocked {
		if blocked == toolName {
			return &Violation{
				DriftType: DriftUnauthorizedTool,
				Details:   fmt.Sprintf("tool %q is blocked by the run's tool policy", toolName),
				ToolName:  toolName,
			}
		}
	}
	if len(c.ToolPolicy.Allowed) == 0 {
		return nil
	}
	for _, allowed := range c.ToolPolicy.Allowed {
		if allowed == toolName {
			return nil
		}
	}
	return &Violation{
		DriftType: DriftUnauthorizedTool,
		Details:   fmt.Sprintf("tool %q is not in the run's allowed tool set", toolName),
		ToolName:  toolName,
	}
}

// patternCache memoizes compiled pattern_blocked regexes, keyed by pattern
// source, since the same constraint's patterns are checked on every call.
var (
	patternCacheMu sync.Mutex
	patternCache   = map[string]*regexp.Regexp{}
)

func compilePattern(pattern string) (*regexp.Regexp, error) {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}

// CheckConstraints evaluates every constraint in c against ctx (spec
// §4.3's constraint check) and returns every violation found, consulting
// registry for custom constraints. An unknown custom validator name is
// ignored with a warning-severity issue rather than a violation, matching
// spec §4.3's "unknown validators are ignored (warning)".
func CheckConstraints(c Contract, ctx ActionContext, registry *CustomValidatorRegistry) (violations []*Violation, warnings []Issue) {
	for _, con := range c.Constraints {
		switch con.Kind {
		case RuleToolBlocked:
			for _, t := range con.Rule.Tools {
				if t == ctx.ToolName {
					violations = append(violations, &Violation{
						DriftType:    DriftConstraintBreach,
						Details:      fmt.Sprintf("constraint %q blocks tool %q", con.ID, t),
						ConstraintID: con.ID,
						ToolName:     ctx.ToolName,
					})
					break
				}
			}

		case RulePathBlocked:
			if ctx.FilePath == "" {
				continue
			}
			for _, pattern := range con.Rule.Patterns {
				if MatchGlob(pattern, ctx.FilePath) {
					violations = append(violations, &Violation{
						DriftType:    DriftPathViolation,
						Details:      fmt.Sprintf("constraint %q blocks path pattern %q", con.ID, pattern),
						ConstraintID: con.ID,
						Path:         ctx.FilePath,
					})
					break
				}
			}

		case RulePatternBlocked:
			subject := concatNonEmpty(ctx.Action, ctx.ToolName, ctx.FilePath)
			for _, pattern := range con.Rule.Patterns {
				re, err := compilePattern(pattern)
				if err != nil {
					warnings = append(warnings, Issue{
						Severity: IssueWarning,
						Code:     "invalid_pattern",
						Message:  fmt.Sprintf("constraint %q: invalid regex %q: %v", con.ID, pattern, err),
					})
					continue
				}
				if re.MatchString(subject) {
					violations = append(violations, &Violation{
						DriftType:    DriftConstraintBreach,
						Details:      fmt.Sprintf("constraint %q matched pattern %q", con.ID, pattern),
						ConstraintID: con.ID,
						ToolName:     ctx.ToolName,
						Path:         ctx.FilePath,
					})
					break
				}
			}

		case RuleCustom:
			if registry == nil {
				warnings = append(warnings, Issue{
					Severity: IssueWarning,
					Code:     "no_custom_registry",
					Message:  fmt.Sprintf("constraint %q: no custom validator registry configured", con.ID),
				})
				continue
			}
			validator, ok := registry.Lookup(con.Rule.ValidatorName)
			if !ok {
				warnings = append(warnings, Issue{
					Severity: IssueWarning,
					Code:     "unknown_validator",
					Message:  fmt.Sprintf("constraint %q: unknown custom validator %q", con.ID, con.Rule.ValidatorName),
				})
				continue
			}
			if msg := validator(con.Rule, ctx); msg != "" {
				violations = append(violations, &Violation{
					DriftType:    DriftConstraintBreach,
					Details:      fmt.Sprintf("constraint %q (%s): %s", con.ID, con.Rule.ValidatorName, msg),
					ConstraintID: con.ID,
					ToolName:     ctx.ToolName,
					Path:         ctx.FilePath,
				})
			}
		}
	}
	return violations, warnings
}

// concatNonEmpty joins the non-empty members of vals, matching spec §4.3's
// "concatenation of {action, tool_name, file_path} (first non-empty)":
// empty fields are skipped rather than contributing a blank segment.
func concatNonEmpty(vals ...string) string {
	var b strings.Builder
	for _, v := range vals {
		if v != "" {
			b.WriteString(v)
		}
	}
	return b.String()
}
