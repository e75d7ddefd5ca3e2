package contract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckToolCallBlocksBlockedTool(t *testing.T) {
	c := Contract{ToolPolicy: ToolPolicy{Blocked: []string{"rm"}}}
	v := CheckToolCall(c, "rm")
	require.NotNil(t, v)
	require.Equal(t, DriftUnauthorizedTool, v.DriftType)
}

func TestCheckToolCallEnforcesAllowList(t *testing.T) {
	c := Contract{ToolPolicy: ToolPolicy{Allowed: []string{"bash"}}}
	require.Nil(t, CheckToolCall(c, "bash"))
	require.NotNil(t, CheckToolCall(c, "write"))
}

func TestCheckConstraintsToolBlocked(t *testing.T) {
	c := Contract{Constraints: []Constraint{
		{ID: "c1", Kind: RuleToolBlocked, Rule: RuleSpec{Tools: []string{"rm"}}},
	}}
	violations, warnings := CheckConstraints(c, ActionContext{ToolName: "rm"}, nil)
	require.Len(t, violations, 1)
	require.Empty(t, warnings)
	require.Equal(t, DriftConstraintBreach, violations[0].DriftType)
}

func TestCheckConstraintsPathBlocked(t *testing.T) {
	c := Contract{Constraints: []Constraint{
		{ID: "c1", Kind: RulePathBlocked, Rule: RuleSpec{Patterns: []string{"/etc/*"}}},
	}}
	violations, _ := CheckConstraints(c, ActionContext{FilePath: "/etc/passwd"}, nil)
	require.Len(t, violations, 1)
	require.Equal(t, DriftPathViolation, violations[0].DriftType)

	violations, _ = CheckConstraints(c, ActionContext{FilePath: "/home/file"}, nil)
	require.Empty(t, violations)
}

func TestCheckConstraintsPatternBlockedConcatenatesSubject(t *testing.T) {
	c := Contract{Constraints: []Constraint{
		{ID: "c1", Kind: RulePatternBlocked, Rule: RuleSpec{Patterns: []string{"^deletetoken$"}}},
	}}
	violations, _ := CheckConstraints(c, ActionContext{Action: "delete", ToolName: "token"}, nil)
	require.Len(t, violations, 1)
}

func TestCheckConstraintsCustomUnknownValidatorWarns(t *testing.T) {
	c := Contract{Constraints: []Constraint{
		{ID: "c1", Kind: RuleCustom, Rule: RuleSpec{ValidatorName: "missing"}},
	}}
	registry := NewCustomValidatorRegistry()
	violations, warnings := CheckConstraints(c, ActionContext{}, registry)
	require.Empty(t, violations)
	require.Len(t, warnings, 1)
	require.Equal(t, "unknown_validator", warnings[0].Code)
}

func TestCheckConstraintsCustomValidatorFires(t *testing.T) {
	registry := NewCustomValidatorRegistry()
	registry.Register("no_prod", func(rule RuleSpec, ctx ActionContext) string {
		if ctx.FilePath == "/prod/secrets" {
			return "touches production secrets"
		}
		return ""
	})
	c := Contract{Constraints: []Constraint{
		{ID: "c1", Kind: RuleCustom, Rule: RuleSpec{ValidatorName: "no_prod"}},
	}}
	violations, warnings := CheckConstraints(c, ActionContext{FilePath: "/prod/secrets"}, registry)
	require.Empty(t, warnings)
	require.Len(t, violations, 1)
	require.Equal(t, DriftConstraintBreach, violations[0].DriftType)
}
