package contract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreRunFlagsToolPolicyConflict(t *testing.T) {
	c := Contract{ToolPolicy: ToolPolicy{Allowed: []string{"bash"}, Blocked: []string{"bash"}}}
	issues := PreRun(c)
	require.True(t, HasErrors(issues))
}

func TestPreRunFlagsDuplicateIDs(t *testing.T) {
	c := Contract{
		SuccessCriteria: []SuccessCriterion{{ID: "sc1"}, {ID: "sc1"}},
	}
	issues := PreRun(c)
	require.True(t, HasErrors(issues))
}

func TestPreRunFlagsDanglingReference(t *testing.T) {
	c := Contract{
		Deliverables:       []Deliverable{{ID: "d1"}},
		OutputDestinations: []OutputDestination{{DeliverableID: "missing"}},
	}
	issues := PreRun(c)
	require.True(t, HasErrors(issues))
}

func TestPreRunPassesCleanContract(t *testing.T) {
	c := Contract{
		SuccessCriteria:    []SuccessCriterion{{ID: "sc1"}},
		Deliverables:       []Deliverable{{ID: "d1"}},
		OutputDestinations: []OutputDestination{{DeliverableID: "d1"}},
		ToolPolicy:         ToolPolicy{Allowed: []string{"bash"}},
	}
	issues := PreRun(c)
	require.False(t, HasErrors(issues))
}

func TestToolPolicyToolAllowed(t *testing.T) {
	p := ToolPolicy{Allowed: []string{"bash", "read"}, Blocked: []string{"rm"}}
	require.True(t, p.ToolAllowed("bash"))
	require.False(t, p.ToolAllowed("rm"))
	require.False(t, p.ToolAllowed("write"))

	open := ToolPolicy{Blocked: []string{"rm"}}
	require.True(t, open.ToolAllowed("anything"))
	require.False(t, open.ToolAllowed("rm"))
}
