package eventlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventValidateRequiresPayload(t *testing.T) {
	t.Parallel()

	ev := &Event{EventID: "e1", RunID: "run-1"}
	err := ev.Validate()
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEventValidateDelegatesToPayload(t *testing.T) {
	t.Parallel()

	ev := NewEvent("run-1", "executing", SeverityError, ToolResultPayload{ToolName: "shell"})
	err := ev.Validate()
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.Contains(t, err.Error(), "tool.result requires error")
}

func TestNewEventAssignsUniqueIDs(t *testing.T) {
	t.Parallel()

	a := NewEvent("run-1", "planning", SeverityInfo, RunStartedPayload{WorkspaceID: "ws", TemplateID: "tpl"})
	b := NewEvent("run-1", "planning", SeverityInfo, RunStartedPayload{WorkspaceID: "ws", TemplateID: "tpl"})
	require.NotEqual(t, a.EventID, b.EventID)
}

func TestDriftDetectedPayloadValidatesDriftType(t *testing.T) {
	t.Parallel()

	bad := DriftDetectedPayload{DriftType: "not_a_real_type"}
	require.Error(t, bad.Validate())

	good := DriftDetectedPayload{DriftType: "unauthorized_tool", ToolName: "shell"}
	require.NoError(t, good.Validate())
}

func TestCheckpointTimeoutPayloadValidatesAppliedAction(t *testing.T) {
	t.Parallel()

	bad := CheckpointTimeoutPayload{CheckpointID: "cp1", AppliedAction: "retry"}
	require.Error(t, bad.Validate())

	good := CheckpointTimeoutPayload{CheckpointID: "cp1", AppliedAction: "reject"}
	require.NoError(t, good.Validate())
}
