package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/errorhandler"
	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/run"
)

// contractSnapshot returns the contract frozen at run start. Cached on the
// orchestrator by Start so every tool call and constraint check avoids a
// store round trip.
func (o *Orchestrator) contractSnapshot() contract.Contract {
	return o.frozenContract
}

// ErrToolCallRejected is returned by ValidateToolCall when the contract
// validator rejects the candidate action; the caller must not execute it.
type ErrToolCallRejected struct {
	Violation *contract.Violation
}

func (e *ErrToolCallRejected) Error() string { return e.Violation.Error() }

// ValidateToolCall implements spec §4.7/§4.3's runtime tool-call gate: the
// orchestrator checks both the tool policy and every constraint before
// letting the sandbox execute a call. A violation is reported as a
// drift.detected event and classified contract_violation through the
// error handler.
func (o *Orchestrator) ValidateToolCall(ctx context.Context, call ToolCall) error {
	o.mu.Lock()
	c := o.contractSnapshot()
	o.mu.Unlock()

	if v := contract.CheckToolCall(c, call.ToolName); v != nil {
		return o.rejectToolCall(ctx, v)
	}

	actx := contract.ActionContext{ToolName: call.ToolName, FilePath: call.FilePath, Action: call.Action}
	violations, warnings := contract.CheckConstraints(c, actx, o.deps.Validators)
	for _, w := range warnings {
		o.deps.Logger.Warn(ctx, "orchestrator: constraint check warning", "run_id", o.runID, "code", w.Code, "message", w.Message)
	}
	if len(violations) > 0 {
		return o.rejectToolCall(ctx, violations[0])
	}
	return nil
}

func (o *Orchestrator) rejectToolCall(ctx context.Context, v *contract.Violation) error {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	ev := eventlog.NewEvent(runID, "", eventlog.SeverityError, eventlog.DriftDetectedPayload{
		DriftType: string(v.DriftType),
		Details:   v.Details,
		ToolName:  v.ToolName,
		Path:      v.Path,
	})
	if _, err := o.deps.Events.Append(ctx, ev); err != nil {
		return fmt.Errorf("orchestrator: append drift.detected: %w", err)
	}

	if _, err := o.HandleError(ctx, errorhandler.CategoryContractViolation, string(v.DriftType), v.Details, errorhandler.PartialInputs{}); err != nil {
		return err
	}
	return &ErrToolCallRejected{Violation: v}
}

// RecordToolCall implements spec §4.7's tool-call bracket: emit
// tool.called before execution, then after the sandbox returns, emit
// tool.result and feed the stall detector. The caller is responsible for
// invoking ValidateToolCall first; RecordToolCall does not re-validate.
func (o *Orchestrator) RecordToolCall(ctx context.Context, call ToolCall, exec func(context.Context) (*ToolCallResult, error)) (*ToolCallResult, error) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	calledEv := eventlog.NewEvent(runID, "", eventlog.SeverityInfo, eventlog.ToolCalledPayload{
		ToolName:  call.ToolName,
		ToolInput: json.RawMessage(call.Input),
	})
	if _, err := o.deps.Events.Append(ctx, calledEv); err != nil {
		return nil, fmt.Errorf("orchestrator: append tool.called: %w", err)
	}

	spanCtx, span := o.deps.Tracer.Start(ctx, "orchestrator.tool_call", trace.WithAttributes(attribute.String("tool", call.ToolName)))
	result, execErr := exec(spanCtx)
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
	}
	span.End()

	o.deps.Stalls.Touch(runID, run.Now())

	o.mu.Lock()
	o.toolCallCount++
	if result != nil {
		o.toolCallDurSum += result.Duration
	}
	o.mu.Unlock()
	o.deps.Metrics.IncCounter("orchestrator.tool_calls", 1, "tool", call.ToolName)

	if execErr != nil {
		errEv := eventlog.NewEvent(runID, "", eventlog.SeverityError, eventlog.ToolResultPayload{
			ToolName: call.ToolName,
			Success:  false,
			Error:    execErr.Error(),
		})
		if _, err := o.deps.Events.Append(ctx, errEv); err != nil {
			return nil, fmt.Errorf("orchestrator: append tool.result: %w", err)
		}
		return nil, execErr
	}

	resultEv := eventlog.NewEvent(runID, "", eventlog.SeverityInfo, eventlog.ToolResultPayload{
		ToolName: call.ToolName,
		Success:  result.Success,
		Duration: result.Duration,
		Output:   json.RawMessage(result.Output),
		Error:    result.Error,
	})
	if _, err := o.deps.Events.Append(ctx, resultEv); err != nil {
		return nil, fmt.Errorf("orchestrator: append tool.result: %w", err)
	}
	o.deps.Metrics.RecordTimer("orchestrator.tool_call_duration", result.Duration, "tool", call.ToolName)

	return result, nil
}
