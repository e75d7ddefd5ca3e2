package orchestrator

import (
	"context"
	"time"
)

// Sandbox is the opaque external process host the orchestrator owns the
// lifecycle of (spec §1 Non-goals: "The sandbox runtime (an opaque process
// host that accepts code, streams output, and yields artifact bytes)" is an
// external collaborator, contract only). Implementations live outside this
// module; this module only depends on the interface.
type Sandbox interface {
	// Provision allocates a sandbox for runID and returns its id. Called
	// once, during Start.
	Provision(ctx context.Context, req ProvisionRequest) (*SandboxEnv, error)

	// ExecuteTool runs one tool call inside the sandbox and returns its
	// result. The orchestrator brackets this with the tool-call gate
	// (§4.3 validation) and the tool.called/tool.result events.
	ExecuteTool(ctx context.Context, call ToolCall) (*ToolCallResult, error)

	// ExtractArtifacts pulls any deliverable bytes the sandbox has
	// produced so far. Called on normal completion and, best-effort, on
	// cancellation.
	ExtractArtifacts(ctx context.Context) ([]ArtifactBytes, error)

	// ForceKill terminates in-flight sandbox work immediately, used by
	// Cancel.
	ForceKill(ctx context.Context) error

	// Shutdown releases the sandbox. Called once, from Shutdown.
	Shutdown(ctx context.Context) error
}

// ProvisionRequest is the caller-supplied basis for allocating a sandbox.
type ProvisionRequest struct {
	RunID       string
	WorkspaceID string
	TemplateID  string
	InputFiles  []string
}

// SandboxEnv mirrors run.ExecutionEnv; it is the sandbox adapter's view of
// the same record the orchestrator persists onto the run row.
type SandboxEnv struct {
	SandboxID string
	CreatedAt time.Time
}

// ToolCall is one agent-requested tool invocation, the unit the tool-call
// gate validates before letting the sandbox execute it.
type ToolCall struct {
	ToolName string
	FilePath string
	Action   string
	Input    []byte
}

// ToolCallResult is what the sandbox returns after executing a ToolCall.
type ToolCallResult struct {
	Success  bool
	Output   []byte
	Error    string
	Duration time.Duration
}

// ArtifactBytes is one deliverable the sandbox has produced, prior to the
// orchestrator writing it through the artifact layout and recording its
// manifest on the run row.
type ArtifactBytes struct {
	ArtifactKind string
	SourcePath   string
	Mime         string
	Data         []byte
}
