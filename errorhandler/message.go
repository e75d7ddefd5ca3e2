package errorhandler

import "fmt"

// Context carries the interpolation values for UserMessage. Not every
// field is relevant to every category; unused fields are simply omitted
// from the rendered message.
type Context struct {
	ErrorType      string
	RetryCount     int
	RetryCap       int
	ToolName       string
	TimeoutSeconds int
	SandboxID      string
}

// UserMessage renders the single user-facing narration for category,
// interpolating ctx. It never includes a raw stack trace or internal error
// type beyond the category name (spec §4.6/§7).
func UserMessage(category Category, ctx Context) string {
	switch category {
	case CategoryTransient:
		return fmt.Sprintf("A temporary issue occurred; retrying (attempt %d of %d).", ctx.RetryCount, ctx.RetryCap)
	case CategoryToolFailure:
		if ctx.ToolName != "" {
			return fmt.Sprintf("The %s tool failed; retrying (attempt %d of %d).", ctx.ToolName, ctx.RetryCount, ctx.RetryCap)
		}
		return fmt.Sprintf("A tool call failed; retrying (attempt %d of %d).", ctx.RetryCount, ctx.RetryCap)
	case CategorySandboxCrash:
		if ctx.SandboxID != "" {
			return fmt.Sprintf("The sandbox (%s) crashed; retrying once from the last phase boundary.", ctx.SandboxID)
		}
		return "The sandbox crashed; retrying once from the last phase boundary."
	case CategoryContractViolation:
		return "Contract violation: the agent attempted an action outside its approved scope. The run has been stopped."
	case CategoryTimeout:
		if ctx.TimeoutSeconds > 0 {
			return fmt.Sprintf("The run did not complete within its %ds time budget and has been stopped.", ctx.TimeoutSeconds)
		}
		return "The run did not complete within its time budget and has been stopped."
	case CategoryApprovalTimeout:
		return "A required approval was not resolved in time and the run has been stopped."
	case CategoryStalled:
		return "No progress was detected for an extended period and the run has been stopped."
	default:
		return "The run encountered an unrecoverable error and has been stopped."
	}
}
