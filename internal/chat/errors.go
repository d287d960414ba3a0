package chat

import (
	"errors"
	"strings"
)

// Sentinel errors for orchestrator operations.
var (
	// ErrUnresolvedFunction indicates the model emitted a function-call
	// name with no registered handler.
	ErrUnresolvedFunction = errors.New("unresolved function call")

	// ErrMissingVerificationPrompt indicates a claims round was requested
	// without a verification prompt template.
	ErrMissingVerificationPrompt = errors.New("missing verification prompt")
)

// RenderErrors formats the recovered tool errors for display at the
// boundary. Returns "" when there are none.
func RenderErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}
