package tool

import "fmt"

// Error codes attached to ToolError for uniform downstream handling.
const (
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeExecutionError    = "EXECUTION_ERROR"
	CodePanic             = "PANIC"
)

// ToolError represents a categorized failure of one tool call.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the given categorization.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
