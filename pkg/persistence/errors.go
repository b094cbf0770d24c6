// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrExecutionNotFound indicates an execution record was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrApprovalNotFound indicates an approval task was not found.
	ErrApprovalNotFound = errors.New("approval task not found")

	// ErrDuplicateExecution indicates an active execution already exists for
	// the (workflow, entity) pair.
	ErrDuplicateExecution = errors.New("active execution already exists")
)

// ExecutionError wraps ledger errors with operation context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g. "Create", "Update")
	ExecutionID string
	WorkflowID  string
	Err         error
}

func (e *ExecutionError) Error() string {
	target := e.ExecutionID
	if target == "" {
		target = fmt.Sprintf("workflow %s", e.WorkflowID)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a ledger error with context.
func NewExecutionError(op, executionID, workflowID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, WorkflowID: workflowID, Err: err}
}

// ApprovalError wraps approval-task errors with operation context.
type ApprovalError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("%s operation failed for approval task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

func (e *ApprovalError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsDefinitionNotFound checks whether an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsExecutionNotFound checks whether an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsApprovalNotFound checks whether an error indicates a missing approval task.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}
