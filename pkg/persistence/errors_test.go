package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecutionErrorCarriesContext(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewExecutionError("Update", "exec-1", "wf-1", cause)

	assert.Equal(t, "Update", err.Op)
	assert.Equal(t, "exec-1", err.ExecutionID)
	assert.Equal(t, "wf-1", err.WorkflowID)
	assert.Contains(t, err.Error(), "exec-1")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestExecutionErrorFallsBackToWorkflow(t *testing.T) {
	err := NewExecutionError("ListByWorkflow", "", "wf-1", errors.New("boom"))

	assert.Contains(t, err.Error(), "workflow wf-1")
}

func TestExecutionErrorIsMatchesSentinel(t *testing.T) {
	err := NewExecutionError("GetByID", "exec-1", "", ErrExecutionNotFound)

	assert.True(t, IsExecutionNotFound(err))
}
