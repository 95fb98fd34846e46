package runtime

import (
	"errors"
	"fmt"
)

// Common errors used throughout the runtime.
var (
	// ErrNoExecutor is returned when no executor is registered for a plugin type.
	ErrNoExecutor = errors.New("no executor registered for plugin type")

	// ErrInvalidInput is returned when the input data is invalid.
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInvalidConfig is returned when the node configuration is invalid.
	ErrInvalidConfig = errors.New("invalid node configuration")

	// ErrProcessingFailed is returned when node processing fails.
	ErrProcessingFailed = errors.New("node processing failed")

	// ErrContextCancelled is returned when the context is cancelled.
	ErrContextCancelled = errors.New("context cancelled")
)

// ProcessingError wraps an error with the node it happened in.
type ProcessingError struct {
	// NodeId is the ID of the node that caused the error
	NodeId string
	// NodeLabel is the human-readable name of the node
	NodeLabel string
	// PluginType is the type of the node
	PluginType string
	// Slot is the input slot involved, -1 when the error is not slot specific
	Slot int
	// Phase indicates which phase of processing failed
	Phase string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.Slot >= 0 {
		return fmt.Sprintf("processing error in node %s (%s) [%s] at slot %d during %s: %v",
			e.NodeLabel, e.NodeId, e.PluginType, e.Slot, e.Phase, e.Cause)
	}
	return fmt.Sprintf("processing error in node %s (%s) [%s] during %s: %v",
		e.NodeLabel, e.NodeId, e.PluginType, e.Phase, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewProcessingError creates a new processing error.
func NewProcessingError(nodeId, nodeLabel, pluginType string, slot int, phase string, cause error) *ProcessingError {
	return &ProcessingError{
		NodeId:     nodeId,
		NodeLabel:  nodeLabel,
		PluginType: pluginType,
		Slot:       slot,
		Phase:      phase,
		Cause:      cause,
	}
}

// IsPermanentError reports errors that will fail the same way on retry.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNoExecutor)
}
