package orderedmerge

import (
	"fmt"

	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime"
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	NodeID  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("node %s: config error [%s]: %s", e.NodeID, e.Field, e.Message)
	}
	return fmt.Sprintf("node %s: config error: %s", e.NodeID, e.Message)
}

// Unwrap makes config errors match runtime.ErrInvalidConfig.
func (e *ConfigError) Unwrap() error { return runtime.ErrInvalidConfig }

func NewConfigError(nodeID, field, message string) *ConfigError {
	return &ConfigError{NodeID: nodeID, Field: field, Message: message}
}

// InputError describes a slot value that could not be read as a tree.
type InputError struct {
	NodeID string
	Port   string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("node %s: input error [%s]: %v", e.NodeID, e.Port, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

func NewInputError(nodeID, port string, err error) *InputError {
	return &InputError{NodeID: nodeID, Port: port, Err: err}
}
