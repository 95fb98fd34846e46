package runtime

import (
	"context"
	"encoding/json"
)

// EmbeddedNodeConfig describes one node instance to create.
type EmbeddedNodeConfig struct {
	// NodeId is the unique identifier for this node
	NodeId string `json:"nodeId"`
	// Label is the human-readable name for this node
	Label string `json:"label"`
	// PluginType identifies which processor handles this node
	PluginType string `json:"pluginType"`
	// NodeConfig holds the plugin specific configuration
	NodeConfig NodeConfig `json:"nodeConfig"`
}

// NodeConfig contains the detailed configuration for a node.
type NodeConfig struct {
	// NodeId is the unique identifier (matches parent EmbeddedNodeConfig.NodeId)
	NodeId string `json:"node_id"`
	// WorkflowId is the ID of the workflow this node belongs to
	WorkflowId string `json:"workflow_id"`
	// Config contains the node-specific configuration as raw JSON
	Config json.RawMessage `json:"config"`
}

// ProcessInput contains all data needed for an embedded node to process.
type ProcessInput struct {
	// Ctx is the context for cancellation and timeouts
	Ctx context.Context
	// Data holds the port values keyed by port name
	Data map[string]interface{}
	// Config is the node-specific configuration (parsed from NodeConfig.Config)
	Config map[string]interface{}
	// RawConfig is the original raw JSON configuration
	RawConfig json.RawMessage
	// NodeId is the ID of the node being processed
	NodeId string
	// PluginType is the type of processor handling this node
	PluginType string
	// Label is the human-readable name of the node
	Label string
}

// ProcessOutput contains the result of embedded node processing.
type ProcessOutput struct {
	// Data is the output data from the node keyed by output port name
	Data map[string]interface{}
	// Error is set if processing failed
	Error error
	// ItemCount is the number of items the node produced
	ItemCount int
	// SkippedInputs is the number of inputs the node ignored
	SkippedInputs int
}

// Context returns the input context, falling back to Background.
func (in ProcessInput) Context() context.Context {
	if in.Ctx == nil {
		return context.Background()
	}
	return in.Ctx
}
