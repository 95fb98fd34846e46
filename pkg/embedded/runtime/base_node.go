package runtime

import (
	"bytes"
	"encoding/json"
	"math"
)

// BaseNode provides common functionality for embedded nodes.
// Embed this in your custom node implementations.
type BaseNode struct {
	nodeId     string
	pluginType string
	label      string
	config     map[string]interface{}
	rawConfig  json.RawMessage
}

// NewBaseNode creates a new base node from configuration. Numbers in the
// config are kept as json.Number so integers survive exactly.
func NewBaseNode(config EmbeddedNodeConfig) BaseNode {
	var parsedConfig map[string]interface{}
	if len(config.NodeConfig.Config) > 0 {
		dec := json.NewDecoder(bytes.NewReader(config.NodeConfig.Config))
		dec.UseNumber()
		_ = dec.Decode(&parsedConfig)
	}
	if parsedConfig == nil {
		parsedConfig = make(map[string]interface{})
	}

	return BaseNode{
		nodeId:     config.NodeId,
		pluginType: config.PluginType,
		label:      config.Label,
		config:     parsedConfig,
		rawConfig:  config.NodeConfig.Config,
	}
}

// NodeId returns the node ID.
func (n *BaseNode) NodeId() string {
	return n.nodeId
}

// PluginType returns the plugin type.
func (n *BaseNode) PluginType() string {
	return n.pluginType
}

// Label returns the node label.
func (n *BaseNode) Label() string {
	return n.label
}

// RawConfig returns the raw JSON configuration.
func (n *BaseNode) RawConfig() json.RawMessage {
	return n.rawConfig
}

// HasConfig checks if a config key exists.
func (n *BaseNode) HasConfig(key string) bool {
	_, ok := n.config[key]
	return ok
}

// GetConfigIntWithDefault returns a config value as int with default.
// Non-integral numbers and non-numbers yield the default.
func (n *BaseNode) GetConfigIntWithDefault(key string, defaultVal int) int {
	if v, ok := ToInt(n.config[key]); ok {
		return v
	}
	return defaultVal
}

// GetConfigBoolWithDefault returns a config value as bool with default.
func (n *BaseNode) GetConfigBoolWithDefault(key string, defaultVal bool) bool {
	if v, ok := n.config[key].(bool); ok {
		return v
	}
	return defaultVal
}

// ToInt converts the integral number types that show up in decoded JSON and
// in Go callers to int.
func ToInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// SuccessOutput creates a successful ProcessOutput with the given data.
func SuccessOutput(data map[string]interface{}) ProcessOutput {
	return ProcessOutput{Data: data}
}

// ErrorOutput creates a failed ProcessOutput with the given error.
func ErrorOutput(err error) ProcessOutput {
	return ProcessOutput{Error: err}
}
