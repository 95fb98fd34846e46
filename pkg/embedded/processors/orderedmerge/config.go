package orderedmerge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wehubfusion/Gorilla/pkg/merge"
)

// PluginType is the registry key of the ordered merge processor.
const PluginType = "plugin-ordered-merge"

// DefaultSlots is the slot count used when the config does not set one.
const DefaultSlots = 3

// MaxSlots caps the slot count of one invocation.
const MaxSlots = 4096

// Keys of a script slot value: {"script": "...", "timeout_ms": 500}.
const (
	ScriptKey        = "script"
	ScriptTimeoutKey = "timeout_ms"
)

// Config defines the configuration of an ordered merge node.
type Config struct {
	// OutputMode is the persisted mode selector value: 0, 1, 2 or a mode
	// name. Any other integer merges as "Rebuild Tree".
	OutputMode interface{} `json:"output_mode,omitempty"`

	// Slots is the number of item slots the node was saved with. Inputs
	// beyond it are still read.
	Slots int `json:"slots"`
}

// DefaultConfig returns the configuration of a freshly placed node.
func DefaultConfig() Config {
	return Config{OutputMode: int(merge.DefaultMode), Slots: DefaultSlots}
}

// ParseConfig decodes raw over the defaults and validates it. Empty input
// yields the defaults.
func ParseConfig(nodeID string, raw json.RawMessage) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, NewConfigError(nodeID, "", fmt.Sprintf("failed to parse configuration: %v", err))
		}
	}
	if err := cfg.Validate(nodeID); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate(nodeID string) error {
	if c.Slots < 0 {
		return NewConfigError(nodeID, "slots", fmt.Sprintf("slot count cannot be negative, got %d", c.Slots))
	}
	if c.Slots > MaxSlots {
		return NewConfigError(nodeID, "slots", fmt.Sprintf("slot count cannot exceed %d, got %d", MaxSlots, c.Slots))
	}
	if c.OutputMode != nil {
		if _, err := merge.ModeFromValue(c.OutputMode); err != nil {
			return NewConfigError(nodeID, "output_mode", err.Error())
		}
	}
	return nil
}

// Mode returns the configured mode, DefaultMode when unset.
func (c *Config) Mode() merge.Mode {
	if c.OutputMode == nil {
		return merge.DefaultMode
	}
	m, err := merge.ModeFromValue(c.OutputMode)
	if err != nil {
		return merge.DefaultMode
	}
	return m
}
