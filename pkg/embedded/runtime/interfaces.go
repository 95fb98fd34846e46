// Package runtime provides the core types and interfaces for embedded node
// processing: plugins, the factory that creates them, and the executor that
// runs one node invocation with logging and metrics.
package runtime

import "github.com/wehubfusion/Gorilla/pkg/embedded/runtime/logging"

// EmbeddedNode is the interface that all embedded node processors must implement.
// Each processor handles a specific plugin type and implements its own logic.
type EmbeddedNode interface {
	// Process executes the node's logic and returns the result.
	Process(input ProcessInput) ProcessOutput

	// NodeId returns the unique identifier of this node instance.
	NodeId() string

	// PluginType returns the type of plugin this node represents.
	PluginType() string
}

// EmbeddedNodeFactory creates embedded nodes from configuration.
type EmbeddedNodeFactory interface {
	// Create creates an embedded node from its configuration.
	// Returns an error if the plugin type is not registered or creation fails.
	Create(config EmbeddedNodeConfig) (EmbeddedNode, error)

	// Register registers a creator function for a plugin type.
	Register(pluginType string, creator NodeCreator)

	// HasCreator checks if a creator exists for a plugin type.
	HasCreator(pluginType string) bool

	// RegisteredTypes returns all registered plugin types.
	RegisteredTypes() []string
}

// NodeCreator is a function that creates an embedded node from configuration.
type NodeCreator func(config EmbeddedNodeConfig) (EmbeddedNode, error)

// Logger is the structured logging facade nodes log through.
type Logger = logging.Logger

// Field is a key-value pair for structured logging.
type Field = logging.Field

// NoOpLogger discards everything.
type NoOpLogger = logging.NoOpLogger

// Metrics holds processing metrics for observability.
type Metrics struct {
	// TotalProcessed is the count of successful merges
	TotalProcessed int64
	// TotalErrors is the count of failed merges
	TotalErrors int64
	// TotalSkipped is the count of slots skipped because they had no readable tree
	TotalSkipped int64
	// TotalItems is the count of items written to merged outputs
	TotalItems int64
	// ProcessingTimeNs is the total processing time in nanoseconds
	ProcessingTimeNs int64
	// ConcurrentWorkers is the number of workers used
	ConcurrentWorkers int
}

// MetricsCollector collects processing metrics.
type MetricsCollector interface {
	// RecordProcessed records a successful merge and how many items it produced
	RecordProcessed(durationNs int64, items int)
	// RecordError records a failed merge
	RecordError()
	// RecordSkipped records a skipped slot
	RecordSkipped()
	// GetMetrics returns the current metrics
	GetMetrics() Metrics
	// Reset resets all metrics
	Reset()
}
