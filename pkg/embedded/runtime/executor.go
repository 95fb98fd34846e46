package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Executor creates and runs embedded nodes one invocation at a time, adding
// timeouts, logging and metrics around the plugin's Process call. It is safe
// for concurrent use.
type Executor struct {
	factory EmbeddedNodeFactory
	config  ProcessorConfig
	logger  Logger
	metrics MetricsCollector
}

// NewExecutor creates an executor over factory.
func NewExecutor(factory EmbeddedNodeFactory, config ProcessorConfig) *Executor {
	config.Validate()

	logger := config.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	var metrics MetricsCollector = &NoOpMetricsCollector{}
	if config.EnableMetrics {
		metrics = NewMetricsCollector(config.Workers)
	}

	return &Executor{
		factory: factory,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Execute creates the node described by node and runs it once over data.
// Failures are returned in ProcessOutput.Error as *ProcessingError.
func (e *Executor) Execute(ctx context.Context, node EmbeddedNodeConfig, data map[string]interface{}) ProcessOutput {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		e.metrics.RecordError()
		return ErrorOutput(NewProcessingError(node.NodeId, node.Label, node.PluginType, -1, "start",
			fmt.Errorf("%w: %v", ErrContextCancelled, err)))
	}

	n, err := e.factory.Create(node)
	if err != nil {
		e.metrics.RecordError()
		e.logger.Error("failed to create node",
			Field{Key: "node_id", Value: node.NodeId},
			Field{Key: "plugin_type", Value: node.PluginType},
			Field{Key: "error", Value: err})
		return ErrorOutput(NewProcessingError(node.NodeId, node.Label, node.PluginType, -1, "create", err))
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	input := ProcessInput{
		Ctx:        ctx,
		Data:       data,
		Config:     configMap(node.NodeConfig.Config),
		RawConfig:  node.NodeConfig.Config,
		NodeId:     node.NodeId,
		PluginType: node.PluginType,
		Label:      node.Label,
	}

	done := make(chan ProcessOutput, 1)
	go func() {
		done <- n.Process(input)
	}()

	var out ProcessOutput
	select {
	case out = <-done:
	case <-ctx.Done():
		out = ErrorOutput(NewProcessingError(node.NodeId, node.Label, node.PluginType, -1, "process", ctx.Err()))
	}

	for i := 0; i < out.SkippedInputs; i++ {
		e.metrics.RecordSkipped()
	}

	if out.Error != nil {
		e.metrics.RecordError()
		e.logger.Error("node processing failed",
			Field{Key: "node_id", Value: node.NodeId},
			Field{Key: "plugin_type", Value: node.PluginType},
			Field{Key: "error", Value: out.Error})
		return out
	}

	e.metrics.RecordProcessed(time.Since(start).Nanoseconds(), out.ItemCount)
	e.logger.Debug("node processed",
		Field{Key: "node_id", Value: node.NodeId},
		Field{Key: "items", Value: out.ItemCount},
		Field{Key: "duration", Value: time.Since(start).String()})
	return out
}

// Metrics returns the executor's metrics snapshot.
func (e *Executor) Metrics() Metrics {
	return e.metrics.GetMetrics()
}

func configMap(raw json.RawMessage) map[string]interface{} {
	base := NewBaseNode(EmbeddedNodeConfig{NodeConfig: NodeConfig{Config: raw}})
	return base.config
}
