package runtime

import "time"

// DefaultProcessTimeout bounds a single node invocation.
const DefaultProcessTimeout = 30 * time.Second

// ProcessorConfig configures the Executor.
type ProcessorConfig struct {
	// EnableMetrics enables metrics collection
	EnableMetrics bool

	// Logger for structured logging (nil for no logging)
	Logger Logger

	// Timeout bounds one Process call. Default: DefaultProcessTimeout
	Timeout time.Duration

	// Workers is reported in metrics; the executor itself is synchronous
	Workers int
}

// DefaultProcessorConfig returns sensible defaults for the processor.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		EnableMetrics: true,
		Logger:        nil, // No logging by default
		Timeout:       DefaultProcessTimeout,
		Workers:       1,
	}
}

// Validate validates the configuration and applies defaults.
func (c *ProcessorConfig) Validate() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultProcessTimeout
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// WithMetrics sets whether to enable metrics.
func (c ProcessorConfig) WithMetrics(enable bool) ProcessorConfig {
	c.EnableMetrics = enable
	return c
}

// WithLogger sets the logger.
func (c ProcessorConfig) WithLogger(logger Logger) ProcessorConfig {
	c.Logger = logger
	return c
}

// WithTimeout sets the per-invocation timeout.
func (c ProcessorConfig) WithTimeout(d time.Duration) ProcessorConfig {
	c.Timeout = d
	return c
}

// WithWorkers sets the worker count reported in metrics.
func (c ProcessorConfig) WithWorkers(n int) ProcessorConfig {
	c.Workers = n
	return c
}
