package processors

import (
	"go.uber.org/zap"

	"github.com/wehubfusion/Gorilla/pkg/embedded/processors/orderedmerge"
	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime"
)

// NewProcessorRegistry creates and configures a new processor registry
// with all available processors registered.
func NewProcessorRegistry() runtime.EmbeddedNodeFactory {
	return NewProcessorRegistryWithLogger(nil)
}

// NewProcessorRegistryWithLogger is NewProcessorRegistry with processors
// logging through logger.
func NewProcessorRegistryWithLogger(logger *zap.Logger) runtime.EmbeddedNodeFactory {
	factory := runtime.NewDefaultNodeFactory()

	factory.Register(orderedmerge.PluginType, orderedmerge.NewCreator(logger))

	return factory
}
