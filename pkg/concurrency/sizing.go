package concurrency

import (
	"fmt"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// Host describes the CPU budget the process runs under.
type Host struct {
	CPUs       int
	Kubernetes bool
}

// DetectHost reads GOMAXPROCS and the Kubernetes service variable through
// getenv. Call SetMaxProcs first so GOMAXPROCS reflects the cgroup quota.
func DetectHost(getenv func(string) string) Host {
	return Host{
		CPUs:       runtime.GOMAXPROCS(0),
		Kubernetes: getenv("KUBERNETES_SERVICE_HOST") != "",
	}
}

// Workers is the default merge worker count. Merging is CPU bound, so
// inside a container it stays at the quota.
func (h Host) Workers() int {
	if h.Kubernetes {
		return max(h.CPUs, 2)
	}
	return max(h.CPUs*2, 4)
}

// BatchSize is the default number of requests fetched per pull.
func (h Host) BatchSize() int {
	return max(h.Workers()*2, 10)
}

func (h Host) String() string {
	return fmt.Sprintf("Host{CPUs: %d, Kubernetes: %t}", h.CPUs, h.Kubernetes)
}

// SetMaxProcs matches GOMAXPROCS to the container CPU quota and returns
// the undo function. Failures are logged and leave GOMAXPROCS alone.
func SetMaxProcs(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf))
	if err != nil {
		logger.Warn("Failed to set GOMAXPROCS from cgroup quota", zap.Error(err))
		return func() {}
	}
	logger.Info("GOMAXPROCS configured", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}
