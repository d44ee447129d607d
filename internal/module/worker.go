package module

import (
	"github.com/gxo-labs/statesync/internal/router"
	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

// WorkerSpec selects what a worker built by NewWorkerMain registers. Nil
// name lists mean every entry of the registry.
type WorkerSpec struct {
	Registry *StaticRegistry
	Stores   []string
	Managers []string
	Options  []v1.RouterOption
}

// NewWorkerMain returns a transport.WorkerMain that starts a router on its
// port, installs the selected stores and managers, and posts the manifest.
// Registration problems are logged; the worker still starts with whatever
// was accepted.
func NewWorkerMain(spec WorkerSpec, log synclog.Logger) transport.WorkerMain {
	if log == nil {
		panic("NewWorkerMain requires a non-nil logger")
	}
	reg := spec.Registry
	if reg == nil {
		reg = Default()
	}
	return func(port transport.WorkerPort) {
		r, err := router.New(port, log, spec.Options...)
		if err != nil {
			log.Errorf("Failed to create router: %v", err)
			_ = port.Close()
			return
		}
		if err := reg.Install(r, spec.Stores, spec.Managers); err != nil {
			log.Warnf("Worker started with registration errors: %v", err)
		}
		if err := r.Start(); err != nil {
			log.Errorf("Failed to start router: %v", err)
			_ = port.Close()
		}
	}
}
