package transport

import (
	"fmt"
	"runtime/debug"
	"sync"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

// LocalSpawner runs registered worker mains on goroutines, connected to the
// caller by a Pipe. Paths are registered up front, much like a table of
// worker scripts.
type LocalSpawner struct {
	opts PipeOptions
	log  synclog.Logger

	mu      sync.RWMutex
	workers map[string]transport.WorkerMain
}

// NewLocalSpawner creates a spawner whose pipes use opts. Panics if opts.Log is nil.
func NewLocalSpawner(opts PipeOptions) *LocalSpawner {
	if opts.Log == nil {
		panic("LocalSpawner requires a non-nil logger")
	}
	return &LocalSpawner{
		opts:    opts,
		log:     opts.Log.With("component", "LocalSpawner"),
		workers: make(map[string]transport.WorkerMain),
	}
}

// Register associates path with a worker main. Empty paths, nil mains and
// duplicate paths are rejected.
func (s *LocalSpawner) Register(path string, main transport.WorkerMain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		return syncerrors.NewConfigError("worker registration error: path cannot be empty", nil)
	}
	if main == nil {
		return syncerrors.NewConfigError(fmt.Sprintf("worker registration error for '%s': main cannot be nil", path), nil)
	}
	if _, exists := s.workers[path]; exists {
		return syncerrors.NewConfigError(fmt.Sprintf("worker registration error: duplicate path '%s'", path), nil)
	}
	s.workers[path] = main
	return nil
}

// Spawn starts the worker registered at path and returns the observer's port.
func (s *LocalSpawner) Spawn(path string) (transport.ClientPort, error) {
	s.mu.RLock()
	main, exists := s.workers[path]
	s.mu.RUnlock()
	if !exists {
		return nil, syncerrors.NewTransportError("spawn", fmt.Errorf("no worker registered at '%s'", path))
	}

	opts := s.opts
	opts.Name = path
	workerPort, clientPort := Pipe(opts)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("Worker '%s' panicked during startup: %v\n%s", path, r, debug.Stack())
				_ = workerPort.Close()
			}
		}()
		main(workerPort)
	}()

	s.log.Debugf("Spawned worker '%s'", path)
	return clientPort, nil
}

var _ transport.Spawner = (*LocalSpawner)(nil)
