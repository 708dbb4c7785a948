package kinetics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrSimulatorExists   = errors.New("simulator already registered")
	ErrSimulatorNotFound = errors.New("simulator not found")
)

type SimulatorFactory func() Simulator

var simulatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]SimulatorFactory
}{
	m: map[string]SimulatorFactory{
		EngineName: func() Simulator { return NewEngine() },
	},
}

// RegisterSimulator makes a simulator backend selectable by name.
func RegisterSimulator(name string, factory SimulatorFactory) error {
	if name == "" {
		return errors.New("simulator name is required")
	}
	if factory == nil {
		return errors.New("simulator factory is required")
	}

	simulatorRegistry.mu.Lock()
	defer simulatorRegistry.mu.Unlock()

	if _, exists := simulatorRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrSimulatorExists, name)
	}
	simulatorRegistry.m[name] = factory
	return nil
}

func ResolveSimulator(name string) (Simulator, error) {
	simulatorRegistry.mu.RLock()
	factory, ok := simulatorRegistry.m[name]
	simulatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSimulatorNotFound, name)
	}
	return factory(), nil
}

func ListSimulators() []string {
	simulatorRegistry.mu.RLock()
	defer simulatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(simulatorRegistry.m))
	for n := range simulatorRegistry.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
