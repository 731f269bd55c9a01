package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Checker reports the current status of one component
type Checker func() Status

// Monitor aggregates the health of registered components
type Monitor struct {
	name     string
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewMonitor creates a monitor that reports under the given system name
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:     name,
		checkers: make(map[string]Checker),
	}
}

// Register adds or replaces the checker for a component
func (m *Monitor) Register(component string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[component] = check
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, component)
}

// Check runs every checker and returns the aggregate, sub-statuses sorted by component.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]Checker, len(m.checkers))
	for k, v := range m.checkers {
		checkers[k] = v
	}
	m.mu.RUnlock()

	sort.Strings(names)
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		s := checkers[name]()
		s.Component = name
		subs = append(subs, s)
	}
	return Aggregate(m.name, subs)
}

// ServeHTTP writes the aggregate status as JSON. Unhealthy systems answer 503.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.Check()

	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}
