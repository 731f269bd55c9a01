package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/envelope"
	"github.com/c360/paramstream/metric"
)

type fakeStore struct {
	mu      sync.Mutex
	defs    map[string]engine.Definition
	added   []string
	removed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{defs: make(map[string]engine.Definition)}
}

func (s *fakeStore) AddDefinitions(defs []engine.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range defs {
		if _, ok := s.defs[d.Name]; ok {
			continue
		}
		s.defs[d.Name] = d
		s.added = append(s.added, d.Name)
	}
	return nil
}

func (s *fakeStore) RemoveDefinition(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[name]; ok {
		delete(s.defs, name)
		s.removed = append(s.removed, name)
	}
}

func (s *fakeStore) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[name]
	return ok
}

func (s *fakeStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = nil
	s.removed = nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

const baseCatalog = `
definitions:
  - name: A
    params: [p1, p2]
    calculate: sum
    emit: {operator: gt, value: 10}
  - name: B
    params: [q]
    outputs: [A]
    calculate: last
`

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, []string{"a.yaml"})
	assert.Error(t, err)

	_, err = New(newFakeStore(), nil)
	assert.Error(t, err)

	_, err = New(newFakeStore(), []string{"a.ini"})
	assert.Error(t, err)
}

func TestLoad_AppliesDiff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.yaml")
	writeFile(t, path, baseCatalog)

	store := newFakeStore()
	registry := metric.NewMetricsRegistry()
	c, err := New(store, []string{path}, WithMetrics(registry))
	require.NoError(t, err)

	change, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, change.Added)
	assert.Equal(t, []string{"A", "B"}, c.Definitions())
	assert.True(t, store.has("A"))
	assert.True(t, store.has("B"))

	t.Run("unchanged files change nothing", func(t *testing.T) {
		store.reset()
		change, err := c.Load()
		require.NoError(t, err)
		assert.True(t, change.Empty())
		assert.Equal(t, []string{"A", "B"}, change.Unchanged)
		assert.Empty(t, store.added)
		assert.Empty(t, store.removed)
	})

	t.Run("changed definition is replaced and removed one dropped", func(t *testing.T) {
		store.reset()
		writeFile(t, path, `
definitions:
  - name: A
    params: [p1, p2]
    calculate: sum
    emit: {operator: gt, value: 20}
  - name: C
    params: [r]
    calculate: count
`)
		change, err := c.Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"C"}, change.Added)
		assert.Equal(t, []string{"A"}, change.Updated)
		assert.Equal(t, []string{"B"}, change.Removed)
		assert.ElementsMatch(t, []string{"A", "B"}, store.removed)
		assert.ElementsMatch(t, []string{"A", "C"}, store.added)
		assert.Equal(t, []string{"A", "C"}, c.Definitions())
	})

	t.Run("disabling a definition removes it", func(t *testing.T) {
		store.reset()
		writeFile(t, path, `
definitions:
  - name: A
    params: [p1, p2]
    calculate: sum
    emit: {operator: gt, value: 20}
  - name: C
    params: [r]
    calculate: count
    enabled: false
`)
		change, err := c.Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"C"}, change.Removed)
		assert.False(t, store.has("C"))
	})

	t.Run("invalid file leaves the store untouched", func(t *testing.T) {
		store.reset()
		writeFile(t, path, `definitions: [{name: A, params: [p], calculate: median}]`)
		_, err := c.Load()
		require.Error(t, err)
		assert.Empty(t, store.added)
		assert.Empty(t, store.removed)
		assert.Equal(t, []string{"A"}, c.Definitions())
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(c.metrics.reloads))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.reloadErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.definitions))
}

func TestLoad_MultipleFiles(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "a.yaml")
	jsonPath := filepath.Join(dir, "b.json")
	tomlPath := filepath.Join(dir, "c.toml")
	writeFile(t, yamlPath, `[{name: A, params: [p], calculate: sum}]`)
	writeFile(t, jsonPath, `{"definitions":[{"name":"B","params":["q"],"calculate":"max"}]}`)
	writeFile(t, tomlPath, "[[definitions]]\nname = \"C\"\nparams = [\"r\"]\ncalculate = \"min\"\n")

	store := newFakeStore()
	c, err := New(store, []string{yamlPath, jsonPath, tomlPath})
	require.NoError(t, err)

	_, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, c.Definitions())

	t.Run("duplicate names across files", func(t *testing.T) {
		writeFile(t, jsonPath, `[{"name":"A","params":["q"],"calculate":"max"}]`)
		_, err := c.Load()
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		require.NoError(t, os.Remove(tomlPath))
		_, err := c.Load()
		assert.Error(t, err)
	})
}

// stubStream never delivers; tests inject samples with Process.
type stubStream struct{ ch chan envelope.Sample }

func (s stubStream) Samples() <-chan envelope.Sample { return s.ch }
func (s stubStream) Unsubscribe()                    {}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.SourceFunc(func(int) engine.Stream {
		return stubStream{ch: make(chan envelope.Sample)}
	}), nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(time.Second) })
	return e
}

func feed(t *testing.T, e *engine.Engine, pairs ...string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < len(pairs); i += 2 {
		require.NoError(t, e.Process(ctx, envelope.Sample{Label: pairs[i], Value: pairs[i+1]}))
	}
	require.NoError(t, e.Flush(ctx))
}

func TestLoad_IntoEngine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.yaml")
	writeFile(t, path, baseCatalog)

	e := newEngine(t)
	c, err := New(e, []string{path})
	require.NoError(t, err)
	_, err = c.Load()
	require.NoError(t, err)

	sub := e.Subscribe(8)
	feed(t, e, "p1", "5", "p2", "6")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "A", ev.Name)
		assert.Equal(t, 11.0, ev.Value)
	default:
		t.Fatal("expected an event for A")
	}

	feed(t, e, "q", "1")
	b, ok := e.State("B")
	require.True(t, ok)
	assert.Equal(t, 11.0, b.Previous, "B's last operand is A's result")

	t.Run("unchanged reload keeps state", func(t *testing.T) {
		_, err := c.Load()
		require.NoError(t, err)
		st, _ := e.State("A")
		assert.Equal(t, 11.0, st.Previous)
	})

	t.Run("changed reload resets state", func(t *testing.T) {
		writeFile(t, path, `
definitions:
  - name: A
    params: [p1, p2]
    calculate: mean
`)
		_, err := c.Load()
		require.NoError(t, err)
		st, ok := e.State("A")
		require.True(t, ok)
		assert.False(t, st.HasPrevious)
		_, ok = e.State("B")
		assert.False(t, ok)
	})
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.yaml")
	writeFile(t, path, baseCatalog)

	store := newFakeStore()
	c, err := New(store, []string{path}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	_, err = c.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	// unrelated files in the directory are ignored
	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")

	require.Eventually(t, func() bool {
		writeFile(t, path, baseCatalog+`
  - name: D
    params: [s]
    calculate: first
`)
		return store.has("D")
	}, 5*time.Second, 100*time.Millisecond)

	t.Run("broken edit keeps previous definitions", func(t *testing.T) {
		writeFile(t, path, "definitions: [")
		time.Sleep(200 * time.Millisecond)
		assert.True(t, store.has("D"))
		assert.Equal(t, []string{"A", "B", "D"}, c.Definitions())
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
