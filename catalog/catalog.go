package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/metric"
)

// DefaultDebounce coalesces the burst of events an editor save produces
const DefaultDebounce = 200 * time.Millisecond

// Store receives compiled definitions. *engine.Engine implements it.
type Store interface {
	AddDefinitions(defs []engine.Definition) error
	RemoveDefinition(name string)
}

// Change summarises one applied load
type Change struct {
	Added     []string
	Updated   []string
	Removed   []string
	Unchanged []string
}

// Empty reports whether the load changed nothing
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Option configures a Catalog
type Option func(*Catalog)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// WithMetrics registers catalog metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Catalog) {
		c.metrics = newCatalogMetrics(registry)
	}
}

// WithDebounce sets how long Watch waits for events to settle
func WithDebounce(d time.Duration) Option {
	return func(c *Catalog) {
		c.debounce = d
	}
}

// Catalog keeps a Store in line with a set of definition files. Definitions
// whose spec is unchanged across loads keep their state; changed ones are
// removed and re-added, which resets them.
type Catalog struct {
	store    Store
	files    []string
	logger   *slog.Logger
	metrics  *catalogMetrics
	debounce time.Duration

	mu      sync.Mutex
	applied map[string]string // name -> spec fingerprint
	order   []string
}

// New creates a catalog over files. Nothing is loaded until Load or Watch.
func New(store Store, files []string, opts ...Option) (*Catalog, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Catalog", "New", "definition store is required")
	}
	if len(files) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: at least one catalog file is required", errors.ErrMissingConfig),
			"Catalog", "New", "check files")
	}
	for _, f := range files {
		if _, err := FormatFromPath(f); err != nil {
			return nil, err
		}
	}

	c := &Catalog{
		store:    store,
		files:    append([]string(nil), files...),
		debounce: DefaultDebounce,
		applied:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "catalog")
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	return c, nil
}

// Files returns the catalog's file paths
func (c *Catalog) Files() []string {
	return append([]string(nil), c.files...)
}

// Definitions returns the applied definition names in file order
func (c *Catalog) Definitions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// ReadFiles reads and parses every file in order
func ReadFiles(files []string) ([]Spec, error) {
	var all []Spec
	for _, path := range files {
		format, err := FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "Catalog", "ReadFiles", "read "+path)
		}
		specs, err := Parse(data, format)
		if err != nil {
			return nil, errors.Wrap(err, "Catalog", "ReadFiles", "parse "+path)
		}
		all = append(all, specs...)
	}
	return all, nil
}

// Load reads every file and applies the difference to the store. A file that
// fails to read, parse or compile rejects the whole load and leaves the store
// as it was.
func (c *Catalog) Load() (Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	specs, err := ReadFiles(c.files)
	if err != nil {
		c.metrics.recordReloadError()
		return Change{}, err
	}
	defs, err := CompileAll(specs)
	if err != nil {
		c.metrics.recordReloadError()
		return Change{}, err
	}

	fingerprints := make(map[string]string, len(defs))
	for _, spec := range specs {
		if !spec.IsEnabled() {
			continue
		}
		fp, err := fingerprint(spec)
		if err != nil {
			c.metrics.recordReloadError()
			return Change{}, err
		}
		fingerprints[spec.Name] = fp
	}

	var change Change
	for _, name := range c.order {
		fp, keep := fingerprints[name]
		switch {
		case !keep:
			change.Removed = append(change.Removed, name)
		case fp != c.applied[name]:
			change.Updated = append(change.Updated, name)
		}
	}

	var toAdd []engine.Definition
	for _, def := range defs {
		prev, existed := c.applied[def.Name]
		switch {
		case !existed:
			change.Added = append(change.Added, def.Name)
			toAdd = append(toAdd, def)
		case prev != fingerprints[def.Name]:
			toAdd = append(toAdd, def)
		default:
			change.Unchanged = append(change.Unchanged, def.Name)
		}
	}

	for _, name := range change.Removed {
		c.store.RemoveDefinition(name)
	}
	for _, name := range change.Updated {
		c.store.RemoveDefinition(name)
	}
	if err := c.store.AddDefinitions(toAdd); err != nil {
		c.metrics.recordReloadError()
		return change, errors.Wrap(err, "Catalog", "Load", "add definitions")
	}

	c.applied = fingerprints
	c.order = c.order[:0]
	for _, def := range defs {
		c.order = append(c.order, def.Name)
	}
	c.metrics.recordReload(len(defs))

	if !change.Empty() {
		c.logger.Info("Catalog applied",
			"added", change.Added, "updated", change.Updated,
			"removed", change.Removed, "unchanged", len(change.Unchanged))
	}
	return change, nil
}

// Watch reloads the catalog whenever one of its files is written, created,
// renamed or removed, until ctx is cancelled. Failed reloads are logged and
// the previous definitions stay active. Watch does not perform an initial
// Load.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapFatal(err, "Catalog", "Watch", "create watcher")
	}
	defer watcher.Close()

	// Directories are watched so atomic saves that replace the file are seen
	tracked := make(map[string]struct{}, len(c.files))
	dirs := make(map[string]struct{})
	for _, f := range c.files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return errors.WrapInvalid(err, "Catalog", "Watch", "resolve "+f)
		}
		tracked[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return errors.WrapFatal(err, "Catalog", "Watch", "watch "+dir)
		}
	}

	c.logger.Info("Watching catalog for changes", "files", c.files)

	timer := time.NewTimer(c.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ours := tracked[abs]; !ours {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			timer.Reset(c.debounce)

		case <-timer.C:
			if _, err := c.Load(); err != nil {
				c.logger.Error("Catalog reload failed, keeping previous definitions", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("Catalog watcher error", "error", err)
		}
	}
}

func fingerprint(spec Spec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", errors.Wrap(err, "Catalog", "fingerprint", "encode spec")
	}
	return string(data), nil
}
