package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/paramstream/envelope"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/health"
	"github.com/c360/paramstream/metric"
	"github.com/c360/paramstream/pkg/worker"
)

// Stream is one subscription to a sample source
type Stream interface {
	Samples() <-chan envelope.Sample
	Unsubscribe()
}

// SampleSource provides the merged sample stream
type SampleSource interface {
	Subscribe(buffer int) Stream
}

// SourceFunc adapts a function to SampleSource
type SourceFunc func(buffer int) Stream

// Subscribe implements SampleSource
func (f SourceFunc) Subscribe(buffer int) Stream {
	return f(buffer)
}

// ParameterWriter writes a value back to the feed
type ParameterWriter interface {
	WriteParameter(name string, value any) error
}

// task is one sample routed to one definition's lane.
type task struct {
	state *eventState
	label string
	value string
}

// Engine holds definitions and their states, evaluates them against the
// sample stream and publishes emitted events.
type Engine struct {
	source SampleSource
	writer ParameterWriter

	logger        *slog.Logger
	registry      *metric.MetricsRegistry
	metrics       *engineMetrics
	errorHandler  ErrorHandler
	sinks         []Sink
	clock         func() time.Time
	laneQueueSize int
	sampleBuffer  int
	sinkWorkers   int
	debug         atomic.Bool

	defsMu sync.RWMutex
	order  []string
	states map[string]*eventState

	bus *eventBus

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	sinkCancel  context.CancelFunc
	stream      Stream
	wg          sync.WaitGroup
	startTime   time.Time

	// read by the dispatcher and lanes without lifecycleMu
	lanes    atomic.Pointer[worker.Lanes[task]]
	sinkPool atomic.Pointer[worker.Pool[sinkJob]]

	errorCount atomic.Int64
	processed  atomic.Int64
}

// New creates an engine reading from source. writer may be nil when no
// definition uses SetParam; write-backs then fail with ErrUnsupportedOperation.
func New(source SampleSource, writer ParameterWriter, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "sample source is required")
	}

	e := &Engine{
		source:        source,
		writer:        writer,
		clock:         time.Now,
		laneQueueSize: DefaultLaneQueueSize,
		sampleBuffer:  DefaultSampleBuffer,
		sinkWorkers:   DefaultSinkWorkers,
		states:        make(map[string]*eventState),
		bus:           newEventBus(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "engine")
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.laneQueueSize <= 0 {
		e.laneQueueSize = DefaultLaneQueueSize
	}
	if e.sampleBuffer < 0 {
		e.sampleBuffer = DefaultSampleBuffer
	}
	if e.sinkWorkers <= 0 {
		e.sinkWorkers = DefaultSinkWorkers
	}
	if e.errorHandler == nil {
		e.errorHandler = func(err *EvaluationError) {
			e.logger.Error("Evaluation failed",
				"definition", err.Definition, "stage", err.Stage, "error", err.Err)
		}
	}

	metrics, err := newEngineMetrics(e.registry)
	if err != nil {
		e.logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil
	}
	e.metrics = metrics

	return e, nil
}

// AddDefinition adds def with a fresh state. Adding a name that already
// exists is a no-op.
func (e *Engine) AddDefinition(def Definition) error {
	return e.AddDefinitions([]Definition{def})
}

// AddDefinitions validates every definition first and then adds them in one
// pass. Names already present, including repeats within defs, are skipped.
func (e *Engine) AddDefinitions(defs []Definition) error {
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
	}

	e.defsMu.Lock()
	defer e.defsMu.Unlock()

	for _, def := range defs {
		if _, exists := e.states[def.Name]; exists {
			continue
		}
		e.states[def.Name] = newEventState(cloneDefinition(def))
		e.order = append(e.order, def.Name)
		e.logger.Debug("Definition added", "definition", def.Name, "params", def.Params)
	}
	e.metrics.setDefinitions(len(e.order))
	return nil
}

// RemoveDefinition removes the definition and discards its state and any
// queued evaluations. Unknown names are ignored.
func (e *Engine) RemoveDefinition(name string) {
	e.defsMu.Lock()
	st, ok := e.states[name]
	if ok {
		delete(e.states, name)
		for i, n := range e.order {
			if n == name {
				e.order = append(e.order[:i:i], e.order[i+1:]...)
				break
			}
		}
		e.metrics.setDefinitions(len(e.order))
	}
	e.defsMu.Unlock()

	if !ok {
		return
	}
	st.removed.Store(true)

	if lanes := e.lanes.Load(); lanes != nil {
		lanes.Close(name)
	}
	e.logger.Debug("Definition removed", "definition", name)
}

// Definitions returns definition names in insertion order
func (e *Engine) Definitions() []string {
	e.defsMu.RLock()
	defer e.defsMu.RUnlock()
	return append([]string(nil), e.order...)
}

// States returns a snapshot of every state in insertion order
func (e *Engine) States() []State {
	e.defsMu.RLock()
	states := make([]*eventState, 0, len(e.order))
	for _, name := range e.order {
		states = append(states, e.states[name])
	}
	e.defsMu.RUnlock()

	out := make([]State, 0, len(states))
	for _, st := range states {
		out = append(out, st.snapshot())
	}
	return out
}

// State returns a snapshot of one definition's state
func (e *Engine) State(name string) (State, bool) {
	e.defsMu.RLock()
	st, ok := e.states[name]
	e.defsMu.RUnlock()
	if !ok {
		return State{}, false
	}
	return st.snapshot(), true
}

// SetDebug toggles per-sample debug logging
func (e *Engine) SetDebug(debug bool) {
	e.debug.Store(debug)
}

// Subscribe returns a subscription to emitted events, starting the engine if
// it is not running.
func (e *Engine) Subscribe(buffer int) *EventSubscription {
	sub := e.bus.subscribe(buffer)
	if err := e.Start(context.Background()); err != nil {
		e.logger.Error("Failed to start engine on subscribe", "error", err)
	}
	return sub
}

// Start subscribes to the sample source. It is a no-op when already running.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	lanes := worker.NewLanes(e.laneQueueSize, e.process,
		worker.WithLaneMetrics[task](e.registry, "engine_lanes"))
	if err := lanes.Start(runCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "Engine", "Start", "start lanes")
	}

	// sinks drain their queue on Stop, so they outlive runCtx
	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	var sinkPool *worker.Pool[sinkJob]
	if len(e.sinks) > 0 {
		sinkPool = worker.NewPool(e.sinkWorkers, DefaultSinkQueueSize, e.publishToSink,
			worker.WithMetricsRegistry[sinkJob](e.registry, "engine_sinks"))
		if err := sinkPool.Start(sinkCtx); err != nil {
			cancel()
			sinkCancel()
			_ = lanes.Stop(time.Second)
			return errors.WrapFatal(err, "Engine", "Start", "start sink pool")
		}
	}

	stream := e.source.Subscribe(e.sampleBuffer)

	e.cancel = cancel
	e.sinkCancel = sinkCancel
	e.lanes.Store(lanes)
	e.sinkPool.Store(sinkPool)
	e.stream = stream
	e.running = true
	e.startTime = time.Now()

	e.wg.Add(1)
	go e.dispatch(runCtx, stream)

	e.logger.Info("Engine started", "definitions", len(e.Definitions()), "sinks", len(e.sinks))
	return nil
}

// Stop unsubscribes from the source and stops the lanes. It is safe to call
// when not running. Event subscriptions stay open across Stop and Start.
func (e *Engine) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	e.stream.Unsubscribe()
	e.cancel()

	doneCh := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(doneCh)
	}()

	var errs []error
	select {
	case <-doneCh:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("dispatcher shutdown timeout after %v", timeout))
	}
	if err := e.lanes.Load().Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if pool := e.sinkPool.Load(); pool != nil {
		if err := pool.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	e.sinkCancel()

	e.lanes.Store(nil)
	e.sinkPool.Store(nil)
	e.stream = nil

	if len(errs) > 0 {
		return errors.WrapTransient(fmt.Errorf("%v", errs), "Engine", "Stop", "wait for workers")
	}
	e.logger.Info("Engine stopped")
	return nil
}

// Running reports whether the engine is subscribed to its source
func (e *Engine) Running() bool {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	return e.running
}

// Flush waits until every evaluation queued before the call has finished
func (e *Engine) Flush(ctx context.Context) error {
	lanes := e.lanes.Load()
	if lanes == nil {
		return nil
	}
	return lanes.Flush(ctx)
}

// Process routes one sample to the lanes of every definition listening for
// its label, in definition insertion order. The dispatcher calls it for each
// sample from the source; callers may also inject samples directly.
func (e *Engine) Process(ctx context.Context, sample envelope.Sample) error {
	lanes := e.lanes.Load()
	if lanes == nil {
		return errors.WrapTransient(errors.ErrNotStarted, "Engine", "Process", "check running state")
	}

	if e.debug.Load() {
		e.logger.Debug("Sample", "label", sample.Label, "value", sample.Value,
			"id", sample.ID, "timestamp", sample.Timestamp, "channel", sample.Channel)
	}

	valid := envelope.IsValid(sample.Value)
	e.metrics.recordSample(valid)
	if !valid {
		return nil
	}

	e.defsMu.RLock()
	targets := make([]*eventState, 0, 4)
	for _, name := range e.order {
		if st := e.states[name]; st.def.listens(sample.Label) {
			targets = append(targets, st)
		}
	}
	e.defsMu.RUnlock()

	for _, st := range targets {
		err := lanes.Submit(ctx, st.def.Name, task{state: st, label: sample.Label, value: sample.Value})
		switch {
		case err == nil:
		case errors.Is(err, worker.ErrLaneClosed):
			// definition removed meanwhile
		default:
			return errors.Wrap(err, "Engine", "Process", "queue evaluation for "+st.def.Name)
		}
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, stream Stream) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-stream.Samples():
			if !ok {
				e.logger.Info("Sample stream closed")
				return
			}
			if err := e.Process(ctx, sample); err != nil && ctx.Err() == nil {
				e.logger.Warn("Failed to dispatch sample", "label", sample.Label, "error", err)
			}
		}
	}
}

// process runs on the definition's lane.
func (e *Engine) process(ctx context.Context, _ string, t task) error {
	st := t.state
	if st.removed.Load() {
		return nil
	}

	in, ready := st.fill(t.label, t.value)
	if !ready {
		return nil
	}

	start := time.Now()
	err := e.evaluate(ctx, st, in)
	e.processed.Add(1)
	if err == nil {
		e.metrics.recordEvaluation(st.def.Name, time.Since(start).Seconds())
	}
	return err
}

func (e *Engine) evaluate(ctx context.Context, st *eventState, in roundInput) error {
	def := st.def

	current, err := callSafe(func() (any, error) {
		return def.Calculate(ctx, Input{
			Previous:    in.previous,
			HasPrevious: in.hasPrevious,
			Params:      in.params,
			Outputs:     e.resolveOutputs(def.Outputs),
		})
	})
	if errors.Is(err, ErrSkip) {
		e.metrics.recordSkip(def.Name)
		return nil
	}
	if err != nil {
		return e.fail(def.Name, StageCalculate, err)
	}

	now := e.clock()
	round := Round{
		Previous:    in.previous,
		HasPrevious: in.hasPrevious,
		Current:     current,
	}
	if !in.lastUpdateAt.IsZero() {
		round.Elapsed = now.Sub(in.lastUpdateAt)
		round.HasElapsed = true
	}

	emit, err := callSafe(func() (bool, error) {
		return def.ShouldEmit(ctx, round)
	})
	if errors.Is(err, ErrSkip) {
		e.metrics.recordSkip(def.Name)
		return nil
	}
	if err != nil {
		return e.fail(def.Name, StageShouldEmit, err)
	}

	if st.removed.Load() {
		return nil
	}

	if emit {
		e.publish(ctx, EmittedEvent{
			ID:        uuid.NewString(),
			Name:      def.Name,
			Value:     current,
			Timestamp: now,
		})
	}

	if def.SetParam != "" {
		e.writeBack(ctx, def, round)
	}

	st.commit(current, now)
	return nil
}

// resolveOutputs reads the referenced states' latest results without
// triggering their evaluation.
func (e *Engine) resolveOutputs(names []string) []any {
	if len(names) == 0 {
		return nil
	}

	e.defsMu.RLock()
	refs := make([]*eventState, len(names))
	for i, name := range names {
		refs[i] = e.states[name]
	}
	e.defsMu.RUnlock()

	out := make([]any, len(names))
	for i, st := range refs {
		if st == nil {
			continue
		}
		if v, ok := st.latest(); ok {
			out[i] = v
		}
	}
	return out
}

func (e *Engine) publish(ctx context.Context, ev EmittedEvent) {
	e.metrics.recordEmit(ev.Name)
	e.bus.publish(ctx, ev)

	pool := e.sinkPool.Load()
	if pool == nil {
		return
	}
	for _, sink := range e.sinks {
		if err := pool.Submit(sinkJob{sink: sink, event: ev}); err != nil {
			e.metrics.recordSinkDropped()
			e.logger.Warn("Sink job dropped", "sink", sink.Name(), "event", ev.Name, "error", err)
		}
	}
}

func (e *Engine) writeBack(ctx context.Context, def Definition, round Round) {
	value := round.Current
	if def.ResolveSetParamValue != nil {
		resolved, err := callSafe(func() (any, error) {
			return def.ResolveSetParamValue(ctx, round)
		})
		if errors.Is(err, ErrSkip) {
			return
		}
		if err != nil {
			_ = e.fail(def.Name, StageResolveSetParam, err)
			return
		}
		value = resolved
	}

	if e.writer == nil {
		_ = e.fail(def.Name, StageWriteBack,
			errors.WrapInvalid(errors.ErrUnsupportedOperation, "Engine", "writeBack", "find parameter writer"))
		return
	}
	if err := e.writer.WriteParameter(def.SetParam, value); err != nil {
		_ = e.fail(def.Name, StageWriteBack, err)
		return
	}
	e.metrics.recordWriteBack()
}

func (e *Engine) fail(definition string, stage Stage, err error) error {
	evalErr := &EvaluationError{Definition: definition, Stage: stage, Err: err}
	e.errorCount.Add(1)
	e.metrics.recordError(definition, stage)
	e.errorHandler(evalErr)
	return evalErr
}

// callSafe converts a callback panic into an error.
func callSafe[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Health reports whether the engine is running
func (e *Engine) Health() health.Status {
	e.lifecycleMu.Lock()
	running := e.running
	started := e.startTime
	e.lifecycleMu.Unlock()

	var status health.Status
	if running {
		status = health.NewHealthy("engine", fmt.Sprintf("%d definitions", len(e.Definitions())))
	} else {
		status = health.NewDegraded("engine", "not running")
	}

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return status.WithMetrics(&health.Metrics{
		Uptime:     uptime,
		ErrorCount: int(e.errorCount.Load()),
		Processed:  e.processed.Load(),
	})
}

func cloneDefinition(def Definition) Definition {
	def.Params = append([]string(nil), def.Params...)
	if def.Outputs != nil {
		def.Outputs = append([]string(nil), def.Outputs...)
	}
	return def
}
