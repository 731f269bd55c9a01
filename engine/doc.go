// Package engine turns the merged sample stream into emitted events.
//
// # Overview
//
// The engine holds a set of Definitions. Each definition names an ordered
// list of parameter labels (slots), a Calculate function, a ShouldEmit
// predicate and optionally a parameter to write its result back to. Every
// live definition has one state: its slots, the previous result and the time
// of the last completed evaluation.
//
// # Evaluation
//
// For each sample whose value is not a reserved invalid marker ("NULL" or
// ""), every definition listing the sample's label receives a task on its own
// lane, in definition insertion order. The task writes the value into each
// matching slot and, once every slot is filled, evaluates:
//
//  1. Outputs are resolved to the referenced definitions' previous results.
//  2. Calculate runs. ErrSkip ends the round with no state change.
//  3. Elapsed time since the last evaluation is computed (absent on the first).
//  4. ShouldEmit runs; true publishes an EmittedEvent to subscribers and sinks.
//  5. With SetParam, the value (Current, or ResolveSetParamValue's result)
//     is written through the ParameterWriter. ErrSkip suppresses the write.
//  6. Previous and the last update time are committed.
//
// ShouldEmit is consulted on every round with full slots, whether or not the
// result changed.
//
// # Concurrency
//
// A single dispatcher reads the stream one sample at a time. Lanes
// (pkg/worker) run one definition's tasks strictly in order while different
// definitions evaluate concurrently, so emission order is FIFO per definition
// only. State locks are never held across user callbacks, which keeps cyclic
// Outputs references deadlock free. Output values are read from the other
// state as they stand, so a chained definition may observe a result one round
// old.
//
// # Errors
//
// Errors and panics from callbacks, and failed write-backs, are reported as
// *EvaluationError to the ErrorHandler (by default logged at error level). A
// failure in Calculate or ShouldEmit aborts the round without touching state.
//
// # Sinks
//
// Sinks receive every emitted event from a small worker pool so a slow or
// failing sink never stalls evaluation. Failures are logged and counted in
// paramstream_engine_sink_errors_total.
//
// # Usage
//
//	eng, err := engine.New(
//	    engine.SourceFunc(func(n int) engine.Stream { return layer.Subscribe(n) }),
//	    layer,
//	    engine.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	err = eng.AddDefinition(engine.Definition{
//	    Name:   "SHOCK_EVENT",
//	    Params: []string{"Acc_mag"},
//	    Calculate: func(_ context.Context, in engine.Input) (any, error) {
//	        return strconv.ParseFloat(in.Params[0], 64)
//	    },
//	    ShouldEmit: func(_ context.Context, r engine.Round) (bool, error) {
//	        return r.Current.(float64) > 1024, nil
//	    },
//	})
//	sub := eng.Subscribe(64) // starts the engine
//	for ev := range sub.Events() {
//	    fmt.Println(ev.Name, ev.Value)
//	}
package engine
