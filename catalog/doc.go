// Package catalog loads engine definitions from declarative files.
//
// A catalog file is YAML, JSON or TOML. Keys are converted to snake_case
// before validation, so setParam and set_param are the same field:
//
//	definitions:
//	  - name: HULL_TEMP_HIGH
//	    params: [Temp_fwd, Temp_aft]
//	    calculate: max
//	    emit:
//	      operator: gt
//	      value: 85
//	      minInterval: 30s
//	  - name: HULL_TEMP_ALARM
//	    params: [Alarm_ack]
//	    outputs: [HULL_TEMP_HIGH]
//	    calculate: last
//	    setParam: Hull_temp_alarm
//	    setParamOnChangeOnly: true
//
// Documents are checked against an embedded JSON schema, then compiled:
// calculate picks a decimal reduction over the slot values plus any non-nil
// output results (count instead counts completed rounds), and emit picks the
// ShouldEmit predicate. Comparison operators need a value; changed, the
// default, emits on the first round and whenever the result differs from the
// previous one.
//
// Catalog.Load applies a set of files to a Store (normally the engine) as a
// diff. Unchanged definitions keep their state. Catalog.Watch repeats the
// load whenever a file changes; a load that fails anywhere is rejected whole.
package catalog
