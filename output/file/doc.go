// Package file provides an engine sink that writes emitted events to a file.
//
// Events are encoded with their JSON form (timestamps in unix milliseconds)
// and appended one per line in "jsonl" format, or pretty-printed in "json"
// format. Writes are buffered: the buffer is flushed when it reaches
// BufferSize, on every FlushInterval, and on Stop.
//
// # Usage
//
//	cfg := file.DefaultConfig()
//	cfg.Directory = "/var/lib/paramstream"
//
//	sink, err := file.New(cfg, file.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := sink.Start(ctx); err != nil {
//	    return err
//	}
//	defer sink.Stop(5 * time.Second)
//
//	eng, err := engine.New(source, engine.WithSinks(sink))
package file
