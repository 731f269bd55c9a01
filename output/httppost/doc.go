// Package httppost provides an engine sink that posts emitted events to an
// HTTP endpoint.
//
// Each event is sent as one JSON request body. Network errors, 5xx and 429
// responses are retried with exponential backoff up to RetryCount times.
// Other 4xx responses fail immediately. Outbound TLS is configured through
// tlsutil.ClientConfig and supports extra CA files and client certificates.
//
// # Usage
//
//	cfg := httppost.DefaultConfig()
//	cfg.URL = "https://hooks.example.com/paramstream"
//	cfg.Headers["Authorization"] = "Bearer " + token
//
//	sink, err := httppost.New(cfg, httppost.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	eng, err := engine.New(source, engine.WithSinks(sink))
package httppost
