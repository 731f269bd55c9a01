// Package health provides health reporting for paramstream components.
//
// Components expose a Status through a Checker. The Monitor aggregates them:
// a system is healthy when every component is, unhealthy when none is, and
// degraded otherwise. That matches ingestion, where one channel giving up
// leaves the other one running.
//
//	monitor := health.NewMonitor("paramstream")
//	monitor.Register("ingest", layer.Health)
//	monitor.Register("engine", eng.Health)
//	mux.Handle("/health", monitor)
//
// Messages passed to NewUnhealthy and NewDegraded are sanitized so that
// endpoints and credentials do not leak through the health endpoint.
package health
