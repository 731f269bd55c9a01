// Package config loads the paramstream service configuration.
//
// Configuration starts from Default, then JSON file layers are merged in
// order with last-wins semantics, then PARAMSTREAM_* environment variables
// are applied:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/production.json") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// Layers only override the keys they contain, so a layer can set a single
// field deep in a section:
//
//	{"ingest": {"host": "feed.local:8080", "primary": {"group": "g1"}}}
//
// Duration fields accept Go duration strings ("250ms", "5s") or a day count
// ("14d") as well as integer nanoseconds.
//
// # Environment Overrides
//
//	PARAMSTREAM_LOG_LEVEL, PARAMSTREAM_LOG_FORMAT
//	PARAMSTREAM_INGEST_HOST
//	PARAMSTREAM_INGEST_PRIMARY_GROUP, PARAMSTREAM_INGEST_SECONDARY_GROUP
//	PARAMSTREAM_CATALOG_FILES   comma-separated
//	PARAMSTREAM_NATS_URLS       comma-separated, also enables NATS
//	PARAMSTREAM_NATS_USERNAME, PARAMSTREAM_NATS_PASSWORD, PARAMSTREAM_NATS_TOKEN
//	PARAMSTREAM_METRICS_PORT
//
// # Security
//
// Config files are limited to 10MB and 100 levels of JSON nesting, must be
// regular .json files, and relative paths may not resolve outside the
// working directory.
package config
