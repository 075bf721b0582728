package config

// Cli holds process-level settings bound from flags/env/config-file via
// github.com/peterbourgon/ff/v3. These are distinct from the YAML-loaded
// ThumbnailConfig, which holds the settings spec.md §6 enumerates as the
// single configuration file's contents.
type Cli struct {
	HTTPAddress         string
	WorkerHealthAddress string
	RedisHost           string
	RedisPort           int
	ConfigPath          string
	Debug               bool
	PprofPort           int
}
