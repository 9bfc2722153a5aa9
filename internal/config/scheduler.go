package config

// SchedulerConfig configures the interval driver that calls
// internal/scheduler.Scheduler's job-kind handlers (spec.md §4.7): the
// Scheduler itself is interval-agnostic (it runs whichever JobKind it's
// told to, with retry/backoff), so the actual cadence lives here and is
// exposed through Config's Get*Interval accessors. cmd/acmsd's
// `run-scheduler` command does not read it: each invocation runs one job
// kind, or the nightly sequence, once.
type SchedulerConfig struct {
	// ConsolidationInterval drives JobRecomputeEvaluateConsolidate.
	ConsolidationInterval string `yaml:"consolidation_interval"`
	// KeyRotationInterval drives JobKeyRotation.
	KeyRotationInterval string `yaml:"key_rotation_interval"`
	// ArchivePurgeInterval drives JobArchivePurge.
	ArchivePurgeInterval string `yaml:"archive_purge_interval"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ConsolidationInterval: "1h",
		KeyRotationInterval:   "168h", // weekly
		ArchivePurgeInterval:  "24h",
	}
}
