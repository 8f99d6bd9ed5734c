package config

// Persistent state keys (Registry)
const (
	KeyServeStaleOnError = "cache_serve_stale_on_error"
	KeyCoalesceInflight  = "cache_coalesce_inflight"
	KeyPurgeAfter        = "cache_purge_after"
	KeyDefaultRadius     = "cache_default_radius"
	KeyMaxRadius         = "cache_max_radius"
	KeyLastPurge         = "maintenance_last_purge"
)
