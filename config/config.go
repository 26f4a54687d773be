// Package config holds the configuration surface recognized by the
// region store client (spec §6): scan batch size and per-RPC timeout.
// There is no CLI, environment variable, or persisted-state binding at
// this layer, by design.
package config

import "time"

// DefaultScanBatchSize is used when a Scan/RawScan call omits a limit.
const DefaultScanBatchSize = 256

// DefaultRegionCacheTTL bounds how long a cached Region is trusted
// before the Region Manager re-validates it against the backing
// placement driver.
const DefaultRegionCacheTTL = 10 * time.Minute

// DefaultTimeout is the default per-RPC deadline applied by the
// Channel Factory's stub wrapper (spec §4.3 "Deadlines").
const DefaultTimeout = 20 * time.Second

// Config is the configuration recognized by this module.
type Config struct {
	// ScanBatchSize is the configured default row limit for a scan.
	// Scan and RawScan do not read it: given a zero limit, they fall
	// back to DefaultScanBatchSize.
	ScanBatchSize int
	// RegionCacheTTL is how long a cached Region/Store pair is trusted
	// without re-validation.
	RegionCacheTTL time.Duration
	// Timeout is the per-RPC deadline; it bounds one attempt, not an
	// entire retry loop (the Backoffer's budget governs the latter).
	Timeout time.Duration
}

// Default returns a Config with the module's documented defaults.
func Default() Config {
	return Config{
		ScanBatchSize:  DefaultScanBatchSize,
		RegionCacheTTL: DefaultRegionCacheTTL,
		Timeout:        DefaultTimeout,
	}
}
