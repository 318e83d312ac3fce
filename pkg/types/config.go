package types

import (
	"errors"
	"time"
)

// Config holds the cache root and tuning parameters used by the store, cache,
// coordinators and refresher.
type Config struct {
	CacheDir string `json:"cache_dir" yaml:"cache_dir" mapstructure:"cache_dir"`

	// IndexSync selects when the index file is persisted: immediate,
	// on_close or batch. Empty means immediate.
	IndexSync     string `json:"index_sync,omitempty" yaml:"index_sync,omitempty" mapstructure:"index_sync"`
	BatchSize     int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty" mapstructure:"batch_size"`
	BatchInterval int    `json:"batch_interval,omitempty" yaml:"batch_interval,omitempty" mapstructure:"batch_interval"` // seconds

	// RefreshPolicy decides what a remote refresh does to pending local
	// edits: overwrite (default) or preserve.
	RefreshPolicy string `json:"refresh_policy,omitempty" yaml:"refresh_policy,omitempty" mapstructure:"refresh_policy"`

	MaxActiveTenants int `json:"max_active_tenants,omitempty" yaml:"max_active_tenants,omitempty" mapstructure:"max_active_tenants"`
	RefreshInterval  int `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty" mapstructure:"refresh_interval"` // seconds

	// Journal enables the commit/revert history database.
	Journal bool `json:"journal,omitempty" yaml:"journal,omitempty" mapstructure:"journal"`

	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" mapstructure:"log_level"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" mapstructure:"log_format"`
}

// Index sync strategies.
const (
	IndexSyncImmediate = "immediate"
	IndexSyncOnClose   = "on_close"
	IndexSyncBatch     = "batch"
)

// Refresh policies.
const (
	RefreshOverwrite = "overwrite"
	RefreshPreserve  = "preserve"
)

// Defaults applied by the Get accessors.
const (
	DefaultBatchSize       = 100
	DefaultBatchInterval   = 5   // seconds
	DefaultRefreshInterval = 300 // seconds
)

// Config validation errors.
var (
	ErrCacheDirEmpty          = errors.New("cache directory must not be empty")
	ErrIndexSyncUnknown       = errors.New("unknown index sync strategy")
	ErrRefreshPolicyUnknown   = errors.New("unknown refresh policy")
	ErrBatchSizeInvalid       = errors.New("batch size must be positive")
	ErrBatchIntervalInvalid   = errors.New("batch interval must be positive")
	ErrMaxActiveInvalid       = errors.New("max active tenants must not be negative")
	ErrRefreshIntervalInvalid = errors.New("refresh interval must not be negative")
)

var knownIndexSync = map[string]bool{
	"":                 true,
	IndexSyncImmediate: true,
	IndexSyncOnClose:   true,
	IndexSyncBatch:     true,
}

var knownRefreshPolicies = map[string]bool{
	"":               true,
	RefreshOverwrite: true,
	RefreshPreserve:  true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure. Zero values for optional fields are valid and
// resolve to defaults through the Get accessors.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return ErrCacheDirEmpty
	}
	if !knownIndexSync[c.IndexSync] {
		return ErrIndexSyncUnknown
	}
	if !knownRefreshPolicies[c.RefreshPolicy] {
		return ErrRefreshPolicyUnknown
	}
	if c.BatchSize < 0 {
		return ErrBatchSizeInvalid
	}
	if c.BatchInterval < 0 {
		return ErrBatchIntervalInvalid
	}
	if c.MaxActiveTenants < 0 {
		return ErrMaxActiveInvalid
	}
	if c.RefreshInterval < 0 {
		return ErrRefreshIntervalInvalid
	}
	return nil
}

// GetIndexSync returns the effective index sync strategy.
func (c Config) GetIndexSync() string {
	if c.IndexSync == "" {
		return IndexSyncImmediate
	}
	return c.IndexSync
}

// GetBatchSize returns the number of writes between batch flushes.
func (c Config) GetBatchSize() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

// GetBatchInterval returns the time between batch flushes.
func (c Config) GetBatchInterval() time.Duration {
	if c.BatchInterval <= 0 {
		return DefaultBatchInterval * time.Second
	}
	return time.Duration(c.BatchInterval) * time.Second
}

// GetRefreshPolicy returns the effective refresh policy.
func (c Config) GetRefreshPolicy() string {
	if c.RefreshPolicy == "" {
		return RefreshOverwrite
	}
	return c.RefreshPolicy
}

// GetMaxActiveTenants returns the active sync cap.
func (c Config) GetMaxActiveTenants() int {
	if c.MaxActiveTenants <= 0 {
		return DefaultMaxActiveTenants
	}
	return c.MaxActiveTenants
}

// GetRefreshInterval returns the background refresh period.
func (c Config) GetRefreshInterval() time.Duration {
	if c.RefreshInterval <= 0 {
		return DefaultRefreshInterval * time.Second
	}
	return time.Duration(c.RefreshInterval) * time.Second
}
