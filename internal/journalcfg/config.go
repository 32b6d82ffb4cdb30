// Package journalcfg loads the small set of open-time tunables a journal
// needs — initial file size, fsync policy, and pooled-buffer sizing — the
// way FlashDB's internal/config package loads server configuration: a
// JSON file overlaid on sensible defaults.
package journalcfg

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flashdb/ntj/internal/journal"
)

// SyncPolicy controls when a journal writer calls Force (fsync).
type SyncPolicy string

const (
	// SyncAlways forces after every Write.
	SyncAlways SyncPolicy = "always"
	// SyncOnRollover forces only when rolling over, trading durability of
	// the most recent writes for throughput.
	SyncOnRollover SyncPolicy = "on_rollover"
	// SyncNever never forces automatically; the caller is responsible for
	// calling Force when it needs a durability point.
	SyncNever SyncPolicy = "never"
)

// Config holds journal-level tunables. It deliberately does not cover
// anything about an outer application — no server address, no log
// destination, no CLI flags for a surrounding service.
type Config struct {
	// InitialSize is the journal file's size in bytes at Open. The file
	// never shrinks below this even across reopens.
	InitialSize int64 `json:"initial_size"`

	// MaxRecordSize is checked by Validate (it must be positive) but is
	// not passed to the journal: JournalOptions does not map it, and
	// CreateEmptyPayload enforces only journal.MaxRecordSize.
	MaxRecordSize int `json:"max_record_size"`

	// Sync selects when writes are forced to disk.
	Sync SyncPolicy `json:"sync"`

	// PooledBufferCapacity seeds a PooledProvider's default buffer size
	// when PooledBuffers is true. Ignored otherwise.
	PooledBuffers        bool `json:"pooled_buffers"`
	PooledBufferCapacity int  `json:"pooled_buffer_capacity"`
}

// DefaultConfig returns the journal's default tunables.
func DefaultConfig() *Config {
	return &Config{
		InitialSize:          16 * 1024 * 1024,
		MaxRecordSize:        4 * 1024 * 1024,
		Sync:                 SyncOnRollover,
		PooledBuffers:        false,
		PooledBufferCapacity: 4096,
	}
}

// Load reads configuration from a JSON file at path, overlaying it on
// DefaultConfig. A missing file is not an error: Load returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("journalcfg: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("journalcfg: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("journalcfg: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("journalcfg: write %s: %w", path, err)
	}
	return nil
}

// Validate rejects nonsensical tunables before they reach journal.Open.
func (c *Config) Validate() error {
	if c.InitialSize < 0 {
		return fmt.Errorf("journalcfg: initial_size must not be negative")
	}
	if c.MaxRecordSize <= 0 {
		return fmt.Errorf("journalcfg: max_record_size must be positive")
	}
	switch c.Sync {
	case SyncAlways, SyncOnRollover, SyncNever:
	default:
		return fmt.Errorf("journalcfg: unknown sync policy %q", c.Sync)
	}
	return nil
}

// JournalOptions translates the config into the journal.Option values
// that actually make it take effect: PooledBuffers becomes a
// journal.PooledProvider sized at PooledBufferCapacity, and Sync becomes
// the matching journal.SyncPolicy. Callers pass the result straight to
// journal.Open alongside InitialSize.
func (c *Config) JournalOptions() []journal.Option {
	var opts []journal.Option

	if c.PooledBuffers {
		opts = append(opts, journal.WithBufferProvider(journal.NewPooledProvider(c.PooledBufferCapacity)))
	}

	switch c.Sync {
	case SyncAlways:
		opts = append(opts, journal.WithSyncPolicy(journal.SyncAlways))
	case SyncOnRollover:
		opts = append(opts, journal.WithSyncPolicy(journal.SyncOnRollover))
	case SyncNever:
		opts = append(opts, journal.WithSyncPolicy(journal.SyncNever))
	}

	return opts
}
