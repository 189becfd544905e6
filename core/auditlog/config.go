package auditlog

import (
	"errors"
	"fmt"
	"strings"
)

const (
	BackendNone   = "none"
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Config selects the audit log backend.
type Config struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// Token protects the HTTP query endpoint when set.
	Token string `json:"token"`
	// Rotation of the jsonl backend.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendNone
	}
	if c.Path == "" {
		switch c.Backend {
		case BackendJSONL:
			c.Path = "allocations.jsonl"
		case BackendSQLite:
			c.Path = "allocations.db"
		}
	}
}

// Validate checks the backend name and the rotation bounds.
func (c Config) Validate() error {
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return errors.New("auditlog: max_size_mb, max_backups and max_age_days must not be negative")
	}
	switch strings.ToLower(c.Backend) {
	case BackendNone, BackendJSONL, BackendSQLite, "":
		return nil
	default:
		return fmt.Errorf("auditlog: unknown backend %q", c.Backend)
	}
}

// Open builds the configured store. It returns nil for the none backend.
func Open(c Config) (Store, error) {
	switch strings.ToLower(c.Backend) {
	case BackendJSONL:
		return NewJSONLStore(c.Path, Rotation{MaxSizeMB: c.MaxSizeMB, MaxBackups: c.MaxBackups, MaxAgeDays: c.MaxAgeDays})
	case BackendSQLite:
		return NewSQLiteStore(c.Path)
	case BackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("auditlog: unknown backend %q", c.Backend)
	}
}
