package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/evstation/core/auditlog"
	"github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/station"
	"github.com/kilianp07/evstation/infra/mqtt"
)

// EnvPrefix prefixes environment overrides. EVS_STATION__GRID_CAPACITY=500
// overrides station.grid_capacity.
const EnvPrefix = "EVS_"

type Config struct {
	Station    station.Config   `json:"station"`
	Allocation AllocationConfig `json:"allocation"`
	HTTP       HTTPConfig       `json:"http"`
	MQTT       mqtt.Config      `json:"mqtt"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Metrics    metrics.Config   `json:"metrics"`
	AuditLog   auditlog.Config  `json:"audit_log"`
	KPI        KPIConfig        `json:"kpi"`
	Log        LogConfig        `json:"log"`
	Sentry     SentryConfig     `json:"sentry"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section with its defaults.
func (c *Config) SetDefaults() {
	c.Allocation.SetDefaults()
	c.HTTP.SetDefaults()
	c.MQTT.SetDefaults()
	c.Metrics.SetDefaults()
	c.AuditLog.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	return errors.Join(
		c.Station.Validate(),
		c.Allocation.Validate(),
		c.HTTP.Validate(),
		c.MQTT.Validate(),
		c.Telemetry.Validate(),
		c.telemetryNeedsMQTT(),
		c.AuditLog.Validate(),
		c.Log.Validate(),
		c.Sentry.Validate(),
	)
}

func (c Config) telemetryNeedsMQTT() error {
	if c.Telemetry.Enabled && !c.MQTT.Enabled {
		return errors.New("telemetry: requires mqtt.enabled")
	}
	return nil
}
