package config

import "fmt"

// TelemetryConfig enables meter reports from the chargers over MQTT.
type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
	QoS     byte `json:"qos"`
}

// Validate checks the subscription QoS.
func (c TelemetryConfig) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("telemetry: invalid qos %d", c.QoS)
	}
	return nil
}
