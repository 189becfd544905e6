package config

// KPIConfig enables the daily energy totals per charger. An empty path
// disables them.
type KPIConfig struct {
	Path string `json:"path"`
}
