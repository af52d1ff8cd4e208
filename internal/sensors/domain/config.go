package sensors

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type monitorsFile struct {
	Monitors []monitorEntry `yaml:"monitors"`
}

type monitorEntry struct {
	MonitorType     string    `yaml:"monitor_type"`
	Provider        string    `yaml:"provider"`
	Pollutant       string    `yaml:"pollutant"`
	Metric          string    `yaml:"metric"`
	Thresholds      []float64 `yaml:"thresholds"`
	RadiusMeters    float64   `yaml:"radius_meters"`
	UpdateFrequency string    `yaml:"update_frequency"`
	APIField        string    `yaml:"api_field"`
	StaleAfter      string    `yaml:"stale_after"`
}

// LoadMonitorConfigs reads and validates the monitor type definitions from a
// YAML file. Durations use Go syntax, e.g. "10m" or "1h".
func LoadMonitorConfigs(path string) ([]MonitorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMonitorConfigs(data)
}

// ParseMonitorConfigs decodes monitor type definitions from YAML bytes.
func ParseMonitorConfigs(data []byte) ([]MonitorConfig, error) {
	var file monitorsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("monitor config: %w", err)
	}
	if len(file.Monitors) == 0 {
		return nil, fmt.Errorf("monitor config: no monitors defined")
	}

	configs := make([]MonitorConfig, 0, len(file.Monitors))
	seen := make(map[string]struct{}, len(file.Monitors))
	for _, entry := range file.Monitors {
		cfg, err := entry.toConfig()
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[cfg.MonitorType]; dup {
			return nil, fmt.Errorf("monitor config: duplicate monitor type %s", cfg.MonitorType)
		}
		seen[cfg.MonitorType] = struct{}{}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (e monitorEntry) toConfig() (MonitorConfig, error) {
	cfg := MonitorConfig{
		MonitorType:  e.MonitorType,
		Provider:     e.Provider,
		Pollutant:    e.Pollutant,
		Metric:       e.Metric,
		Thresholds:   e.Thresholds,
		RadiusMeters: e.RadiusMeters,
		APIField:     e.APIField,
	}
	if e.UpdateFrequency != "" {
		parsed, err := time.ParseDuration(e.UpdateFrequency)
		if err != nil {
			return cfg, fmt.Errorf("monitor config %s: update_frequency: %w", e.MonitorType, err)
		}
		cfg.UpdateFrequency = parsed
	}
	if e.StaleAfter != "" {
		parsed, err := time.ParseDuration(e.StaleAfter)
		if err != nil {
			return cfg, fmt.Errorf("monitor config %s: stale_after: %w", e.MonitorType, err)
		}
		cfg.StaleAfter = parsed
	}
	return cfg, nil
}
