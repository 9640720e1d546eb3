package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	MaxSimulatedLatency = 30 * time.Second
	knownBackends       = map[string]struct{}{"memory": {}, "file": {}, "leveldb": {}, "bolt": {}}
)

func ValidateConfig(c *Config) error {
	if _, ok := knownBackends[strings.ToLower(strings.TrimSpace(c.Backend))]; !ok {
		return fmt.Errorf("storage: unknown backend %q", c.Backend)
	}
	if c.PointRate <= 0 {
		return fmt.Errorf("rates: PointRate must be positive")
	}
	if c.Simulator.Latency.Duration < 0 || c.Simulator.Jitter.Duration < 0 {
		return fmt.Errorf("simulator: latency and jitter must not be negative")
	}
	if c.Simulator.Latency.Duration+c.Simulator.Jitter.Duration > MaxSimulatedLatency {
		return fmt.Errorf("simulator: latency + jitter exceeds %s", MaxSimulatedLatency)
	}
	if c.Alerts.UrgentDays < 0 {
		return fmt.Errorf("alerts: UrgentDays must not be negative")
	}
	if _, err := cron.ParseStandard(c.Alerts.Schedule); err != nil {
		return fmt.Errorf("alerts: invalid schedule %q: %w", c.Alerts.Schedule, err)
	}
	if c.HTTP.RequestsPerMinute < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http: rate limits must not be negative")
	}
	return nil
}
