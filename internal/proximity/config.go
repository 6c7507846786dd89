package proximity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the analysis parameters. Fields are pointers so a partial
// JSON config is safe: anything omitted falls back to the defaults supplied
// by the Get* accessors. Validate must pass before any analysis starts;
// parameter problems are configuration errors, never mid-run failures.
type Config struct {
	// Distance threshold for a proximity event, kilometres.
	ProximityThresholdKm *float64 `json:"proximity_threshold_km,omitempty"`

	// Maximum time gap between samples from two tracks to treat them as
	// simultaneous during matching, minutes.
	TimeWindowMinutes *float64 `json:"time_window_minutes,omitempty"`

	// Minimum span of a per-pair event run for it to survive filtering,
	// minutes. Zero disables the filter.
	MinDurationMinutes *float64 `json:"min_duration_minutes,omitempty"`

	// Maximum gap between consecutive events in one encounter, minutes.
	GapThresholdMinutes *float64 `json:"gap_threshold_minutes,omitempty"`

	// Multiplier applied to MinDurationMinutes when grouping a pair's
	// events into runs for the duration filter.
	DurationGapFactor *float64 `json:"duration_gap_factor,omitempty"`

	// Number of entity pairs analysed concurrently.
	PairWorkers *int `json:"pair_workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// LoadConfig loads a Config from a JSON file. Omitted fields keep their
// defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.ProximityThresholdKm != nil && *c.ProximityThresholdKm <= 0 {
		return fmt.Errorf("proximity_threshold_km must be positive, got %v", *c.ProximityThresholdKm)
	}
	if c.TimeWindowMinutes != nil && *c.TimeWindowMinutes <= 0 {
		return fmt.Errorf("time_window_minutes must be positive, got %v", *c.TimeWindowMinutes)
	}
	if c.MinDurationMinutes != nil && *c.MinDurationMinutes < 0 {
		return fmt.Errorf("min_duration_minutes must be non-negative, got %v", *c.MinDurationMinutes)
	}
	if c.GapThresholdMinutes != nil && *c.GapThresholdMinutes <= 0 {
		return fmt.Errorf("gap_threshold_minutes must be positive, got %v", *c.GapThresholdMinutes)
	}
	if c.DurationGapFactor != nil && *c.DurationGapFactor < 1 {
		return fmt.Errorf("duration_gap_factor must be >= 1, got %v", *c.DurationGapFactor)
	}
	if c.PairWorkers != nil && *c.PairWorkers < 1 {
		return fmt.Errorf("pair_workers must be >= 1, got %d", *c.PairWorkers)
	}
	return nil
}

// GetProximityThresholdKm returns the proximity_threshold_km value or the default.
func (c *Config) GetProximityThresholdKm() float64 {
	if c.ProximityThresholdKm == nil {
		return 2.0
	}
	return *c.ProximityThresholdKm
}

// GetTimeWindow returns the matching window as a duration.
func (c *Config) GetTimeWindow() time.Duration {
	if c.TimeWindowMinutes == nil {
		return 30 * time.Minute
	}
	return time.Duration(*c.TimeWindowMinutes * float64(time.Minute))
}

// GetMinDurationMinutes returns the min_duration_minutes value or the default.
func (c *Config) GetMinDurationMinutes() float64 {
	if c.MinDurationMinutes == nil {
		return 0
	}
	return *c.MinDurationMinutes
}

// GetGapThreshold returns the encounter merge gap as a duration.
func (c *Config) GetGapThreshold() time.Duration {
	if c.GapThresholdMinutes == nil {
		return 60 * time.Minute
	}
	return time.Duration(*c.GapThresholdMinutes * float64(time.Minute))
}

// GetDurationGapFactor returns the duration_gap_factor value or the default.
// The default of 2 matches the behaviour of prior exported results.
func (c *Config) GetDurationGapFactor() float64 {
	if c.DurationGapFactor == nil {
		return 2.0
	}
	return *c.DurationGapFactor
}

// GetPairWorkers returns the pair_workers value or the default.
func (c *Config) GetPairWorkers() int {
	if c.PairWorkers == nil {
		return 4
	}
	return *c.PairWorkers
}
