package snow

import "time"

const (
	// Name is the registry name and the events/config key of the snowfall overlay.
	Name        = "snow-event"
	description = "Красивый снегопад на странице"

	defaultDensity         = 100
	defaultSpeedMultiplier = 4
	defaultWindStrength    = 3
	defaultBaseFallSeconds = 10

	stormDensity         = 300
	stormSpeedMultiplier = 8
	stormWindStrength    = 8

	// StormDuration is how long a storm lasts before the previous settings return.
	StormDuration = 10 * time.Second
	// MeltInterval is the period between two melt steps.
	MeltInterval = 200 * time.Millisecond

	minSpawnInterval = 50 * time.Millisecond
	softCeilingRatio = 1.5
	meltRatio        = 0.1
	maxFrameDelta    = 0.1

	speedMargin     = 200.0
	bottomMargin    = 50.0
	spawnOffset     = -50.0
	spawnJitter     = 50.0
	recycleBand     = 100.0
	wrapMargin      = 100.0
	driftScale      = 0.4
	driftPerSecond  = 40.0
	swayAmplitude   = 0.8
	rotationPerSec  = 120.0
	twinkleRate     = 2.0
	twinkleSwing    = 0.15
	twinkleBase     = 0.85
	minOpacity      = 0.4
	maxOpacity      = 1.0
	largestFlake    = 12.0
	sizeSpeedFactor = 0.5
)

// Config holds the tunables of the snowfall. JSON names match the stored event config.
type Config struct {
	Density         int      `json:"snowflakeCount"`
	SpeedMultiplier float64  `json:"speedMultiplier"`
	WindStrength    float64  `json:"windStrength"`
	BaseFallSeconds float64  `json:"baseFallTime"`
	Colors          []string `json:"colors"`
}

// DefaultConfig returns the out-of-the-box snowfall.
func DefaultConfig() Config {
	return Config{
		Density:         defaultDensity,
		SpeedMultiplier: defaultSpeedMultiplier,
		WindStrength:    defaultWindStrength,
		BaseFallSeconds: defaultBaseFallSeconds,
		Colors:          []string{"#ffffff", "#e6f2ff", "#ccffff", "#ddeeff"},
	}
}

func (c Config) clone() Config {
	c.Colors = append([]string(nil), c.Colors...)
	return c
}

// sanitized replaces unusable values with defaults.
func (c Config) sanitized() Config {
	defaults := DefaultConfig()
	if c.Density <= 0 {
		c.Density = defaults.Density
	}
	if c.SpeedMultiplier <= 0 {
		c.SpeedMultiplier = defaults.SpeedMultiplier
	}
	if c.WindStrength < 0 {
		c.WindStrength = defaults.WindStrength
	}
	if c.BaseFallSeconds <= 0 {
		c.BaseFallSeconds = defaults.BaseFallSeconds
	}
	if len(c.Colors) == 0 {
		c.Colors = defaults.Colors
	}
	return c
}

// FallSeconds is the time a medium-weight flake needs to cross the viewport.
func (c Config) FallSeconds() float64 {
	return c.BaseFallSeconds / c.SpeedMultiplier
}

// SpawnInterval is the period of the top-edge spawner, never below 50 ms.
func (c Config) SpawnInterval() time.Duration {
	interval := time.Duration(c.FallSeconds() * float64(time.Second) / float64(c.Density))
	if interval < minSpawnInterval {
		return minSpawnInterval
	}
	return interval
}

func (c Config) asMap() map[string]any {
	return map[string]any{
		"snowflakeCount":  c.Density,
		"speedMultiplier": c.SpeedMultiplier,
		"windStrength":    c.WindStrength,
		"baseFallTime":    c.BaseFallSeconds,
		"colors":          append([]string(nil), c.Colors...),
	}
}

type storedConfig struct {
	Density         int     `json:"snowflakeCount"`
	SpeedMultiplier float64 `json:"speedMultiplier"`
	WindStrength    float64 `json:"windStrength"`
	LastUpdated     int64   `json:"lastUpdated"`
}
