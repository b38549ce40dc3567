package snow

import (
	"math"
	"math/rand/v2"
)

// SizeClass names one of the four flake sizes.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
	SizeXLarge SizeClass = "xlarge"
)

// Particle is one snowflake. Positions are in pixels, rates per second.
type Particle struct {
	ID           uint64
	X            float64
	Y            float64
	Speed        float64
	Drift        float64
	Size         float64
	Class        SizeClass
	Phase        float64
	SwayRate     float64
	Rotation     float64
	RotationRate float64
	Color        string
	Opacity      float64
}

func pickSize(rng *rand.Rand) (SizeClass, float64) {
	switch roll := rng.Float64(); {
	case roll < 0.3:
		return SizeSmall, 3
	case roll < 0.6:
		return SizeMedium, 5
	case roll < 0.9:
		return SizeLarge, 8
	default:
		return SizeXLarge, 12
	}
}

// fallSpeed makes larger flakes fall faster.
func fallSpeed(cfg Config, size, viewportHeight float64) float64 {
	adjusted := cfg.FallSeconds() * (1.5 - size/largestFlake*sizeSpeedFactor)
	return (viewportHeight + speedMargin) / adjusted
}

func driftDirection(rng *rand.Rand) float64 {
	if rng.Float64() > 0.5 {
		return 1
	}
	return -1
}

func drift(rng *rand.Rand, wind, direction float64) float64 {
	return (rng.Float64()*0.5 + 0.5) * wind * direction * driftScale
}

func rotationRate(rng *rand.Rand, size float64) float64 {
	return (rng.Float64()*0.5 + 0.5) * (size / largestFlake)
}

func twinkle(elapsed, phase float64) float64 {
	value := math.Sin(elapsed*twinkleRate+phase)*twinkleSwing + twinkleBase
	return math.Max(minOpacity, math.Min(maxOpacity, value))
}
