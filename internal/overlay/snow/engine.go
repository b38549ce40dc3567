// Package snow implements the snowfall overlay: a particle simulation driven by a
// display-frame tick, a top-edge spawner, and timed storm and melt modes.
package snow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/overlay"
	"go.uber.org/zap"
)

// State is the lifecycle position of the engine.
type State int

const (
	StateInactive State = iota
	StateActivating
	StateRunning
	StateDeactivating
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateRunning:
		return "running"
	case StateDeactivating:
		return "deactivating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const saveTimeout = 5 * time.Second

var (
	// ErrAlreadyActive reports Activate on an engine that is not inactive.
	ErrAlreadyActive = errors.New("snow: already active")
	// ErrNotRunning reports a control call while the engine is not running.
	ErrNotRunning = errors.New("snow: not running")
	// ErrInvalidParameter reports a density, speed or wind out of range.
	ErrInvalidParameter = errors.New("snow: invalid parameter")
	errMissingScheduler = errors.New("snow: scheduler is required")
)

// Options wires an Engine. Rand defaults to a time-seeded PCG source.
type Options struct {
	Scheduler overlay.Scheduler
	Rand      *rand.Rand
	Defaults  *Config
	Logger    *zap.Logger
}

// Engine is the snowfall overlay. All mutable state sits behind one mutex, and every
// scheduler callback checks the running state before touching particles.
type Engine struct {
	scheduler overlay.Scheduler
	rng       *rand.Rand
	defaults  Config
	logger    *zap.Logger

	mu        sync.Mutex
	state     State
	surface   overlay.Surface
	store     kvstore.Store
	config    Config
	particles []Particle
	nextID    uint64
	startedAt time.Time
	lastFrame time.Time

	frameTimer   overlay.Timer
	spawnTimer   overlay.Timer
	meltTimer    overlay.Timer
	stormTimer   overlay.Timer
	stormBackup  *Config
	melting      bool
	frameRunning bool
}

// New builds an inactive engine.
func New(opts Options) (*Engine, error) {
	if opts.Scheduler == nil {
		return nil, errMissingScheduler
	}
	rng := opts.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	defaults := DefaultConfig()
	if opts.Defaults != nil {
		defaults = opts.Defaults.clone().sanitized()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		scheduler: opts.Scheduler,
		rng:       rng,
		defaults:  defaults,
		logger:    logger,
		config:    defaults.clone(),
	}, nil
}

// Constructor adapts New to the overlay registry.
func Constructor(opts Options) overlay.Constructor {
	return func() overlay.Overlay {
		engine, err := New(opts)
		if err != nil {
			panic(err)
		}
		return engine
	}
}

func (e *Engine) Name() string        { return Name }
func (e *Engine) RequiresAdmin() bool { return true }

// Activate loads the stored config over the defaults, fills the viewport with the initial
// population and starts the frame loop and the spawner.
func (e *Engine) Activate(ctx context.Context, surface overlay.Surface, store kvstore.Store) error {
	e.mu.Lock()
	if e.state != StateInactive {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	e.state = StateActivating
	e.surface = surface
	e.store = store
	e.mu.Unlock()

	config := e.loadConfig(ctx, store)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActivating {
		return nil
	}
	e.config = config
	e.startedAt = e.scheduler.Now()
	e.lastFrame = time.Time{}
	e.particles = nil
	e.populateLocked()
	e.state = StateRunning
	e.restartSpawnerLocked()
	e.requestFrameLocked()
	e.logger.Info("snowfall started",
		zap.Int("density", e.config.Density),
		zap.Float64("speed", e.config.SpeedMultiplier),
		zap.Float64("wind", e.config.WindStrength))
	return nil
}

// Deactivate cancels every timer and discards the population.
func (e *Engine) Deactivate(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateInactive {
		return nil
	}
	e.state = StateDeactivating
	stopTimer(&e.frameTimer)
	stopTimer(&e.spawnTimer)
	stopTimer(&e.meltTimer)
	stopTimer(&e.stormTimer)
	e.frameRunning = false
	e.stormBackup = nil
	e.melting = false
	e.particles = nil
	e.surface = nil
	e.store = nil
	e.lastFrame = time.Time{}
	e.state = StateInactive
	e.logger.Info("snowfall stopped")
	return nil
}

// Tick advances the simulation to now once, as a display frame would.
// It reports false when the engine is not running or the surface has gone.
func (e *Engine) Tick(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepLocked(now)
}

func (e *Engine) onFrame(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frameTimer = nil
	e.frameRunning = false
	if !e.stepLocked(now) {
		return
	}
	e.requestFrameLocked()
}

func (e *Engine) requestFrameLocked() {
	if e.frameRunning {
		return
	}
	e.frameRunning = true
	e.frameTimer = e.scheduler.Frame(e.onFrame)
}

func (e *Engine) stepLocked(now time.Time) bool {
	if e.state != StateRunning || e.surface == nil || !e.surface.Attached() {
		return false
	}
	delta := 0.0
	if !e.lastFrame.IsZero() {
		delta = now.Sub(e.lastFrame).Seconds()
	}
	e.lastFrame = now
	delta = math.Max(0, math.Min(delta, maxFrameDelta))
	elapsed := now.Sub(e.startedAt).Seconds()
	width, height := e.surface.Size()

	for i := range e.particles {
		flake := &e.particles[i]
		flake.Y += flake.Speed * delta
		flake.X += flake.Drift * delta * driftPerSecond
		flake.X += math.Sin(elapsed*flake.SwayRate+flake.Phase) * swayAmplitude
		flake.Rotation += flake.RotationRate * delta * rotationPerSec

		if flake.Y > height+bottomMargin {
			e.recycleLocked(flake, width, height)
		}
		if flake.X > width+wrapMargin {
			flake.X = -wrapMargin
		} else if flake.X < -wrapMargin {
			flake.X = width + wrapMargin
		}
		flake.Opacity = twinkle(elapsed, flake.Phase)
	}
	return true
}

func (e *Engine) recycleLocked(flake *Particle, width, height float64) {
	flake.Y = e.rng.Float64()*-recycleBand + spawnOffset
	flake.X = e.rng.Float64() * width
	flake.Speed = fallSpeed(e.config, flake.Size, height)
	flake.Drift = drift(e.rng, e.config.WindStrength, driftDirection(e.rng))
	flake.Phase = e.rng.Float64() * 2 * math.Pi
	flake.RotationRate = rotationRate(e.rng, flake.Size)
}

// spawnLocked adds one flake starting at yOffset plus up to 50 px of upward jitter.
func (e *Engine) spawnLocked(yOffset float64) bool {
	if e.surface == nil || !e.surface.Attached() {
		e.logger.Warn("snow container unavailable, skipping spawn")
		return false
	}
	width, height := e.surface.Size()
	class, size := pickSize(e.rng)
	e.nextID++
	e.particles = append(e.particles, Particle{
		ID:           e.nextID,
		X:            e.rng.Float64() * width,
		Y:            yOffset + e.rng.Float64()*-spawnJitter,
		Speed:        fallSpeed(e.config, size, height),
		Drift:        drift(e.rng, e.config.WindStrength, driftDirection(e.rng)),
		Size:         size,
		Class:        class,
		Phase:        e.rng.Float64() * 2 * math.Pi,
		SwayRate:     0.5 + e.rng.Float64(),
		Rotation:     e.rng.Float64() * 360,
		RotationRate: rotationRate(e.rng, size),
		Color:        e.config.Colors[e.rng.IntN(len(e.config.Colors))],
		Opacity:      0.6 + e.rng.Float64()*0.4,
	})
	return true
}

// populateLocked spreads Density flakes over one viewport height above the top edge.
func (e *Engine) populateLocked() {
	if e.surface == nil || !e.surface.Attached() {
		e.logger.Warn("snow container unavailable, skipping initial population")
		return
	}
	_, height := e.surface.Size()
	count := e.config.Density
	for i := 0; i < count; i++ {
		progress := float64(i) / float64(count)
		if !e.spawnLocked(progress * -height) {
			return
		}
	}
}

func (e *Engine) rebuildLocked() {
	e.particles = nil
	e.populateLocked()
	e.restartSpawnerLocked()
}

func (e *Engine) restartSpawnerLocked() {
	stopTimer(&e.spawnTimer)
	if e.state != StateRunning || e.melting {
		return
	}
	e.spawnTimer = e.scheduler.Every(e.config.SpawnInterval(), e.onSpawn)
}

func (e *Engine) onSpawn(time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning || e.melting {
		return
	}
	if float64(len(e.particles)) < float64(e.config.Density)*softCeilingRatio {
		e.spawnLocked(spawnOffset)
	}
}

// SetDensity grows or shrinks the population to count. Growth spawns at random heights
// above the viewport; shrinking drops flakes from the end.
func (e *Engine) SetDensity(ctx context.Context, count int) error {
	if count <= 0 {
		return fmt.Errorf("%w: density %d", ErrInvalidParameter, count)
	}
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.endMeltLocked()
	current := len(e.particles)
	switch {
	case count < current:
		e.particles = e.particles[:count:count]
	case count > current:
		if e.surface != nil && e.surface.Attached() {
			_, height := e.surface.Size()
			for i := current; i < count; i++ {
				if !e.spawnLocked(e.rng.Float64() * -height) {
					break
				}
			}
		}
	}
	e.config.Density = count
	e.restartSpawnerLocked()
	snapshot, store := e.config.clone(), e.store
	e.mu.Unlock()

	e.saveConfig(ctx, store, snapshot)
	return nil
}

// SetSpeed changes the speed multiplier and re-derives every flake's fall speed in place.
func (e *Engine) SetSpeed(ctx context.Context, multiplier float64) error {
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("%w: speed %v", ErrInvalidParameter, multiplier)
	}
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.config.SpeedMultiplier = multiplier
	_, height := e.viewportLocked()
	for i := range e.particles {
		e.particles[i].Speed = fallSpeed(e.config, e.particles[i].Size, height)
	}
	e.restartSpawnerLocked()
	snapshot, store := e.config.clone(), e.store
	e.mu.Unlock()

	e.saveConfig(ctx, store, snapshot)
	return nil
}

// SetWind changes the wind strength; every flake keeps its drift direction.
func (e *Engine) SetWind(ctx context.Context, strength float64) error {
	if strength < 0 || math.IsNaN(strength) || math.IsInf(strength, 0) {
		return fmt.Errorf("%w: wind %v", ErrInvalidParameter, strength)
	}
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.config.WindStrength = strength
	for i := range e.particles {
		direction := 1.0
		if e.particles[i].Drift < 0 {
			direction = -1
		}
		e.particles[i].Drift = drift(e.rng, strength, direction)
	}
	snapshot, store := e.config.clone(), e.store
	e.mu.Unlock()

	e.saveConfig(ctx, store, snapshot)
	return nil
}

// TriggerStorm switches to storm settings and restores the previous ones after
// StormDuration. Triggering again during a storm extends it; the settings from before
// the first storm are the ones that come back.
func (e *Engine) TriggerStorm(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.endMeltLocked()
	if e.stormBackup == nil {
		backup := e.config.clone()
		e.stormBackup = &backup
	}
	stopTimer(&e.stormTimer)
	e.config.Density = stormDensity
	e.config.SpeedMultiplier = stormSpeedMultiplier
	e.config.WindStrength = stormWindStrength
	e.rebuildLocked()
	e.stormTimer = e.scheduler.After(StormDuration, e.onStormEnd)
	snapshot, store := e.config.clone(), e.store
	e.mu.Unlock()

	e.logger.Info("snow storm started", zap.Duration("duration", StormDuration))
	e.saveConfig(ctx, store, snapshot)
	return nil
}

func (e *Engine) onStormEnd(time.Time) {
	e.mu.Lock()
	e.stormTimer = nil
	if e.state != StateRunning || e.stormBackup == nil {
		e.mu.Unlock()
		return
	}
	e.config = e.stormBackup.clone()
	e.stormBackup = nil
	e.endMeltLocked()
	e.rebuildLocked()
	snapshot, store := e.config.clone(), e.store
	e.mu.Unlock()

	e.logger.Info("snow storm ended")
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	e.saveConfig(ctx, store, snapshot)
}

// StormActive reports whether a storm restoration is pending.
func (e *Engine) StormActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stormBackup != nil
}

// Reset restores the default density, speed and wind, cancels a pending storm and
// rebuilds the population.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	stopTimer(&e.stormTimer)
	e.stormBackup = nil
	e.endMeltLocked()
	e.config.Density = e.defaults.Density
	e.config.SpeedMultiplier = e.defaults.SpeedMultiplier
	e.config.WindStrength = e.defaults.WindStrength
	e.rebuildLocked()
	snapshot, store := e.config.clone(), e.store
	e.mu.Unlock()

	e.saveConfig(ctx, store, snapshot)
	return nil
}

// MeltAway removes a tenth of the population (at least one flake) every MeltInterval
// until none remain. The spawner pauses while melting; the engine stays running.
func (e *Engine) MeltAway() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return ErrNotRunning
	}
	stopTimer(&e.meltTimer)
	stopTimer(&e.spawnTimer)
	e.melting = true
	e.meltTimer = e.scheduler.Every(MeltInterval, e.onMelt)
	return nil
}

func (e *Engine) onMelt(time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning || !e.melting {
		return
	}
	if len(e.particles) == 0 {
		stopTimer(&e.meltTimer)
		e.logger.Info("snow melted away")
		return
	}
	remove := int(math.Floor(float64(len(e.particles)) * meltRatio))
	if remove < 1 {
		remove = 1
	}
	e.particles = e.particles[:len(e.particles)-remove]
	if len(e.particles) == 0 {
		stopTimer(&e.meltTimer)
		e.logger.Info("snow melted away")
	}
}

// Melting reports whether a melt is in progress or finished without being undone.
func (e *Engine) Melting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.melting
}

func (e *Engine) endMeltLocked() {
	stopTimer(&e.meltTimer)
	if e.melting {
		e.melting = false
		e.restartSpawnerLocked()
	}
}

// Particles returns a copy of the current population.
func (e *Engine) Particles() []Particle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Particle(nil), e.particles...)
}

// Count returns the population size.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.particles)
}

// Config returns a copy of the live settings.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config.clone()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Status() overlay.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	config := e.config.asMap()
	config["particles"] = len(e.particles)
	return overlay.Status{
		Name:          Name,
		Description:   description,
		Active:        e.state == StateRunning,
		RequiresAdmin: true,
		Config:        config,
	}
}

func (e *Engine) viewportLocked() (float64, float64) {
	if e.surface == nil {
		return 0, 0
	}
	return e.surface.Size()
}

func (e *Engine) loadConfig(ctx context.Context, store kvstore.Store) Config {
	config := e.defaults.clone()
	if store == nil {
		return config
	}
	path, err := kvstore.EventConfigPath(Name)
	if err != nil {
		return config
	}
	raw, err := store.Get(ctx, path)
	if err != nil {
		e.logger.Warn("snow config unavailable, using defaults", zap.Error(err))
		return config
	}
	merged := config.clone()
	if _, err := kvstore.Decode(raw, &merged); err != nil {
		e.logger.Warn("snow config unreadable, using defaults", zap.Error(err))
		return config
	}
	return merged.sanitized()
}

func (e *Engine) saveConfig(ctx context.Context, store kvstore.Store, config Config) {
	if store == nil {
		return
	}
	path, err := kvstore.EventConfigPath(Name)
	if err != nil {
		return
	}
	record := storedConfig{
		Density:         config.Density,
		SpeedMultiplier: config.SpeedMultiplier,
		WindStrength:    config.WindStrength,
		LastUpdated:     e.scheduler.Now().UnixMilli(),
	}
	if err := store.Set(ctx, path, record); err != nil {
		e.logger.Warn("snow config not saved",
			zap.String("operation", "snow.save_config"),
			zap.Error(err))
	}
}

func stopTimer(timer *overlay.Timer) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
}
