package shift

import (
	"log"
	"sync"
	"time"

	"github.com/kickrbridge/kickrbridge/internal/external"
	"github.com/kickrbridge/kickrbridge/internal/gatt"
)

// ApplyDebounce is the minimum interval between successive calls into the
// trainer driver. Gear/gradient changes that arrive faster than this just
// update the stored state and are not sent; the next change that arrives
// after the window has cleared sends its own value. A skipped change is not
// re-sent on its own by any timer.
const ApplyDebounce = 100 * time.Millisecond

// State is the Gear State record this controller owns exclusively (§3
// Ownership); it reads but does not own the base gradient, which arrives
// externally via SetBaseGradient.
type State struct {
	CurrentGear            int
	LastShifterPosition    int32
	HasLastShifterPosition bool
	BaseGradientBp         int32
	EffectiveGradientBp    int32
}

// Controller translates shifter-position deltas into gear changes and
// composes the externally supplied base gradient with the current gear's
// ratio, applying the debounced result to the trainer (§4.8). It is wired
// to FTMS only through the "base gradient changed" callback event FTMS
// notifies on — never through a direct import of the ftms package — which
// is what breaks the cyclic FTMS/KickrBike wiring flagged in the design
// notes.
type Controller struct {
	mirror  *gatt.Mirror
	trainer external.TrainerDriver
	logger  *log.Logger

	mu          sync.Mutex
	state       State
	enabled     bool
	lastApply   time.Time
	debounce    time.Duration
	persistence *Persistence
}

// New creates a controller in gear DefaultGear with a zero base gradient,
// disabled until Enable is called.
func New(mirror *gatt.Mirror, trainer external.TrainerDriver, logger *log.Logger) *Controller {
	if mirror == nil {
		panic("shift.New: mirror cannot be nil")
	}
	if trainer == nil {
		panic("shift.New: trainer cannot be nil")
	}
	if logger == nil {
		panic("shift.New: logger cannot be nil")
	}
	return &Controller{
		mirror:   mirror,
		trainer:  trainer,
		logger:   logger,
		state:    State{CurrentGear: DefaultGear},
		debounce: ApplyDebounce,
	}
}

// EnablePersistence loads the last-persisted gear (if any) as the starting
// gear and saves every subsequent gear change through p, so a restart
// resumes from wherever the rider left off rather than always DefaultGear.
// Call it once at startup, before Enable.
func (c *Controller) EnablePersistence(p *Persistence) {
	c.mu.Lock()
	c.persistence = p
	c.state.CurrentGear = p.Load()
	c.mu.Unlock()
}

// SetDebounce overrides the apply-debounce interval from its ApplyDebounce
// default, used when the deployment's configuration requests a different
// value.
func (c *Controller) SetDebounce(d time.Duration) {
	c.mu.Lock()
	c.debounce = d
	c.mu.Unlock()
}

// Enable lets the controller drive the trainer's incline setpoint.
func (c *Controller) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Disable stops the controller from applying further changes to the
// trainer; gear and gradient state are preserved.
func (c *Controller) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

// State returns a snapshot of the current Gear State.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetBaseGradient is the callback FTMS's Simulation Parameters write
// handler invokes after decoding the grade field. It recomputes and applies
// the effective gradient at the current gear without moving the gear.
func (c *Controller) SetBaseGradient(baseBp int32) {
	c.mu.Lock()
	c.state.BaseGradientBp = baseBp
	c.state.EffectiveGradientBp = effectiveGradient(baseBp, c.state.CurrentGear)
	effective := c.state.EffectiveGradientBp
	c.mu.Unlock()

	c.applyDebounced(effective)
}

// PollShifter is called periodically by the external shifter driver with
// the raw position reading. Only the sign of the delta from the previous
// reading matters; the first call after startup just seeds the baseline.
func (c *Controller) PollShifter(position int32) {
	c.mu.Lock()
	if !c.state.HasLastShifterPosition {
		c.state.LastShifterPosition = position
		c.state.HasLastShifterPosition = true
		c.mu.Unlock()
		return
	}

	last := c.state.LastShifterPosition
	c.state.LastShifterPosition = position

	switch {
	case position > last:
		c.shiftLocked(1)
	case position < last:
		c.shiftLocked(-1)
	default:
		c.mu.Unlock()
		return
	}
}

// shiftLocked moves the current gear by delta (+1 or -1), clamped at the
// table's boundaries, and must be called with c.mu held; it releases the
// lock itself before applying, since applyDebounced and notifyGearStatus
// both talk to collaborators that must not run under the controller's lock.
func (c *Controller) shiftLocked(delta int) {
	gear := c.state.CurrentGear + delta
	if gear < 0 || gear >= GearCount {
		c.mu.Unlock()
		return
	}
	c.state.CurrentGear = gear
	c.state.EffectiveGradientBp = effectiveGradient(c.state.BaseGradientBp, gear)
	effective := c.state.EffectiveGradientBp
	persistence := c.persistence
	c.mu.Unlock()

	if persistence != nil {
		persistence.Save(gear)
	}
	c.applyDebounced(effective)
	c.notifyGearStatus(gear)
}

// Reset returns to DefaultGear with a zero base gradient (the ride-control
// RESET opcode, §4.7) and applies immediately regardless of debounce, since
// a reset is a deliberate one-off action rather than a rapid stream of
// shifter events.
func (c *Controller) Reset() {
	c.mu.Lock()
	persistence := c.persistence
	c.state = State{CurrentGear: DefaultGear}
	c.lastApply = time.Time{}
	gear := c.state.CurrentGear
	c.mu.Unlock()

	if persistence != nil {
		persistence.Save(gear)
	}
	c.applyDebounced(0)
	c.notifyGearStatus(gear)
}

func (c *Controller) applyDebounced(effectiveBp int32) {
	c.mu.Lock()
	enabled := c.enabled
	now := time.Now()
	elapsed := now.Sub(c.lastApply)
	if !enabled || elapsed < c.debounce {
		c.mu.Unlock()
		return
	}
	c.lastApply = now
	c.mu.Unlock()

	c.trainer.SetTargetIncline(effectiveBp)
}

func (c *Controller) notifyGearStatus(gear int) {
	payload := []byte{byte(gear + 1), RatioPercent(gear)}
	if err := c.mirror.Notify(gatt.ZwiftRideAsyncTXUUID, payload); err != nil {
		c.logger.Printf("shift: gear-status notify failed: %v", err)
	}
}
