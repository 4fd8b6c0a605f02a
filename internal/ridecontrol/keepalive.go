package ridecontrol

import (
	"log"
	"time"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
	"github.com/kickrbridge/kickrbridge/internal/safego"
)

// KeepAliveInterval is how often a keep-alive frame is emitted on Sync TX
// once the handshake has completed (§4.7).
const KeepAliveInterval = 5 * time.Second

// keepAlivePayload is the fixed opaque 37-byte keep-alive blob. It is all
// zero bytes, not a copy of a captured keep-alive frame, and this bridge
// does not interpret its contents.
var keepAlivePayload = make([]byte, 37)

// KeepAlive runs the 5-second Sync TX timer while a session has completed
// the RideOn handshake and remains subscribed to Sync TX. It ticks
// continuously in the background from Start and only emits a frame when
// both conditions hold, rather than starting/stopping a goroutine per
// handshake — simpler to reason about, at the cost of one idle timer per
// process.
type KeepAlive struct {
	mirror *gatt.Mirror
	logger *log.Logger
	state  *State

	interval time.Duration
	armCh    chan struct{}
	done     chan struct{}
}

// newKeepAlive is unexported: callers get a KeepAlive through NewKeepAlive,
// and New then wires it to the Handler that shares its State.
func newKeepAlive(mirror *gatt.Mirror, logger *log.Logger) *KeepAlive {
	return &KeepAlive{
		mirror:   mirror,
		logger:   logger,
		interval: KeepAliveInterval,
		armCh:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetInterval overrides the keep-alive period from its KeepAliveInterval
// default. Call it before Start; changing it after Start takes effect from
// the next tick.
func (k *KeepAlive) SetInterval(d time.Duration) {
	k.interval = d
}

// NewKeepAlive creates a keep-alive timer bound to mirror. Call Start once
// the transport layer is up; the Handler built with the same *State (via
// New) calls Arm on every RideOn handshake.
func NewKeepAlive(mirror *gatt.Mirror, logger *log.Logger) *KeepAlive {
	if mirror == nil {
		panic("ridecontrol.NewKeepAlive: mirror cannot be nil")
	}
	if logger == nil {
		panic("ridecontrol.NewKeepAlive: logger cannot be nil")
	}
	return newKeepAlive(mirror, logger)
}

// bind attaches the shared handshake State once Handler.New constructs it,
// so KeepAlive.Start can check HandshakeComplete without a second reference
// floating around.
func (k *KeepAlive) bind(state *State) {
	k.state = state
}

// Arm resets the 5-second window so the next keep-alive frame lands a full
// interval after the most recent RideOn handshake, per §4.7's "reset
// keep-alive timer" on handshake.
func (k *KeepAlive) Arm() {
	select {
	case k.armCh <- struct{}{}:
	default:
	}
}

// Start launches the background ticker via safego.Go. It runs until Stop is
// called; call it once at startup after Handler.New has bound this
// KeepAlive's state.
func (k *KeepAlive) Start() {
	safego.Go(k.logger, k.run)
}

func (k *KeepAlive) run() {
	timer := time.NewTimer(k.interval)
	defer timer.Stop()
	for {
		select {
		case <-k.done:
			return
		case <-k.armCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(k.interval)
		case <-timer.C:
			timer.Reset(k.interval)
			if k.state == nil || !k.state.HandshakeComplete() {
				continue
			}
			if !k.mirror.HasSubscribers(gatt.ZwiftRideSyncTXUUID) {
				continue
			}
			if err := k.mirror.Notify(gatt.ZwiftRideSyncTXUUID, keepAlivePayload); err != nil {
				k.logger.Printf("ridecontrol: keep-alive notify failed: %v", err)
			}
		}
	}
}

// Stop halts the background ticker. It is not safe to call concurrently
// with itself, matching every other single-owner shutdown path in this
// bridge.
func (k *KeepAlive) Stop() {
	close(k.done)
}
