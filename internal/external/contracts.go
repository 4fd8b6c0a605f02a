// Package external defines the narrow interfaces the core depends on but
// does not implement: driving the physical trainer, reading the shifter,
// reporting battery state, and reporting ride telemetry (§6). Production
// binaries supply concrete adapters in cmd/kickrbridge; tests supply fakes.
package external

// TrainerDriver applies the effective gradient to the physical trainer.
// bp is signed 0.01% units, already clamped to [-2000, 2000] by the caller.
type TrainerDriver interface {
	SetTargetIncline(bp int32)
}

// ShifterInput reports the shifter's raw position. Its scale and monotonic
// direction are driver-defined; only the sign of successive deltas matters
// to the shift controller.
type ShifterInput interface {
	GetShifterPosition() int32
}

// BatteryLevelProvider reports the handlebar controller's battery
// percentage (0-100), surfaced through the ride-control GET object and the
// Battery Level characteristic.
type BatteryLevelProvider interface {
	BatteryLevel() uint8
}

// TelemetryProvider reports the physical trainer's current ride telemetry,
// passed through as Indoor Bike Data notifications (§6 Indoor Bike Data
// passthrough).
type TelemetryProvider interface {
	ReadTelemetry() (speedKmh, cadenceRpm float64, powerWatts int16)
}
