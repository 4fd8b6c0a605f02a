// Package ftms implements the Fitness Machine Service characteristics the
// bridge exposes: Feature, Indoor Bike Data, Control Point and Machine
// Status. It decodes Control Point writes and Indoor Bike Simulation
// Parameters, and republishes the decoded base gradient through
// GradientEvent rather than calling into the shift controller directly,
// which is what keeps FTMS and the shift controller from wiring a cycle
// into each other.
package ftms

import (
	"log"
	"sync"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
)

// GradientEvent fans a decoded base gradient out to every listener
// registered via Listen, the same single-mutex registry shape gatt.Mirror
// uses for its own subscriber bookkeeping. It exists instead of a generic
// pub/sub type because the shift controller is its only subscriber and the
// payload is always a gradient in 0.01% units — there is nothing here that
// benefits from being reusable across payload types.
type GradientEvent struct {
	mu        sync.Mutex
	listeners []func(gradeBp int32)
}

// Listen registers fn to be called, synchronously and in registration
// order, every time the gradient changes.
func (e *GradientEvent) Listen(fn func(gradeBp int32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *GradientEvent) publish(gradeBp int32) {
	e.mu.Lock()
	listeners := make([]func(int32), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(gradeBp)
	}
}

// Control Point op codes (Bluetooth FTMS 1.0 §4.16).
const (
	OpCodeRequestControl        byte = 0x00
	OpCodeReset                 byte = 0x01
	OpCodeSetTargetSpeed        byte = 0x02
	OpCodeSetTargetIncline      byte = 0x03
	OpCodeSetTargetResistance   byte = 0x04
	OpCodeSetTargetPower        byte = 0x05
	OpCodeStartOrResume         byte = 0x07
	OpCodeSetIndoorBikeSimParam byte = 0x11
	OpCodeResponseCode          byte = 0x80
)

// Control Point result codes.
const (
	ResultSuccess              byte = 0x01
	ResultOpCodeNotSupported   byte = 0x02
	ResultInvalidParameter     byte = 0x03
	ResultOperationFailed      byte = 0x04
	ResultControlNotPermitted  byte = 0x05
)

// Machine Status op codes (Bluetooth FTMS 1.0 §4.17), the subset this
// bridge's Control Point handling actually triggers.
const (
	StatusReset                        byte = 0x01
	StatusStartedOrResumedByUser       byte = 0x04
	StatusTargetInclineChanged         byte = 0x06
	StatusIndoorBikeSimParamsChanged   byte = 0x11
)

// FeatureFlags is the static Feature characteristic value: this bridge
// advertises indoor bike simulation (wind/grade/CRR/CW) and target power
// support, the two capabilities Zwift actually exercises through a Wahoo
// KICKR BIKE.
var FeatureFlags = []byte{0x00, 0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// Service owns the FTMS characteristics registered into the Mirror. It
// tracks whether a central holds control (Request Control / Start-Resume)
// and emits BaseGradientChanged whenever a Simulation Parameters write
// decodes a new grade.
type Service struct {
	mirror *gatt.Mirror
	logger *log.Logger

	controlGranted bool

	// BaseGradientChanged fires with the decoded grade in 0.01% units every
	// time a central writes Indoor Bike Simulation Parameters. The shift
	// controller is the only subscriber in production, wired at startup via
	// Listen — never through a direct reference to this Service.
	BaseGradientChanged *GradientEvent
}

// New creates the FTMS service and registers its characteristics into
// mirror. Call it once at startup, after the Mirror exists but before any
// transport is accepting connections.
func New(mirror *gatt.Mirror, logger *log.Logger) *Service {
	if mirror == nil {
		panic("ftms.New: mirror cannot be nil")
	}
	if logger == nil {
		panic("ftms.New: logger cannot be nil")
	}
	s := &Service{
		mirror:              mirror,
		logger:              logger,
		BaseGradientChanged: &GradientEvent{},
	}
	gatt.RegisterFTMSService(mirror, FeatureFlags, s.handleControlPointWrite, s.handleSimulationParametersWrite)
	return s
}

// handleSimulationParametersWrite is the OnWrite handler for the
// standalone Indoor Bike Simulation Parameters characteristic (§6),
// separate from the Control Point op-code path below — a real trainer app
// may use either, so both feed the same event.
func (s *Service) handleSimulationParametersWrite(value []byte) {
	grade, err := DecodeSimulationParameters(value)
	if err != nil {
		s.logger.Printf("ftms: malformed simulation parameters write: %v", err)
		return
	}
	s.BaseGradientChanged.publish(grade)
}

func (s *Service) handleControlPointWrite(value []byte) {
	if len(value) == 0 {
		return
	}

	opCode := value[0]
	params := value[1:]

	result := ResultSuccess
	switch opCode {
	case OpCodeRequestControl:
		s.controlGranted = true
	case OpCodeStartOrResume:
		if !s.controlGranted {
			result = ResultControlNotPermitted
		} else {
			s.PublishMachineStatus(StatusStartedOrResumedByUser)
		}
	case OpCodeReset:
		s.controlGranted = false
		s.PublishMachineStatus(StatusReset)
	case OpCodeSetIndoorBikeSimParam:
		grade, err := DecodeSimulationParameters(params)
		if err != nil {
			s.logger.Printf("ftms: malformed simulation parameters: %v", err)
			result = ResultInvalidParameter
			break
		}
		s.BaseGradientChanged.publish(grade)
		s.PublishMachineStatus(StatusIndoorBikeSimParamsChanged)
	case OpCodeSetTargetIncline:
		if len(params) < 2 {
			result = ResultInvalidParameter
			break
		}
		grade := int32(int16(uint16(params[0]) | uint16(params[1])<<8))
		s.BaseGradientChanged.publish(grade)
		s.PublishMachineStatus(StatusTargetInclineChanged)
	default:
		result = ResultOpCodeNotSupported
	}

	response := []byte{OpCodeResponseCode, opCode, result}
	if err := s.mirror.Notify(gatt.FTMSControlPointUUID, response); err != nil {
		s.logger.Printf("ftms: control point response notify failed: %v", err)
	}
}

// PublishIndoorBikeData encodes and notifies Indoor Bike Data from the
// passthrough telemetry an external trainer collaborator reports. Callers
// never need to know the wire encoding or the Mirror characteristic UUID.
func (s *Service) PublishIndoorBikeData(speedKmh, cadenceRpm float64, powerWatts int16) {
	payload := EncodeIndoorBikeData(IndoorBikeReading{
		InstantaneousSpeedKmh:   &speedKmh,
		InstantaneousCadenceRpm: &cadenceRpm,
		InstantaneousPowerWatts: &powerWatts,
	})
	if err := s.mirror.Notify(gatt.FTMSIndoorBikeDataUUID, payload); err != nil {
		s.logger.Printf("ftms: indoor bike data notify failed: %v", err)
	}
}

// PublishMachineStatus notifies Machine Status with the given op code, used
// for the reset/start/parameter-change events the Control Point path
// triggers.
func (s *Service) PublishMachineStatus(opCode byte) {
	if err := s.mirror.Notify(gatt.FTMSMachineStatusUUID, []byte{opCode}); err != nil {
		s.logger.Printf("ftms: machine status notify failed: %v", err)
	}
}
