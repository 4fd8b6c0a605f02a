package ridecontrol

import (
	"bytes"
	"log"

	"github.com/kickrbridge/kickrbridge/internal/external"
	"github.com/kickrbridge/kickrbridge/internal/gatt"
)

// RideOn is the 6-byte ASCII handshake initiator a central writes to Sync
// RX to start a session (§4.7).
var RideOn = []byte("RideOn")

// rideOnResponse is RideOn followed by the fixed 2-byte signature Zwift
// expects on the handshake acknowledgment.
var rideOnResponse = append(append([]byte(nil), RideOn...), 0x01, 0x03)

const (
	opCodeGet          byte = 0x08
	opCodeReset        byte = 0x22
	opCodeLogLevelSet  byte = 0x41
	opCodeVendorMsg    byte = 0x32
	opCodeGetResponse  byte = 0x3C
	opCodeStatusResp   byte = 0x12
	statusOK           byte = 0x00
)

// GearResetter is the narrow slice of shift.Controller the RESET opcode
// needs; declared here instead of importing the shift package directly so
// ridecontrol and shift do not import each other.
type GearResetter interface {
	Reset()
}

// Handler is installed as the write handler on Sync RX. It detects RideOn,
// dispatches the ride-control opcode set, and re-arms the keep-alive timer
// on every handshake; it never disarms it.
type Handler struct {
	mirror   *gatt.Mirror
	logger   *log.Logger
	state    *State
	gear     GearResetter
	battery  external.BatteryLevelProvider
	keepAlive *KeepAlive

	deviceInfo map[uint16][]byte
}

// New creates a ride-control handler. battery may be nil if no battery
// provider is wired yet; the GET opcode then reports defaultBatteryLevel
// for the battery object id.
func New(mirror *gatt.Mirror, logger *log.Logger, gear GearResetter, battery external.BatteryLevelProvider, keepAlive *KeepAlive) *Handler {
	if mirror == nil {
		panic("ridecontrol.New: mirror cannot be nil")
	}
	if logger == nil {
		panic("ridecontrol.New: logger cannot be nil")
	}
	if gear == nil {
		panic("ridecontrol.New: gear cannot be nil")
	}
	if keepAlive == nil {
		panic("ridecontrol.New: keepAlive cannot be nil")
	}
	h := &Handler{
		mirror:     mirror,
		logger:     logger,
		state:      &State{},
		gear:       gear,
		battery:    battery,
		keepAlive:  keepAlive,
		deviceInfo: make(map[uint16][]byte),
	}
	keepAlive.bind(h.state)
	return h
}

// State returns the handshake state this handler owns.
func (h *Handler) State() *State {
	return h.state
}

// SetDeviceInfoObject registers the payload a GET(id) request returns for
// a given object id, letting the deployment surface real device-info and
// battery-state objects instead of the empty payload the core requires at
// minimum (§4.7 GET).
func (h *Handler) SetDeviceInfoObject(id uint16, payload []byte) {
	h.deviceInfo[id] = payload
}

// HandleSyncRXWrite is the gatt.WriteHandler installed on Sync RX.
func (h *Handler) HandleSyncRXWrite(value []byte) {
	if bytes.Equal(value, RideOn) {
		h.state.setHandshakeComplete(true)
		h.keepAlive.Arm()
		h.notify(rideOnResponse)
		return
	}

	if len(value) == 0 {
		return
	}

	opCode := value[0]
	params := value[1:]

	switch opCode {
	case opCodeGet:
		h.handleGet(params)
	case opCodeReset:
		h.gear.Reset()
		h.notify([]byte{opCodeStatusResp, statusOK})
	case opCodeLogLevelSet:
		h.logger.Printf("ridecontrol: log level set to %v", params)
		h.notify([]byte{opCodeStatusResp, statusOK})
	case opCodeVendorMsg:
		h.logger.Printf("ridecontrol: vendor message, %d bytes", len(params))
		h.notify([]byte{opCodeStatusResp, statusOK})
	default:
		h.logger.Printf("ridecontrol: unrecognized opcode 0x%02x, replying success", opCode)
		h.notify([]byte{opCodeStatusResp, statusOK})
	}
}

func (h *Handler) handleGet(params []byte) {
	var id uint16
	switch len(params) {
	case 1:
		id = uint16(params[0])
	case 2:
		id = uint16(params[0]) | uint16(params[1])<<8
	default:
		h.notify([]byte{opCodeStatusResp, statusOK})
		return
	}

	var payload []byte
	if id == batteryObjectID {
		payload = []byte{h.batteryLevel()}
	} else {
		payload = h.deviceInfo[id]
	}

	response := []byte{opCodeGetResponse, byte(id), byte(id >> 8)}
	response = append(response, payload...)
	h.notify(response)
}

// Well-known GET object ids: device-information fields and battery level.
// §4.7 leaves these implementer-defined ("MAY populate with real
// device-information/battery-state objects"); original_source/ never
// implements the GET path at all (BLE_KickrBikeService.cpp only declares
// processWrite, it doesn't define it), so these ids are this
// implementation's own choice, not a value carried over from anywhere.
const (
	ObjectIDManufacturerName uint16 = 0x01
	ObjectIDModelNumber      uint16 = 0x02
	ObjectIDSerialNumber     uint16 = 0x03
	ObjectIDHardwareRevision uint16 = 0x04
	ObjectIDFirmwareRevision uint16 = 0x05
	batteryObjectID          uint16 = 0x10
)

// defaultBatteryLevel is reported when no BatteryLevelProvider is wired,
// e.g. a mains-powered bridge with no handlebar controller battery to read.
const defaultBatteryLevel uint8 = 100

func (h *Handler) batteryLevel() uint8 {
	if h.battery == nil {
		return defaultBatteryLevel
	}
	return h.battery.BatteryLevel()
}

func (h *Handler) notify(payload []byte) {
	if err := h.mirror.Notify(gatt.ZwiftRideSyncTXUUID, payload); err != nil {
		h.logger.Printf("ridecontrol: sync tx notify failed: %v", err)
	}
}
