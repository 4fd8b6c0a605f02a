package ftms

import "fmt"

// DecodeSimulationParameters parses the Indoor Bike Simulation Parameters
// write body (§6): little-endian wind speed (i16, mm/s), grade (i16,
// 0.01%), CRR (u8, 0.0001) and CW (u8, 0.01) — 6 bytes total. Only grade
// feeds the shift controller; wind, CRR and CW are accepted but not
// currently modeled by any collaborator.
func DecodeSimulationParameters(body []byte) (gradeBp int32, err error) {
	if len(body) != 6 {
		return 0, fmt.Errorf("ftms: simulation parameters body must be 6 bytes, got %d", len(body))
	}
	grade := int16(uint16(body[2]) | uint16(body[3])<<8)
	return int32(grade), nil
}

// EncodeSimulationParameters is the inverse of DecodeSimulationParameters,
// used by tests and by any future collaborator that needs to originate a
// simulation-parameters write rather than only consume one.
func EncodeSimulationParameters(windMmPerSec int16, gradeBp int16, crr, cw uint8) []byte {
	return []byte{
		byte(windMmPerSec),
		byte(uint16(windMmPerSec) >> 8),
		byte(gradeBp),
		byte(uint16(gradeBp) >> 8),
		crr,
		cw,
	}
}
