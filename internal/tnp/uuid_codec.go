package tnp

import "github.com/kickrbridge/kickrbridge/internal/gatt"

// EncodeUUID renders a canonical UUID in the fully byte-reversed form the
// TNP wire uses. This is the only place in the bridge allowed to call
// UUID.Reversed; every other package deals exclusively in canonical order.
func EncodeUUID(u gatt.UUID) [16]byte {
	return [16]byte(u.Reversed())
}

// DecodeUUID converts 16 wire-order bytes back to a canonical UUID.
func DecodeUUID(wire [16]byte) gatt.UUID {
	return gatt.UUID(wire).Reversed()
}
