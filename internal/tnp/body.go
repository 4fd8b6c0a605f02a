package tnp

import (
	"fmt"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
)

// ErrMalformedBody signals that a frame's response code and message id were
// valid but its body did not have the shape that message id requires. The
// session dispatcher answers these with ResponseUnexpectedError.
var ErrMalformedBody = fmt.Errorf("tnp: malformed body")

const uuidSize = 16

func readUUID(body []byte, offset int) (gatt.UUID, error) {
	if offset+uuidSize > len(body) {
		return gatt.UUID{}, ErrMalformedBody
	}
	var wire [16]byte
	copy(wire[:], body[offset:offset+uuidSize])
	return DecodeUUID(wire), nil
}

// EncodeServiceList builds a discover-services response body: the
// concatenation of every service UUID, wire-reversed.
func EncodeServiceList(uuids []gatt.UUID) []byte {
	out := make([]byte, 0, len(uuids)*uuidSize)
	for _, u := range uuids {
		wire := EncodeUUID(u)
		out = append(out, wire[:]...)
	}
	return out
}

// DecodeServiceList parses a discover-services response body. It also
// serves to validate the request-side invariant that the body length is a
// multiple of 16.
func DecodeServiceList(body []byte) ([]gatt.UUID, error) {
	if len(body)%uuidSize != 0 {
		return nil, ErrMalformedBody
	}
	out := make([]gatt.UUID, 0, len(body)/uuidSize)
	for offset := 0; offset < len(body); offset += uuidSize {
		u, err := readUUID(body, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// DecodeDiscoverCharacteristicsRequest parses the 16-byte service UUID body
// of a discover-characteristics request.
func DecodeDiscoverCharacteristicsRequest(body []byte) (gatt.UUID, error) {
	if len(body) != uuidSize {
		return gatt.UUID{}, ErrMalformedBody
	}
	return readUUID(body, 0)
}

// CharacteristicEntry is one (uuid, property mask) tuple as carried in a
// discover-characteristics response.
type CharacteristicEntry struct {
	UUID       gatt.UUID
	Properties gatt.Property
}

// EncodeCharacteristicList builds a discover-characteristics response body:
// the service UUID followed by a 17-byte entry per characteristic.
func EncodeCharacteristicList(serviceUUID gatt.UUID, entries []CharacteristicEntry) []byte {
	out := make([]byte, 0, uuidSize+len(entries)*17)
	wire := EncodeUUID(serviceUUID)
	out = append(out, wire[:]...)
	for _, e := range entries {
		cw := EncodeUUID(e.UUID)
		out = append(out, cw[:]...)
		out = append(out, byte(e.Properties))
	}
	return out
}

// DecodeCharacteristicList parses a discover-characteristics response body.
func DecodeCharacteristicList(body []byte) (gatt.UUID, []CharacteristicEntry, error) {
	if len(body) < uuidSize {
		return gatt.UUID{}, nil, ErrMalformedBody
	}
	serviceUUID, err := readUUID(body, 0)
	if err != nil {
		return gatt.UUID{}, nil, err
	}
	rest := body[uuidSize:]
	if len(rest)%17 != 0 {
		return gatt.UUID{}, nil, ErrMalformedBody
	}
	entries := make([]CharacteristicEntry, 0, len(rest)/17)
	for offset := 0; offset < len(rest); offset += 17 {
		u, err := readUUID(rest, offset)
		if err != nil {
			return gatt.UUID{}, nil, err
		}
		entries = append(entries, CharacteristicEntry{
			UUID:       u,
			Properties: gatt.Property(rest[offset+uuidSize]),
		})
	}
	return serviceUUID, entries, nil
}

// DecodeReadRequest parses the 16-byte UUID body of a read request.
func DecodeReadRequest(body []byte) (gatt.UUID, error) {
	if len(body) != uuidSize {
		return gatt.UUID{}, ErrMalformedBody
	}
	return readUUID(body, 0)
}

// EncodeUUIDAndValue builds the common "UUID followed by value bytes" body
// shape shared by read responses, write requests and unsolicited
// notifications.
func EncodeUUIDAndValue(u gatt.UUID, value []byte) []byte {
	wire := EncodeUUID(u)
	out := make([]byte, 0, uuidSize+len(value))
	out = append(out, wire[:]...)
	out = append(out, value...)
	return out
}

// DecodeUUIDAndValue parses the "UUID followed by value bytes" body shape
// shared by write requests, read responses and unsolicited notifications.
func DecodeUUIDAndValue(body []byte) (gatt.UUID, []byte, error) {
	if len(body) < uuidSize {
		return gatt.UUID{}, nil, ErrMalformedBody
	}
	u, err := readUUID(body, 0)
	if err != nil {
		return gatt.UUID{}, nil, err
	}
	return u, body[uuidSize:], nil
}

// DecodeWriteRequest parses a write request body: 16-byte UUID followed by
// the value to write.
func DecodeWriteRequest(body []byte) (gatt.UUID, []byte, error) {
	return DecodeUUIDAndValue(body)
}

// DecodeEnableNotificationsRequest parses a 16-byte UUID plus a 1-byte
// enable flag. Per the accepted interoperability quirk (§9 open question),
// bodies longer than 17 bytes are tolerated and any trailing bytes ignored.
func DecodeEnableNotificationsRequest(body []byte) (gatt.UUID, bool, error) {
	if len(body) < uuidSize+1 {
		return gatt.UUID{}, false, ErrMalformedBody
	}
	u, err := readUUID(body, 0)
	if err != nil {
		return gatt.UUID{}, false, err
	}
	return u, body[uuidSize] != 0x00, nil
}

// EncodeUUIDEcho builds the bare 16-byte UUID acknowledgment body used by
// write and enable-notifications responses.
func EncodeUUIDEcho(u gatt.UUID) []byte {
	wire := EncodeUUID(u)
	return append([]byte(nil), wire[:]...)
}
