package tnp

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned by Decode when buf does not yet hold a full
// frame. The caller should keep buffering and try again once more bytes
// arrive; it is not a protocol error.
var ErrIncomplete = errors.New("tnp: incomplete frame")

// Frame is one TNP message: a 6-byte header plus a variable-length body
// (§4.1). Decode never validates that Body has the shape a particular
// MessageID expects — that is the session dispatcher's job, since it is the
// layer that knows what each message id's body must look like.
type Frame struct {
	Version      uint8
	MessageID    MessageID
	Sequence     uint8
	ResponseCode ResponseCode
	Body         []byte
}

// Decode reads exactly one frame from the front of buf and returns it along
// with the number of bytes consumed. If buf does not yet contain a full
// frame it returns ErrIncomplete and a zero consumed count; the caller
// should not advance its read cursor in that case.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrIncomplete
	}

	bodyLen := int(buf[4])<<8 | int(buf[5])
	total := HeaderSize + bodyLen
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	f := &Frame{
		Version:      buf[0],
		MessageID:    MessageID(buf[1]),
		Sequence:     buf[2],
		ResponseCode: ResponseCode(buf[3]),
	}
	if bodyLen > 0 {
		f.Body = append([]byte(nil), buf[HeaderSize:total]...)
	}
	return f, total, nil
}

// Encode serializes f into wire form. It returns an error for a body longer
// than MaxBodySize, which the 2-byte length field cannot represent. Decode
// has no such check, since a decoded length can never exceed MaxBodySize.
func Encode(f *Frame) ([]byte, error) {
	if len(f.Body) > MaxBodySize {
		return nil, fmt.Errorf("tnp: body of %d bytes exceeds max %d", len(f.Body), MaxBodySize)
	}

	buf := make([]byte, HeaderSize+len(f.Body))
	buf[0] = f.Version
	buf[1] = byte(f.MessageID)
	buf[2] = f.Sequence
	buf[3] = byte(f.ResponseCode)
	buf[4] = byte(len(f.Body) >> 8)
	buf[5] = byte(len(f.Body))
	copy(buf[HeaderSize:], f.Body)
	return buf, nil
}

// IsRequest reports whether f should be treated as a request rather than a
// response, using the heuristic that every inbound frame with response code
// 0 is a request the bridge must answer.
func (f *Frame) IsRequest() bool {
	return f.ResponseCode == ResponseSuccess
}
