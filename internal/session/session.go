package session

import (
	"errors"
	"log"
	"net"
	"sync"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
	"github.com/kickrbridge/kickrbridge/internal/safego"
	"github.com/kickrbridge/kickrbridge/internal/tnp"
)

const outboundQueueDepth = 32

// Session owns one TCP client connection. It buffers inbound bytes,
// decodes and dispatches TNP requests against the Mirror, and implements
// gatt.Notifier so the Mirror can deliver notifications back out as
// unsolicited frames.
type Session struct {
	id     string
	conn   net.Conn
	mirror *gatt.Mirror
	logger *log.Logger

	recvBuf []byte

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an accepted connection. The caller must call Run to start
// serving it.
func New(id string, conn net.Conn, mirror *gatt.Mirror, logger *log.Logger) *Session {
	if conn == nil {
		panic("session.New: conn cannot be nil")
	}
	if mirror == nil {
		panic("session.New: mirror cannot be nil")
	}
	if logger == nil {
		panic("session.New: logger cannot be nil")
	}
	return &Session{
		id:       id,
		conn:     conn,
		mirror:   mirror,
		logger:   logger,
		outbound: make(chan []byte, outboundQueueDepth),
		done:     make(chan struct{}),
	}
}

// ID returns the session's Mirror subscriber key.
func (s *Session) ID() string { return s.id }

// Run drives the session's read loop until the connection closes or a
// fatal I/O error occurs. It always tears down the session's Mirror
// subscriptions before returning, even on an abnormal exit.
func (s *Session) Run() {
	s.mirror.RegisterNotifier(s.id, s)
	safego.Go(s.logger, s.writeLoop)
	defer s.close()

	readBuf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(readBuf)
		if n > 0 {
			s.recvBuf = append(s.recvBuf, readBuf[:n]...)
			s.drainFrames()
		}
		if err != nil {
			s.logger.Printf("session %s: connection closed: %v", s.id, err)
			return
		}
	}
}

func (s *Session) drainFrames() {
	for {
		frame, consumed, err := tnp.Decode(s.recvBuf)
		if errors.Is(err, tnp.ErrIncomplete) {
			return
		}
		if err != nil {
			s.logger.Printf("session %s: dropping unparseable buffer: %v", s.id, err)
			s.recvBuf = s.recvBuf[:0]
			return
		}
		s.recvBuf = s.recvBuf[consumed:]
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(f *tnp.Frame) {
	if f.Version != tnp.ProtocolVersion {
		s.respond(f.Sequence, f.MessageID, tnp.ResponseUnknownProtocol, nil)
		return
	}
	if !f.IsRequest() {
		// A response to one of our own unsolicited frames; nothing to do.
		return
	}

	switch f.MessageID {
	case tnp.MessageDiscoverServices:
		s.handleDiscoverServices(f)
	case tnp.MessageDiscoverCharacteristics:
		s.handleDiscoverCharacteristics(f)
	case tnp.MessageRead:
		s.handleRead(f)
	case tnp.MessageWrite:
		s.handleWrite(f)
	case tnp.MessageEnableNotifications:
		s.handleEnableNotifications(f)
	default:
		s.respond(f.Sequence, f.MessageID, tnp.ResponseUnknownMessageType, nil)
	}
}

func (s *Session) handleDiscoverServices(f *tnp.Frame) {
	body := tnp.EncodeServiceList(s.mirror.ServiceUUIDs())
	s.respond(f.Sequence, tnp.MessageDiscoverServices, tnp.ResponseSuccess, body)
}

func (s *Session) handleDiscoverCharacteristics(f *tnp.Frame) {
	serviceUUID, err := tnp.DecodeDiscoverCharacteristicsRequest(f.Body)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageDiscoverCharacteristics, tnp.ResponseUnexpectedError, nil)
		return
	}

	uuids, props, err := s.mirror.Characteristics(serviceUUID)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageDiscoverCharacteristics, tnp.ResponseServiceNotFound, nil)
		return
	}

	entries := make([]tnp.CharacteristicEntry, len(uuids))
	for i := range uuids {
		entries[i] = tnp.CharacteristicEntry{UUID: uuids[i], Properties: props[i]}
	}
	body := tnp.EncodeCharacteristicList(serviceUUID, entries)
	s.respond(f.Sequence, tnp.MessageDiscoverCharacteristics, tnp.ResponseSuccess, body)
}

func (s *Session) handleRead(f *tnp.Frame) {
	uuid, err := tnp.DecodeReadRequest(f.Body)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageRead, tnp.ResponseUnexpectedError, nil)
		return
	}

	props, err := s.mirror.Properties(uuid)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageRead, tnp.ResponseCharNotFound, nil)
		return
	}
	if !props.Has(gatt.PropRead) {
		s.respond(f.Sequence, tnp.MessageRead, tnp.ResponseOpNotSupported, nil)
		return
	}

	value, err := s.mirror.Value(uuid)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageRead, tnp.ResponseCharNotFound, nil)
		return
	}
	s.respond(f.Sequence, tnp.MessageRead, tnp.ResponseSuccess, tnp.EncodeUUIDAndValue(uuid, value))
}

func (s *Session) handleWrite(f *tnp.Frame) {
	uuid, value, err := tnp.DecodeWriteRequest(f.Body)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageWrite, tnp.ResponseUnexpectedError, nil)
		return
	}

	props, err := s.mirror.Properties(uuid)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageWrite, tnp.ResponseCharNotFound, nil)
		return
	}
	if !props.Has(gatt.PropWrite) {
		s.respond(f.Sequence, tnp.MessageWrite, tnp.ResponseOpNotSupported, nil)
		return
	}

	if err := s.mirror.Write(uuid, value); err != nil {
		s.respond(f.Sequence, tnp.MessageWrite, tnp.ResponseWriteFailed, nil)
		return
	}
	s.respond(f.Sequence, tnp.MessageWrite, tnp.ResponseSuccess, tnp.EncodeUUIDEcho(uuid))
}

func (s *Session) handleEnableNotifications(f *tnp.Frame) {
	uuid, enable, err := tnp.DecodeEnableNotificationsRequest(f.Body)
	if err != nil {
		s.respond(f.Sequence, tnp.MessageEnableNotifications, tnp.ResponseUnexpectedError, nil)
		return
	}

	var opErr error
	if enable {
		opErr = s.mirror.Subscribe(s.id, uuid)
	} else {
		opErr = s.mirror.Unsubscribe(s.id, uuid)
	}

	switch {
	case errors.Is(opErr, gatt.ErrCharacteristicNotFound):
		s.respond(f.Sequence, tnp.MessageEnableNotifications, tnp.ResponseCharNotFound, nil)
	case errors.Is(opErr, gatt.ErrPropertyNotSupported):
		s.respond(f.Sequence, tnp.MessageEnableNotifications, tnp.ResponseOpNotSupported, nil)
	case opErr != nil:
		s.respond(f.Sequence, tnp.MessageEnableNotifications, tnp.ResponseUnexpectedError, nil)
	default:
		s.respond(f.Sequence, tnp.MessageEnableNotifications, tnp.ResponseSuccess, tnp.EncodeUUIDEcho(uuid))
	}
}

// respond enqueues a response frame, blocking until the writer can accept
// it. Responses are never dropped: unlike fanout notifications, silently
// losing one would desynchronize the peer's request/response accounting.
func (s *Session) respond(seq uint8, msgID tnp.MessageID, code tnp.ResponseCode, body []byte) {
	frame := &tnp.Frame{
		Version:      tnp.ProtocolVersion,
		MessageID:    msgID,
		Sequence:     seq,
		ResponseCode: code,
		Body:         body,
	}
	encoded, err := tnp.Encode(frame)
	if err != nil {
		s.logger.Printf("session %s: failed to encode response: %v", s.id, err)
		return
	}
	select {
	case s.outbound <- encoded:
	case <-s.done:
	}
}

// Notify implements gatt.Notifier. Unsolicited notifications always carry
// sequence 0 (§4.1) and are dropped rather than blocked if this session's
// writer has fallen behind, so one slow subscriber cannot stall fanout to
// the rest.
func (s *Session) Notify(uuid gatt.UUID, value []byte) {
	frame := &tnp.Frame{
		Version:      tnp.ProtocolVersion,
		MessageID:    tnp.MessageUnsolicitedNotification,
		Sequence:     0,
		ResponseCode: tnp.ResponseSuccess,
		Body:         tnp.EncodeUUIDAndValue(uuid, value),
	}
	encoded, err := tnp.Encode(frame)
	if err != nil {
		s.logger.Printf("session %s: failed to encode notification: %v", s.id, err)
		return
	}
	select {
	case s.outbound <- encoded:
	default:
		s.logger.Printf("session %s: outbound queue full, dropping notification for %s", s.id, uuid)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.outbound:
			if _, err := s.conn.Write(data); err != nil {
				s.logger.Printf("session %s: write error: %v", s.id, err)
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.mirror.DropSession(s.id)
	})
}
