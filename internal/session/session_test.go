package session

import (
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
	"github.com/kickrbridge/kickrbridge/internal/tnp"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", 0)
}

func newTestPair(t *testing.T) (*Session, net.Conn, *gatt.Mirror) {
	t.Helper()
	server, client := net.Pipe()

	mirror := gatt.NewMirror(testLogger())
	gatt.RegisterZwiftRideService(mirror, func([]byte) {})

	s := New("test-session", server, mirror, testLogger())
	go s.Run()
	t.Cleanup(func() { client.Close() })

	return s, client, mirror
}

func readFrame(t *testing.T, conn net.Conn) *tnp.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	header := make([]byte, tnp.HeaderSize)
	_, err := readFull(conn, header)
	require.NoError(t, err)

	bodyLen := int(header[4])<<8 | int(header[5])
	buf := header
	if bodyLen > 0 {
		body := make([]byte, bodyLen)
		_, err := readFull(conn, body)
		require.NoError(t, err)
		buf = append(buf, body...)
	}

	frame, _, err := tnp.Decode(buf)
	require.NoError(t, err)
	return frame
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sendFrame(t *testing.T, conn net.Conn, f *tnp.Frame) {
	t.Helper()
	encoded, err := tnp.Encode(f)
	require.NoError(t, err)
	_, err = conn.Write(encoded)
	require.NoError(t, err)
}

func TestSession_DiscoverServices(t *testing.T) {
	_, client, _ := newTestPair(t)

	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageDiscoverServices, Sequence: 1})

	resp := readFrame(t, client)
	assert.Equal(t, tnp.ResponseSuccess, resp.ResponseCode)
	assert.EqualValues(t, 1, resp.Sequence)

	uuids, err := tnp.DecodeServiceList(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, uuids, gatt.ZwiftRideServiceUUID)
}

func TestSession_DiscoverCharacteristics(t *testing.T) {
	_, client, _ := newTestPair(t)

	body := tnp.EncodeUUIDEcho(gatt.ZwiftRideServiceUUID)
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageDiscoverCharacteristics, Sequence: 2, Body: body})

	resp := readFrame(t, client)
	require.Equal(t, tnp.ResponseSuccess, resp.ResponseCode)

	svcUUID, entries, err := tnp.DecodeCharacteristicList(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, gatt.ZwiftRideServiceUUID, svcUUID)
	assert.Len(t, entries, 3)
}

func TestSession_DiscoverCharacteristics_UnknownService(t *testing.T) {
	_, client, _ := newTestPair(t)

	body := tnp.EncodeUUIDEcho(gatt.MustParseUUID("00001111-0000-1000-8000-00805f9b34fb"))
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageDiscoverCharacteristics, Sequence: 3, Body: body})

	resp := readFrame(t, client)
	assert.Equal(t, tnp.ResponseServiceNotFound, resp.ResponseCode)
}

func TestSession_Write_ThenNotify(t *testing.T) {
	_, client, mirror := newTestPair(t)

	// enable notifications on Sync TX
	enableBody := append(tnp.EncodeUUIDEcho(gatt.ZwiftRideSyncTXUUID), 0x01)
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageEnableNotifications, Sequence: 4, Body: enableBody})
	resp := readFrame(t, client)
	require.Equal(t, tnp.ResponseSuccess, resp.ResponseCode)

	// write RideOn to Sync RX
	writeBody := tnp.EncodeUUIDAndValue(gatt.ZwiftRideSyncRXUUID, []byte("RideOn"))
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageWrite, Sequence: 5, Body: writeBody})
	writeResp := readFrame(t, client)
	require.Equal(t, tnp.ResponseSuccess, writeResp.ResponseCode)
	assert.EqualValues(t, 5, writeResp.Sequence)

	// the mirror itself can push a notification asynchronously
	require.NoError(t, mirror.Notify(gatt.ZwiftRideSyncTXUUID, []byte{0x12, 0x00}))

	notif := readFrame(t, client)
	assert.Equal(t, tnp.MessageUnsolicitedNotification, notif.MessageID)
	assert.EqualValues(t, 0, notif.Sequence)

	uuid, value, err := tnp.DecodeUUIDAndValue(notif.Body)
	require.NoError(t, err)
	assert.Equal(t, gatt.ZwiftRideSyncTXUUID, uuid)
	assert.Equal(t, []byte{0x12, 0x00}, value)
}

func TestSession_Write_RejectsMissingWriteProperty(t *testing.T) {
	_, client, _ := newTestPair(t)

	writeBody := tnp.EncodeUUIDAndValue(gatt.ZwiftRideAsyncTXUUID, []byte{0x01})
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageWrite, Sequence: 6, Body: writeBody})

	resp := readFrame(t, client)
	assert.Equal(t, tnp.ResponseOpNotSupported, resp.ResponseCode)
}

func TestSession_Write_RejectsEmptyBody(t *testing.T) {
	_, client, _ := newTestPair(t)

	writeBody := tnp.EncodeUUIDAndValue(gatt.ZwiftRideSyncRXUUID, nil)
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageWrite, Sequence: 7, Body: writeBody})

	resp := readFrame(t, client)
	assert.Equal(t, tnp.ResponseWriteFailed, resp.ResponseCode)
}

func TestSession_Write_RejectsOverlongBody(t *testing.T) {
	_, client, _ := newTestPair(t)

	writeBody := tnp.EncodeUUIDAndValue(gatt.ZwiftRideSyncRXUUID, make([]byte, gatt.MaxValueLength+1))
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageWrite, Sequence: 8, Body: writeBody})

	resp := readFrame(t, client)
	assert.Equal(t, tnp.ResponseWriteFailed, resp.ResponseCode)
}

func TestSession_UnknownProtocolVersion(t *testing.T) {
	_, client, _ := newTestPair(t)

	sendFrame(t, client, &tnp.Frame{Version: 9, MessageID: tnp.MessageDiscoverServices, Sequence: 1})

	resp := readFrame(t, client)
	assert.Equal(t, tnp.ResponseUnknownProtocol, resp.ResponseCode)
}

func TestSession_Close_DropsSubscriptions(t *testing.T) {
	s, client, mirror := newTestPair(t)

	enableBody := append(tnp.EncodeUUIDEcho(gatt.ZwiftRideSyncTXUUID), 0x01)
	sendFrame(t, client, &tnp.Frame{Version: tnp.ProtocolVersion, MessageID: tnp.MessageEnableNotifications, Sequence: 1, Body: enableBody})
	readFrame(t, client)

	require.True(t, mirror.IsSubscribed(s.ID(), gatt.ZwiftRideSyncTXUUID))

	client.Close()
	require.Eventually(t, func() bool {
		return !mirror.IsSubscribed(s.ID(), gatt.ZwiftRideSyncTXUUID)
	}, time.Second, 10*time.Millisecond)

	// must not panic when notifying after the session dropped
	assert.NotPanics(t, func() {
		_ = mirror.Notify(gatt.ZwiftRideSyncTXUUID, []byte{0x01})
	})
}
