package ridecontrol

import (
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", 0)
}

type recordingNotifier struct {
	mu     sync.Mutex
	values [][]byte
}

func (r *recordingNotifier) Notify(uuid gatt.UUID, value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value)
}

func (r *recordingNotifier) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.values))
	copy(out, r.values)
	return out
}

type fakeGearResetter struct {
	resetCount int
}

func (f *fakeGearResetter) Reset() { f.resetCount++ }

type fakeBattery struct{ level uint8 }

func (f fakeBattery) BatteryLevel() uint8 { return f.level }

func newTestHandler(t *testing.T) (*Handler, *gatt.Mirror, *recordingNotifier, *fakeGearResetter) {
	t.Helper()
	mirror := gatt.NewMirror(testLogger())
	gear := &fakeGearResetter{}
	ka := NewKeepAlive(mirror, testLogger())
	h := New(mirror, testLogger(), gear, fakeBattery{level: 77}, ka)
	gatt.RegisterZwiftRideService(mirror, h.HandleSyncRXWrite)

	recv := &recordingNotifier{}
	mirror.RegisterNotifier("sub", recv)
	require.NoError(t, mirror.Subscribe("sub", gatt.ZwiftRideSyncTXUUID))

	return h, mirror, recv, gear
}

func TestHandleSyncRXWrite_RideOn_EmitsHandshakeResponse(t *testing.T) {
	h, mirror, recv, _ := newTestHandler(t)

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, RideOn))

	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{'R', 'i', 'd', 'e', 'O', 'n', 0x01, 0x03}, values[0])
	assert.True(t, h.State().HandshakeComplete())
}

func TestHandleSyncRXWrite_Reset_CallsGearResetterAndReplies(t *testing.T) {
	_, mirror, recv, gear := newTestHandler(t)

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, []byte{opCodeReset}))

	assert.Equal(t, 1, gear.resetCount)
	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{opCodeStatusResp, statusOK}, values[0])
}

func TestHandleSyncRXWrite_LogLevelSet_RepliesSuccess(t *testing.T) {
	_, mirror, recv, _ := newTestHandler(t)

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, []byte{opCodeLogLevelSet, 0x02}))

	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{opCodeStatusResp, statusOK}, values[0])
}

func TestHandleSyncRXWrite_VendorMessage_RepliesSuccess(t *testing.T) {
	_, mirror, recv, _ := newTestHandler(t)

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, []byte{opCodeVendorMsg, 0xAA, 0xBB}))

	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{opCodeStatusResp, statusOK}, values[0])
}

func TestHandleSyncRXWrite_UnknownOpcode_PermissiveReply(t *testing.T) {
	_, mirror, recv, _ := newTestHandler(t)

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, []byte{0xFE}))

	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{opCodeStatusResp, statusOK}, values[0])
}

func TestHandleSyncRXWrite_Get_UnknownObjectReturnsEmptyPayload(t *testing.T) {
	_, mirror, recv, _ := newTestHandler(t)

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, []byte{opCodeGet, 0x07}))

	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{opCodeGetResponse, 0x07, 0x00}, values[0])
}

func TestHandleSyncRXWrite_Get_BatteryObject(t *testing.T) {
	_, mirror, recv, _ := newTestHandler(t)

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, []byte{opCodeGet, byte(batteryObjectID), byte(batteryObjectID >> 8)}))

	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{opCodeGetResponse, byte(batteryObjectID), byte(batteryObjectID >> 8), 77}, values[0])
}

func TestHandleSyncRXWrite_Get_TwoByteLittleEndianID(t *testing.T) {
	h, mirror, recv, _ := newTestHandler(t)
	h.SetDeviceInfoObject(0x0102, []byte("hi"))

	// The wire encodes the id little-endian: byte0=0x02 (lo), byte1=0x01 (hi),
	// which decodes to object 0x0102.
	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, []byte{opCodeGet, 0x02, 0x01}))

	values := recv.received()
	require.Len(t, values, 1)
	assert.Equal(t, []byte{opCodeGetResponse, 0x02, 0x01, 'h', 'i'}, values[0])
}

func TestKeepAlive_EmitsAfterHandshakeWhileSubscribed(t *testing.T) {
	mirror := gatt.NewMirror(testLogger())
	gear := &fakeGearResetter{}
	ka := NewKeepAlive(mirror, testLogger())
	h := New(mirror, testLogger(), gear, nil, ka)
	gatt.RegisterZwiftRideService(mirror, h.HandleSyncRXWrite)

	recv := &recordingNotifier{}
	mirror.RegisterNotifier("sub", recv)
	require.NoError(t, mirror.Subscribe("sub", gatt.ZwiftRideSyncTXUUID))

	ka.Start()
	defer ka.Stop()

	require.NoError(t, mirror.Write(gatt.ZwiftRideSyncRXUUID, RideOn))

	require.Eventually(t, func() bool {
		for _, v := range recv.received() {
			if len(v) == 37 {
				return true
			}
		}
		return false
	}, KeepAliveInterval+time.Second, 20*time.Millisecond)
}

func TestKeepAlive_SilentWithoutHandshake(t *testing.T) {
	mirror := gatt.NewMirror(testLogger())
	gear := &fakeGearResetter{}
	ka := NewKeepAlive(mirror, testLogger())
	ka.SetInterval(10 * time.Millisecond)
	h := New(mirror, testLogger(), gear, nil, ka)
	gatt.RegisterZwiftRideService(mirror, h.HandleSyncRXWrite)

	recv := &recordingNotifier{}
	mirror.RegisterNotifier("sub", recv)
	require.NoError(t, mirror.Subscribe("sub", gatt.ZwiftRideSyncTXUUID))

	ka.Start()
	defer ka.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, recv.received())
}
