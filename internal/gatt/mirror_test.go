package gatt

import (
	"log"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", 0)
}

var testCharUUID = MustParseUUID("00000003-19ca-4651-86e5-fa29dcdd09d1")
var testServiceUUID = MustParseUUID("0000fc82-0000-1000-8000-00805f9b34fb")

func newTestMirror(specs []CharacteristicSpec) *Mirror {
	m := NewMirror(testLogger())
	m.RegisterService(testServiceUUID, specs)
	return m
}

func TestMirror_RegisterService_DuplicatePanics(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropRead}})
	assert.Panics(t, func() {
		m.RegisterService(testServiceUUID, nil)
	})
}

func TestMirror_ValueAndWrite(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{
		{UUID: testCharUUID, Properties: PropWrite | PropRead, InitialValue: []byte{0x01}},
	})

	v, err := m.Value(testCharUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, v)

	err = m.Write(testCharUUID, []byte{0x02, 0x03})
	require.NoError(t, err)

	v, err = m.Value(testCharUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03}, v)
}

func TestMirror_Write_RejectsUnwritable(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropRead}})
	err := m.Write(testCharUUID, []byte{0x01})
	assert.ErrorIs(t, err, ErrPropertyNotSupported)
}

func TestMirror_Write_RejectsEmptyValue(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropWrite}})
	err := m.Write(testCharUUID, nil)
	assert.ErrorIs(t, err, ErrValueEmpty)
}

func TestMirror_Write_RejectsOverlongValue(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropWrite}})
	err := m.Write(testCharUUID, make([]byte, MaxValueLength+1))
	assert.ErrorIs(t, err, ErrValueTooLong)
}

func TestMirror_Write_AcceptsMaxLengthValue(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropWrite}})
	err := m.Write(testCharUUID, make([]byte, MaxValueLength))
	assert.NoError(t, err)
}

func TestMirror_Write_UnknownCharacteristic(t *testing.T) {
	m := newTestMirror(nil)
	err := m.Write(MustParseUUID("00000099-19ca-4651-86e5-fa29dcdd09d1"), []byte{0x01})
	assert.ErrorIs(t, err, ErrCharacteristicNotFound)
}

func TestMirror_Write_InvokesHandlerAfterCommit(t *testing.T) {
	var seen []byte
	var m *Mirror
	handler := func([]byte) { seen, _ = m.Value(testCharUUID) }

	m = newTestMirror([]CharacteristicSpec{
		{UUID: testCharUUID, Properties: PropWrite, OnWrite: handler},
	})

	err := m.Write(testCharUUID, []byte{0xAA})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, seen)
}

func TestMirror_Subscribe_RequiresNotifyOrIndicate(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropWrite}})
	err := m.Subscribe("session-1", testCharUUID)
	assert.ErrorIs(t, err, ErrPropertyNotSupported)
}

type recordingNotifier struct {
	mu      sync.Mutex
	values  [][]byte
}

func (r *recordingNotifier) Notify(uuid UUID, value []byte) {
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

func TestMirror_Notify_DeliversToSubscribers(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropNotify}})

	n := &recordingNotifier{}
	m.RegisterNotifier("session-1", n)
	require.NoError(t, m.Subscribe("session-1", testCharUUID))

	require.NoError(t, m.Notify(testCharUUID, []byte{0x01, 0x02}))

	assert.Equal(t, [][]byte{{0x01, 0x02}}, n.received())

	v, err := m.Value(testCharUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, v)
}

func TestMirror_Notify_SkipsUnsubscribedSessions(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropNotify}})

	n := &recordingNotifier{}
	m.RegisterNotifier("session-1", n)

	require.NoError(t, m.Notify(testCharUUID, []byte{0x01}))
	assert.Empty(t, n.received())
}

func TestMirror_DropSession_IsIdempotent(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropNotify}})

	n := &recordingNotifier{}
	m.RegisterNotifier("session-1", n)
	require.NoError(t, m.Subscribe("session-1", testCharUUID))

	m.DropSession("session-1")
	m.DropSession("session-1")

	assert.False(t, m.IsSubscribed("session-1", testCharUUID))
	assert.False(t, m.HasSubscribers(testCharUUID))

	require.NoError(t, m.Notify(testCharUUID, []byte{0x09}))
	assert.Empty(t, n.received())
}

func TestMirror_Characteristics_UnknownService(t *testing.T) {
	m := newTestMirror(nil)
	_, _, err := m.Characteristics(MustParseUUID("00000099-19ca-4651-86e5-fa29dcdd09d1"))
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestMirror_ConcurrentWritesAndNotifies(t *testing.T) {
	m := newTestMirror([]CharacteristicSpec{{UUID: testCharUUID, Properties: PropWrite | PropNotify}})

	n := &recordingNotifier{}
	m.RegisterNotifier("session-1", n)
	require.NoError(t, m.Subscribe("session-1", testCharUUID))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Write(testCharUUID, []byte{byte(i)})
			_ = m.Notify(testCharUUID, []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, n.received(), 50)
}
