package mdns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildTXT_EmptyUUIDs(t *testing.T) {
	txt := buildTXT(nil, "AA-BB-CC-DD-EE-FF", "1234")
	assert.Equal(t, []string{
		"ble-service-uuids=",
		"mac-address=AA-BB-CC-DD-EE-FF",
		"serial-number=1234",
	}, txt)
}

func TestBuildTXT_JoinsMultipleUUIDs(t *testing.T) {
	txt := buildTXT([]string{"FC82", "1826"}, "AA-BB-CC-DD-EE-FF", "1234")
	assert.Equal(t, "ble-service-uuids=FC82,1826", txt[0])
}

func TestAdvertiser_AddServiceUUID_Idempotent(t *testing.T) {
	a := &Advertiser{uuidSeen: make(map[string]struct{})}

	_, exists := a.uuidSeen["FC82"]
	assert.False(t, exists)

	a.uuidSeen["FC82"] = struct{}{}
	a.uuids = append(a.uuids, "FC82")

	// a second AddServiceUUID for an already-tracked UUID returns before
	// re-publishing, so it touches no network
	assert.NoError(t, a.AddServiceUUID("FC82"))
	assert.Equal(t, []string{"FC82"}, a.uuids)
}
