package ftms

// Indoor Bike Data flag bits (FTMS 1.0 §4.9.1). Bit 0 is inverted: 0 means
// Instantaneous Speed IS present.
const (
	ibdFlagMoreData             = 1 << 0
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
	ibdFlagExpendedEnergy       = 1 << 8
	ibdFlagHeartRate            = 1 << 9
	ibdFlagMetabolicEquivalent  = 1 << 10
	ibdFlagElapsedTime          = 1 << 11
	ibdFlagRemainingTime        = 1 << 12
)

// IndoorBikeReading holds the subset of Indoor Bike Data fields this bridge
// passes through from the external trainer collaborator's telemetry. Zero
// pointers mean "field absent"; EncodeIndoorBikeData omits absent fields
// entirely rather than sending a zero, since a present zero and an absent
// field mean different things to Zwift.
type IndoorBikeReading struct {
	InstantaneousSpeedKmh   *float64
	InstantaneousCadenceRpm *float64
	InstantaneousPowerWatts *int16
	HeartRateBpm            *uint8
}

// EncodeIndoorBikeData renders r as the Indoor Bike Data characteristic
// payload: a little-endian flags word followed by only the present fields,
// in the fixed order FTMS defines. This is the inverse of the flag-driven
// parse the original device-facing code used when the trainer was itself a
// BLE central consuming this characteristic from someone else.
func EncodeIndoorBikeData(r IndoorBikeReading) []byte {
	var flags uint16
	body := []byte{0x00, 0x00} // placeholder for flags, filled in at the end

	if r.InstantaneousSpeedKmh != nil {
		raw := uint16(*r.InstantaneousSpeedKmh / 0.01)
		body = append(body, byte(raw), byte(raw>>8))
	} else {
		flags |= ibdFlagMoreData
	}

	if r.InstantaneousCadenceRpm != nil {
		flags |= ibdFlagInstantaneousCadence
		raw := uint16(*r.InstantaneousCadenceRpm / 0.5)
		body = append(body, byte(raw), byte(raw>>8))
	}

	if r.InstantaneousPowerWatts != nil {
		flags |= ibdFlagInstantaneousPower
		raw := uint16(*r.InstantaneousPowerWatts)
		body = append(body, byte(raw), byte(raw>>8))
	}

	if r.HeartRateBpm != nil {
		flags |= ibdFlagHeartRate
		body = append(body, *r.HeartRateBpm)
	}

	body[0] = byte(flags)
	body[1] = byte(flags >> 8)
	return body
}
