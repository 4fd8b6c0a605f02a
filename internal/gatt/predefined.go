package gatt

// Well-known service and characteristic UUIDs the bridge exposes. Values
// come straight from the Bluetooth SIG base (FTMS) and from the reversed
// Zwift Ride service observed on the wire (§4.2).
var (
	ZwiftRideServiceUUID = MustParseUUID("0000fc82-0000-1000-8000-00805f9b34fb")
	ZwiftRideSyncRXUUID  = MustParseUUID("00000003-19ca-4651-86e5-fa29dcdd09d1")
	ZwiftRideAsyncTXUUID = MustParseUUID("00000002-19ca-4651-86e5-fa29dcdd09d1")
	ZwiftRideSyncTXUUID  = MustParseUUID("00000004-19ca-4651-86e5-fa29dcdd09d1")

	FTMSServiceUUID              = MustParseUUID("00001826-0000-1000-8000-00805f9b34fb")
	FTMSControlPointUUID         = MustParseUUID("00002ad9-0000-1000-8000-00805f9b34fb")
	FTMSIndoorBikeDataUUID       = MustParseUUID("00002ad2-0000-1000-8000-00805f9b34fb")
	FTMSSimulationParametersUUID = MustParseUUID("00002ad5-0000-1000-8000-00805f9b34fb")
	FTMSMachineStatusUUID        = MustParseUUID("00002ada-0000-1000-8000-00805f9b34fb")
	FTMSFeatureUUID              = MustParseUUID("00002acc-0000-1000-8000-00805f9b34fb")

	DeviceInfoServiceUUID        = MustParseUUID("0000180a-0000-1000-8000-00805f9b34fb")
	DeviceInfoManufacturerUUID   = MustParseUUID("00002a29-0000-1000-8000-00805f9b34fb")
	DeviceInfoModelNumberUUID    = MustParseUUID("00002a24-0000-1000-8000-00805f9b34fb")
	DeviceInfoSerialNumberUUID   = MustParseUUID("00002a25-0000-1000-8000-00805f9b34fb")

	BatteryServiceUUID = MustParseUUID("0000180f-0000-1000-8000-00805f9b34fb")
	BatteryLevelUUID   = MustParseUUID("00002a19-0000-1000-8000-00805f9b34fb")
)

// RegisterZwiftRideService adds the Sync RX / Async TX / Sync TX
// characteristics that the Zwift Ride handshake and keep-alive state
// machine (internal/ridecontrol) drive. onSyncRXWrite receives every write
// to Sync RX, including the RideOn trigger frame.
func RegisterZwiftRideService(m *Mirror, onSyncRXWrite WriteHandler) {
	m.RegisterService(ZwiftRideServiceUUID, []CharacteristicSpec{
		{
			UUID:       ZwiftRideSyncRXUUID,
			Properties: PropWrite,
			OnWrite:    onSyncRXWrite,
		},
		{
			UUID:       ZwiftRideAsyncTXUUID,
			Properties: PropNotify,
		},
		{
			UUID:       ZwiftRideSyncTXUUID,
			Properties: PropNotify,
		},
	})
}

// RegisterFTMSService adds the Fitness Machine Service characteristics the
// bridge implements: Feature (static bitfield), Indoor Bike Data (notify,
// driven by the trainer's telemetry), Control Point (write+indicate,
// op-code dispatch), Simulation Parameters (write, direct grade updates)
// and Machine Status (notify).
func RegisterFTMSService(m *Mirror, feature []byte, onControlPointWrite, onSimulationParametersWrite WriteHandler) {
	m.RegisterService(FTMSServiceUUID, []CharacteristicSpec{
		{
			UUID:         FTMSFeatureUUID,
			Properties:   PropRead,
			InitialValue: feature,
		},
		{
			UUID:       FTMSIndoorBikeDataUUID,
			Properties: PropNotify,
		},
		{
			UUID:       FTMSControlPointUUID,
			Properties: PropWrite | PropIndicate,
			OnWrite:    onControlPointWrite,
		},
		{
			UUID:       FTMSSimulationParametersUUID,
			Properties: PropWrite | PropRead,
			OnWrite:    onSimulationParametersWrite,
		},
		{
			UUID:       FTMSMachineStatusUUID,
			Properties: PropNotify,
		},
	})
}

// RegisterDeviceInfoService adds the static identification characteristics
// surfaced through the ride-control GET object (0x08) and read directly by
// any BLE central that discovers Device Information (§ supplemented
// features: device info objects).
func RegisterDeviceInfoService(m *Mirror, manufacturer, model, serial string) {
	m.RegisterService(DeviceInfoServiceUUID, []CharacteristicSpec{
		{UUID: DeviceInfoManufacturerUUID, Properties: PropRead, InitialValue: []byte(manufacturer)},
		{UUID: DeviceInfoModelNumberUUID, Properties: PropRead, InitialValue: []byte(model)},
		{UUID: DeviceInfoSerialNumberUUID, Properties: PropRead, InitialValue: []byte(serial)},
	})
}

// RegisterBatteryService adds the Battery Level characteristic. initial is
// the percentage (0-100) reported at startup, before any real reading is
// available from a BatteryLevelProvider.
func RegisterBatteryService(m *Mirror, initial uint8) {
	m.RegisterService(BatteryServiceUUID, []CharacteristicSpec{
		{UUID: BatteryLevelUUID, Properties: PropRead | PropNotify, InitialValue: []byte{initial}},
	})
}
