package gatt

// Property is a GATT characteristic property bit, combinable into a mask.
// The wire values match the TNP characteristic-discovery byte (§4.1) exactly
// so the codec can pass a mask through without translation.
type Property uint8

const (
	PropRead     Property = 0x01
	PropWrite    Property = 0x02
	PropNotify   Property = 0x04
	PropIndicate Property = 0x08
)

func (p Property) Has(f Property) bool { return p&f != 0 }

// WriteHandler observes a committed write. It runs after the Mirror has
// already replaced the characteristic's value, so handlers that read the
// current value back via the Mirror see their own write.
type WriteHandler func(value []byte)

// CharacteristicSpec is the startup-time description of a characteristic,
// passed to Mirror.RegisterService.
type CharacteristicSpec struct {
	UUID         UUID
	Properties   Property
	InitialValue []byte
	OnWrite      WriteHandler
}

// characteristic is the Mirror's live entry for one characteristic: current
// value, property mask and subscriber set. The Mirror is the only owner;
// everything else holds a UUID, never a pointer into this struct.
type characteristic struct {
	uuid        UUID
	properties  Property
	value       []byte
	onWrite     WriteHandler
	subscribers map[string]struct{}
}

// service is an ordered set of characteristics sharing a service UUID.
type service struct {
	uuid  UUID
	chars []*characteristic
	byUUID map[UUID]*characteristic
}
