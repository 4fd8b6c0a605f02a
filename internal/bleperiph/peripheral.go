// Package bleperiph mirrors the Mirror's GATT tree onto the local BLE
// radio using tinygo.org/x/bluetooth, so a nearby central (a bike computer,
// or Zwift itself on a phone) can talk to the bridge without going through
// TCP/mDNS at all (§4.6).
package bleperiph

import (
	"fmt"
	"log"

	"tinygo.org/x/bluetooth"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
)

// AdvertisedServiceUUIDs are the primary service UUIDs put in the BLE
// advertisement itself. The Zwift Ride service is deliberately excluded:
// Zwift discovers it over mDNS/TCP, not BLE (§4.6).
var AdvertisedServiceUUIDs = []gatt.UUID{
	mustParse("00001816-0000-1000-8000-00805f9b34fb"), // Cycling Speed and Cadence
	mustParse("00001818-0000-1000-8000-00805f9b34fb"), // Cycling Power
	mustParse("0000180d-0000-1000-8000-00805f9b34fb"), // Heart Rate
	gatt.FTMSServiceUUID,
}

func mustParse(s string) gatt.UUID { return gatt.MustParseUUID(s) }

// AdvertisingInterval is the connection interval hint advertised to
// centrals: the midpoint of the 160-250 x 1.25ms range called out in §4.6,
// since tinygo's AdvertisementOptions takes a single interval rather than a
// min/max pair.
const AdvertisingInterval = 205 * 1250 * 1000 // nanoseconds: 205 x 1.25ms

// Peripheral owns the local BLE adapter, mirrors every Mirror service onto
// it, and implements gatt.Notifier so Mirror.Notify reaches connected
// centrals as BLE NOTIFY/INDICATE.
type Peripheral struct {
	mirror  *gatt.Mirror
	logger  *log.Logger
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement

	handles map[gatt.UUID]*bluetooth.Characteristic

	sessionID string
}

// SessionID is the fixed Notifier registration key the BLE peripheral uses
// with the Mirror; there is exactly one local radio, so unlike TCP sessions
// it never needs a fresh id per connection.
const SessionID = "ble-peripheral"

// New creates a peripheral bound to the default BLE adapter. Call Start
// after every RegisterXService call the deployment makes, so the GATT tree
// is complete before advertising begins.
func New(mirror *gatt.Mirror, logger *log.Logger) *Peripheral {
	if mirror == nil {
		panic("bleperiph.New: mirror cannot be nil")
	}
	if logger == nil {
		panic("bleperiph.New: logger cannot be nil")
	}
	return &Peripheral{
		mirror:    mirror,
		logger:    logger,
		adapter:   bluetooth.DefaultAdapter,
		handles:   make(map[gatt.UUID]*bluetooth.Characteristic),
		sessionID: SessionID,
	}
}

// Start enables the adapter, mirrors every registered service as a local
// GATT service, and begins advertising with deviceName.
func (p *Peripheral) Start(deviceName string) error {
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("bleperiph: enable adapter: %w", err)
	}

	p.mirror.RegisterNotifier(p.sessionID, p)

	for _, svcUUID := range p.mirror.ServiceUUIDs() {
		if err := p.mirrorService(svcUUID); err != nil {
			return err
		}
	}

	advUUIDs := make([]bluetooth.UUID, len(AdvertisedServiceUUIDs))
	for i, u := range AdvertisedServiceUUIDs {
		advUUIDs[i] = toBTUUID(u)
	}

	p.adv = p.adapter.DefaultAdvertisement()
	err := p.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    deviceName,
		ServiceUUIDs: advUUIDs,
		Interval:     bluetooth.NewDuration(AdvertisingInterval),
	})
	if err != nil {
		return fmt.Errorf("bleperiph: configure advertisement: %w", err)
	}
	if err := p.adv.Start(); err != nil {
		return fmt.Errorf("bleperiph: start advertisement: %w", err)
	}
	p.logger.Printf("bleperiph: advertising as %q", deviceName)
	return nil
}

func (p *Peripheral) mirrorService(svcUUID gatt.UUID) error {
	charUUIDs, props, err := p.mirror.Characteristics(svcUUID)
	if err != nil {
		return err
	}

	configs := make([]bluetooth.CharacteristicConfig, len(charUUIDs))
	handleList := make([]*bluetooth.Characteristic, len(charUUIDs))
	for i, u := range charUUIDs {
		handle := new(bluetooth.Characteristic)
		handleList[i] = handle
		p.handles[u] = handle

		value, _ := p.mirror.Value(u)
		cfg := bluetooth.CharacteristicConfig{
			Handle: handle,
			UUID:   toBTUUID(u),
			Flags:  toBTFlags(props[i]),
			Value:  value,
		}
		if props[i].Has(gatt.PropWrite) {
			uuid := u
			cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
				p.onCentralWrite(uuid, value)
			}
		}
		configs[i] = cfg

		// The Mirror only fans a notification out to sessions in a
		// characteristic's subscriber set (§4.9); the local radio always
		// wants everything it can notify on, since tinygo's own connection
		// bookkeeping decides per-central whether a BLE NOTIFY actually goes
		// out over the air.
		if props[i].Has(gatt.PropNotify) || props[i].Has(gatt.PropIndicate) {
			if err := p.mirror.Subscribe(p.sessionID, u); err != nil {
				return fmt.Errorf("bleperiph: subscribe %s: %w", u, err)
			}
		}
	}

	return p.adapter.AddService(&bluetooth.Service{
		UUID:            toBTUUID(svcUUID),
		Characteristics: configs,
	})
}

func (p *Peripheral) onCentralWrite(uuid gatt.UUID, value []byte) {
	if err := p.mirror.Write(uuid, value); err != nil {
		p.logger.Printf("bleperiph: central write to %s rejected: %v", uuid, err)
	}
}

// Notify implements gatt.Notifier. It transmits value on the matching local
// characteristic; tinygo's Characteristic.Write both stores the value and
// pushes it to any central that has enabled notifications/indications.
func (p *Peripheral) Notify(uuid gatt.UUID, value []byte) {
	handle, ok := p.handles[uuid]
	if !ok {
		return
	}
	if _, err := handle.Write(value); err != nil {
		p.logger.Printf("bleperiph: notify %s failed: %v", uuid, err)
	}
}

// Stop tears down advertising and drops this peripheral's Mirror
// subscriptions.
func (p *Peripheral) Stop() {
	if p.adv != nil {
		_ = p.adv.Stop()
	}
	p.mirror.DropSession(p.sessionID)
}

func toBTUUID(u gatt.UUID) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte(u))
}

func toBTFlags(p gatt.Property) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if p.Has(gatt.PropRead) {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if p.Has(gatt.PropWrite) {
		flags |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p.Has(gatt.PropNotify) {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	if p.Has(gatt.PropIndicate) {
		flags |= bluetooth.CharacteristicIndicatePermission
	}
	return flags
}
