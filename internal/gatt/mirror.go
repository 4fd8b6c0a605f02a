package gatt

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// MaxValueLength is the largest value a characteristic may hold (§3: "current
// value (byte string, ≤512 bytes)").
const MaxValueLength = 512

var (
	// ErrServiceNotFound is returned when a service UUID is not registered.
	ErrServiceNotFound = errors.New("gatt: service not found")
	// ErrCharacteristicNotFound is returned when a characteristic UUID is not registered.
	ErrCharacteristicNotFound = errors.New("gatt: characteristic not found")
	// ErrPropertyNotSupported is returned when an operation needs a property the characteristic lacks.
	ErrPropertyNotSupported = errors.New("gatt: property not supported")
	// ErrValueTooLong is returned when a write exceeds MaxValueLength.
	ErrValueTooLong = errors.New("gatt: value exceeds maximum length")
	// ErrValueEmpty is returned when a write carries no body.
	ErrValueEmpty = errors.New("gatt: value must not be empty")
)

// Notifier is how the Mirror reaches a subscriber to deliver a notification.
// TCP sessions and the BLE peripheral each implement this and register
// themselves under a session ID; the Mirror never knows which transport it
// is talking to (§4.9 Fanout).
type Notifier interface {
	// Notify delivers value for characteristic uuid in this transport's
	// native form. It must not block on other subscribers' behalf; a
	// transport that cannot keep up should drop the notification for
	// itself rather than stall the caller.
	Notify(uuid UUID, value []byte)
}

// Mirror is the single in-process GATT database shared by every transport.
// It is the sole piece of shared mutable state in the bridge (§5): a single
// mutex guards the tree, characteristic values and subscriber sets, held
// only long enough to update state and snapshot subscribers. Notification
// I/O always happens after the lock is released.
type Mirror struct {
	mu        sync.RWMutex
	services  []*service
	byUUID    map[UUID]*service
	notifiers map[string]Notifier
	logger    *log.Logger
}

// NewMirror creates an empty GATT tree. Services are added with
// RegisterService before the tree is exposed to any transport; the tree
// never shrinks after startup (§3 GATT Tree invariant).
func NewMirror(logger *log.Logger) *Mirror {
	if logger == nil {
		panic("gatt.NewMirror: logger cannot be nil")
	}
	return &Mirror{
		byUUID:    make(map[UUID]*service),
		notifiers: make(map[string]Notifier),
		logger:    logger,
	}
}

// RegisterService adds a service and its characteristics to the tree. It is
// a startup-only operation: it panics on a duplicate service or
// characteristic UUID, since that indicates a programming error in the
// component wiring rather than a runtime condition to recover from.
func (m *Mirror) RegisterService(uuid UUID, specs []CharacteristicSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUUID[uuid]; exists {
		panic(fmt.Sprintf("gatt: service %s already registered", uuid))
	}

	svc := &service{
		uuid:   uuid,
		byUUID: make(map[UUID]*characteristic),
	}
	for _, spec := range specs {
		if _, exists := svc.byUUID[spec.UUID]; exists {
			panic(fmt.Sprintf("gatt: characteristic %s already registered on service %s", spec.UUID, uuid))
		}
		c := &characteristic{
			uuid:        spec.UUID,
			properties:  spec.Properties,
			value:       append([]byte(nil), spec.InitialValue...),
			onWrite:     spec.OnWrite,
			subscribers: make(map[string]struct{}),
		}
		svc.chars = append(svc.chars, c)
		svc.byUUID[spec.UUID] = c
	}
	m.services = append(m.services, svc)
	m.byUUID[uuid] = svc
	m.logger.Printf("gatt: registered service %s with %d characteristics", uuid, len(specs))
}

// ServiceUUIDs returns every registered service UUID, in registration order.
func (m *Mirror) ServiceUUIDs() []UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UUID, len(m.services))
	for i, s := range m.services {
		out[i] = s.uuid
	}
	return out
}

// Characteristics returns the (uuid, properties) pairs of a service, in
// registration order, or ErrServiceNotFound.
func (m *Mirror) Characteristics(serviceUUID UUID) ([]UUID, []Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.byUUID[serviceUUID]
	if !ok {
		return nil, nil, ErrServiceNotFound
	}
	uuids := make([]UUID, len(svc.chars))
	props := make([]Property, len(svc.chars))
	for i, c := range svc.chars {
		uuids[i] = c.uuid
		props[i] = c.properties
	}
	return uuids, props, nil
}

func (m *Mirror) findLocked(uuid UUID) *characteristic {
	for _, svc := range m.services {
		if c, ok := svc.byUUID[uuid]; ok {
			return c
		}
	}
	return nil
}

// Value returns the current value of a characteristic.
func (m *Mirror) Value(uuid UUID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.findLocked(uuid)
	if c == nil {
		return nil, ErrCharacteristicNotFound
	}
	return append([]byte(nil), c.value...), nil
}

// Properties returns the property mask of a characteristic.
func (m *Mirror) Properties(uuid UUID) (Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.findLocked(uuid)
	if c == nil {
		return 0, ErrCharacteristicNotFound
	}
	return c.properties, nil
}

// Write replaces a characteristic's value and, once committed, invokes its
// write handler if one was registered (§4.2). The handler runs after the
// lock is released so it may itself call back into the Mirror (e.g. to
// notify) without deadlocking.
func (m *Mirror) Write(uuid UUID, value []byte) error {
	m.mu.Lock()
	c := m.findLocked(uuid)
	if c == nil {
		m.mu.Unlock()
		return ErrCharacteristicNotFound
	}
	if !c.properties.Has(PropWrite) {
		m.mu.Unlock()
		return ErrPropertyNotSupported
	}
	if len(value) == 0 {
		m.mu.Unlock()
		return ErrValueEmpty
	}
	if len(value) > MaxValueLength {
		m.mu.Unlock()
		return ErrValueTooLong
	}
	c.value = append([]byte(nil), value...)
	handler := c.onWrite
	m.mu.Unlock()

	if handler != nil {
		handler(value)
	}
	return nil
}

// Subscribe adds sessionID to a characteristic's subscriber set. The
// characteristic must expose NOTIFY or INDICATE (§3 invariant).
func (m *Mirror) Subscribe(sessionID string, uuid UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findLocked(uuid)
	if c == nil {
		return ErrCharacteristicNotFound
	}
	if !c.properties.Has(PropNotify) && !c.properties.Has(PropIndicate) {
		return ErrPropertyNotSupported
	}
	c.subscribers[sessionID] = struct{}{}
	return nil
}

// Unsubscribe removes sessionID from a characteristic's subscriber set. It
// is a no-op if the session was not subscribed.
func (m *Mirror) Unsubscribe(sessionID string, uuid UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findLocked(uuid)
	if c == nil {
		return ErrCharacteristicNotFound
	}
	delete(c.subscribers, sessionID)
	return nil
}

// IsSubscribed reports whether sessionID currently subscribes to uuid.
func (m *Mirror) IsSubscribed(sessionID string, uuid UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.findLocked(uuid)
	if c == nil {
		return false
	}
	_, ok := c.subscribers[sessionID]
	return ok
}

// HasSubscribers reports whether any session currently subscribes to uuid.
// The ride keep-alive timer uses this to stop ticking once nobody is
// listening on Sync TX.
func (m *Mirror) HasSubscribers(uuid UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.findLocked(uuid)
	return c != nil && len(c.subscribers) > 0
}

// DropSession removes sessionID from every characteristic's subscriber set
// and deregisters its Notifier. It must be idempotent: calling it twice, or
// calling it for a session that never subscribed to anything, is harmless
// (§8 scenario 6).
func (m *Mirror) DropSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		for _, c := range svc.chars {
			delete(c.subscribers, sessionID)
		}
	}
	delete(m.notifiers, sessionID)
}

// RegisterNotifier associates sessionID with the Notifier that should
// receive its fanout deliveries. Call this once a session or the BLE
// central connects, before any Subscribe call for that session.
func (m *Mirror) RegisterNotifier(sessionID string, n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers[sessionID] = n
}

// Notify replaces a characteristic's value and delivers it to every current
// subscriber. The lock is held only to update the value and snapshot the
// subscriber list; the actual per-transport delivery happens afterwards
// (§5 Shared state).
func (m *Mirror) Notify(uuid UUID, value []byte) error {
	m.mu.Lock()
	c := m.findLocked(uuid)
	if c == nil {
		m.mu.Unlock()
		return ErrCharacteristicNotFound
	}
	c.value = append([]byte(nil), value...)

	subscriberIDs := make([]string, 0, len(c.subscribers))
	for id := range c.subscribers {
		subscriberIDs = append(subscriberIDs, id)
	}
	notifiers := make([]Notifier, 0, len(subscriberIDs))
	for _, id := range subscriberIDs {
		if n, ok := m.notifiers[id]; ok {
			notifiers = append(notifiers, n)
		}
	}
	m.mu.Unlock()

	for _, n := range notifiers {
		n.Notify(uuid, value)
	}
	return nil
}
