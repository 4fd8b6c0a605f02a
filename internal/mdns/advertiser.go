package mdns

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType = "_wahoo-fitness-tnp._tcp"
	domain      = "local."
)

// Advertiser publishes the bridge's presence via mDNS/DNS-SD so Zwift can
// discover the TNP listener without a fixed IP (§4.5). grandcat/zeroconf
// has no API for updating a running announcement's TXT records in place,
// so AddServiceUUID rebuilds the TXT set and re-registers.
type Advertiser struct {
	logger *log.Logger

	instance string
	port     int
	mac      string
	serial   string

	mu       sync.Mutex
	server   *zeroconf.Server
	uuids    []string
	uuidSeen map[string]struct{}
}

// New creates an advertiser for instance "KICKR BIKE PRO <serial>" on port.
// mac must already be dash-separated ASCII (e.g. "AA-BB-CC-DD-EE-FF").
func New(logger *log.Logger, port int, mac, serial string) *Advertiser {
	if logger == nil {
		panic("mdns.New: logger cannot be nil")
	}
	return &Advertiser{
		logger:   logger,
		instance: fmt.Sprintf("KICKR BIKE PRO %s", serial),
		port:     port,
		mac:      mac,
		serial:   serial,
		uuidSeen: make(map[string]struct{}),
	}
}

// Start registers the initial announcement with an empty ble-service-uuids
// list. Call AddServiceUUID afterward as services come online.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.republishLocked()
}

// AddServiceUUID appends short (a 4-hex-character short UUID) to the
// advertised ble-service-uuids TXT record and re-publishes, unless it is
// already present.
func (a *Advertiser) AddServiceUUID(short string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.uuidSeen[short]; exists {
		return nil
	}
	a.uuidSeen[short] = struct{}{}
	a.uuids = append(a.uuids, short)
	return a.republishLocked()
}

func (a *Advertiser) republishLocked() error {
	txt := buildTXT(a.uuids, a.mac, a.serial)

	server, err := zeroconf.Register(a.instance, serviceType, domain, a.port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns: register %s: %w", a.instance, err)
	}

	if a.server != nil {
		a.server.Shutdown()
	}
	a.server = server
	a.logger.Printf("mdns: advertising %s on port %d (%v)", a.instance, a.port, txt)
	return nil
}

// buildTXT renders the three required TXT records in the lowercase,
// dash-separated form §4.5 specifies. Extracted from republishLocked so the
// record format can be tested without touching the network.
func buildTXT(uuids []string, mac, serial string) []string {
	return []string{
		fmt.Sprintf("ble-service-uuids=%s", strings.Join(uuids, ",")),
		fmt.Sprintf("mac-address=%s", mac),
		fmt.Sprintf("serial-number=%s", serial),
	}
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
