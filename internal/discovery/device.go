package discovery

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultDevicePort is the TCP port Tuya devices accept control sessions on.
const DefaultDevicePort = 6668

// DeviceRecord describes a device seen on the network.
type DeviceRecord struct {
	// ID is the gateway id ("gwId"); for standalone devices it is also the
	// device id.
	ID string

	// IP is the IPv4 address (e.g., "192.168.1.20")
	IP string

	// Version is the protocol version the device announced (e.g., "3.3")
	Version string

	// ProductKey identifies the product model in the Tuya cloud
	ProductKey string

	// Encrypted reports whether the device announced encrypted traffic
	Encrypted bool

	// Active, Ability and Mode are passed through from the announcement.
	Active  int
	Ability int
	Mode    int

	// LocalKey is the 16-byte device key. It is never broadcast; it comes
	// from configuration and is attached with Registry.SetLocalKey.
	LocalKey []byte

	// LastSeen is when the device last announced itself
	LastSeen time.Time
}

// String returns a human-readable string representation of the device
func (d DeviceRecord) String() string {
	return fmt.Sprintf("Tuya Device %s (v%s) at %s", d.ID, d.Version, d.IP)
}

// Addr returns the host:port of the device control port.
func (d DeviceRecord) Addr(port int) string {
	if port == 0 {
		port = DefaultDevicePort
	}
	return net.JoinHostPort(d.IP, strconv.Itoa(port))
}

// HasKey reports whether a local key has been attached.
func (d DeviceRecord) HasKey() bool {
	return len(d.LocalKey) > 0
}

// Clone returns a copy that shares no memory with d.
func (d DeviceRecord) Clone() DeviceRecord {
	d.LocalKey = bytes.Clone(d.LocalKey)
	return d
}
