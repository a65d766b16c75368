// Package discovery implements the zero-configuration discovery protocol:
// mDNS/DNS-SD advertisement on the agent side and browsing with a live,
// UUID-keyed device map on the controller side.
package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// ServiceType is the DNS-SD service type agents advertise.
	ServiceType = "_lan-device._tcp"
	// LegacyServiceType is the pre-rename service type still browsed for
	// devices running older agents.
	LegacyServiceType = "_lanmanager._tcp"
	// Domain is the mDNS domain.
	Domain = "local."

	// InstancePrefix plus the short UUID forms the service instance name,
	// so serial restarts on one subnet never collide with a cached record.
	InstancePrefix = "LanDevice-"
)

// TXT record keys.
const (
	TXTKeyUUID         = "uuid"
	TXTKeyDeviceName   = "device_name"
	TXTKeyVersion      = "version"
	TXTKeyPort         = "port"
	TXTKeyAuthRequired = "auth_required"
)

// Record is one discovered agent as seen in the live map.
type Record struct {
	UUID         string    `json:"uuid"`
	InstanceName string    `json:"instance_name"`
	DeviceName   string    `json:"device_name"`
	IP           string    `json:"ip"`
	Port         int       `json:"port"`
	Version      string    `json:"version"`
	AuthRequired bool      `json:"auth_required"`
	LastSeen     time.Time `json:"last_seen"`
}

// Key returns the live-map key: the UUID when present, else the instance
// name (back-compatibility with agents that predate UUIDs).
func (r Record) Key() string {
	if r.UUID != "" {
		return r.UUID
	}
	return r.InstanceName
}

// EventKind classifies a browser event.
type EventKind int

const (
	EventDiscovered EventKind = iota
	EventRemoved
)

// Event is delivered to the registry for every live-map change.
type Event struct {
	Kind   EventKind
	Record Record
}

// BuildTXT assembles the advertised TXT map.
func BuildTXT(uuid, deviceName, version string, port int, authRequired bool) []string {
	return []string{
		TXTKeyUUID + "=" + uuid,
		TXTKeyDeviceName + "=" + deviceName,
		TXTKeyVersion + "=" + version,
		TXTKeyPort + "=" + strconv.Itoa(port),
		TXTKeyAuthRequired + "=" + strconv.FormatBool(authRequired),
	}
}

// ParseTXT splits "key=value" TXT strings into a map. Keys are lowercased;
// entries without "=" are ignored.
func ParseTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, kv := range txt {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.ToLower(parts[0])] = parts[1]
	}
	return out
}

// InstanceName builds the advertised instance name from the short UUID.
func InstanceName(shortID string) string {
	return fmt.Sprintf("%s%s", InstancePrefix, shortID)
}
