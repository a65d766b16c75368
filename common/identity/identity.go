// Package identity manages the per-install device identity: a random UUID
// generated on first launch and stable for the lifetime of the install.
package identity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileName is the plain file holding the device UUID inside the component's
// data directory.
const FileName = "device-id"

// DeviceIdentity is the agent's stable identity.
type DeviceIdentity struct {
	UUID        string
	DisplayName string
}

// LoadOrCreate reads the device UUID from dataDir, generating and persisting
// a fresh one when the file is missing or does not parse as a UUID. The
// display name defaults to the host name.
func LoadOrCreate(dataDir string) (*DeviceIdentity, error) {
	path := filepath.Join(dataDir, FileName)

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err == nil {
			return &DeviceIdentity{UUID: id, DisplayName: hostName()}, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return nil, err
	}
	return &DeviceIdentity{UUID: id, DisplayName: hostName()}, nil
}

// ShortID returns the first 8 characters of the UUID, used to build the mDNS
// instance name.
func (d *DeviceIdentity) ShortID() string {
	if len(d.UUID) < 8 {
		return d.UUID
	}
	return d.UUID[:8]
}

func hostName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown-host"
	}
	return name
}
