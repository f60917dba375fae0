// Package state persists the device identity between runs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const DefaultDeviceName = "Callnode Device"

// Identity is what the server knows this device by.
type Identity struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	Token      string `json:"token,omitempty"`
	ServerURL  string `json:"serverUrl,omitempty"`
}

// LoggedIn reports whether a bearer token is available.
func (id *Identity) LoggedIn() bool {
	return id != nil && strings.TrimSpace(id.Token) != ""
}

// Logout forgets the token. The device id survives so the server keeps
// seeing the same device.
func (id *Identity) Logout() {
	id.Token = ""
}

func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".callnode"
	}
	return filepath.Join(home, ".callnode")
}

func DefaultPath() string {
	return filepath.Join(DefaultDir(), "identity.json")
}

// LoadOrInit reads the identity at path, creating and saving a fresh one
// when none exists yet.
func LoadOrInit(path string) (*Identity, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("failed to parse identity %s: %w", path, err)
		}
		changed := false
		if strings.TrimSpace(id.DeviceID) == "" {
			id.DeviceID = NewDeviceID()
			changed = true
		}
		if strings.TrimSpace(id.DeviceName) == "" {
			id.DeviceName = DefaultDeviceName
			changed = true
		}
		if changed {
			if err := Save(path, &id); err != nil {
				return nil, err
			}
		}
		return &id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	id := &Identity{
		DeviceID:   NewDeviceID(),
		DeviceName: DefaultDeviceName,
	}
	if err := Save(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func Save(path string, id *Identity) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// NewDeviceID returns an id of the form device_xxxxxxxx.
func NewDeviceID() string {
	return "device_" + uuid.NewString()[:8]
}
