// Package provision loads the device's provisioned secrets: the long-term
// device key, the region and user tables stamped into the secure module at
// build time. This package only parses and validates that artifact; the
// build-time provisioning step that produces it is out of scope.
package provision

import (
	"encoding/hex"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mipod/audiodrm/aead"
	"github.com/mipod/audiodrm/drmerrors"
)

// RegionName is a region's ≤16-byte display name.
type RegionName = string

// UserRecord is one provisioned user's credentials.
type UserRecord struct {
	Username     string `yaml:"username"`
	HashedPinHex string `yaml:"hashed_pin"` // hex-encoded SHA-256(pin||salt)
	SaltHex      string `yaml:"salt"`       // hex-encoded salt, <=7 bytes
}

// DeviceSecrets is the full provisioned state of one secure module.
type DeviceSecrets struct {
	DeviceKey          [aead.KeySize]byte
	DeviceRegions      map[uint32]RegionName
	DeviceUsers        map[uint32]UserRecord
	ProvisionedRegions map[uint32]bool
	ProvisionedUsers   map[uint32]bool
}

// rawSecrets is the YAML-shaped form of DeviceSecrets.
type rawSecrets struct {
	DeviceKeyHex       string                `yaml:"device_key"`
	DeviceRegions      map[uint32]string     `yaml:"device_regions"`
	DeviceUsers        map[uint32]UserRecord `yaml:"device_users"`
	ProvisionedRegions []uint32              `yaml:"provisioned_regions"`
	ProvisionedUsers   []uint32              `yaml:"provisioned_users"`
}

// Load reads and validates a provisioned-secrets YAML artifact.
func Load(path string) (*DeviceSecrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, drmerrors.Wrapf(drmerrors.ErrIO, "reading provisioned secrets: %v", err)
	}

	var raw rawSecrets
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "parsing provisioned secrets: %v", err)
	}

	return fromRaw(&raw)
}

func fromRaw(raw *rawSecrets) (*DeviceSecrets, error) {
	keyBytes, err := hex.DecodeString(raw.DeviceKeyHex)
	if err != nil {
		return nil, drmerrors.Wrap(drmerrors.ErrInputShape, "device_key is not valid hex")
	}
	if len(keyBytes) != aead.KeySize {
		return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "device_key must be %d bytes, got %d", aead.KeySize, len(keyBytes))
	}

	ds := &DeviceSecrets{
		DeviceRegions:      make(map[uint32]RegionName, len(raw.DeviceRegions)),
		DeviceUsers:        make(map[uint32]UserRecord, len(raw.DeviceUsers)),
		ProvisionedRegions: make(map[uint32]bool, len(raw.ProvisionedRegions)),
		ProvisionedUsers:   make(map[uint32]bool, len(raw.ProvisionedUsers)),
	}
	copy(ds.DeviceKey[:], keyBytes)

	for id, name := range raw.DeviceRegions {
		if len(name) > 16 {
			return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "region %d name exceeds 16 bytes", id)
		}
		ds.DeviceRegions[id] = name
	}

	for id, rec := range raw.DeviceUsers {
		if len(rec.Username) > 16 {
			return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "user %d username exceeds 16 bytes", id)
		}
		if _, err := hex.DecodeString(rec.HashedPinHex); err != nil {
			return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "user %d hashed_pin is not valid hex", id)
		}
		salt, err := hex.DecodeString(rec.SaltHex)
		if err != nil || len(salt) > 7 {
			return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "user %d salt must be <=7 bytes of hex", id)
		}
		ds.DeviceUsers[id] = rec
	}

	for _, id := range raw.ProvisionedRegions {
		if _, ok := ds.DeviceRegions[id]; !ok {
			return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "provisioned region %d is not a known device region", id)
		}
		ds.ProvisionedRegions[id] = true
	}

	for _, id := range raw.ProvisionedUsers {
		if _, ok := ds.DeviceUsers[id]; !ok {
			return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "provisioned user %d is not a known device user", id)
		}
		ds.ProvisionedUsers[id] = true
	}

	return ds, nil
}

// HashedPin returns the raw hashed-pin bytes for uid, for constant-time
// comparison during login.
func (d *DeviceSecrets) HashedPin(uid uint32) ([]byte, bool) {
	rec, ok := d.DeviceUsers[uid]
	if !ok {
		return nil, false
	}
	b, err := hex.DecodeString(rec.HashedPinHex)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Salt returns the raw salt bytes for uid.
func (d *DeviceSecrets) Salt(uid uint32) ([]byte, bool) {
	rec, ok := d.DeviceUsers[uid]
	if !ok {
		return nil, false
	}
	b, err := hex.DecodeString(rec.SaltHex)
	if err != nil {
		return nil, false
	}
	return b, true
}

// UIDForUsername finds the provisioned user ID for a username, if any.
func (d *DeviceSecrets) UIDForUsername(username string) (uint32, bool) {
	for uid, rec := range d.DeviceUsers {
		if rec.Username == username && d.ProvisionedUsers[uid] {
			return uid, true
		}
	}
	return 0, false
}
