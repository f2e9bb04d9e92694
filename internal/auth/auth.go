// Package auth supplies the stable opaque identity used to claim a seat
// in a room. There is no credential flow: a device mints an id once and
// keeps it for life, like an anonymous sign-in.
package auth

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hudjsw143/royal-ishq/internal/history"
)

const deviceIDKey = "royalIshq_deviceId"

// DeviceIdentity mints a uuid on first use and persists it through the
// blob store so the same installation always presents the same id.
type DeviceIdentity struct {
	store history.Store

	mu sync.Mutex
	id string
}

// NewDeviceIdentity wires an identity provider over a blob store.
func NewDeviceIdentity(store history.Store) *DeviceIdentity {
	return &DeviceIdentity{store: store}
}

// UserID returns the stable device id, creating and persisting it on
// first call.
func (d *DeviceIdentity) UserID() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.id != "" {
		return d.id, nil
	}

	blob, err := d.store.GetBlob(deviceIDKey)
	if err != nil {
		return "", fmt.Errorf("auth: load device id: %w", err)
	}
	if len(blob) > 0 {
		d.id = string(blob)
		return d.id, nil
	}

	id := uuid.New().String()
	if err := d.store.SetBlob(deviceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("auth: persist device id: %w", err)
	}
	d.id = id
	return id, nil
}
