//go:build !linux

package wind

import "github.com/towerwatch/shm/internal/shmerr"

// DiscoverPort is a no-op outside Linux: udev enumeration isn't
// available, so auto-detection always fails and callers fall back to
// an explicitly configured port.
func DiscoverPort() (string, error) {
	return "", shmerr.New(shmerr.HardwareUnavailable, "wind.discover", nil)
}
