//go:build linux

package wind

import (
	"strings"

	"github.com/jochenvg/go-udev"

	"github.com/towerwatch/shm/internal/shmerr"
)

// DiscoverPort enumerates tty devices via udev and returns the first
// USB-attached serial device node found, for when wind.rs485.port is
// left blank in configuration. It never overrides an explicit port;
// callers only invoke this when the configured port is empty.
func DiscoverPort() (string, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.MatchSubsystem("tty"); err != nil {
		return "", shmerr.New(shmerr.HardwareUnavailable, "wind.discover", err)
	}

	devices, err := e.Devices()
	if err != nil {
		return "", shmerr.New(shmerr.HardwareUnavailable, "wind.discover", err)
	}

	for _, d := range devices {
		node := d.Devnode()
		if node == "" {
			continue
		}
		// USB-to-serial adapters show up as ttyUSB*/ttyACM*; onboard
		// UARTs (ttyS*, ttyAMA*) are unlikely to be the wind sensor.
		base := node[strings.LastIndex(node, "/")+1:]
		if strings.HasPrefix(base, "ttyUSB") || strings.HasPrefix(base, "ttyACM") {
			return node, nil
		}
	}
	return "", shmerr.New(shmerr.HardwareUnavailable, "wind.discover", nil)
}
