// Package capture talks to flux capture hardware. Devices stream raw
// 32-bit flux words which the decode pipeline consumes; discovery walks
// the serial port list by VID/PID with a USB fallback.
package capture

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fluxrip/fluxrip/flux"

	"go.bug.st/serial/enumerator"
)

// Device is one capture adapter.
type Device interface {
	// Info describes the connected hardware.
	Info() DeviceInfo
	// TickHz is the device's flux timestamp resolution.
	TickHz() uint32
	// Select addresses one drive (0-3, the channel field of the flux word).
	Select(drive uint8) error
	// Motor switches the spindle motor.
	Motor(on bool) error
	// Seek positions the head.
	Seek(track int) error
	// Status reads the drive signals of the selected drive.
	Status() (Status, error)
	// ReadFlux captures the given number of revolutions of flux samples.
	ReadFlux(ctx context.Context, revolutions int) ([]flux.Sample, error)
	// Close releases the transport.
	Close() error
}

// DeviceInfo identifies a connected device.
type DeviceInfo struct {
	Name         string
	Firmware     string
	SerialNumber string
}

// Status is one drive status snapshot.
type Status struct {
	Ready        bool
	WriteProtect bool
	Track0       bool
	HardSector   bool
}

// Status byte bits, as reported by firmware.
const (
	statusReady        = 1 << 0
	statusWriteProtect = 1 << 1
	statusTrack0       = 1 << 2
	statusHardSector   = 1 << 3
)

// parseStatus unpacks the firmware status byte.
func parseStatus(b byte) Status {
	return Status{
		Ready:        b&statusReady != 0,
		WriteProtect: b&statusWriteProtect != 0,
		Track0:       b&statusTrack0 != 0,
		HardSector:   b&statusHardSector != 0,
	}
}

// Factory creates a device from enumerated port details; USB-only devices
// receive nil.
type Factory func(port *enumerator.PortDetails) (Device, error)

type deviceEntry struct {
	vendorID  uint16
	productID uint16
	factory   Factory
}

var registered []deviceEntry

// Register adds a serial device type matched by VID/PID.
func Register(vendorID, productID uint16, factory Factory) {
	registered = append(registered, deviceEntry{vendorID, productID, factory})
}

// RegisterUSB adds a device type that does not enumerate as a serial port.
func RegisterUSB(factory Factory) {
	registered = append(registered, deviceEntry{0, 0, factory})
}

// Find locates the first supported capture device: serial adapters by
// VID/PID first, then USB-only adapters.
func Find() (Device, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	for _, port := range ports {
		portVID, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil {
			continue
		}
		portPID, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}
		for _, entry := range registered {
			if entry.vendorID == 0 && entry.productID == 0 {
				continue
			}
			if uint16(portVID) == entry.vendorID && uint16(portPID) == entry.productID {
				dev, err := entry.factory(port)
				if err != nil {
					continue // try next port
				}
				return dev, nil
			}
		}
	}

	for _, entry := range registered {
		if entry.vendorID == 0 && entry.productID == 0 {
			if dev, err := entry.factory(nil); err == nil && dev != nil {
				return dev, nil
			}
		}
	}

	return nil, fmt.Errorf("no supported flux capture device found")
}
