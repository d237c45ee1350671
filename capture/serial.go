package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/fluxrip/fluxrip/flux"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	VendorID  = 0x1209 // Open source hardware projects
	ProductID = 0x0001
)

// Command codes
const (
	CmdGetInfo  = 0
	CmdSelect   = 1
	CmdDeselect = 2
	CmdMotor    = 3
	CmdSeek     = 4
	CmdReadFlux = 5
	CmdStop     = 6
	CmdReset    = 7
	CmdStatus   = 8
)

// ACK return codes
const (
	AckOkay        = 0
	AckBadCommand  = 1
	AckNoIndex     = 2
	AckNoTrack0    = 3
	AckOverflow    = 4
	AckNoUnit      = 5
	AckBadCylinder = 6
)

const (
	// defaultTickHz is the capture counter frequency reported by current
	// firmware.
	defaultTickHz = 72000000

	commandTimeout = 5 * time.Second
)

// SerialDevice drives a capture board over CDC serial.
type SerialDevice struct {
	port         serial.Port
	serialNumber string
	firmware     string
	tickHz       uint32
}

func init() {
	Register(VendorID, ProductID, NewSerialDevice)
}

// NewSerialDevice opens the serial port and fetches device information.
func NewSerialDevice(portDetails *enumerator.PortDetails) (Device, error) {
	mode := &serial.Mode{
		BaudRate: 9600,
	}
	port, err := serial.Open(portDetails.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portDetails.Name, err)
	}

	dev := &SerialDevice{
		port:         port,
		serialNumber: portDetails.SerialNumber,
		tickHz:       defaultTickHz,
	}
	if err := dev.getInfo(); err != nil {
		port.Close()
		return nil, err
	}
	return dev, nil
}

// command sends one command frame and checks the ACK.
func (d *SerialDevice) command(cmd byte, args ...byte) error {
	frame := make([]byte, 0, 2+len(args))
	frame = append(frame, cmd, byte(2+len(args)))
	frame = append(frame, args...)
	if _, err := d.port.Write(frame); err != nil {
		return fmt.Errorf("command %d write: %w", cmd, err)
	}

	var resp [2]byte
	d.port.SetReadTimeout(commandTimeout)
	if _, err := io.ReadFull(d.port, resp[:]); err != nil {
		return fmt.Errorf("command %d response: %w", cmd, err)
	}
	if resp[0] != cmd {
		return fmt.Errorf("command %d: response for command %d", cmd, resp[0])
	}
	if resp[1] != AckOkay {
		return fmt.Errorf("command %d: device error %d", cmd, resp[1])
	}
	return nil
}

// getInfo reads the firmware banner: version string length, string, then
// the tick frequency as little-endian uint32.
func (d *SerialDevice) getInfo() error {
	if err := d.command(CmdGetInfo); err != nil {
		return err
	}
	var hdr [1]byte
	if _, err := io.ReadFull(d.port, hdr[:]); err != nil {
		return fmt.Errorf("info header: %w", err)
	}
	version := make([]byte, hdr[0])
	if _, err := io.ReadFull(d.port, version); err != nil {
		return fmt.Errorf("info version: %w", err)
	}
	var tick [4]byte
	if _, err := io.ReadFull(d.port, tick[:]); err != nil {
		return fmt.Errorf("info tick rate: %w", err)
	}
	d.firmware = string(version)
	if hz := binary.LittleEndian.Uint32(tick[:]); hz != 0 {
		d.tickHz = hz
	}
	return nil
}

// Info describes the connected board.
func (d *SerialDevice) Info() DeviceInfo {
	return DeviceInfo{
		Name:         "fluxrip-serial",
		Firmware:     d.firmware,
		SerialNumber: d.serialNumber,
	}
}

// TickHz returns the flux timestamp resolution.
func (d *SerialDevice) TickHz() uint32 {
	return d.tickHz
}

// Select addresses one drive.
func (d *SerialDevice) Select(drive uint8) error {
	return d.command(CmdSelect, drive)
}

// Motor switches the spindle motor of the selected drive.
func (d *SerialDevice) Motor(on bool) error {
	var v byte
	if on {
		v = 1
	}
	return d.command(CmdMotor, v)
}

// Seek positions the head of the selected drive.
func (d *SerialDevice) Seek(track int) error {
	if track < 0 || track > 255 {
		return fmt.Errorf("seek: cylinder %d out of range", track)
	}
	return d.command(CmdSeek, byte(track))
}

// Status reads the drive status byte of the selected drive.
func (d *SerialDevice) Status() (Status, error) {
	if err := d.command(CmdStatus); err != nil {
		return Status{}, err
	}
	var b [1]byte
	if _, err := io.ReadFull(d.port, b[:]); err != nil {
		return Status{}, fmt.Errorf("status byte: %w", err)
	}
	return parseStatus(b[0]), nil
}

// ReadFlux captures the given number of revolutions. The device streams
// little-endian flux words and terminates with a zero word.
func (d *SerialDevice) ReadFlux(ctx context.Context, revolutions int) ([]flux.Sample, error) {
	if revolutions < 1 {
		revolutions = 1
	}
	if err := d.command(CmdReadFlux, byte(revolutions)); err != nil {
		return nil, err
	}

	reader := flux.NewWordReader(d.port)
	var samples []flux.Sample
	for {
		if err := ctx.Err(); err != nil {
			// Tell the firmware to stop streaming before bailing.
			d.command(CmdStop)
			return samples, err
		}
		s, ok := reader.NextSample()
		if !ok {
			break
		}
		samples = append(samples, s)
	}
	if err := reader.Err(); err != nil {
		return samples, fmt.Errorf("flux stream: %w", err)
	}
	return samples, nil
}

// Close releases the serial port.
func (d *SerialDevice) Close() error {
	return d.port.Close()
}
