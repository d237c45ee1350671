package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fluxrip/fluxrip/flux"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// High-speed capture port. The board exposes a vendor interface with one
// bulk-in endpoint streaming flux words and control requests for drive
// management.
const (
	usbVendorID  = 0x1209
	usbProductID = 0x0002
	usbInterface = 1

	endpointBulkIn = 0x82

	controlRequestType = 0x43 // vendor, interface, host-to-device

	requestSelect = 0x01
	requestMotor  = 0x02
	requestSeek   = 0x03
	requestStream = 0x04
	requestTick   = 0x80
	requestStatus = 0x81

	controlTimeout = 5 * time.Second

	readBufferSize = 6400
)

// USBDevice drives the high-speed bulk capture port.
type USBDevice struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	done   func()
	bulkIn *gousb.InEndpoint
	tickHz uint32
}

func init() {
	RegisterUSB(NewUSBDevice)
}

// NewUSBDevice opens the first matching USB device. The port details
// argument is unused; the device does not enumerate as a serial port.
func NewUSBDevice(_ *enumerator.PortDetails) (Device, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(usbVendorID) && desc.Product == gousb.ID(usbProductID)
	})
	if err != nil || len(devs) == 0 {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("usb open: %w", err)
		}
		return nil, fmt.Errorf("no usb capture device found")
	}
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}
	dev.ControlTimeout = controlTimeout

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb config: %w", err)
	}
	intf, err := cfg.Interface(usbInterface, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb interface: %w", err)
	}
	bulkIn, err := intf.InEndpoint(endpointBulkIn)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb bulk-in endpoint: %w", err)
	}

	d := &USBDevice{
		ctx:  ctx,
		dev:  dev,
		intf: intf,
		done: func() {
			intf.Close()
			cfg.Close()
		},
		bulkIn: bulkIn,
		tickHz: defaultTickHz,
	}
	if hz, err := d.readTickHz(); err == nil && hz != 0 {
		d.tickHz = hz
	}
	return d, nil
}

func (d *USBDevice) control(request uint8, value, index uint16) error {
	_, err := d.dev.Control(controlRequestType, request, value, index, nil)
	if err != nil {
		return fmt.Errorf("usb control %#x: %w", request, err)
	}
	return nil
}

func (d *USBDevice) readTickHz() (uint32, error) {
	buf := make([]byte, 4)
	n, err := d.dev.Control(controlRequestType|0x80, requestTick, 0, 0, buf)
	if err != nil || n != 4 {
		return 0, fmt.Errorf("usb tick rate: %w", err)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Info describes the connected board.
func (d *USBDevice) Info() DeviceInfo {
	serial, _ := d.dev.SerialNumber()
	return DeviceInfo{
		Name:         "fluxrip-usb",
		SerialNumber: serial,
	}
}

// TickHz returns the flux timestamp resolution.
func (d *USBDevice) TickHz() uint32 {
	return d.tickHz
}

// Select addresses one drive.
func (d *USBDevice) Select(drive uint8) error {
	return d.control(requestSelect, uint16(drive), 0)
}

// Motor switches the spindle motor.
func (d *USBDevice) Motor(on bool) error {
	var v uint16
	if on {
		v = 1
	}
	return d.control(requestMotor, v, 0)
}

// Seek positions the head.
func (d *USBDevice) Seek(track int) error {
	if track < 0 || track > 255 {
		return fmt.Errorf("seek: cylinder %d out of range", track)
	}
	return d.control(requestSeek, uint16(track), 0)
}

// Status reads the drive status byte over a control request.
func (d *USBDevice) Status() (Status, error) {
	buf := make([]byte, 1)
	n, err := d.dev.Control(controlRequestType|0x80, requestStatus, 0, 0, buf)
	if err != nil || n != 1 {
		return Status{}, fmt.Errorf("usb status: %w", err)
	}
	return parseStatus(buf[0]), nil
}

// ReadFlux starts the stream and reads flux words from the bulk endpoint
// until the device sends the zero-word terminator.
func (d *USBDevice) ReadFlux(ctx context.Context, revolutions int) ([]flux.Sample, error) {
	if revolutions < 1 {
		revolutions = 1
	}
	if err := d.control(requestStream, uint16(revolutions), 1); err != nil {
		return nil, err
	}
	defer d.control(requestStream, 0, 0)

	stream, err := d.bulkIn.NewStream(readBufferSize, 4)
	if err != nil {
		return nil, fmt.Errorf("usb stream: %w", err)
	}
	defer stream.Close()

	reader := flux.NewWordReader(stream)
	var samples []flux.Sample
	for {
		if err := ctx.Err(); err != nil {
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

// Close releases the USB handles.
func (d *USBDevice) Close() error {
	if d.done != nil {
		d.done()
	}
	if err := d.dev.Close(); err != nil {
		d.ctx.Close()
		return err
	}
	return d.ctx.Close()
}
