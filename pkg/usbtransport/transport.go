// Package usbtransport implements the USB bulk transport to the BDM probe
// (component C1). It owns the single persistent 256-byte command/response
// buffer and performs blocking bulk OUT/IN transfers on the probe's fixed
// endpoints.
package usbtransport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// BufferSize is the fixed size of every AA-class USB transfer, and of the
// persistent command/response buffer (§3).
const BufferSize = 256

const (
	endpointOut = 0x02
	endpointIn  = 0x81
	interfaceID = 0
)

// Transport owns the USB connection to the probe and the persistent
// command buffer. It is single-owned: only the wire-protocol layer above
// it is allowed to build requests into the buffer it hands out.
type Transport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	// buf is the persistent 256-byte region. It is zeroed exactly once, at
	// Open. After that every Send/receive cycle overwrites only the bytes
	// the caller's frame defines; the trailing bytes are deliberately left
	// as leftover garbage from the previous response, because the probe
	// firmware reads past some commands' declared payload length and a
	// zeroed tail breaks it (§3, §9).
	buf [BufferSize]byte

	timeout time.Duration
}

// Open claims interface 0 of the probe matching vendorID/productID and
// prepares the persistent buffer. The buffer is zeroed here and nowhere
// else for the lifetime of the process.
func Open(vendorID, productID uint16, timeout time.Duration) (*Transport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(productID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open probe USB device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("probe not found (VID:0x%04x PID:0x%04x)", vendorID, productID)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to set USB config: %w", err)
	}

	intf, err := cfg.Interface(interfaceID, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim USB interface %d: %w", interfaceID, err)
	}

	epOut, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open OUT endpoint 0x%02x: %w", endpointOut, err)
	}

	epIn, err := intf.InEndpoint(endpointIn)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open IN endpoint 0x%02x: %w", endpointIn, err)
	}

	t := &Transport{
		ctx:     ctx,
		dev:     dev,
		config:  cfg,
		intf:    intf,
		epOut:   epOut,
		epIn:    epIn,
		timeout: timeout,
	}
	return t, nil
}

// Close releases the USB interface, configuration, device and context, in
// that order.
func (t *Transport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}

// Buffer returns the persistent command/response buffer. Only the
// wire-protocol builder layer should write into it; this transport never
// inspects its contents beyond what Send/Receive transfer.
func (t *Transport) Buffer() *[BufferSize]byte {
	return &t.buf
}

// Send writes the full 256-byte buffer to the probe's OUT endpoint. The
// USB transfer is always exactly BufferSize bytes regardless of the
// frame's declared payload length (§3).
func (t *Transport) Send() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.epOut.WriteContext(ctx, t.buf[:])
	if err != nil {
		return fmt.Errorf("USB bulk OUT failed: %w", err)
	}
	if n != BufferSize {
		return fmt.Errorf("USB bulk OUT short write: wrote %d bytes, expected %d", n, BufferSize)
	}
	return nil
}

// SendBulk writes an arbitrary-length BB-class upload frame. Unlike Send,
// the transfer length is whatever the caller built (header + payload),
// not a fixed 256 bytes.
func (t *Transport) SendBulk(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.epOut.WriteContext(ctx, frame)
	if err != nil {
		return fmt.Errorf("USB bulk OUT (upload) failed: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("USB bulk OUT (upload) short write: wrote %d bytes, expected %d", n, len(frame))
	}
	return nil
}

// Receive reads up to BufferSize bytes from the probe's IN endpoint into
// the persistent buffer, using the given timeout (the caller picks the
// default 5s timeout or the 500ms freeze-poll timeout per §5). It returns
// the slice of the persistent buffer that was actually filled -- the rest
// of the buffer is untouched leftover data from a previous exchange.
func (t *Transport) Receive(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := t.epIn.ReadContext(ctx, t.buf[:])
	if err != nil {
		return nil, fmt.Errorf("USB bulk IN failed: %w", err)
	}
	return t.buf[:n], nil
}

// DefaultTimeout returns the configured default USB timeout.
func (t *Transport) DefaultTimeout() time.Duration {
	return t.timeout
}
