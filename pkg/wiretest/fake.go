// Package wiretest provides an in-memory fake implementing
// wire.Primitives, for tests in packages that depend on the wire layer
// (target, flashdriver, breakpoint) without real USB hardware.
package wiretest

import (
	"time"

	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
)

// Fake is a minimal in-memory stand-in for wire.Primitives: registers
// and memory are plain maps, and every BDM control operation is a no-op
// apart from appending its method name to Calls, as every method does.
type Fake struct {
	Registers map[uint16]uint32
	Memory    map[uint32]byte

	// FreezeStatus is returned by FreezeCheck's payload byte 0; default
	// 0x01 (halted).
	FreezeStatus byte

	// Calls records invoked method names in order, for tests that assert
	// on call sequence rather than just effects.
	Calls []string
}

// New constructs a ready-to-use fake with halted freeze status.
func New() *Fake {
	return &Fake{
		Registers:    make(map[uint16]uint32),
		Memory:       make(map[uint32]byte),
		FreezeStatus: 0x01,
	}
}

func (f *Fake) record(name string) { f.Calls = append(f.Calls, name) }

func (f *Fake) ReadRegister(reg uint16) (uint32, error) {
	f.record("ReadRegister")
	return f.Registers[reg], nil
}

func (f *Fake) WriteRegister(_ uint32, reg uint16, val uint32) error {
	f.record("WriteRegister")
	f.Registers[reg] = val
	return nil
}

func (f *Fake) ExtConfigure(_ []byte) (wire.Response, error) {
	f.record("ExtConfigure")
	return wire.Response{}, nil
}

func (f *Fake) WriteMemory(address uint32, data []byte) error {
	f.record("WriteMemory")
	for i, b := range data {
		f.Memory[address+uint32(i)] = b
	}
	return nil
}

// WriteMemoryAligned mirrors wire.Port.WriteMemoryAligned's read-modify-write
// splice rather than writing data at address directly, so tests that set a
// breakpoint at an address not itself 4-byte aligned exercise the same
// aligned-block arithmetic the real hardware path does.
func (f *Fake) WriteMemoryAligned(address uint32, data []byte) error {
	f.record("WriteMemoryAligned")
	size := uint32(len(data))
	addressAlign := address % 4

	if addressAlign == 0 && size%4 == 0 {
		return f.WriteMemory(address, data)
	}

	adjustedAddress := address - addressAlign
	adjustedSize := size + addressAlign
	if rem := adjustedSize % 4; rem != 0 {
		adjustedSize += 4 - rem
	}

	block, err := f.BlockRead(adjustedAddress, uint16(adjustedSize))
	if err != nil {
		return err
	}
	copy(block[addressAlign:], data)
	return f.WriteMemory(adjustedAddress, block)
}

func (f *Fake) BlockRead(address uint32, length uint16) ([]byte, error) {
	f.record("BlockRead")
	out := make([]byte, length)
	for i := range out {
		out[i] = f.Memory[address+uint32(i)]
	}
	return out, nil
}

func (f *Fake) WriteLongword(address uint32, data uint32) error {
	f.record("WriteLongword")
	buf := []byte{byte(data >> 24), byte(data >> 16), byte(data >> 8), byte(data)}
	return f.WriteMemory(address, buf)
}

func (f *Fake) VerifyRead(address uint32, _ uint16) ([4]byte, error) {
	f.record("VerifyRead")
	var out [4]byte
	for i := range out {
		out[i] = f.Memory[address+uint32(i)]
	}
	return out, nil
}

func (f *Fake) CFMInit(_ []byte) (wire.Response, error) {
	f.record("CFMInit")
	return wire.Response{}, nil
}

func (f *Fake) WindowStatus() (wire.Response, error) {
	f.record("WindowStatus")
	return wire.Response{}, nil
}

func (f *Fake) ReadRegWindow(_, reg uint16, _ []byte) (wire.Response, error) {
	f.record("ReadRegWindow")
	val := f.Registers[reg]
	payload := []byte{byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val)}
	return wire.Response{Payload: payload}, nil
}

func (f *Fake) HaltSync() (wire.Response, error) {
	f.record("HaltSync")
	return wire.Response{}, nil
}

func (f *Fake) EnterMode(_ byte) error {
	f.record("EnterMode")
	return nil
}

func (f *Fake) EnableMemAccess(_ byte) error {
	f.record("EnableMemAccess")
	return nil
}

func (f *Fake) Go() error {
	f.record("Go")
	return nil
}

func (f *Fake) FreezeHelper() (wire.Response, error) {
	f.record("FreezeHelper")
	return wire.Response{}, nil
}

func (f *Fake) BDMInit(_ uint16, _ []byte) (wire.Response, error) {
	f.record("BDMInit")
	return wire.Response{}, nil
}

func (f *Fake) FreezeCheck(_ time.Duration) (wire.Response, error) {
	f.record("FreezeCheck")
	return wire.Response{Payload: []byte{f.FreezeStatus}}, nil
}

func (f *Fake) DeviceInfo() (wire.Response, error) {
	f.record("DeviceInfo")
	return wire.Response{}, nil
}

func (f *Fake) Upload(destAddr uint32, payload []byte) error {
	f.record("Upload")
	return f.WriteMemory(destAddr, payload)
}

func (f *Fake) UploadChunked(destAddr uint32, data []byte, chunkSize int, _ time.Duration) error {
	f.record("UploadChunked")
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := f.Upload(destAddr+uint32(offset), data[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

var _ wire.Primitives = (*Fake)(nil)
