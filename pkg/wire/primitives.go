package wire

import "time"

// Primitives is the set of BDM primitive operations consumed by the
// target sequencer, the flash driver, and the breakpoint engine. *Port
// implements it against real hardware; tests substitute a fake.
type Primitives interface {
	ReadRegister(reg uint16) (uint32, error)
	WriteRegister(window uint32, reg uint16, val uint32) error
	ExtConfigure(params []byte) (Response, error)
	WriteMemory(address uint32, data []byte) error
	WriteMemoryAligned(address uint32, data []byte) error
	BlockRead(address uint32, length uint16) ([]byte, error)
	WriteLongword(address uint32, data uint32) error
	VerifyRead(address uint32, length uint16) ([4]byte, error)
	CFMInit(params []byte) (Response, error)
	WindowStatus() (Response, error)
	ReadRegWindow(window uint16, reg uint16, args []byte) (Response, error)
	HaltSync() (Response, error)
	EnterMode(mode byte) error
	EnableMemAccess(param byte) error
	Go() error
	FreezeHelper() (Response, error)
	BDMInit(command uint16, args []byte) (Response, error)
	FreezeCheck(timeout time.Duration) (Response, error)
	DeviceInfo() (Response, error)
	Upload(destAddr uint32, payload []byte) error
	UploadChunked(destAddr uint32, data []byte, chunkSize int, gap time.Duration) error
}

var _ Primitives = (*Port)(nil)
