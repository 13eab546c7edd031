package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/coldfiredbg/coldfiredbg/pkg/usbtransport"
)

// Port is the primitive-operations layer over the USB transport: it owns
// nothing of its own beyond the builder, mutating the transport's
// persistent buffer for every request.
type Port struct {
	t       *usbtransport.Transport
	builder *Builder
}

// NewPort wraps an open transport.
func NewPort(t *usbtransport.Transport) *Port {
	return &Port{t: t, builder: NewBuilder(t.Buffer())}
}

// doAA builds an AA-class frame, sends it, reads exactly one response,
// and validates it. Per §4.2's discipline, every AA command that expects
// a response reads exactly one response into the persistent buffer.
func (p *Port) doAA(command uint16, payload []byte, timeout time.Duration) (Response, error) {
	p.builder.Build(command, payload)
	if err := p.t.Send(); err != nil {
		return Response{}, err
	}
	raw, err := p.t.Receive(timeout)
	if err != nil {
		return Response{}, err
	}
	return Validate(raw)
}

func (p *Port) doAADefault(command uint16, payload []byte) (Response, error) {
	return p.doAA(command, payload, p.t.DefaultTimeout())
}

// ReadRegister reads a BDM register (16-bit address) and returns the
// 32-bit value found at response offset 5..8 (§4.2: "07 13 [reg:16]").
func (p *Port) ReadRegister(reg uint16) (uint32, error) {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, reg)

	resp, err := p.doAADefault(CmdReadRegister, payload)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%04x: %w", reg, err)
	}
	if len(resp.Payload) < 4 {
		return 0, fmt.Errorf("read register 0x%04x: short payload (%d bytes)", reg, len(resp.Payload))
	}
	return binary.BigEndian.Uint32(resp.Payload[:4]), nil
}

// WriteRegister writes a BDM/CPU register through the given window
// (§4.2: "07 14 [win:32][reg:16][val:32]").
func (p *Port) WriteRegister(window uint32, reg uint16, val uint32) error {
	payload := make([]byte, 10)
	binary.BigEndian.PutUint32(payload[0:4], window)
	binary.BigEndian.PutUint16(payload[4:6], reg)
	binary.BigEndian.PutUint32(payload[6:10], val)

	_, err := p.doAADefault(CmdWriteRegister, payload)
	if err != nil {
		return fmt.Errorf("write register 0x%04x via window 0x%08x: %w", reg, window, err)
	}
	return nil
}

// ExtConfigure issues the extended-configure command with arbitrary
// parameters (§4.2: "07 15").
func (p *Port) ExtConfigure(params []byte) (Response, error) {
	resp, err := p.doAADefault(CmdExtConfigure, params)
	if err != nil {
		return Response{}, fmt.Errorf("extended configure: %w", err)
	}
	return resp, nil
}

// WriteMemory writes addr-width-encoded-in-length memory (§4.2: "07 16").
func (p *Port) WriteMemory(address uint32, data []byte) error {
	payload := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(payload[0:4], address)
	copy(payload[4:], data)

	_, err := p.doAADefault(CmdWriteMemory, payload)
	if err != nil {
		return fmt.Errorf("write memory at 0x%08x: %w", address, err)
	}
	return nil
}

// BlockRead reads length bytes from address via the block-read command,
// requesting the 6-per-4 encoded raw payload and decoding it back into
// contiguous bytes (§3, §4.2: "07 17 [addr:32][len:16]").
func (p *Port) BlockRead(address uint32, length uint16) ([]byte, error) {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint32(payload[0:4], address)
	binary.BigEndian.PutUint16(payload[4:6], length)

	resp, err := p.doAADefault(CmdBlockRead, payload)
	if err != nil {
		return nil, fmt.Errorf("block read at 0x%08x len %d: %w", address, length, err)
	}

	decoded, err := DecodeBlockRead(resp.Payload, int(length))
	if err != nil {
		return nil, fmt.Errorf("block read at 0x%08x len %d: %w", address, length, err)
	}
	return decoded, nil
}

// WriteLongword performs a single-longword SRAM write, used for
// buffered uploads (§4.2: "07 19 [0x0004][addr:32][data:32]").
func (p *Port) WriteLongword(address uint32, data uint32) error {
	payload := make([]byte, 10)
	binary.BigEndian.PutUint16(payload[0:2], 0x0004)
	binary.BigEndian.PutUint32(payload[2:6], address)
	binary.BigEndian.PutUint32(payload[6:10], data)

	_, err := p.doAADefault(CmdWriteLongword, payload)
	if err != nil {
		return fmt.Errorf("write longword at 0x%08x: %w", address, err)
	}
	return nil
}

// VerifyRead performs the verify-style read and decodes the SRAM
// longword at the non-contiguous offsets {0,7,9,11} (§3, §4.2:
// "07 1B [addr:32][len:16]").
func (p *Port) VerifyRead(address uint32, length uint16) ([4]byte, error) {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint32(payload[0:4], address)
	binary.BigEndian.PutUint16(payload[4:6], length)

	resp, err := p.doAADefault(CmdVerifyRead, payload)
	if err != nil {
		return [4]byte{}, fmt.Errorf("verify read at 0x%08x: %w", address, err)
	}

	word, err := DecodeSRAMLongword(resp.Payload)
	if err != nil {
		return [4]byte{}, fmt.Errorf("verify read at 0x%08x: %w", address, err)
	}
	return word, nil
}

// CFMInit issues the CFM init / SRAM write variant command (§4.2: "07 1E").
func (p *Port) CFMInit(params []byte) (Response, error) {
	resp, err := p.doAADefault(CmdCFMInit, params)
	if err != nil {
		return Response{}, fmt.Errorf("CFM init: %w", err)
	}
	return resp, nil
}

// WindowStatus probes memory-window status (§4.2: "07 10").
func (p *Port) WindowStatus() (Response, error) {
	resp, err := p.doAADefault(CmdWindowStatus, nil)
	if err != nil {
		return Response{}, fmt.Errorf("window status: %w", err)
	}
	return resp, nil
}

// ReadRegWindow reads a CPU register via the window command (§4.2:
// "07 11 [win:16][regN:2B]"); PC uses window 0x2980 reg 0x080F, SR uses
// window 0x2980 reg 0x080E. args carries any trailing bytes captured
// verbatim after window/reg in the packet trace this command was
// transcribed from (§4.3 step 6, e.g. "07 11 1940 FC0A 00 0A") -- some
// captured invocations carry them, some don't, and they are appended
// as-is rather than interpreted.
func (p *Port) ReadRegWindow(window uint16, reg uint16, args []byte) (Response, error) {
	payload := make([]byte, 4, 4+len(args))
	binary.BigEndian.PutUint16(payload[0:2], window)
	binary.BigEndian.PutUint16(payload[2:4], reg)
	payload = append(payload, args...)

	resp, err := p.doAADefault(CmdReadRegWindow, payload)
	if err != nil {
		return Response{}, fmt.Errorf("read register via window 0x%04x/0x%04x: %w", window, reg, err)
	}
	return resp, nil
}

// HaltSync issues the BDM HALT/sync command (§4.2: "07 12 [pad:16]").
func (p *Port) HaltSync() (Response, error) {
	resp, err := p.doAADefault(CmdHaltSync, []byte{0x00, 0x00})
	if err != nil {
		return Response{}, fmt.Errorf("halt/sync: %w", err)
	}
	return resp, nil
}

// EnterMode enters one of the three documented BDM modes (§4.2:
// "07 01 [mode]").
func (p *Port) EnterMode(mode byte) error {
	_, err := p.doAADefault(CmdEnterMode, []byte{mode})
	if err != nil {
		return fmt.Errorf("enter mode 0x%02x: %w", mode, err)
	}
	return nil
}

// EnableMemAccess enables memory access. The caller must invoke this
// twice per §3's sequencer description; this method issues one call.
func (p *Port) EnableMemAccess(param byte) error {
	_, err := p.doAADefault(CmdEnableMemAccess, []byte{param})
	if err != nil {
		return fmt.Errorf("enable memory access: %w", err)
	}
	return nil
}

// Go resumes execution via BDM GO (§4.2: "07 02 FC 0C").
func (p *Port) Go() error {
	_, err := p.doAADefault(CmdGo, GoArgs[:])
	if err != nil {
		return fmt.Errorf("BDM GO: %w", err)
	}
	return nil
}

// FreezeHelper issues the freeze-sequence helper command (§4.2: "07 95").
func (p *Port) FreezeHelper() (Response, error) {
	resp, err := p.doAADefault(CmdFreezeHelper, nil)
	if err != nil {
		return Response{}, fmt.Errorf("freeze helper: %w", err)
	}
	return resp, nil
}

// BDMInit issues one of the fixed BDM-init-step commands, e.g.
// "04 40 58 04" as BDMInit(CmdBDMInitA, []byte{0x58, 0x04}).
func (p *Port) BDMInit(command uint16, args []byte) (Response, error) {
	resp, err := p.doAADefault(command, args)
	if err != nil {
		return Response{}, fmt.Errorf("BDM init step 0x%04x: %w", command, err)
	}
	return resp, nil
}

// FreezeCheck polls the freeze status, waiting up to the caller's
// timeout for the reply (§4.1, §5): status byte 0x01/0x00 means halted, 0x88 means
// running.
func (p *Port) FreezeCheck(timeout time.Duration) (Response, error) {
	p.builder.Build(CmdBDMInitB, []byte{0xFE, 0x02})
	if err := p.t.Send(); err != nil {
		return Response{}, err
	}
	raw, err := p.t.Receive(timeout)
	if err != nil {
		return Response{}, fmt.Errorf("freeze check: %w", err)
	}
	return Validate(raw)
}

// DeviceInfo issues the device-info query. The sequencer must call this
// twice at session start (§4.3 step 1).
func (p *Port) DeviceInfo() (Response, error) {
	resp, err := p.doAADefault(CmdDeviceInfo, nil)
	if err != nil {
		return Response{}, fmt.Errorf("device info query: %w", err)
	}
	return resp, nil
}

// Upload sends a single BB-class bulk frame and drains the short status
// ack, per §4.2's discipline: wait ~20ms and read the ack; dropping it
// corrupts subsequent reads.
func (p *Port) Upload(destAddr uint32, payload []byte) error {
	frame := BuildBulk(destAddr, payload)
	if err := p.t.SendBulk(frame); err != nil {
		return fmt.Errorf("bulk upload to 0x%08x: %w", destAddr, err)
	}

	time.Sleep(20 * time.Millisecond)

	ack, err := p.t.Receive(p.t.DefaultTimeout())
	if err != nil {
		return fmt.Errorf("bulk upload ack for 0x%08x: %w", destAddr, err)
	}
	if len(ack) < 5 || ack[4] != RespStatusOK {
		return fmt.Errorf("bulk upload to 0x%08x: bad ack %x", destAddr, ack)
	}
	return nil
}

// UploadChunked splits data into chunkSize chunks (1192 bytes per §4.2
// for single-chunk SRAM uploads) and uploads each with the given
// inter-chunk gap.
func (p *Port) UploadChunked(destAddr uint32, data []byte, chunkSize int, gap time.Duration) error {
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := p.Upload(destAddr+uint32(offset), data[offset:end]); err != nil {
			return err
		}
		if end < len(data) {
			time.Sleep(gap)
		}
	}
	return nil
}
