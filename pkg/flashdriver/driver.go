// Package flashdriver implements the host-side flash driver (component
// C5): it uploads the on-target flash agent, marshals the parameter
// block, schedules erase/program/verify operations, and tracks which
// sectors have already been erased since the last init.
//
// The erase/program/poll-status state machine shape here follows the
// same idiom as a SPI NOR flash driver elsewhere in this codebase's
// lineage: wait for a ready condition, issue the operation, poll a
// controller status register, classify the result.
package flashdriver

import (
	"fmt"
	"time"

	"github.com/coldfiredbg/coldfiredbg/pkg/flashagent"
	"github.com/coldfiredbg/coldfiredbg/pkg/target"
	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
)

// Sector geometry (§3): 2 KiB erase granularity, 128 sectors.
const (
	SectorSize  = 2048
	SectorCount = 128
)

// Program chunk size (§3): the host-side program buffer is 1 KiB.
const ProgramChunkSize = 1024

// Per-operation timeouts (§4.5, §5).
const (
	TimeoutDefault     = 5 * time.Second
	TimeoutMassErase   = 30 * time.Second
	TimeoutSectorErase = 10 * time.Second
	pollInterval       = 1 * time.Second
)

// Driver owns the agent's code image and the erased-sectors bitmap.
type Driver struct {
	port      wire.Primitives
	sequencer *target.Sequencer
	agentCode []byte
	agentSP   uint32

	loaded      bool
	initialized bool
	erased      [SectorCount]bool
}

// New constructs a driver with the agent code image that will be
// uploaded to flashagent.OffAgentCode on first Init, and the initial
// stack pointer value to install at flashagent.OffInitialStackP.
func New(port wire.Primitives, sequencer *target.Sequencer, agentCode []byte, agentSP uint32) *Driver {
	return &Driver{
		port:      port,
		sequencer: sequencer,
		agentCode: agentCode,
		agentSP:   agentSP,
	}
}

// Init runs the target's SRAM pre-init sequence, uploads the agent if it
// is not already loaded, runs the agent's init operation, and leaves the
// driver ready for erase/program calls (§4.5).
func (d *Driver) Init() error {
	if _, err := d.sequencer.Init(); err != nil {
		return fmt.Errorf("flash driver init: SRAM pre-init: %w", err)
	}

	if !d.loaded {
		if err := d.uploadAgent(); err != nil {
			return fmt.Errorf("flash driver init: upload agent: %w", err)
		}
		d.loaded = true
	}

	if _, err := d.runOperation(flashagent.OpInit, 0, 0, TimeoutDefault); err != nil {
		d.teardown()
		return fmt.Errorf("flash driver init: agent init op: %w", err)
	}

	d.initialized = true
	for i := range d.erased {
		d.erased[i] = false
	}
	return nil
}

// uploadAgent writes the agent code and initial stack pointer into SRAM
// via longword writes (§4.5: "uploads the agent (longword writes via
// 07 19)").
func (d *Driver) uploadAgent() error {
	for i := 0; i+4 <= len(d.agentCode); i += 4 {
		word := uint32(d.agentCode[i])<<24 | uint32(d.agentCode[i+1])<<16 |
			uint32(d.agentCode[i+2])<<8 | uint32(d.agentCode[i+3])
		addr := flashagent.Base + flashagent.OffAgentCode + uint32(i)
		if err := d.port.WriteLongword(addr, word); err != nil {
			return fmt.Errorf("upload agent code at offset 0x%x: %w", i, err)
		}
	}
	spAddr := uint32(flashagent.Base + flashagent.OffInitialStackP)
	if err := d.port.WriteLongword(spAddr, d.agentSP); err != nil {
		return fmt.Errorf("write initial stack pointer: %w", err)
	}
	return nil
}

// runOperation marshals the parameter block for op, runs the agent via
// BDM GO, polls for halt, reads the result, and re-enters mode 0xF8 for
// the next operation, per §4.5.
func (d *Driver) runOperation(op uint32, addr, length uint32, timeout time.Duration) (flashagent.ParamBlock, error) {
	block := flashagent.ParamBlock{OpCode: op, FlashAddr: addr, Length: length}

	buf := make([]byte, 5*4)
	block.Marshal(buf)
	if err := d.port.WriteMemory(flashagent.Base, buf); err != nil {
		return flashagent.ParamBlock{}, fmt.Errorf("write parameter block: %w", err)
	}

	entry := uint32(flashagent.Base + flashagent.OffAgentCode)
	if err := d.port.WriteRegister(wire.WriteRegisterWindow, wire.RegPC, entry); err != nil {
		return flashagent.ParamBlock{}, fmt.Errorf("set PC to agent entry: %w", err)
	}
	if err := d.port.WriteRegister(wire.WriteRegisterWindow, wire.RegSR, 0x2700); err != nil {
		return flashagent.ParamBlock{}, fmt.Errorf("set SR for agent run: %w", err)
	}
	if err := d.port.Go(); err != nil {
		return flashagent.ParamBlock{}, fmt.Errorf("BDM GO: %w", err)
	}

	if err := d.pollHalt(timeout); err != nil {
		return flashagent.ParamBlock{}, err
	}

	result, err := d.readResult()
	if err != nil {
		return flashagent.ParamBlock{}, err
	}

	if err := d.port.EnterMode(wire.ModeF8); err != nil {
		return flashagent.ParamBlock{}, fmt.Errorf("re-enter mode 0xF8 after op: %w", err)
	}

	if result.ResultCode != flashagent.ResultSuccess {
		return result, fmt.Errorf("agent operation 0x%02x failed: %s", op, flashagent.ResultString(result.ResultCode))
	}
	return result, nil
}

// pollHalt polls BDM freeze status at 1 Hz until the agent halts or
// timeout elapses (§4.5).
func (d *Driver) pollHalt(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		resp, err := d.port.FreezeCheck(500 * time.Millisecond)
		if err == nil && len(resp.Payload) > 0 && resp.Payload[0] != 0x88 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for agent halt after %s", timeout)
		}
		time.Sleep(pollInterval)
	}
}

// readResult reads the result code and status snapshot the agent wrote
// back into the parameter block.
func (d *Driver) readResult() (flashagent.ParamBlock, error) {
	raw, err := d.port.BlockRead(flashagent.Base, 5*4)
	if err != nil {
		return flashagent.ParamBlock{}, fmt.Errorf("read parameter block result: %w", err)
	}
	resultCode, status := flashagent.UnmarshalResult(raw)
	return flashagent.ParamBlock{ResultCode: resultCode, StatusSnap: status}, nil
}

// teardown clears initialized state; the next high-level call must
// re-initialize (§4.5 failure semantics).
func (d *Driver) teardown() {
	d.initialized = false
}

// padToWord pads data with 0xFF up to the next multiple of 4 bytes, per
// the boundary behavior that a program operation whose length is not a
// multiple of 4 pads the final word with 0xFF (§8).
func padToWord(data []byte) []byte {
	rem := len(data) % 4
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(4-rem))
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = 0xFF
	}
	return padded
}

// sectorRange returns [first, last) sector indices covering [start, start+length).
func sectorRange(start, length uint32) (int, int) {
	first := int(start / SectorSize)
	last := int((start + length + SectorSize - 1) / SectorSize)
	return first, last
}

// EraseRange erases only the sectors covering [start, start+length) that
// are not already marked erased since the last Init (§4.5).
func (d *Driver) EraseRange(start, length uint32) error {
	if !d.initialized {
		if err := d.Init(); err != nil {
			return err
		}
	}

	first, last := sectorRange(start, length)
	for sector := first; sector < last && sector < SectorCount; sector++ {
		if d.erased[sector] {
			continue
		}
		sectorAddr := uint32(sector * SectorSize)
		if _, err := d.runOperation(flashagent.OpSectorErase, sectorAddr, 0, TimeoutSectorErase); err != nil {
			d.teardown()
			return fmt.Errorf("erase sector %d: %w", sector, err)
		}
		d.erased[sector] = true
	}
	return nil
}

// MassErase erases the entire flash array (§4.5).
func (d *Driver) MassErase() error {
	if !d.initialized {
		if err := d.Init(); err != nil {
			return err
		}
	}
	if _, err := d.runOperation(flashagent.OpMassErase, 0, 0, TimeoutMassErase); err != nil {
		d.teardown()
		return fmt.Errorf("mass erase: %w", err)
	}
	for i := range d.erased {
		d.erased[i] = true
	}
	return nil
}

// Program writes data at addr, chunking into ≤1 KiB writes into the
// agent's data buffer before invoking the program operation for each
// chunk (§4.5).
func (d *Driver) Program(addr uint32, data []byte) error {
	if !d.initialized {
		if err := d.Init(); err != nil {
			return err
		}
	}

	for offset := 0; offset < len(data); offset += ProgramChunkSize {
		end := offset + ProgramChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		if err := d.uploadChunk(chunk); err != nil {
			d.teardown()
			return fmt.Errorf("upload program chunk at offset %d: %w", offset, err)
		}
		if _, err := d.runOperation(flashagent.OpProgram, addr+uint32(offset), uint32(len(chunk)), TimeoutDefault); err != nil {
			d.teardown()
			return fmt.Errorf("program chunk at 0x%08x: %w", addr+uint32(offset), err)
		}
	}
	return nil
}

// uploadChunk writes chunk into the agent's data buffer, padding the
// final word with 0xFF if chunk's length is not a multiple of 4 (§8
// boundary behavior).
func (d *Driver) uploadChunk(chunk []byte) error {
	padded := padToWord(chunk)

	for i := 0; i+4 <= len(padded); i += 4 {
		word := uint32(padded[i])<<24 | uint32(padded[i+1])<<16 |
			uint32(padded[i+2])<<8 | uint32(padded[i+3])
		addr := uint32(flashagent.Base + flashagent.OffDataBuffer + i)
		if err := d.port.WriteLongword(addr, word); err != nil {
			return err
		}
	}
	return nil
}

// ProgramBinary erases the destination range then programs it, with an
// optional verify pass reading the flash back and comparing (§4.5).
func (d *Driver) ProgramBinary(addr uint32, data []byte, verify bool) error {
	if err := d.EraseRange(addr, uint32(len(data))); err != nil {
		return err
	}
	if err := d.Program(addr, data); err != nil {
		return err
	}
	if !verify {
		return nil
	}

	readBack, err := d.port.BlockRead(addr, uint16(len(data)))
	if err != nil {
		return fmt.Errorf("verify read at 0x%08x: %w", addr, err)
	}
	for i := range data {
		if readBack[i] != data[i] {
			return fmt.Errorf("verify mismatch at offset %d: wrote 0x%02x, read 0x%02x", i, data[i], readBack[i])
		}
	}
	return nil
}
