// Package breakpoint implements the breakpoint/watchpoint engine
// (component C6): hardware PC breakpoint allocation, software breakpoint
// instruction patching, the single watchpoint slot, and the TDR shadow
// that is the only record of what is currently live.
package breakpoint

import (
	"fmt"

	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
)

// Capacity limits (§3, §4.6, §8).
const (
	MaxHardwareBreakpoints = 4
	MaxSoftwareBreakpoints = 32
)

// TDR shadow bit positions (§4.6).
const (
	bitTRCHalt   = 1 << 30
	bitEBL1      = 1 << 13
	bitEPC1      = 1 << 9
	bitEAR1      = 1 << 22 // watch enable; combined with EAL_INSIDE
	bitEALInside = 1 << 14
	bitDRWRead   = 1 << 21
	bitDRWWrite  = 1 << 20
	bitDRWAccess = bitDRWRead | bitDRWWrite
)

// Debug-module register codes for the four PC Breakpoint Registers and
// the Trigger Definition Register (§4.6: "debug register codes 0x08,
// 0x18, 0x1A, 0x1B").
var pbrRegs = [MaxHardwareBreakpoints]uint16{0x08, 0x18, 0x1A, 0x1B}

const tdrReg = 0x1C

// SoftwareHaltOpcode is written over a software breakpoint's
// instruction word (§4.6).
const SoftwareHaltOpcode = 0x4AC8

// WatchKind selects what memory access triggers a watchpoint.
type WatchKind int

const (
	WatchWrite WatchKind = iota
	WatchRead
	WatchAccess
)

type hwBreakpoint struct {
	addr uint32
	used bool
}

type swBreakpoint struct {
	addr         uint32
	originalInsn uint16
	active       bool
}

type watchpoint struct {
	addr   uint32
	length uint32
	kind   WatchKind
	active bool
}

// Engine owns all breakpoint/watchpoint state and the TDR shadow.
type Engine struct {
	port wire.Primitives

	hw    [MaxHardwareBreakpoints]hwBreakpoint
	sw    [MaxSoftwareBreakpoints]swBreakpoint
	watch watchpoint

	tdrShadow uint32
}

// NewEngine constructs an engine with a zeroed TDR shadow -- matching
// the target's power-on state.
func NewEngine(port wire.Primitives) *Engine {
	return &Engine{port: port}
}

// writeTDR pushes the shadow to the write-only TDR register. PBR/TDR
// are never read back (§4.6, §9): the shadow is trusted completely.
func (e *Engine) writeTDR() error {
	if err := e.port.WriteRegister(wire.WriteRegisterWindow, tdrReg, e.tdrShadow); err != nil {
		return fmt.Errorf("write TDR shadow: %w", err)
	}
	return nil
}

// SetHardwareBreakpoint allocates the first free hardware slot for addr
// (§4.6).
func (e *Engine) SetHardwareBreakpoint(addr uint32) error {
	slot := -1
	for i := range e.hw {
		if !e.hw[i].used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("no free hardware breakpoint slots (max %d)", MaxHardwareBreakpoints)
	}

	if err := e.port.WriteRegister(wire.WriteRegisterWindow, pbrRegs[slot], addr); err != nil {
		return fmt.Errorf("write PBR%d: %w", slot, err)
	}

	e.tdrShadow |= bitTRCHalt | bitEBL1 | bitEPC1 | (1 << (24 + uint(slot)))
	if err := e.writeTDR(); err != nil {
		return err
	}

	e.hw[slot] = hwBreakpoint{addr: addr, used: true}
	return nil
}

// ClearHardwareBreakpoint releases the slot holding addr, if any.
func (e *Engine) ClearHardwareBreakpoint(addr uint32) error {
	slot := -1
	for i := range e.hw {
		if e.hw[i].used && e.hw[i].addr == addr {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("no hardware breakpoint installed at 0x%08x", addr)
	}

	e.hw[slot] = hwBreakpoint{}
	e.tdrShadow &^= 1 << (24 + uint(slot))

	if !e.anyHardwareActive() && !e.watch.active {
		e.tdrShadow &^= bitTRCHalt | bitEBL1
	}
	return e.writeTDR()
}

func (e *Engine) anyHardwareActive() bool {
	for i := range e.hw {
		if e.hw[i].used {
			return true
		}
	}
	return false
}

// SetSoftwareBreakpoint reads the instruction at addr, saves it, and
// writes the HALT opcode (§4.6). To preserve surrounding memory, the
// following 16 bits are read and merged before a 32-bit aligned write.
func (e *Engine) SetSoftwareBreakpoint(addr uint32) error {
	slot := -1
	for i := range e.sw {
		if !e.sw[i].active {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("no free software breakpoint slots (max %d)", MaxSoftwareBreakpoints)
	}

	original, next, err := e.readInsnPair(addr)
	if err != nil {
		return fmt.Errorf("read instruction at 0x%08x: %w", addr, err)
	}

	merged := make([]byte, 4)
	merged[0] = byte(SoftwareHaltOpcode >> 8)
	merged[1] = byte(SoftwareHaltOpcode)
	merged[2] = byte(next >> 8)
	merged[3] = byte(next)
	if err := e.port.WriteMemoryAligned(addr, merged); err != nil {
		return fmt.Errorf("write software breakpoint at 0x%08x: %w", addr, err)
	}

	e.sw[slot] = swBreakpoint{addr: addr, originalInsn: original, active: true}
	return nil
}

// ClearSoftwareBreakpoint restores the original instruction at addr.
func (e *Engine) ClearSoftwareBreakpoint(addr uint32) error {
	slot := -1
	for i := range e.sw {
		if e.sw[i].active && e.sw[i].addr == addr {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("no software breakpoint installed at 0x%08x", addr)
	}

	_, next, err := e.readInsnPair(addr)
	if err != nil {
		return fmt.Errorf("read instruction at 0x%08x: %w", addr, err)
	}

	merged := make([]byte, 4)
	orig := e.sw[slot].originalInsn
	merged[0] = byte(orig >> 8)
	merged[1] = byte(orig)
	merged[2] = byte(next >> 8)
	merged[3] = byte(next)
	if err := e.port.WriteMemoryAligned(addr, merged); err != nil {
		return fmt.Errorf("restore instruction at 0x%08x: %w", addr, err)
	}

	e.sw[slot] = swBreakpoint{}
	return nil
}

// readInsnPair reads the 16-bit instruction at addr and the following
// 16 bits at addr+2, each via a 32-bit aligned block read. addr is only
// 16-bit aligned in general (ColdFire instructions), so addr and addr+2
// do not necessarily fall in the same aligned 4-byte block; a second
// read is issued whenever they don't.
func (e *Engine) readInsnPair(addr uint32) (insn uint16, next uint16, err error) {
	block, err := e.port.BlockRead(addr&^3, 4)
	if err != nil {
		return 0, 0, err
	}
	if len(block) < 4 {
		return 0, 0, fmt.Errorf("short instruction-pair read at 0x%08x", addr)
	}
	insn = wordAt(block, addr)

	nextAddr := addr + 2
	if nextAddr&^3 == addr&^3 {
		return insn, wordAt(block, nextAddr), nil
	}

	nextBlock, err := e.port.BlockRead(nextAddr&^3, 4)
	if err != nil {
		return 0, 0, err
	}
	if len(nextBlock) < 4 {
		return 0, 0, fmt.Errorf("short instruction-pair read at 0x%08x", nextAddr)
	}
	return insn, wordAt(nextBlock, nextAddr), nil
}

// wordAt extracts the 16-bit big-endian word covering addr from a
// 4-byte aligned block starting at addr&^3.
func wordAt(block []byte, addr uint32) uint16 {
	off := addr % 4
	return uint16(block[off])<<8 | uint16(block[off+1])
}

// IsSoftwareBreakpoint reports whether addr currently holds an active
// software breakpoint, and if so its saved original instruction.
func (e *Engine) IsSoftwareBreakpoint(addr uint32) (originalInsn uint16, ok bool) {
	for i := range e.sw {
		if e.sw[i].active && e.sw[i].addr == addr {
			return e.sw[i].originalInsn, true
		}
	}
	return 0, false
}

// SetWatchpoint installs the single watchpoint slot over [addr, addr+length)
// for the given access kind (§4.6).
func (e *Engine) SetWatchpoint(addr, length uint32, kind WatchKind) error {
	if e.watch.active {
		return fmt.Errorf("a watchpoint is already active at 0x%08x", e.watch.addr)
	}
	if length == 0 {
		return fmt.Errorf("watchpoint length must be nonzero")
	}

	const ablrReg = 0x19
	const abhrReg = 0x1A
	if err := e.port.WriteRegister(wire.WriteRegisterWindow, ablrReg, addr); err != nil {
		return fmt.Errorf("write ABLR: %w", err)
	}
	if err := e.port.WriteRegister(wire.WriteRegisterWindow, abhrReg, addr+length-1); err != nil {
		return fmt.Errorf("write ABHR: %w", err)
	}

	e.tdrShadow |= bitEAR1 | bitEALInside | bitTRCHalt | bitEBL1
	e.tdrShadow &^= bitDRWAccess
	switch kind {
	case WatchRead:
		e.tdrShadow |= bitDRWRead
	case WatchWrite:
		e.tdrShadow |= bitDRWWrite
	case WatchAccess:
		e.tdrShadow |= bitDRWAccess
	}
	if err := e.writeTDR(); err != nil {
		return err
	}

	e.watch = watchpoint{addr: addr, length: length, kind: kind, active: true}
	return nil
}

// ClearWatchpoint removes the active watchpoint, if any.
func (e *Engine) ClearWatchpoint() error {
	if !e.watch.active {
		return fmt.Errorf("no watchpoint is active")
	}

	e.tdrShadow &^= bitEAR1 | bitEALInside | bitDRWAccess
	if !e.anyHardwareActive() {
		e.tdrShadow &^= bitTRCHalt | bitEBL1
	}
	if err := e.writeTDR(); err != nil {
		return err
	}

	const ablrReg = 0x19
	const abhrReg = 0x1A
	if err := e.port.WriteRegister(wire.WriteRegisterWindow, ablrReg, 0); err != nil {
		return fmt.Errorf("clear ABLR: %w", err)
	}
	if err := e.port.WriteRegister(wire.WriteRegisterWindow, abhrReg, 0); err != nil {
		return fmt.Errorf("clear ABHR: %w", err)
	}

	e.watch = watchpoint{}
	return nil
}

// WatchpointHit reports whether the shadow's watch-trigger bits were
// active when the target halted, meaning the halt should be reported as
// a watchpoint hit at the watchpoint's address (§4.6).
func (e *Engine) WatchpointHit() (addr uint32, ok bool) {
	if !e.watch.active {
		return 0, false
	}
	if e.tdrShadow&(bitEAR1|bitTRCHalt) == (bitEAR1 | bitTRCHalt) {
		return e.watch.addr, true
	}
	return 0, false
}

// Reset clears the shadow entirely and forgets all installed
// breakpoints/watchpoints -- the full recovery path from shadow
// corruption (§4.6 state-machine invariant).
func (e *Engine) Reset() error {
	e.tdrShadow = 0
	e.hw = [MaxHardwareBreakpoints]hwBreakpoint{}
	e.sw = [MaxSoftwareBreakpoints]swBreakpoint{}
	e.watch = watchpoint{}
	return e.writeTDR()
}
