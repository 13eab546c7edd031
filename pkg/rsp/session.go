package rsp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/coldfiredbg/coldfiredbg/pkg/breakpoint"
	"github.com/coldfiredbg/coldfiredbg/pkg/flashdriver"
	"github.com/coldfiredbg/coldfiredbg/pkg/target"
	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
)

// registerCount is the number of core registers 'g'/'G' read and write:
// D0-D7, A0-A7, SR, PC (§4.7).
const registerCount = 18

// firstFPRegister/lastFPRegister bound the FP register range that always
// reads as zero (§4.7: "FP registers (18-28) report zeroes of the
// appropriate width").
const (
	firstFPRegister = 18
	lastFPRegister  = 28
)

// flashState is the vFlash write state machine (§4.7).
type flashState int

const (
	flashIdle flashState = iota
	flashErasing
	flashBuffering
)

// vFlashBuffer accumulates vFlashWrite payloads before a vFlashDone
// commits them in one program call (§4.7).
type vFlashBuffer struct {
	baseAddr uint32
	data     []byte
	anchored bool
}

// Session holds all per-connection RSP state: target_halted, step_count,
// cached reset-vector SP/PC, and the in-progress vFlash buffer (§3).
type Session struct {
	port   wire.Primitives
	seq    *target.Sequencer
	driver *flashdriver.Driver
	bp     *breakpoint.Engine

	targetHalted bool
	stepCount    int
	cachedSP     uint32
	cachedPC     uint32

	flashState flashState
	flashBuf   vFlashBuffer
}

func newSession(port wire.Primitives, seq *target.Sequencer, driver *flashdriver.Driver, bp *breakpoint.Engine) *Session {
	return &Session{port: port, seq: seq, driver: driver, bp: bp, targetHalted: true}
}

// readResetVector caches the reset vector's initial SP (flash offset 0)
// and initial PC (flash offset 4), read once at session start (§3).
func (s *Session) readResetVector() error {
	raw, err := s.port.BlockRead(0, 8)
	if err != nil {
		return fmt.Errorf("read reset vector: %w", err)
	}
	if len(raw) < 8 {
		return fmt.Errorf("read reset vector: short read (%d bytes)", len(raw))
	}
	s.cachedSP = binary.BigEndian.Uint32(raw[0:4])
	s.cachedPC = binary.BigEndian.Uint32(raw[4:8])
	return nil
}

// registerWindowCode maps a GDB register number to the BDM register code
// used by ReadRegWindow/WriteRegister. spec.md gives no explicit codes for
// D0-D7/A0-A7 (an Open Question); see wire.RegD0/RegA0's doc comment for
// the resolution this server uses.
func registerWindowCode(n int) (reg uint16, ok bool) {
	switch {
	case n >= 0 && n <= 7:
		return wire.RegD0 + uint16(n), true
	case n >= 8 && n <= 15:
		return wire.RegA0 + uint16(n-8), true
	case n == 16:
		return wire.RegSR, true
	case n == 17:
		return wire.RegPC, true
	default:
		return 0, false
	}
}

// readRegister reads core register n (§4.7 "p<n>").
func (s *Session) readRegister(n int) (uint32, error) {
	if n >= firstFPRegister && n <= lastFPRegister {
		return 0, nil
	}
	reg, ok := registerWindowCode(n)
	if !ok {
		return 0, fmt.Errorf("rsp: register %d out of range", n)
	}
	resp, err := s.port.ReadRegWindow(wire.WindowPC, reg, nil)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 4 {
		return 0, fmt.Errorf("rsp: short register read response (%d bytes)", len(resp.Payload))
	}
	return binary.BigEndian.Uint32(resp.Payload[:4]), nil
}

// writeRegister writes core register n (§4.7 "P<n>=<v>").
func (s *Session) writeRegister(n int, val uint32) error {
	if n >= firstFPRegister && n <= lastFPRegister {
		return nil // FP registers are reported but not writable here
	}
	reg, ok := registerWindowCode(n)
	if !ok {
		return fmt.Errorf("rsp: register %d out of range", n)
	}
	return s.port.WriteRegister(wire.WriteRegisterWindow, reg, val)
}

// readAllRegisters reads the 18 core registers in GDB order (§4.7 "g").
func (s *Session) readAllRegisters() ([]byte, error) {
	out := make([]byte, registerCount*4)
	for n := 0; n < registerCount; n++ {
		val, err := s.readRegister(n)
		if err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(out[n*4:], val)
	}
	return out, nil
}

// writeAllRegisters writes the 18 core registers from a raw byte buffer
// (§4.7 "G").
func (s *Session) writeAllRegisters(data []byte) error {
	if len(data) < registerCount*4 {
		return fmt.Errorf("rsp: short register write payload (%d bytes, want %d)", len(data), registerCount*4)
	}
	for n := 0; n < registerCount; n++ {
		val := binary.BigEndian.Uint32(data[n*4:])
		if err := s.writeRegister(n, val); err != nil {
			return err
		}
	}
	return nil
}

// readMemory reads length bytes from addr via the block-read primitive
// (§4.7 "m<addr>,<len>").
func (s *Session) readMemory(addr uint32, length uint16) ([]byte, error) {
	return s.port.BlockRead(addr, length)
}

// writeMemory writes data at addr longword-wise (§4.7 "M<addr>,<len>:<hex>").
func (s *Session) writeMemory(addr uint32, data []byte) error {
	for i := 0; i+4 <= len(data); i += 4 {
		word := binary.BigEndian.Uint32(data[i:])
		if err := s.port.WriteLongword(addr+uint32(i), word); err != nil {
			return err
		}
	}
	if rem := len(data) % 4; rem != 0 {
		if err := s.port.WriteMemoryAligned(addr+uint32(len(data)-rem), data[len(data)-rem:]); err != nil {
			return err
		}
	}
	return nil
}

const (
	continueTimeout      = 5 * time.Second
	stepTimeout          = 100 * time.Millisecond
	continuePollInterval = 1 * time.Millisecond
	stepPollInterval     = 1 * time.Millisecond
	csrCheckInterval     = 10 * time.Millisecond
	interruptDrainWindow = 10 * time.Millisecond

	csrBitBKPT = 1 << 24
)

// stopReason describes why the target halted, for the reply the c/s
// handlers produce.
type stopReason struct {
	watchAddr uint32
	isWatch   bool
}

// cont implements the "c[<addr>]" command: optional PC set, enter mode
// 0xF8, BDM GO, poll for halt up to 5s, force halt on timeout (§4.7).
func (s *Session) cont(setPC bool, addr uint32) (stopReason, error) {
	if setPC {
		if err := s.writeRegister(17, addr); err != nil {
			return stopReason{}, fmt.Errorf("set PC before continue: %w", err)
		}
	}
	if err := s.port.EnterMode(wire.ModeF8); err != nil {
		return stopReason{}, fmt.Errorf("enter mode before continue: %w", err)
	}
	if err := s.port.Go(); err != nil {
		return stopReason{}, fmt.Errorf("BDM GO: %w", err)
	}
	s.targetHalted = false

	deadline := time.Now().Add(continueTimeout)
	lastCSRCheck := time.Now()
	for {
		resp, err := s.port.FreezeCheck(500 * time.Millisecond)
		halted := err == nil && len(resp.Payload) > 0 && resp.Payload[0] != 0x88
		if halted {
			break
		}
		if time.Since(lastCSRCheck) >= csrCheckInterval {
			lastCSRCheck = time.Now()
			// A CSR BKPT-bit check would normally be read here via the
			// debug-module CSR register; this probe reports halts through
			// freeze status, so the periodic check is a no-op placeholder
			// for the cadence spec.md names (§4.7, §5).
			_ = csrBitBKPT
		}
		if time.Now().After(deadline) {
			_ = s.forceHalt()
			break
		}
		time.Sleep(continuePollInterval)
	}
	s.targetHalted = true

	if addr, ok := s.bp.WatchpointHit(); ok {
		return stopReason{watchAddr: addr, isWatch: true}, nil
	}
	return stopReason{}, nil
}

// step implements "s[<addr>]": single-step via CSR SSM, poll for halt up
// to 100ms, run the BDM reset workaround every 2 steps (§4.7).
func (s *Session) step(setPC bool, addr uint32) error {
	if setPC {
		if err := s.writeRegister(17, addr); err != nil {
			return fmt.Errorf("set PC before step: %w", err)
		}
	}

	const csrReg = 0x0F00 // debug-module CSR; spec.md names only its SSM bit
	const csrSSMBit = 1 << 4

	csrResp, err := s.port.ReadRegWindow(wire.WindowPC, csrReg, nil)
	if err != nil {
		return fmt.Errorf("read CSR before step: %w", err)
	}
	csr := uint32(0)
	if len(csrResp.Payload) >= 4 {
		csr = binary.BigEndian.Uint32(csrResp.Payload[:4])
	}
	csr |= csrSSMBit
	if err := s.port.WriteRegister(wire.WriteRegisterWindow, csrReg, csr); err != nil {
		return fmt.Errorf("set CSR SSM bit: %w", err)
	}

	if err := s.port.Go(); err != nil {
		return fmt.Errorf("BDM GO for step: %w", err)
	}
	s.targetHalted = false

	deadline := time.Now().Add(stepTimeout)
	for {
		resp, err := s.port.FreezeCheck(100 * time.Millisecond)
		if err == nil && len(resp.Payload) > 0 && resp.Payload[0] != 0x88 {
			break
		}
		if time.Now().After(deadline) {
			_ = s.forceHalt()
			break
		}
		time.Sleep(stepPollInterval)
	}
	s.targetHalted = true

	csr &^= csrSSMBit
	if err := s.port.WriteRegister(wire.WriteRegisterWindow, csrReg, csr); err != nil {
		return fmt.Errorf("clear CSR SSM bit: %w", err)
	}

	s.stepCount++
	if s.stepCount%2 == 0 {
		if err := s.bdmResetWorkaround(); err != nil {
			return fmt.Errorf("BDM reset workaround: %w", err)
		}
	}
	return nil
}

// bdmResetWorkaround saves PC, cycles mode 0xF8->0xF0->0xF8, and restores
// PC, defeating a firmware counter bug in the probe that otherwise wedges
// single-stepping every 2 steps (§4.7).
func (s *Session) bdmResetWorkaround() error {
	pc, err := s.readRegister(17)
	if err != nil {
		return err
	}
	if err := s.port.EnterMode(wire.ModeF8); err != nil {
		return err
	}
	if err := s.port.EnterMode(wire.ModeF0); err != nil {
		return err
	}
	if err := s.port.EnterMode(wire.ModeF8); err != nil {
		return err
	}
	return s.writeRegister(17, pc)
}

// interrupt handles the 0x03 byte: force an immediate halt, observe
// freeze for up to 10ms, then the caller replies S02 (§5 cancellation).
func (s *Session) interrupt() error {
	if s.targetHalted {
		return nil
	}
	if err := s.forceHalt(); err != nil {
		return err
	}
	deadline := time.Now().Add(interruptDrainWindow)
	for time.Now().Before(deadline) {
		resp, err := s.port.FreezeCheck(interruptDrainWindow)
		if err == nil && len(resp.Payload) > 0 && resp.Payload[0] != 0x88 {
			break
		}
		time.Sleep(stepPollInterval)
	}
	return nil
}

func (s *Session) forceHalt() error {
	_, err := s.port.HaltSync()
	s.targetHalted = true
	return err
}
