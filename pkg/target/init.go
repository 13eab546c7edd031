// Package target implements the target initialization sequencer
// (component C3): the fixed-order mode transitions, memory-window setup,
// and SRAM pre-init that must run before registers, SRAM, or flash
// programming behave correctly.
package target

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
)

// Flash sizes in KiB, selected by the detected part identification
// number (§4.3 step 4).
const (
	FlashSizeSmallKiB = 64
	FlashSizeLargeKiB = 256
)

// Part identification numbers that select the smaller 64 KiB flash
// variant (MCF52230/52231); any other PIN selects 256 KiB.
var smallFlashPINs = map[byte]bool{0x48: true, 0x49: true}

// Sequencer drives the probe through the documented initialization
// sequence and detects the attached part.
type Sequencer struct {
	port wire.Primitives
}

// NewSequencer wraps a wire port.
func NewSequencer(port wire.Primitives) *Sequencer {
	return &Sequencer{port: port}
}

// DetectDevice runs the probe's device-detect handshake (01 0B twice,
// §4.3 step 1) on its own, with no further mode transitions. Init calls
// this itself; DetectDevice exists so read-only callers like Revision
// can satisfy the probe's "detect before anything else" requirement
// without running the rest of the init sequence.
func (s *Sequencer) DetectDevice() error {
	if _, err := s.port.DeviceInfo(); err != nil {
		return fmt.Errorf("device detect (1/2): %w", err)
	}
	if _, err := s.port.DeviceInfo(); err != nil {
		return fmt.Errorf("device detect (2/2): %w", err)
	}
	return nil
}

// Init runs the full fixed-order sequence (§4.3) and returns the
// detected flash size in KiB. Device detect (01 0B twice, §4.3 step 1)
// runs first since the probe refuses subsequent commands without it.
func (s *Sequencer) Init() (int, error) {
	if err := s.DetectDevice(); err != nil {
		return 0, err
	}

	if err := s.play(FullSequence()); err != nil {
		return 0, err
	}

	flashKiB, err := s.detectPart()
	if err != nil {
		return 0, fmt.Errorf("part detection: %w", err)
	}

	if err := s.selfTest(); err != nil {
		// Self-test mismatch is a warning, not fatal (§4.3 step 7).
		_ = err
	}

	return flashKiB, nil
}

// play replays a declarative step sequence strictly in order, never
// reordering or batching steps, per §9's instruction that these
// sequences are cargo-culted from packet captures and must be replayed
// bit-for-bit.
func (s *Sequencer) play(steps []Step) error {
	for i, step := range steps {
		if err := s.playOne(step); err != nil {
			return fmt.Errorf("init sequence step %d (%v): %w", i, step.Kind, err)
		}
		if step.Delay > 0 {
			time.Sleep(step.Delay)
		}
	}
	return nil
}

func (s *Sequencer) playOne(step Step) error {
	switch step.Kind {
	case StepEnterMode:
		return s.port.EnterMode(step.Mode)
	case StepExtConfigure:
		_, err := s.port.ExtConfigure(step.Args)
		return err
	case StepBDMInitA, StepBDMInitB:
		_, err := s.port.BDMInit(step.Command, step.Args)
		return err
	case StepFreezeHelper:
		_, err := s.port.FreezeHelper()
		return err
	case StepEnableMemAccess:
		return s.port.EnableMemAccess(0x00)
	case StepHaltSync:
		_, err := s.port.HaltSync()
		return err
	case StepReadRegister:
		_, err := s.port.ReadRegister(step.Reg)
		return err
	case StepReadRegWindow:
		_, err := s.port.ReadRegWindow(uint16(step.Window), step.Reg, step.Args)
		return err
	case StepWriteRegister:
		return s.port.WriteRegister(step.Window, step.Reg, step.Value)
	case StepWriteMemory:
		return s.port.WriteMemory(step.Addr, step.Data)
	case StepVerifyRead:
		_, err := s.port.VerifyRead(step.Addr, step.Length)
		return err
	default:
		return fmt.Errorf("unknown init step kind %v", step.Kind)
	}
}

// Revision reads the chip family nibble and part identification number
// without running the init sequence or touching target state, for
// read-only reporting (the `revision` CLI command). It requires device
// detect to have already succeeded on this connection.
func (s *Sequencer) Revision() (familyNibble, pin byte, err error) {
	chipID, err := s.port.ReadRegister(wire.RegChipID)
	if err != nil {
		return 0, 0, fmt.Errorf("read chip ID register: %w", err)
	}
	familyNibble = byte(chipID >> 28)

	const ipsbarPINAddr = 0x40000000 + 0x11000A
	pinWord, err := s.port.VerifyRead(ipsbarPINAddr, 4)
	if err != nil {
		return familyNibble, 0, fmt.Errorf("read part identification number: %w", err)
	}
	pin = byte((binary.BigEndian.Uint32(pinWord[:]) >> 6) & 0x3FF)
	return familyNibble, pin, nil
}

// detectPart reads the chip family from BDM register 0x2D80 and the
// part identification number from IPSBAR+0x11000A, selecting the flash
// size (§4.3 step 4). The PIN may read zero before on-target firmware
// sets up IPSBAR; a zero PIN selects 256 KiB whatever the family nibble
// is, so the family code is read but never changes the detected size.
func (s *Sequencer) detectPart() (int, error) {
	chipID, err := s.port.ReadRegister(wire.RegChipID)
	if err != nil {
		return 0, fmt.Errorf("read chip ID register: %w", err)
	}
	familyNibble := byte(chipID >> 28)

	const ipsbarPINAddr = 0x40000000 + 0x11000A
	pinWord, err := s.port.VerifyRead(ipsbarPINAddr, 4)
	if err != nil {
		return 0, fmt.Errorf("read part identification number: %w", err)
	}
	pin := byte((binary.BigEndian.Uint32(pinWord[:]) >> 6) & 0x3FF)

	if pin == 0 {
		// IPSBAR not yet live; every path below yields 256 KiB.
		if familyNibble == 0 {
			return FlashSizeLargeKiB, nil
		}
	}
	if smallFlashPINs[pin] {
		return FlashSizeSmallKiB, nil
	}
	return FlashSizeLargeKiB, nil
}

// selfTest writes a known pattern to 0x2088 and reads it back from
// 0x2188 (§4.3 step 7). Init ignores the returned error, so a mismatch
// is never fatal and is not logged.
func (s *Sequencer) selfTest() error {
	if err := s.port.WriteRegister(wire.WriteRegisterWindow, 0x2088, 0x200000B8); err != nil {
		return fmt.Errorf("self-test write: %w", err)
	}
	got, err := s.port.ReadRegister(0x2188)
	if err != nil {
		return fmt.Errorf("self-test read: %w", err)
	}
	if got != 0x200000B8 {
		return fmt.Errorf("self-test mismatch: wrote 0x200000B8, read back 0x%08x", got)
	}
	return nil
}
