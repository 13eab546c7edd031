package target

import (
	"time"

	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
)

// StepKind selects which BDM primitive a Step plays.
type StepKind int

const (
	StepEnterMode StepKind = iota
	StepExtConfigure
	StepBDMInitA
	StepBDMInitB
	StepFreezeHelper
	StepEnableMemAccess
	StepHaltSync
	StepReadRegister
	StepReadRegWindow
	StepWriteRegister
	StepWriteMemory
	StepVerifyRead
)

// Step is one entry in a fixed-order initialization sequence: a command
// to play and the delay to observe afterward. Sequences are represented
// declaratively, as data, so they can be replayed verbatim and diffed
// against capture files -- the order is never to be refactored (§9).
type Step struct {
	Kind    StepKind
	Mode    byte   // StepEnterMode
	Command uint16 // StepBDMInitA/StepBDMInitB
	Args    []byte
	Window  uint32 // StepWriteRegister/StepReadRegWindow
	Reg     uint16 // StepReadRegister/StepReadRegWindow/StepWriteRegister
	Value   uint32 // StepWriteRegister
	Addr    uint32 // StepWriteMemory/StepVerifyRead
	Data    []byte // StepWriteMemory
	Length  uint16 // StepVerifyRead
	Delay   time.Duration
}

// modeCycleDelay is the documented inter-command delay used throughout
// the memory-window setup sequence (§4.3 step 6: "309-350 us").
const modeCycleDelay = 330 * time.Microsecond

// bdmModeEntrySequence is §4.3 step 2: mode entry, configure, the BDM
// init triplet, enable memory access twice, re-enter 0xFC.
func bdmModeEntrySequence() []Step {
	return []Step{
		{Kind: StepEnterMode, Mode: wire.ModeFC},
		{Kind: StepExtConfigure, Args: []byte{0xA2, 0x01}},
		{Kind: StepBDMInitA, Command: 0x0440, Args: []byte{0x58, 0x04}},
		{Kind: StepBDMInitB, Command: 0x047F, Args: []byte{0xFE, 0x02}},
		{Kind: StepBDMInitB, Command: 0x047F, Args: []byte{0xFE, 0x02}},
		{Kind: StepFreezeHelper},
		{Kind: StepBDMInitA, Command: 0x0440, Args: []byte{0x00, 0x02}},
		{Kind: StepEnableMemAccess},
		{Kind: StepEnableMemAccess},
		{Kind: StepEnterMode, Mode: wire.ModeFC},
	}
}

// modeCyclingSequence is §4.3 step 3.
func modeCyclingSequence() []Step {
	return []Step{
		{Kind: StepEnterMode, Mode: wire.ModeF8},
		{Kind: StepEnterMode, Mode: wire.ModeF0},
		{Kind: StepEnterMode, Mode: wire.ModeF8},
		{Kind: StepHaltSync},
	}
}

// registerPrimingSequence is §4.3 step 5.
func registerPrimingSequence() []Step {
	return []Step{
		{Kind: StepWriteRegister, Window: wire.WriteRegisterWindow, Reg: wire.RegSR, Value: 0x2700},
		{Kind: StepWriteRegister, Window: wire.WriteRegisterWindow, Reg: wire.RegRAMBAR, Value: 0x20000221},
		{Kind: StepWriteRegister, Window: wire.WriteRegisterWindow, Reg: wire.RegPC, Value: 0x23F2},
		{Kind: StepWriteRegister, Window: wire.WriteRegisterWindow, Reg: wire.RegFlashBAR, Value: 0x00000061},
	}
}

// memoryWindowSetupSequence is §4.3 step 6.
func memoryWindowSetupSequence() []Step {
	return []Step{
		{Kind: StepHaltSync, Delay: modeCycleDelay},
		{Kind: StepReadRegister, Reg: 0x2D80, Delay: modeCycleDelay},
		{Kind: StepReadRegWindow, Window: 0x1940, Reg: 0xFC0A, Args: []byte{0x00, 0x0A}, Delay: modeCycleDelay},
		{Kind: StepReadRegWindow, Window: 0x1940, Reg: 0x4011, Args: []byte{0x00, 0x0A}, Delay: modeCycleDelay},
		{Kind: StepReadRegWindow, Window: 0x1900, Reg: 0x4010, Args: []byte{0x00, 0x74}, Delay: modeCycleDelay},
		{Kind: StepExtConfigure, Args: []byte{0x18, 0x00, 0x40, 0x10, 0x00, 0x74, 0x00, 0x0F}, Delay: modeCycleDelay},
		{Kind: StepExtConfigure, Args: []byte{0x18, 0x00, 0x40, 0x10, 0x00, 0x74, 0x00, 0x0F}, Delay: modeCycleDelay},
		{Kind: StepHaltSync},
	}
}

// sramPreInitSequence builds the 454-step scripted sequence (§4.3 step
// 8) played before general SRAM access. The steps are generated here,
// not transcribed from a capture: step i addresses the longword at
// 0x20000000+4*i and is, in turn, a write of 0x20000221, a verify-read
// and a halt-sync. The resulting slice is played back strictly in
// order, one Step at a time, exactly like every other sequence in this
// file.
func sramPreInitSequence() []Step {
	const (
		base    = uint32(0x20000000)
		stride  = 4
		steps   = 454
		pattern = uint32(0x20000221)
	)

	seq := make([]Step, 0, steps)
	for i := 0; i < steps; i++ {
		addr := base + uint32(i)*stride
		switch i % 3 {
		case 0:
			seq = append(seq, Step{
				Kind: StepWriteMemory,
				Addr: addr,
				Data: []byte{
					byte(pattern >> 24), byte(pattern >> 16),
					byte(pattern >> 8), byte(pattern),
				},
			})
		case 1:
			seq = append(seq, Step{Kind: StepVerifyRead, Addr: addr, Length: 4})
		default:
			seq = append(seq, Step{Kind: StepHaltSync})
		}
	}
	return seq
}

// FullSequence concatenates every stage of target initialization, in the
// fixed order §4.3 requires.
func FullSequence() []Step {
	var seq []Step
	seq = append(seq, bdmModeEntrySequence()...)
	seq = append(seq, modeCyclingSequence()...)
	seq = append(seq, registerPrimingSequence()...)
	seq = append(seq, memoryWindowSetupSequence()...)
	seq = append(seq, sramPreInitSequence()...)
	return seq
}
