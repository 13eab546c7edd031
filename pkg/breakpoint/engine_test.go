package breakpoint

import (
	"testing"

	"github.com/coldfiredbg/coldfiredbg/pkg/wiretest"
)

func TestSetClearHardwareBreakpoint(t *testing.T) {
	fake := wiretest.New()
	e := NewEngine(fake)

	if err := e.SetHardwareBreakpoint(0x400); err != nil {
		t.Fatalf("SetHardwareBreakpoint() error = %v", err)
	}
	if fake.Registers[pbrRegs[0]] != 0x400 {
		t.Fatalf("PBR0 = 0x%x, want 0x400", fake.Registers[pbrRegs[0]])
	}
	if e.tdrShadow&bitTRCHalt == 0 || e.tdrShadow&bitEBL1 == 0 {
		t.Fatalf("TDR shadow missing TRC_HALT/EBL1: 0x%x", e.tdrShadow)
	}

	if err := e.ClearHardwareBreakpoint(0x400); err != nil {
		t.Fatalf("ClearHardwareBreakpoint() error = %v", err)
	}
	if e.tdrShadow&bitTRCHalt != 0 {
		t.Fatalf("TRC_HALT still set after last hardware breakpoint cleared: 0x%x", e.tdrShadow)
	}
}

func TestHardwareBreakpointSlotsExhausted(t *testing.T) {
	fake := wiretest.New()
	e := NewEngine(fake)

	for i := 0; i < MaxHardwareBreakpoints; i++ {
		if err := e.SetHardwareBreakpoint(uint32(0x400 + i*4)); err != nil {
			t.Fatalf("SetHardwareBreakpoint() #%d error = %v", i, err)
		}
	}
	if err := e.SetHardwareBreakpoint(0x9999); err == nil {
		t.Fatal("SetHardwareBreakpoint() beyond capacity returned nil error")
	}
}

func TestSoftwareBreakpointRoundTrip(t *testing.T) {
	fake := wiretest.New()
	// Seed memory at 0x1000..0x1003 with a known instruction pair.
	fake.Memory[0x1000] = 0x20
	fake.Memory[0x1001] = 0x3C
	fake.Memory[0x1002] = 0x00
	fake.Memory[0x1003] = 0x01

	e := NewEngine(fake)

	if err := e.SetSoftwareBreakpoint(0x1000); err != nil {
		t.Fatalf("SetSoftwareBreakpoint() error = %v", err)
	}
	if fake.Memory[0x1000] != 0x4A || fake.Memory[0x1001] != 0xC8 {
		t.Fatalf("instruction at 0x1000 = %02x%02x, want 4AC8", fake.Memory[0x1000], fake.Memory[0x1001])
	}
	// Surrounding bytes at 0x1002/0x1003 must be preserved.
	if fake.Memory[0x1002] != 0x00 || fake.Memory[0x1003] != 0x01 {
		t.Fatalf("surrounding memory corrupted: %02x%02x", fake.Memory[0x1002], fake.Memory[0x1003])
	}

	if _, ok := e.IsSoftwareBreakpoint(0x1000); !ok {
		t.Fatal("IsSoftwareBreakpoint(0x1000) = false after Set")
	}

	if err := e.ClearSoftwareBreakpoint(0x1000); err != nil {
		t.Fatalf("ClearSoftwareBreakpoint() error = %v", err)
	}
	if fake.Memory[0x1000] != 0x20 || fake.Memory[0x1001] != 0x3C {
		t.Fatalf("instruction at 0x1000 not restored: %02x%02x, want 203C", fake.Memory[0x1000], fake.Memory[0x1001])
	}
}

func TestSoftwareBreakpointRoundTripOddWordAligned(t *testing.T) {
	fake := wiretest.New()
	// Seed four consecutive words at 0x1000..0x1007, so a breakpoint set at
	// 0x1002 (addr%4==2, a valid 16-bit instruction address) can be checked
	// against both its neighbors: 0x1000 must be untouched and 0x1004/0x1005
	// must hold the true following word, not the word at 0x1000/0x1001.
	fake.Memory[0x1000] = 0x11
	fake.Memory[0x1001] = 0x11
	fake.Memory[0x1002] = 0x20
	fake.Memory[0x1003] = 0x3C
	fake.Memory[0x1004] = 0x22
	fake.Memory[0x1005] = 0x22
	fake.Memory[0x1006] = 0x33
	fake.Memory[0x1007] = 0x33

	e := NewEngine(fake)

	if err := e.SetSoftwareBreakpoint(0x1002); err != nil {
		t.Fatalf("SetSoftwareBreakpoint() error = %v", err)
	}
	if fake.Memory[0x1002] != 0x4A || fake.Memory[0x1003] != 0xC8 {
		t.Fatalf("instruction at 0x1002 = %02x%02x, want 4AC8", fake.Memory[0x1002], fake.Memory[0x1003])
	}
	if fake.Memory[0x1000] != 0x11 || fake.Memory[0x1001] != 0x11 {
		t.Fatalf("preceding word at 0x1000 corrupted: %02x%02x", fake.Memory[0x1000], fake.Memory[0x1001])
	}
	if fake.Memory[0x1004] != 0x22 || fake.Memory[0x1005] != 0x22 {
		t.Fatalf("following word at 0x1004 corrupted: %02x%02x, want 2222", fake.Memory[0x1004], fake.Memory[0x1005])
	}

	if err := e.ClearSoftwareBreakpoint(0x1002); err != nil {
		t.Fatalf("ClearSoftwareBreakpoint() error = %v", err)
	}
	if fake.Memory[0x1002] != 0x20 || fake.Memory[0x1003] != 0x3C {
		t.Fatalf("instruction at 0x1002 not restored: %02x%02x, want 203C", fake.Memory[0x1002], fake.Memory[0x1003])
	}
	if fake.Memory[0x1004] != 0x22 || fake.Memory[0x1005] != 0x22 {
		t.Fatalf("following word at 0x1004 corrupted after clear: %02x%02x, want 2222", fake.Memory[0x1004], fake.Memory[0x1005])
	}
}

func TestWatchpointSetClear(t *testing.T) {
	fake := wiretest.New()
	e := NewEngine(fake)

	if err := e.SetWatchpoint(0x20000100, 4, WatchWrite); err != nil {
		t.Fatalf("SetWatchpoint() error = %v", err)
	}
	if e.tdrShadow&bitDRWWrite == 0 {
		t.Fatalf("DRW write bit not set: 0x%x", e.tdrShadow)
	}

	addr, hit := e.WatchpointHit()
	if !hit || addr != 0x20000100 {
		t.Fatalf("WatchpointHit() = (0x%x, %v), want (0x20000100, true)", addr, hit)
	}

	if err := e.ClearWatchpoint(); err != nil {
		t.Fatalf("ClearWatchpoint() error = %v", err)
	}
	if _, hit := e.WatchpointHit(); hit {
		t.Fatal("WatchpointHit() still true after ClearWatchpoint")
	}
}

func TestSetWatchpointWhileActiveFails(t *testing.T) {
	fake := wiretest.New()
	e := NewEngine(fake)

	if err := e.SetWatchpoint(0x20000100, 4, WatchAccess); err != nil {
		t.Fatalf("SetWatchpoint() error = %v", err)
	}
	if err := e.SetWatchpoint(0x20000200, 4, WatchRead); err == nil {
		t.Fatal("SetWatchpoint() with a watchpoint already active returned nil error")
	}
}

func TestReset(t *testing.T) {
	fake := wiretest.New()
	e := NewEngine(fake)

	if err := e.SetHardwareBreakpoint(0x400); err != nil {
		t.Fatalf("SetHardwareBreakpoint() error = %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if e.tdrShadow != 0 {
		t.Fatalf("tdrShadow = 0x%x after Reset, want 0", e.tdrShadow)
	}
	if fake.Registers[tdrReg] != 0 {
		t.Fatalf("TDR register = 0x%x after Reset, want 0", fake.Registers[tdrReg])
	}
}
