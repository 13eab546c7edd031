package target

import (
	"testing"

	"github.com/coldfiredbg/coldfiredbg/pkg/wiretest"
)

func TestSequencerInitRunsDeviceDetectTwice(t *testing.T) {
	fake := wiretest.New()
	seq := NewSequencer(fake)

	if _, err := seq.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	count := 0
	for _, call := range fake.Calls {
		if call == "DeviceInfo" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("DeviceInfo was called %d times, want 2 (§4.3 step 1)", count)
	}
}

func TestSequencerDetectsLargeFlashByDefault(t *testing.T) {
	fake := wiretest.New()
	seq := NewSequencer(fake)

	flashKiB, err := seq.Init()
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if flashKiB != FlashSizeLargeKiB {
		t.Fatalf("flashKiB = %d, want %d (PIN reads zero -> large)", flashKiB, FlashSizeLargeKiB)
	}
}

func TestSequencerDetectsSmallFlashByPIN(t *testing.T) {
	fake := wiretest.New()
	// Part identification number 0x48 in bits 15..6 of the IPSBAR word.
	const ipsbarPINAddr = 0x40000000 + 0x11000A
	pinValue := uint32(0x48) << 6
	fake.Memory[ipsbarPINAddr+0] = byte(pinValue >> 24)
	fake.Memory[ipsbarPINAddr+1] = byte(pinValue >> 16)
	fake.Memory[ipsbarPINAddr+2] = byte(pinValue >> 8)
	fake.Memory[ipsbarPINAddr+3] = byte(pinValue)

	seq := NewSequencer(fake)
	flashKiB, err := seq.Init()
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if flashKiB != FlashSizeSmallKiB {
		t.Fatalf("flashKiB = %d, want %d", flashKiB, FlashSizeSmallKiB)
	}
}
