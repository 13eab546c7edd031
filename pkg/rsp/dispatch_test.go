package rsp

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/coldfiredbg/coldfiredbg/pkg/breakpoint"
	"github.com/coldfiredbg/coldfiredbg/pkg/flashdriver"
	"github.com/coldfiredbg/coldfiredbg/pkg/target"
	"github.com/coldfiredbg/coldfiredbg/pkg/wiretest"
)

func newTestSession() (*Session, *wiretest.Fake) {
	fake := wiretest.New()
	seq := target.NewSequencer(fake)
	agentCode := make([]byte, 64)
	driver := flashdriver.New(fake, seq, agentCode, 0x20007FF0)
	bp := breakpoint.NewEngine(fake)
	return newSession(fake, seq, driver, bp), fake
}

func TestDispatchQueryHalted(t *testing.T) {
	s, _ := newTestSession()
	reply, closeConn := dispatch(s, []byte("?"))
	if string(reply) != "S05" || closeConn {
		t.Fatalf("? -> %q, %v", reply, closeConn)
	}
}

func TestDispatchReadWriteAllRegisters(t *testing.T) {
	s, _ := newTestSession()
	data := make([]byte, registerCount*4)
	for n := 0; n < registerCount; n++ {
		binary.BigEndian.PutUint32(data[n*4:], uint32(n+1))
	}

	reply, _ := dispatch(s, []byte("G"+hex.EncodeToString(data)))
	if string(reply) != "OK" {
		t.Fatalf("G reply = %q, want OK", reply)
	}

	reply, _ = dispatch(s, []byte("g"))
	got, err := hex.DecodeString(string(reply))
	if err != nil {
		t.Fatalf("g reply not hex: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("g roundtrip = %x, want %x", got, data)
	}
}

func TestDispatchReadFPRegisterReportsZero(t *testing.T) {
	s, _ := newTestSession()
	reply, _ := dispatch(s, []byte(fmt.Sprintf("p%x", firstFPRegister)))
	want := hex.EncodeToString(make([]byte, 12))
	if string(reply) != want {
		t.Fatalf("fp0 = %q, want %q", reply, want)
	}
}

func TestDispatchWriteReadRegister(t *testing.T) {
	s, _ := newTestSession()
	reply, _ := dispatch(s, []byte(fmt.Sprintf("P%x=%08x", 0, 0xCAFEBABE)))
	if string(reply) != "OK" {
		t.Fatalf("P reply = %q, want OK", reply)
	}
	reply, _ = dispatch(s, []byte(fmt.Sprintf("p%x", 0)))
	if string(reply) != "cafebabe" {
		t.Fatalf("p0 = %q, want cafebabe", reply)
	}
}

func TestDispatchMemoryReadWrite(t *testing.T) {
	s, fake := newTestSession()
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	writeCmd := fmt.Sprintf("M%x,%x:%s", 0x1000, len(data), hex.EncodeToString(data))
	reply, _ := dispatch(s, []byte(writeCmd))
	if string(reply) != "OK" {
		t.Fatalf("M reply = %q, want OK", reply)
	}
	for i, want := range data {
		if got := fake.Memory[0x1000+uint32(i)]; got != want {
			t.Fatalf("memory[0x%x] = 0x%x, want 0x%x", 0x1000+i, got, want)
		}
	}

	reply, _ = dispatch(s, []byte(fmt.Sprintf("m%x,%x", 0x1000, len(data))))
	got, err := hex.DecodeString(string(reply))
	if err != nil {
		t.Fatalf("m reply not hex: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("m reply = %x, want %x", got, data)
	}
}

func TestDispatchQSupported(t *testing.T) {
	s, _ := newTestSession()
	reply, _ := dispatch(s, []byte("qSupported:multiprocess+"))
	if !strings.Contains(string(reply), "qXfer:memory-map:read+") {
		t.Fatalf("qSupported reply = %q, missing memory-map capability", reply)
	}
}

func TestDispatchQXferTargetXML(t *testing.T) {
	s, _ := newTestSession()
	reply, _ := dispatch(s, []byte("qXfer:features:read:target.xml:0,1000"))
	if !strings.HasPrefix(string(reply), "l") || !strings.Contains(string(reply), "m68k:521x") {
		t.Fatalf("target.xml reply = %q", reply)
	}
}

func TestDispatchCRC(t *testing.T) {
	s, fake := newTestSession()
	for i := uint32(0); i < 16; i++ {
		fake.Memory[i] = 0xFF
	}
	reply, _ := dispatch(s, []byte(fmt.Sprintf("qCRC:%x,%x", 0, 16)))
	want := fmt.Sprintf("C%08x", crc32MPEG2(bytes.Repeat([]byte{0xFF}, 16)))
	if string(reply) != want {
		t.Fatalf("qCRC reply = %q, want %q", reply, want)
	}
}

func TestDispatchHardwareBreakpointSetClear(t *testing.T) {
	s, _ := newTestSession()
	reply, _ := dispatch(s, []byte("Z1,1000,2"))
	if string(reply) != "OK" {
		t.Fatalf("Z1 set = %q, want OK", reply)
	}
	reply, _ = dispatch(s, []byte("z1,1000,2"))
	if string(reply) != "OK" {
		t.Fatalf("z1 clear = %q, want OK", reply)
	}
}

func TestDispatchSoftwareBreakpointFallback(t *testing.T) {
	s, _ := newTestSession()
	for i := 0; i < breakpoint.MaxHardwareBreakpoints; i++ {
		if err := s.bp.SetHardwareBreakpoint(uint32(0x2000 + i*4)); err != nil {
			t.Fatalf("exhaust hardware slots: %v", err)
		}
	}
	reply, _ := dispatch(s, []byte("Z0,3000,2"))
	if string(reply) != "OK" {
		t.Fatalf("Z0 fallback = %q, want OK", reply)
	}
	if _, ok := s.bp.IsSoftwareBreakpoint(0x3000); !ok {
		t.Fatal("Z0 did not fall back to a software breakpoint")
	}
}

func TestDispatchMonitorHalt(t *testing.T) {
	s, _ := newTestSession()
	reply, _ := dispatch(s, []byte("qRcmd,"+hex.EncodeToString([]byte("halt"))))
	decoded, err := hex.DecodeString(string(reply))
	if err != nil {
		t.Fatalf("monitor reply not hex: %v", err)
	}
	if string(decoded) != "halted\n" {
		t.Fatalf("monitor halt reply = %q, want %q", decoded, "halted\n")
	}
}

func TestDispatchUnknownCommandIsEmptyReply(t *testing.T) {
	s, _ := newTestSession()
	reply, closeConn := dispatch(s, []byte("vUnknownThing"))
	if len(reply) != 0 || closeConn {
		t.Fatalf("unknown command -> %q, %v, want empty/false", reply, closeConn)
	}
}

func TestDispatchKillClosesConnection(t *testing.T) {
	s, _ := newTestSession()
	reply, closeConn := dispatch(s, []byte("k"))
	if string(reply) != "OK" || !closeConn {
		t.Fatalf("k -> %q, %v, want OK/true", reply, closeConn)
	}
}

func TestDispatchFlashEraseWriteDoneRoundTrip(t *testing.T) {
	s, fake := newTestSession()

	reply := dispatchFlashErase(s, fmt.Sprintf("%x,%x", 0, flashBlockSize))
	if string(reply) != "OK" {
		t.Fatalf("vFlashErase = %q, want OK", reply)
	}
	if s.flashState != flashErasing {
		t.Fatalf("flashState = %v, want flashErasing", s.flashState)
	}

	payload := []byte("AB")
	reply = dispatchFlashWrite(s, fmt.Sprintf("%x:%s", 0, payload))
	if string(reply) != "OK" {
		t.Fatalf("vFlashWrite = %q, want OK", reply)
	}
	if s.flashState != flashBuffering {
		t.Fatalf("flashState = %v, want flashBuffering", s.flashState)
	}

	reply = dispatchFlashDone(s)
	if string(reply) != "OK" {
		t.Fatalf("vFlashDone = %q, want OK", reply)
	}
	if s.flashState != flashIdle || s.flashBuf.anchored {
		t.Fatalf("flash state not reset after vFlashDone: %v, %+v", s.flashState, s.flashBuf)
	}

	base := uint32(0x20000000 + 0x100) // flashagent.Base + OffDataBuffer
	for i, want := range payload {
		if got := fake.Memory[base+uint32(i)]; got != want {
			t.Fatalf("staged data[%d] = 0x%x, want 0x%x", i, got, want)
		}
	}
}
