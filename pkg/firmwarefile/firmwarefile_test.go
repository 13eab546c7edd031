package firmwarefile

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAssemblerFillsGapsWith0xFF(t *testing.T) {
	a := NewAssembler()
	if err := a.Collect(0x1000, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if err := a.Collect(0x1004, []byte{0xCC, 0xDD}); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	base, data := a.Image()
	if base != 0x1000 {
		t.Fatalf("base = 0x%x, want 0x1000", base)
	}
	want := []byte{0xAA, 0xBB, 0xFF, 0xFF, 0xCC, 0xDD}
	if !bytes.Equal(data, want) {
		t.Fatalf("image = %x, want %x", data, want)
	}
}

func TestAssemblerRejectsBlockBeforeBase(t *testing.T) {
	a := NewAssembler()
	if err := a.Collect(0x2000, []byte{0x01}); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if err := a.Collect(0x1000, []byte{0x02}); err == nil {
		t.Fatal("Collect() at an earlier address did not error")
	}
}

func TestSRecLoaderParsesDataRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.s19")
	// S1 record: count=07 (address+data+checksum bytes), address=1000,
	// data=DEADBEEF, checksum=B0 (one's complement of 07+10+00+DE+AD+BE+EF).
	contents := "S1 07 1000 DEAD BEEF B0\n"
	contents = strings.ReplaceAll(contents, " ", "")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write test SREC file: %v", err)
	}

	loader := NewSRecLoader()
	if err := loader.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer loader.Close()

	asm := NewAssembler()
	loader.SetHandler(asm.Collect)
	if err := loader.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	base, data := asm.Image()
	if base != 0x1000 {
		t.Fatalf("base = 0x%x, want 0x1000", base)
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if !bytes.Equal(data, want) {
		t.Fatalf("data = %x, want %x", data, want)
	}
}

func TestSRecLoaderRejectsBadChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.s19")
	contents := strings.ReplaceAll("S1 07 1000 DEAD BEEF 00\n", " ", "")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write test SREC file: %v", err)
	}

	loader := NewSRecLoader()
	if err := loader.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer loader.Close()

	asm := NewAssembler()
	loader.SetHandler(asm.Collect)
	if err := loader.Process(); err == nil {
		t.Fatal("Process() with a wrong checksum byte returned nil error")
	}
}

func TestRawLoaderPresentsWholeFileAtBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	contents := []byte{0x01, 0x02, 0x03, 0x04}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write test binary: %v", err)
	}

	loader := NewRawLoader(0x8000)
	if err := loader.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer loader.Close()

	asm := NewAssembler()
	loader.SetHandler(asm.Collect)
	if err := loader.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	base, data := asm.Image()
	if base != 0x8000 {
		t.Fatalf("base = 0x%x, want 0x8000", base)
	}
	if !bytes.Equal(data, contents) {
		t.Fatalf("data = %x, want %x", data, contents)
	}
}

// buildTestELF32 assembles a minimal big-endian ELF32 EM_68K ET_EXEC
// object with a single PT_LOAD segment, by hand, for ELFLoader's test --
// there is no agent toolchain available to produce a real one here.
func buildTestELF32(t *testing.T, paddr uint32, data []byte) string {
	t.Helper()

	const ehsize = 52
	const phsize = 32
	offset := uint32(ehsize + phsize)

	buf := make([]byte, offset+uint32(len(data)))

	copy(buf[0:4], []byte{0x7F, 'E', 'L', 'F'})
	buf[4] = 1 // ELFCLASS32
	buf[5] = 2 // ELFDATA2MSB
	buf[6] = 1 // EV_CURRENT

	binary.BigEndian.PutUint16(buf[16:], 2)             // e_type = ET_EXEC
	binary.BigEndian.PutUint16(buf[18:], 4)             // e_machine = EM_68K
	binary.BigEndian.PutUint32(buf[20:], 1)             // e_version
	binary.BigEndian.PutUint32(buf[24:], paddr)         // e_entry
	binary.BigEndian.PutUint32(buf[28:], ehsize)        // e_phoff
	binary.BigEndian.PutUint32(buf[32:], 0)             // e_shoff
	binary.BigEndian.PutUint32(buf[36:], 0)             // e_flags
	binary.BigEndian.PutUint16(buf[40:], ehsize)        // e_ehsize
	binary.BigEndian.PutUint16(buf[42:], phsize)        // e_phentsize
	binary.BigEndian.PutUint16(buf[44:], 1)             // e_phnum
	binary.BigEndian.PutUint16(buf[46:], 0)             // e_shentsize
	binary.BigEndian.PutUint16(buf[48:], 0)             // e_shnum
	binary.BigEndian.PutUint16(buf[50:], 0)             // e_shstrndx

	ph := buf[ehsize:]
	binary.BigEndian.PutUint32(ph[0:], 1)                // p_type = PT_LOAD
	binary.BigEndian.PutUint32(ph[4:], offset)           // p_offset
	binary.BigEndian.PutUint32(ph[8:], paddr)            // p_vaddr
	binary.BigEndian.PutUint32(ph[12:], paddr)           // p_paddr
	binary.BigEndian.PutUint32(ph[16:], uint32(len(data))) // p_filesz
	binary.BigEndian.PutUint32(ph[20:], uint32(len(data))) // p_memsz
	binary.BigEndian.PutUint32(ph[24:], 7)               // p_flags = RWX
	binary.BigEndian.PutUint32(ph[28:], 4)               // p_align

	copy(buf[offset:], data)

	path := filepath.Join(t.TempDir(), "agent.elf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write test ELF: %v", err)
	}
	return path
}

func TestELFLoaderReadsPTLoadSegment(t *testing.T) {
	data := []byte{0x4E, 0x75, 0x60, 0xFE} // rts; bra.s *-2, arbitrary agent bytes
	path := buildTestELF32(t, 0x20000500, data)

	loader := NewELFLoader()
	if err := loader.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer loader.Close()

	asm := NewAssembler()
	loader.SetHandler(asm.Collect)
	if err := loader.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	base, got := asm.Image()
	if base != 0x20000500 {
		t.Fatalf("base = 0x%x, want 0x20000500", base)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data = %x, want %x", got, data)
	}
}
