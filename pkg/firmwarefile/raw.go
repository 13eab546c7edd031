package firmwarefile

import (
	"fmt"
	"os"
)

// RawLoader loads a flat binary file at a fixed base address, for the
// --program/--base CLI flags (§6).
type RawLoader struct {
	BaseLoader
	Base uint32
}

// NewRawLoader creates a raw binary loader that presents the whole file
// as one block starting at base.
func NewRawLoader(base uint32) *RawLoader {
	return &RawLoader{Base: base}
}

// Open opens a raw binary file.
func (l *RawLoader) Open(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	l.file = file
	return nil
}

// Process reads the whole file and hands it to the handler as a single
// block at Base.
func (l *RawLoader) Process() error {
	if l.file == nil {
		return fmt.Errorf("file not open")
	}
	if l.handler == nil {
		return fmt.Errorf("handler not set")
	}
	data, err := os.ReadFile(l.file.Name())
	if err != nil {
		return fmt.Errorf("read raw binary: %w", err)
	}
	return l.handler(l.Base, data)
}
