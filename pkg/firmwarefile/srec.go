package firmwarefile

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// SRecLoader loads Motorola SREC format files
type SRecLoader struct {
	BaseLoader
}

// NewSRecLoader creates a new SREC loader
func NewSRecLoader() *SRecLoader {
	return &SRecLoader{}
}

// Open opens a Motorola SREC file
func (l *SRecLoader) Open(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	l.file = file
	return nil
}

// Process reads and parses the SREC file
// SREC format: S<type><count><address><data><checksum>
// Types: S0=header, S1=16-bit addr, S2=24-bit addr, S3=32-bit addr,
//        S7=32-bit start, S8=24-bit start, S9=16-bit start
func (l *SRecLoader) Process() error {
	if l.file == nil {
		return fmt.Errorf("file not open")
	}

	if l.handler == nil {
		return fmt.Errorf("handler not set")
	}

	// Regex pattern for SREC records
	pattern := regexp.MustCompile(`^S([0-9a-fA-F])([0-9a-fA-F]+)`)

	scanner := bufio.NewScanner(l.file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip empty lines
		if len(line) == 0 {
			continue
		}

		// Parse the record type
		matches := pattern.FindStringSubmatch(line)
		if matches == nil {
			return fmt.Errorf("invalid SREC format at line %d: %s", lineNum, line)
		}

		recordType, _ := strconv.ParseUint(matches[1], 16, 8)
		hexDigits := matches[2]

		switch recordType {
		case 0: // Header record - ignore
			continue

		case 1: // Data with 16-bit address
			if err := l.parseDataRecord(hexDigits, 2, lineNum); err != nil {
				return err
			}

		case 2: // Data with 24-bit address
			if err := l.parseDataRecord(hexDigits, 3, lineNum); err != nil {
				return err
			}

		case 3: // Data with 32-bit address
			if err := l.parseDataRecord(hexDigits, 4, lineNum); err != nil {
				return err
			}

		case 4: // Reserved
			continue

		case 5, 6: // Record count - ignore
			continue

		case 7, 8, 9: // Start address - ignore (not data)
			continue

		default:
			return fmt.Errorf("unsupported SREC type S%d at line %d", recordType, lineNum)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	return nil
}

// parseDataRecord parses an SREC data record: <count><address><data><checksum>.
// count declares the number of bytes following it (address+data+checksum),
// which bounds the record instead of just trusting the line's length, and
// the trailing checksum byte is verified rather than discarded: it is the
// one's complement of the sum of every byte from count through the last
// data byte, so a corrupted or truncated record is rejected at parse time
// rather than silently flashing wrong bytes to the target.
func (l *SRecLoader) parseDataRecord(hexDigits string, addressBytes int, lineNum int) error {
	if len(hexDigits) < 2+addressBytes*2+2 {
		return fmt.Errorf("SREC record too short at line %d", lineNum)
	}

	recordBytes, err := hexStringToBytes(hexDigits)
	if err != nil {
		return fmt.Errorf("invalid hex at line %d: %w", lineNum, err)
	}

	count := int(recordBytes[0])
	if want := 1 + count; want != len(recordBytes) {
		return fmt.Errorf("SREC record at line %d declares count %d (%d bytes), got %d bytes", lineNum, count, want, len(recordBytes))
	}

	checksum := byte(0)
	for _, b := range recordBytes[:len(recordBytes)-1] {
		checksum += b
	}
	checksum = ^checksum
	if want := recordBytes[len(recordBytes)-1]; checksum != want {
		return fmt.Errorf("SREC checksum mismatch at line %d: computed 0x%02x, record has 0x%02x", lineNum, checksum, want)
	}

	addressHex := hexDigits[2 : 2+addressBytes*2]
	address, _ := strconv.ParseUint(addressHex, 16, 32)

	dataStart := 2 + addressBytes*2
	dataEnd := len(hexDigits) - 2 // exclude checksum, now verified above
	data, err := hexStringToBytes(hexDigits[dataStart:dataEnd])
	if err != nil {
		return fmt.Errorf("invalid data at line %d: %w", lineNum, err)
	}

	if err := l.handler(uint32(address), data); err != nil {
		return fmt.Errorf("handler failed at line %d: %w", lineNum, err)
	}

	return nil
}
