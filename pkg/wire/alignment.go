package wire

import "fmt"

// WriteMemoryAligned writes data to address using 4-byte-aligned block
// reads/writes when address or len(data) is not already a multiple of 4.
// It is a read-modify-write: align the address down, read the aligned
// block, splice the new bytes in, write the whole block back.
func (p *Port) WriteMemoryAligned(address uint32, data []byte) error {
	size := uint32(len(data))
	addressAlign := address % 4

	if addressAlign == 0 && size%4 == 0 {
		return p.WriteMemory(address, data)
	}

	adjustedAddress := address - addressAlign
	adjustedSize := size + addressAlign
	if rem := adjustedSize % 4; rem != 0 {
		adjustedSize += 4 - rem
	}

	block, err := p.BlockRead(adjustedAddress, uint16(adjustedSize))
	if err != nil {
		return fmt.Errorf("write memory aligned: read for alignment: %w", err)
	}
	if uint32(len(block)) != adjustedSize {
		return fmt.Errorf("write memory aligned: read returned %d bytes, expected %d", len(block), adjustedSize)
	}

	copy(block[addressAlign:], data)

	if err := p.WriteMemory(adjustedAddress, block); err != nil {
		return fmt.Errorf("write memory aligned: write aligned block: %w", err)
	}
	return nil
}
