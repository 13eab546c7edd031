package rsp

import "fmt"

// targetXML is served for qXfer:features:read:target.xml, naming the
// architecture so GDB knows how to disassemble and lay out registers
// without a separate architecture flag on the client side (§4.7).
const targetXML = `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target version="1.0">
<architecture>m68k:521x</architecture>
</target>
`

// memoryMapXML is served for qXfer:memory-map:read: flash at [0,0x40000)
// with 0x800-byte erase blocks, SRAM at [0x20000000,0x20008000), and the
// peripheral register window at [0x40000000,0x40200000) (§4.7).
func memoryMapXML() string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<!DOCTYPE memory-map SYSTEM "memory-map.dtd">
<memory-map>
<memory type="flash" start="0x0" length="0x%x">
<property name="blocksize">0x%x</property>
</memory>
<memory type="ram" start="0x20000000" length="0x%x"/>
<memory type="ram" start="0x40000000" length="0x%x"/>
</memory-map>
`, flashTotalSize, flashBlockSize, sramSize, peripheralWindowSize)
}

const (
	flashTotalSize       = 0x40000
	flashBlockSize       = 0x800
	sramSize             = 0x8000
	peripheralWindowSize = 0x200000
)
