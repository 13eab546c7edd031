package wire

import "encoding/binary"

// Builder writes an AA-class request into a caller-supplied 256-byte
// buffer. It writes only the 4-byte prefix, the command code, and the
// payload -- every byte beyond that is left untouched, since the probe's
// firmware depends on the buffer's trailing bytes carrying leftover data
// from the previous exchange rather than zeros.
type Builder struct {
	buf *[256]byte
}

// NewBuilder wraps the persistent buffer handed out by the USB transport.
func NewBuilder(buf *[256]byte) *Builder {
	return &Builder{buf: buf}
}

// Build writes an AA-class frame for command with the given payload and
// returns the number of bytes that must be transferred -- always 256,
// per §3 ("the transmitted USB transfer is always 256 bytes regardless
// of payload length").
func (b *Builder) Build(command uint16, payload []byte) int {
	buf := b.buf

	buf[0] = RequestMagic0
	buf[1] = RequestMagic1

	// Length counts bytes after the length field up to the last
	// meaningful payload byte: the 2-byte command code plus the payload.
	length := uint16(2 + len(payload))
	binary.BigEndian.PutUint16(buf[2:4], length)

	binary.BigEndian.PutUint16(buf[4:6], command)
	copy(buf[6:], payload)

	return 256
}

// BuildBulk constructs a BB-class bulk upload frame: the transfer length
// here is not fixed at 256 bytes, it is the header plus the payload.
//
//	0xBB 0x66 [totalLen:16] 0x07 0x19 [dataLen:16] [destAddr:32] <payload>
func BuildBulk(destAddr uint32, payload []byte) []byte {
	const headerAfterLength = 2 + 2 + 4 // sub-command + dataLen + destAddr
	totalLen := uint16(headerAfterLength + len(payload))

	frame := make([]byte, 2+2+headerAfterLength+len(payload))
	frame[0] = BulkMagic0
	frame[1] = BulkMagic1
	binary.BigEndian.PutUint16(frame[2:4], totalLen)
	frame[4] = BulkSubCmd0
	frame[5] = BulkSubCmd1
	binary.BigEndian.PutUint16(frame[6:8], uint16(len(payload)))
	binary.BigEndian.PutUint32(frame[8:12], destAddr)
	copy(frame[12:], payload)

	return frame
}
