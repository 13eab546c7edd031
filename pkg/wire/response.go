package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind tags which of the two recognized response magics a frame used.
type Kind int

const (
	Standard Kind = iota
	MemRead
)

// Response is a validated AA-class response: the magic kind it arrived
// as, and the payload bytes after the status byte.
type Response struct {
	Kind    Kind
	Payload []byte
}

// Validate checks the two recognized magics and the status byte, per
// §3/§4.2's response validator: "checks that the first two bytes are one
// of the two recognized magics and that byte 4 equals 0xEE". The frame
// length (bytes 2:4) includes the status byte, so the payload is
// frame[5:4+length].
func Validate(frame []byte) (Response, error) {
	if len(frame) < 5 {
		return Response{}, fmt.Errorf("wire: response too short: %d bytes", len(frame))
	}

	var kind Kind
	switch {
	case frame[0] == RespStandardMagic0 && frame[1] == RespStandardMagic1:
		kind = Standard
	case frame[0] == RespMemReadMagic0 && frame[1] == RespMemReadMagic1:
		kind = MemRead
	default:
		return Response{}, fmt.Errorf("wire: bad response magic: %02x %02x", frame[0], frame[1])
	}

	length := binary.BigEndian.Uint16(frame[2:4])
	if frame[4] != RespStatusOK {
		return Response{}, fmt.Errorf("wire: response status byte 0x%02x (not 0xEE)", frame[4])
	}

	end := 4 + int(length)
	if end > len(frame) {
		end = len(frame)
	}
	if end < 5 {
		end = 5
	}

	return Response{Kind: kind, Payload: frame[5:end]}, nil
}
