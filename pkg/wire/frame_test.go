package wire

import "testing"

func TestBuilderBuild(t *testing.T) {
	tests := []struct {
		name    string
		command uint16
		payload []byte
		wantLen uint16
	}{
		{
			name:    "halt sync pad payload",
			command: CmdHaltSync,
			payload: []byte{0x00, 0x00},
			wantLen: 4,
		},
		{
			name:    "register read",
			command: CmdReadRegister,
			payload: []byte{0x2D, 0x80},
			wantLen: 4,
		},
		{
			name:    "longword write",
			command: CmdWriteLongword,
			payload: []byte{0x00, 0x04, 0x20, 0x00, 0x00, 0x00, 0x11, 0x22, 0x33, 0x44},
			wantLen: 12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [256]byte
			// Poison the buffer to make sure untouched trailing bytes survive.
			for i := range buf {
				buf[i] = 0xAB
			}

			b := NewBuilder(&buf)
			n := b.Build(tt.command, tt.payload)

			if n != 256 {
				t.Fatalf("Build() transfer length = %d, want 256", n)
			}
			if buf[0] != RequestMagic0 || buf[1] != RequestMagic1 {
				t.Fatalf("frame magic = %02x %02x, want %02x %02x", buf[0], buf[1], RequestMagic0, RequestMagic1)
			}
			gotLen := uint16(buf[2])<<8 | uint16(buf[3])
			if gotLen != tt.wantLen {
				t.Fatalf("frame length = %d, want %d", gotLen, tt.wantLen)
			}
			gotCmd := uint16(buf[4])<<8 | uint16(buf[5])
			if gotCmd != tt.command {
				t.Fatalf("frame command = 0x%04x, want 0x%04x", gotCmd, tt.command)
			}
			for i, want := range tt.payload {
				if buf[6+i] != want {
					t.Fatalf("payload byte %d = %02x, want %02x", i, buf[6+i], want)
				}
			}
			// The trailing bytes beyond the payload must be untouched,
			// i.e. still carry the previous response's leftover data.
			tail := 6 + len(tt.payload)
			if tail < len(buf) && buf[tail] != 0xAB {
				t.Fatalf("buffer byte %d was overwritten (=%02x), leftover-byte discipline violated", tail, buf[tail])
			}
		})
	}
}

func TestBuildBulk(t *testing.T) {
	payload := []byte{0x11, 0x22, 0x33, 0x44}
	frame := BuildBulk(0x20000000, payload)

	if frame[0] != BulkMagic0 || frame[1] != BulkMagic1 {
		t.Fatalf("bulk magic = %02x %02x", frame[0], frame[1])
	}
	if frame[4] != BulkSubCmd0 || frame[5] != BulkSubCmd1 {
		t.Fatalf("bulk sub-command = %02x %02x, want %02x %02x", frame[4], frame[5], BulkSubCmd0, BulkSubCmd1)
	}
	gotDataLen := uint16(frame[6])<<8 | uint16(frame[7])
	if int(gotDataLen) != len(payload) {
		t.Fatalf("bulk data length = %d, want %d", gotDataLen, len(payload))
	}
	gotAddr := uint32(frame[8])<<24 | uint32(frame[9])<<16 | uint32(frame[10])<<8 | uint32(frame[11])
	if gotAddr != 0x20000000 {
		t.Fatalf("bulk dest addr = 0x%08x, want 0x20000000", gotAddr)
	}
	for i, b := range payload {
		if frame[12+i] != b {
			t.Fatalf("bulk payload byte %d = %02x, want %02x", i, frame[12+i], b)
		}
	}
}
