package rsp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/coldfiredbg/coldfiredbg/pkg/breakpoint"
)

// dispatch handles one decoded RSP packet and returns the reply payload
// and whether the connection should close after sending it (§4.7's
// command dispatch table).
func dispatch(s *Session, packet []byte) ([]byte, bool) {
	cmd := string(packet)

	switch {
	case cmd == "?":
		return []byte("S05"), false
	case cmd == "g":
		return dispatchReadAllRegisters(s)
	case len(cmd) > 0 && cmd[0] == 'G':
		return dispatchWriteAllRegisters(s, cmd[1:])
	case len(cmd) > 0 && cmd[0] == 'p':
		return dispatchReadRegister(s, cmd[1:])
	case len(cmd) > 0 && cmd[0] == 'P':
		return dispatchWriteRegister(s, cmd[1:])
	case len(cmd) > 0 && cmd[0] == 'm':
		return dispatchReadMemory(s, cmd[1:])
	case len(cmd) > 0 && cmd[0] == 'M':
		return dispatchWriteMemory(s, cmd[1:])
	case cmd == "vCont?":
		return []byte("vCont;c;s"), false
	case cmd == "vCont;c":
		return dispatchContinue(s, "")
	case cmd == "vCont;s":
		return dispatchStep(s, "")
	case cmd == "c" || (len(cmd) > 0 && cmd[0] == 'c'):
		return dispatchContinue(s, cmd[1:])
	case cmd == "s" || (len(cmd) > 0 && cmd[0] == 's'):
		return dispatchStep(s, cmd[1:])
	case len(cmd) > 0 && cmd[0] == 'H':
		return []byte("OK"), false
	case cmd == "qSupported" || strings.HasPrefix(cmd, "qSupported:"):
		return []byte("PacketSize=1000;qXfer:features:read+;qXfer:memory-map:read+;vFlash+"), false
	case cmd == "qAttached":
		return []byte("1"), false
	case strings.HasPrefix(cmd, "qXfer:features:read:target.xml"):
		return dispatchQXfer(targetXML), false
	case strings.HasPrefix(cmd, "qXfer:memory-map:read"):
		return dispatchQXfer(memoryMapXML()), false
	case strings.HasPrefix(cmd, "qCRC:"):
		return dispatchCRC(s, cmd[len("qCRC:"):]), false
	case strings.HasPrefix(cmd, "qRcmd,"):
		return dispatchMonitor(s, cmd[len("qRcmd,"):]), false
	case strings.HasPrefix(cmd, "vFlashErase:"):
		return dispatchFlashErase(s, cmd[len("vFlashErase:"):]), false
	case strings.HasPrefix(cmd, "vFlashWrite:"):
		reply := dispatchFlashWrite(s, cmd[len("vFlashWrite:"):])
		// A write past the flash buffer (E11) ends the session.
		return reply, string(reply) == "E11"
	case cmd == "vFlashDone":
		return dispatchFlashDone(s), false
	case len(cmd) > 0 && (cmd[0] == 'Z' || cmd[0] == 'z'):
		return dispatchBreakpoint(s, cmd), false
	case cmd == "k" || cmd == "D":
		return []byte("OK"), true
	default:
		return []byte{}, false
	}
}

func dispatchReadAllRegisters(s *Session) ([]byte, bool) {
	regs, err := s.readAllRegisters()
	if err != nil {
		return []byte("E05"), false
	}
	return []byte(hex.EncodeToString(regs)), false
}

func dispatchWriteAllRegisters(s *Session, hexStr string) ([]byte, bool) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return []byte("E01"), false
	}
	if err := s.writeAllRegisters(data); err != nil {
		return []byte("E05"), false
	}
	return []byte("OK"), false
}

func dispatchReadRegister(s *Session, hexStr string) ([]byte, bool) {
	n, err := strconv.ParseUint(hexStr, 16, 32)
	if err != nil {
		return []byte("E01"), false
	}
	regN := int(n)
	if regN >= firstFPRegister && regN <= lastFPRegister {
		width := 4
		if regN <= 25 {
			width = 12 // fp0-fp7 are 96-bit extended values
		}
		return []byte(hex.EncodeToString(make([]byte, width))), false
	}
	val, err := s.readRegister(regN)
	if err != nil {
		return []byte("E05"), false
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, val)
	return []byte(hex.EncodeToString(buf)), false
}

func dispatchWriteRegister(s *Session, rest string) ([]byte, bool) {
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) != 2 {
		return []byte("E01"), false
	}
	n, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return []byte("E01"), false
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil || len(data) < 4 {
		return []byte("E01"), false
	}
	if err := s.writeRegister(int(n), binary.BigEndian.Uint32(data[:4])); err != nil {
		return []byte("E05"), false
	}
	return []byte("OK"), false
}

func dispatchReadMemory(s *Session, rest string) ([]byte, bool) {
	var addr, length uint64
	if _, err := fmt.Sscanf(rest, "%x,%x", &addr, &length); err != nil {
		return []byte("E01"), false
	}
	data, err := s.readMemory(uint32(addr), uint16(length))
	if err != nil {
		return []byte("E05"), false
	}
	return []byte(hex.EncodeToString(data)), false
}

func dispatchWriteMemory(s *Session, rest string) ([]byte, bool) {
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return []byte("E01"), false
	}
	var addr, length uint64
	if _, err := fmt.Sscanf(rest[:colon], "%x,%x", &addr, &length); err != nil {
		return []byte("E01"), false
	}
	data, err := hex.DecodeString(rest[colon+1:])
	if err != nil || uint64(len(data)) != length {
		return []byte("E01"), false
	}
	if length == 0 {
		return []byte("OK"), false // zero-length write is a no-op (§8)
	}
	if err := s.writeMemory(uint32(addr), data); err != nil {
		return []byte("E05"), false
	}
	return []byte("OK"), false
}

func dispatchContinue(s *Session, arg string) ([]byte, bool) {
	setPC, addr := parseOptionalHexAddr(arg)
	stop, err := s.cont(setPC, addr)
	if err != nil {
		return []byte("E05"), false
	}
	if stop.isWatch {
		return []byte(fmt.Sprintf("T05watch:%08x;", stop.watchAddr)), false
	}
	return []byte("S05"), false
}

func dispatchStep(s *Session, arg string) ([]byte, bool) {
	setPC, addr := parseOptionalHexAddr(arg)
	if err := s.step(setPC, addr); err != nil {
		return []byte("E05"), false
	}
	return []byte("S05"), false
}

func parseOptionalHexAddr(arg string) (set bool, addr uint32) {
	arg = strings.TrimPrefix(arg, ";")
	if arg == "" {
		return false, 0
	}
	v, err := strconv.ParseUint(arg, 16, 32)
	if err != nil {
		return false, 0
	}
	return true, uint32(v)
}

func dispatchQXfer(data string) []byte {
	// The whole payload always fits in one response for these two annexes,
	// so the leading 'l' marks end-of-data rather than 'm' for more to
	// follow (§4.7).
	return []byte("l" + data)
}

func dispatchCRC(s *Session, rest string) []byte {
	var addr, length uint64
	if _, err := fmt.Sscanf(rest, "%x,%x", &addr, &length); err != nil {
		return []byte("E01")
	}
	const chunkSize = 128
	buf := make([]byte, 0, length)
	for off := uint64(0); off < length; off += chunkSize {
		n := uint64(chunkSize)
		if off+n > length {
			n = length - off
		}
		chunk, err := s.readMemory(uint32(addr+off), uint16(n))
		if err != nil {
			return []byte("E05")
		}
		buf = append(buf, chunk...)
	}
	return []byte(fmt.Sprintf("C%08x", crc32MPEG2(buf)))
}

func dispatchMonitor(s *Session, hexStr string) []byte {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return []byte("E01")
	}
	cmd := strings.TrimSpace(string(raw))
	var reply string
	switch cmd {
	case "halt":
		if err := s.forceHalt(); err != nil {
			return []byte("E05")
		}
		reply = "halted\n"
	case "go":
		if _, err := s.cont(false, 0); err != nil {
			return []byte("E05")
		}
		reply = "running\n"
	case "reset", "reset halt":
		if _, err := s.seq.Init(); err != nil {
			return []byte("E05")
		}
		if cmd == "reset" {
			if _, err := s.cont(false, 0); err != nil {
				return []byte("E05")
			}
		}
		reply = "reset\n"
	default:
		return []byte("")
	}
	return []byte(hex.EncodeToString([]byte(reply)))
}

func dispatchBreakpoint(s *Session, cmd string) []byte {
	if len(cmd) < 2 {
		return []byte("E01")
	}
	set := cmd[0] == 'Z'
	kind := cmd[1]
	rest := strings.TrimPrefix(cmd[2:], ",")

	var addr, length uint64
	if n, err := fmt.Sscanf(rest, "%x,%x", &addr, &length); err != nil || n != 2 {
		return []byte("E01")
	}

	switch kind {
	case '0':
		if set {
			if err := s.bp.SetHardwareBreakpoint(uint32(addr)); err != nil {
				if err := s.bp.SetSoftwareBreakpoint(uint32(addr)); err != nil {
					return []byte("E01")
				}
			}
		} else if err := s.bp.ClearHardwareBreakpoint(uint32(addr)); err != nil {
			if err := s.bp.ClearSoftwareBreakpoint(uint32(addr)); err != nil {
				return []byte("E01")
			}
		}
	case '1':
		if set {
			if err := s.bp.SetHardwareBreakpoint(uint32(addr)); err != nil {
				return []byte("E01")
			}
		} else if err := s.bp.ClearHardwareBreakpoint(uint32(addr)); err != nil {
			return []byte("E01")
		}
	case '2', '3', '4':
		if set {
			kindMap := map[byte]breakpoint.WatchKind{
				'2': breakpoint.WatchWrite,
				'3': breakpoint.WatchRead,
				'4': breakpoint.WatchAccess,
			}
			if err := s.bp.SetWatchpoint(uint32(addr), uint32(length), kindMap[kind]); err != nil {
				return []byte("E01")
			}
		} else if err := s.bp.ClearWatchpoint(); err != nil {
			return []byte("E01")
		}
	default:
		return []byte("")
	}
	return []byte("OK")
}

func dispatchFlashErase(s *Session, rest string) []byte {
	var addr, length uint64
	if _, err := fmt.Sscanf(rest, "%x,%x", &addr, &length); err != nil {
		return []byte("E01")
	}
	if s.flashState == flashIdle {
		if err := s.driver.Init(); err != nil {
			return []byte("E10")
		}
	}
	if err := s.driver.EraseRange(uint32(addr), uint32(length)); err != nil {
		return []byte("E10")
	}
	s.flashState = flashErasing
	return []byte("OK")
}

func dispatchFlashWrite(s *Session, rest string) []byte {
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return []byte("E01")
	}
	addr64, err := strconv.ParseUint(rest[:colon], 16, 32)
	if err != nil {
		return []byte("E01")
	}
	// rest was unescaped once already as part of the whole packet in
	// Framer.ReadPacket (§4.7); no second pass needed here.
	data := []byte(rest[colon+1:])

	if !s.flashBuf.anchored {
		s.flashBuf = vFlashBuffer{baseAddr: uint32(addr64), data: make([]byte, 0, flashTotalSize), anchored: true}
		s.flashState = flashBuffering
	}

	offset := uint32(addr64) - s.flashBuf.baseAddr
	need := int(offset) + len(data)
	if need > flashTotalSize {
		return []byte("E11") // overflow past buffer capacity is fatal to the session (§4.7)
	}
	if need > len(s.flashBuf.data) {
		grown := make([]byte, need)
		copy(grown, s.flashBuf.data)
		for i := len(s.flashBuf.data); i < need; i++ {
			grown[i] = 0xFF
		}
		s.flashBuf.data = grown
	}
	copy(s.flashBuf.data[offset:], data)
	return []byte("OK")
}

func dispatchFlashDone(s *Session) []byte {
	if !s.flashBuf.anchored {
		s.flashState = flashIdle
		return []byte("OK")
	}
	if err := s.driver.Program(s.flashBuf.baseAddr, s.flashBuf.data); err != nil {
		s.flashState = flashIdle
		s.flashBuf = vFlashBuffer{}
		return []byte("E10")
	}
	s.flashState = flashIdle
	s.flashBuf = vFlashBuffer{}
	if _, err := s.seq.Init(); err != nil {
		return []byte("E10")
	}
	return []byte("OK")
}
