// Package wire implements the probe's binary wire protocol (component C2):
// frame construction, response validation, block-read decoding, and the
// primitive operations needed to drive BDM over the persistent USB buffer.
package wire

// Command codes, two bytes each, written immediately after the frame
// length field of an AA-class request.
const (
	CmdReadRegister    = 0x0713 // read BDM register
	CmdWriteRegister   = 0x0714 // write BDM/CPU register via window
	CmdExtConfigure    = 0x0715 // extended configure, variable params
	CmdWriteMemory     = 0x0716 // write memory, address width encoded in length
	CmdBlockRead       = 0x0717 // block read, 6-per-4 encoded response
	CmdWriteLongword   = 0x0719 // single-longword SRAM write (buffered upload)
	CmdVerifyRead      = 0x071B // verify-style read, SRAM data at offsets 0/7/9/11
	CmdCFMInit         = 0x071E // CFM init / SRAM write variant
	CmdWindowStatus    = 0x0710 // memory-window status probe
	CmdReadRegWindow   = 0x0711 // read CPU register via window
	CmdHaltSync        = 0x0712 // BDM HALT / sync
	CmdEnterMode       = 0x0701 // enter mode (0xFC, 0xF8, 0xF0)
	CmdEnableMemAccess = 0x070A // enable memory access (issued twice)
	CmdGo              = 0x0702 // BDM GO, resume execution
	CmdFreezeHelper    = 0x0795 // freeze-sequence helper
	CmdBDMInitA        = 0x0440 // BDM init step
	CmdBDMInitB        = 0x047F // BDM init step / freeze check
	CmdDeviceInfo      = 0x010B // device info query (issued twice at session start)
)

// Window and register addresses used by CmdReadRegWindow/CmdWriteRegister.
const (
	WindowPC    = 0x2980
	RegPC       = 0x080F
	WindowSR    = 0x2980
	RegSR       = 0x080E
	RegRAMBAR   = 0x0C05
	RegFlashBAR = 0x0C04
	RegChipID   = 0x2D80

	WriteRegisterWindow = 0x28800000
)

// RegD0/RegA0 are the base codes for the general-purpose data and
// address register files in the same window as RegSR/RegPC (0x2980).
// spec.md doesn't enumerate these explicitly (an Open Question); they're
// assigned the plain 0x0000/0x0008 codes that the "other register" bank
// (0x080E/0x080F for SR/PC, 0x0C04/0x0C05 for FlashBAR/RAMBAR) leaves
// free, consistent with D0-D7/A0-A7 being the base general-register file
// and SR/PC/RAMBAR/FLASHBAR living in a separate control-register bank.
const (
	RegD0 = 0x0000
	RegA0 = 0x0008
)

// Enter-mode argument values.
const (
	ModeFC = 0xFC
	ModeF8 = 0xF8
	ModeF0 = 0xF0
)

// BDM GO argument bytes ("07 02 FC 0C").
var GoArgs = [2]byte{0xFC, 0x0C}

// AA-class frame sync bytes.
const (
	RequestMagic0 = 0xAA
	RequestMagic1 = 0x55
)

// BB-class bulk upload frame sync bytes and embedded sub-command.
const (
	BulkMagic0  = 0xBB
	BulkMagic1  = 0x66
	BulkSubCmd0 = 0x07
	BulkSubCmd1 = 0x19
)

// Response magics.
const (
	RespStandardMagic0 = 0x99
	RespStandardMagic1 = 0x66
	RespMemReadMagic0  = 0x88
	RespMemReadMagic1  = 0xA5

	RespStatusOK = 0xEE
)

// BulkAckFrame is the short status frame returned after a BB upload.
var BulkAckFrame = [5]byte{0x99, 0x66, 0x00, 0x03, 0xEE}
