// Package cmd implements all CLI commands for coldfiredbg
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coldfiredbg/coldfiredbg/pkg/breakpoint"
	"github.com/coldfiredbg/coldfiredbg/pkg/config"
	"github.com/coldfiredbg/coldfiredbg/pkg/firmwarefile"
	"github.com/coldfiredbg/coldfiredbg/pkg/flashagent"
	"github.com/coldfiredbg/coldfiredbg/pkg/flashdriver"
	"github.com/coldfiredbg/coldfiredbg/pkg/rsp"
	"github.com/coldfiredbg/coldfiredbg/pkg/target"
	"github.com/coldfiredbg/coldfiredbg/pkg/usbtransport"
	"github.com/coldfiredbg/coldfiredbg/pkg/util"
	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
	"github.com/spf13/cobra"
)

var (
	// Global configuration instance
	cfg *config.Config

	// Global flags
	portFlag    int
	agentFlag   string
	quietFlag   bool
	eraseFlag   bool
	programFlag string
	verifyFlag  bool
	baseFlag    string
)

// defaultAgentSP is installed at flashagent.Base+OffInitialStackP for
// every loaded agent image; the agent ELF is not inspected for a stack
// value of its own. It is the first address past the 32 KiB SRAM, the
// top of the agent's own SRAM region.
const defaultAgentSP = flashagent.Base + 0x8000

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coldfiredbg",
	Short: "coldfiredbg - GDB remote server for a ColdFire V2 BDM probe",
	Long: `coldfiredbg bridges a GDB debug session to a USB BDM probe attached to
an MCF52233/MCF5223x ColdFire V2 microcontroller.

By default it starts a GDB remote serial protocol server on the
configured TCP port. It can also mass-erase or program the target's
flash memory directly from the command line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "GDB RSP listen port (default from coldfiredbg.ini, normally 3333)")
	rootCmd.Flags().StringVarP(&agentFlag, "agent", "f", "", "path to a flash agent ELF image (default from coldfiredbg.ini)")
	rootCmd.Flags().BoolVar(&eraseFlag, "erase", false, "mass-erase flash and exit")
	rootCmd.Flags().StringVar(&programFlag, "program", "", "program flash from a file (SREC, raw binary, or ELF) and exit")
	rootCmd.Flags().BoolVar(&verifyFlag, "verify", false, "verify flash contents after --program")
	rootCmd.Flags().StringVar(&baseFlag, "base", "", "base address for a raw binary --program file (hex)")
	rootCmd.Flags().Bool("gdb", false, "start the GDB remote server (default mode, flag accepted for explicitness)")

	rootCmd.PersistentFlags().BoolVar(&quietFlag, "quiet", false, "suppress informational output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// printInfo prints output that respects quiet mode.
func printInfo(format string, args ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, args...)
	}
}

// printError always prints, regardless of quiet mode.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// runMode dispatches to erase, program, or GDB server mode, in that
// priority order, defaulting to the GDB server when no mode flag is set.
func runMode() error {
	if portFlag != 0 {
		cfg.RSPPort = portFlag
	}
	if agentFlag != "" {
		cfg.AgentPath = agentFlag
	}
	if quietFlag {
		cfg.Quiet = true
	}

	switch {
	case eraseFlag:
		return runErase()
	case programFlag != "":
		return runProgram(programFlag)
	default:
		return runGDBServer()
	}
}

// connect opens the probe and runs the fixed init sequence, returning the
// wire port and sequencer ready for use. Callers are responsible for
// closing the returned transport.
func connect() (*usbtransport.Transport, wire.Primitives, *target.Sequencer, error) {
	printInfo("Opening probe (VID:0x%04x PID:0x%04x)...\n", cfg.USBVendorID, cfg.USBProductID)
	t, err := usbtransport.Open(cfg.USBVendorID, cfg.USBProductID, cfg.USBTimeout)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open probe: %w", err)
	}

	port := wire.NewPort(t)
	seq := target.NewSequencer(port)

	printInfo("Running target init sequence...\n")
	flashKiB, err := seq.Init()
	if err != nil {
		t.Close()
		return nil, nil, nil, fmt.Errorf("target init failed: %w", err)
	}
	printInfo("Detected %d KiB flash.\n", flashKiB)

	return t, port, seq, nil
}

// loadAgent loads the flash agent ELF image named by path, returning the
// code block to upload to flashagent.OffAgentCode and the stack pointer
// to install at flashagent.OffInitialStackP.
func loadAgent(path string) ([]byte, uint32, error) {
	if path == "" {
		return nil, 0, fmt.Errorf("no flash agent image configured (use -f or agent_path in coldfiredbg.ini)")
	}

	loader := firmwarefile.NewELFLoader()
	if err := loader.Open(path); err != nil {
		return nil, 0, fmt.Errorf("failed to open agent image: %w", err)
	}
	defer loader.Close()

	asm := firmwarefile.NewAssembler()
	loader.SetHandler(asm.Collect)
	if err := loader.Process(); err != nil {
		return nil, 0, fmt.Errorf("failed to parse agent image: %w", err)
	}

	base, code := asm.Image()
	if len(code) == 0 {
		return nil, 0, fmt.Errorf("agent image %s contains no loadable segments", path)
	}
	if base != flashagent.Base+flashagent.OffAgentCode {
		printInfo("Warning: agent image is linked at 0x%08x, expected 0x%08x\n",
			base, flashagent.Base+flashagent.OffAgentCode)
	}
	if len(code) > flashagent.AgentCodeMaxLen {
		return nil, 0, fmt.Errorf("agent image is %d bytes, exceeds the %d byte agent code region",
			len(code), flashagent.AgentCodeMaxLen)
	}

	return code, defaultAgentSP, nil
}

func newDriver(port wire.Primitives, seq *target.Sequencer) (*flashdriver.Driver, error) {
	agentCode, agentSP, err := loadAgent(cfg.AgentPath)
	if err != nil {
		return nil, err
	}
	return flashdriver.New(port, seq, agentCode, agentSP), nil
}

// runErase mass-erases the entire flash array after confirmation.
func runErase() error {
	if !util.ConfirmDanger("You are about to ERASE the entire flash memory") {
		printInfo("Operation cancelled.\n")
		return nil
	}

	t, port, seq, err := connect()
	if err != nil {
		return err
	}
	defer t.Close()

	driver, err := newDriver(port, seq)
	if err != nil {
		return err
	}

	printInfo("Erasing flash memory...\n")
	if err := driver.MassErase(); err != nil {
		return fmt.Errorf("flash erase failed: %w", err)
	}

	printInfo("Flash memory erased successfully.\n")
	return nil
}

// runProgram loads filename with the loader matching its extension (or
// --base for a raw binary), then programs the target flash with the
// resulting image.
func runProgram(filename string) error {
	image, base, err := loadImage(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	printInfo("About to program %d bytes at address 0x%08x\n", len(image), base)
	if !util.Confirm("Are you sure you want to reprogram the flash memory? (y/n): ") {
		printInfo("Operation cancelled.\n")
		return nil
	}

	t, port, seq, err := connect()
	if err != nil {
		return err
	}
	defer t.Close()

	driver, err := newDriver(port, seq)
	if err != nil {
		return err
	}

	printInfo("Programming flash...\n")
	if err := driver.ProgramBinary(base, image, verifyFlag); err != nil {
		return fmt.Errorf("flash programming failed: %w", err)
	}

	printInfo("Flash programming complete.\n")
	return nil
}

// loadImage picks a loader by file extension: .s19/.srec/.mot/.s28/.s37
// for SREC, .elf for an ELF object, anything else as raw binary
// requiring --base.
func loadImage(filename string) (data []byte, base uint32, err error) {
	var loader firmwarefile.Loader

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".s19", ".srec", ".mot", ".s28", ".s37":
		loader = firmwarefile.NewSRecLoader()
	case ".elf":
		loader = firmwarefile.NewELFLoader()
	default:
		if baseFlag == "" {
			return nil, 0, fmt.Errorf("raw binary files require --base <addr>")
		}
		addr, err := util.ParseHexAddress(baseFlag)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid --base: %w", err)
		}
		loader = firmwarefile.NewRawLoader(addr)
	}

	if err := loader.Open(filename); err != nil {
		return nil, 0, err
	}
	defer loader.Close()

	asm := firmwarefile.NewAssembler()
	loader.SetHandler(asm.Collect)
	if err := loader.Process(); err != nil {
		return nil, 0, err
	}

	imgBase, imgData := asm.Image()
	return imgData, imgBase, nil
}

// runGDBServer connects to the probe, loads the flash agent, and serves
// GDB remote protocol connections until interrupted.
func runGDBServer() error {
	t, port, seq, err := connect()
	if err != nil {
		return err
	}
	defer t.Close()

	driver, err := newDriver(port, seq)
	if err != nil {
		return err
	}

	bp := breakpoint.NewEngine(port)

	printInfo("Listening for GDB on port %d...\n", cfg.RSPPort)
	srv := rsp.NewServer(port, seq, driver, bp, cfg.RSPPort)
	if err := srv.Run(); err != nil {
		return fmt.Errorf("rsp server: %w", err)
	}
	return nil
}
