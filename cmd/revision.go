package cmd

import (
	"fmt"

	"github.com/coldfiredbg/coldfiredbg/pkg/target"
	"github.com/coldfiredbg/coldfiredbg/pkg/usbtransport"
	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
	"github.com/spf13/cobra"
)

var revisionCmd = &cobra.Command{
	Use:   "revision",
	Short: "Report the detected part's chip family and identification number",
	Long: `Query the target's chip ID register and part identification number,
without running the flash agent or halting the CPU.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRevision()
	},
}

func init() {
	rootCmd.AddCommand(revisionCmd)
}

func runRevision() error {
	printInfo("Opening probe (VID:0x%04x PID:0x%04x)...\n", cfg.USBVendorID, cfg.USBProductID)
	t, err := usbtransport.Open(cfg.USBVendorID, cfg.USBProductID, cfg.USBTimeout)
	if err != nil {
		return fmt.Errorf("failed to open probe: %w", err)
	}
	defer t.Close()

	port := wire.NewPort(t)
	seq := target.NewSequencer(port)

	if err := seq.DetectDevice(); err != nil {
		return fmt.Errorf("device detect failed: %w", err)
	}

	family, pin, err := seq.Revision()
	if err != nil {
		return fmt.Errorf("failed to read revision: %w", err)
	}

	fmt.Printf("Chip family: 0x%X\n", family)
	fmt.Printf("Part identification number: 0x%02X\n", pin)
	return nil
}
