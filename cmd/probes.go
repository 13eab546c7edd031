package cmd

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/spf13/cobra"
)

// listProbesCmd represents the list-probes command
var listProbesCmd = &cobra.Command{
	Use:   "list-probes",
	Short: "List attached BDM probes",
	Long: `List all USB BDM probes attached to the system matching the
configured vendor ID.

Example:
  coldfiredbg list-probes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listProbes()
	},
}

func init() {
	rootCmd.AddCommand(listProbesCmd)
}

// listProbes enumerates USB devices matching the probe's vendor ID.
func listProbes() error {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(cfg.USBVendorID)
	})
	if err != nil {
		return fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	if len(devices) == 0 {
		fmt.Println("No probes found")
		return nil
	}

	fmt.Println("Attached probes:")
	for _, d := range devices {
		fmt.Printf("  bus %03d device %03d: VID:0x%04x PID:0x%04x\n",
			d.Desc.Bus, d.Desc.Address, uint16(d.Desc.Vendor), uint16(d.Desc.Product))
	}

	return nil
}
