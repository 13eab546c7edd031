// coldfiredbg - GDB remote server for a USB BDM probe attached to a
// ColdFire V2 microcontroller.
//
// It bridges GDB's remote serial protocol to the probe's USB bulk
// transport, and can also erase or program flash memory directly.
package main

import (
	"fmt"
	"os"

	"github.com/coldfiredbg/coldfiredbg/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
