package cmd

import (
	"fmt"

	"github.com/fluxrip/fluxrip/capture"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show the connected capture device",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dev, err := capture.Find()
		cobra.CheckErr(err)
		defer dev.Close()

		info := dev.Info()
		fmt.Printf("name:     %s\n", info.Name)
		if info.Firmware != "" {
			fmt.Printf("firmware: %s\n", info.Firmware)
		}
		if info.SerialNumber != "" {
			fmt.Printf("serial:   %s\n", info.SerialNumber)
		}
		fmt.Printf("tick:     %d Hz\n", dev.TickHz())
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
