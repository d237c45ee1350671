package cmd

import (
	"fmt"

	"github.com/fluxrip/fluxrip/detect"
	"github.com/fluxrip/fluxrip/flux"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe FLUX.BIN",
	Short: "Probe a capture for supported data rates",
	Long: `Replay a flux capture at each candidate data rate and report which
rates achieve DPLL lock and sync detection within the probe windows.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		samples := readFluxFile(args[0])
		intervals, err := flux.Intervals(samples)
		cobra.CheckErr(err)

		results := detect.ProbeRates(intervals, cfg.TickHz)
		for _, r := range results {
			verdict := "no"
			switch {
			case r.Supported():
				verdict = fmt.Sprintf("yes (%s)", r.Kind)
			case r.Locked:
				verdict = "lock only, no sync"
			}
			fmt.Printf("%-8s %s\n", r.Rate, verdict)
		}
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
