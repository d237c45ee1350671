package cmd

import (
	"fmt"

	"github.com/fluxrip/fluxrip/flux"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect FLUX.BIN",
	Short: "Run drive auto-detection over a flux capture",
	Long: `Feed a flux capture through the three-layer drive detection state
machine and print the resulting drive profile with its confidence.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		samples := readFluxFile(args[0])
		revolutions := flux.SplitRevolutions(samples)
		if len(revolutions) == 0 {
			cobra.CheckErr(fmt.Errorf("no complete revolutions in %s", args[0]))
		}

		pipe := newPipeline()
		for _, rev := range revolutions {
			_, err := pipe.DecodeRevolution(rev)
			cobra.CheckErr(err)
		}

		p := pipe.Profile()
		fmt.Printf("profile word: %#08x (status %#04x)\n", p.Pack(), p.Status())
		fmt.Printf("  valid:        %v\n", p.Valid)
		fmt.Printf("  locked:       %v\n", p.Locked)
		fmt.Printf("  form factor:  %s (%d%% confidence)\n", p.FormFactor, p.Confidence)
		fmt.Printf("  density:      %s\n", p.Density)
		fmt.Printf("  tracks:       %s\n", p.TrackDensity)
		fmt.Printf("  encoding:     %s\n", p.Encoding)
		fmt.Printf("  rpm:          %d\n", p.RPM)
		fmt.Printf("  quality:      %d/255\n", p.Quality)
		if pipe.Detector().DoubleStep() {
			fmt.Printf("  stepping:     double-step recommended\n")
		}
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
