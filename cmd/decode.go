package cmd

import (
	"fmt"

	"github.com/fluxrip/fluxrip/flux"
	"github.com/fluxrip/fluxrip/image"
	"github.com/fluxrip/fluxrip/pipeline"

	"github.com/spf13/cobra"
)

var decodeOutput string

var decodeCmd = &cobra.Command{
	Use:   "decode FLUX.BIN",
	Short: "Decode sectors from a flux capture file",
	Long: `Decode a raw flux word capture: recover the bit clock, classify the
encoding, extract sectors and report integrity results per revolution.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		samples := readFluxFile(args[0])
		revolutions := flux.SplitRevolutions(samples)
		if len(revolutions) == 0 {
			cobra.CheckErr(fmt.Errorf("no complete revolutions in %s", args[0]))
		}

		pipe := newPipeline()
		builder := image.NewBuilder()
		for i, rev := range revolutions {
			decoded, err := pipe.DecodeRevolution(rev)
			cobra.CheckErr(err)
			printRevolution(i, decoded)
			for _, s := range decoded.Sectors {
				if s.CRCOK {
					// Best wins; failed sectors never land in the image.
					_ = builder.Add(s)
				}
			}
		}
		printCounters(pipe.Counters())

		if decodeOutput != "" {
			missing, err := builder.Write(decodeOutput)
			cobra.CheckErr(err)
			fmt.Printf("wrote %s (%d sectors, %d missing)\n",
				decodeOutput, builder.Count(), missing)
		}
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "", "assemble good sectors into an IMG file")
	rootCmd.AddCommand(decodeCmd)
}

func printRevolution(i int, rev pipeline.Revolution) {
	fmt.Printf("revolution %d: encoding %s, %d bits, quality %d/255",
		i, rev.Kind, rev.Bits, rev.Quality.Quality)
	if rev.Quality.Critical {
		fmt.Printf(" (critical)")
	} else if rev.Quality.Degraded {
		fmt.Printf(" (degraded)")
	}
	fmt.Printf("\n")

	for _, s := range rev.Sectors {
		status := "ok"
		if !s.CRCOK {
			status = "BAD"
		}
		fmt.Printf("  C%d H%d S%d size %d: %s", s.Cylinder, s.Head, s.Sector,
			len(s.Data), status)
		if s.ECCCorrected > 0 {
			fmt.Printf(" (%d symbols corrected)", s.ECCCorrected)
		}
		fmt.Printf("\n")
	}
}

func printCounters(c *pipeline.Counters) {
	fmt.Printf("\nerrors:")
	any := false
	for _, kind := range pipeline.ErrorKinds() {
		if n := c.Count(kind); n > 0 {
			fmt.Printf(" %s=%d", kind, n)
			any = true
		}
	}
	if !any {
		fmt.Printf(" none")
	}
	fmt.Printf(" (rate %d/1000)\n", c.Rate())
}
