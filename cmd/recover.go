package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fluxrip/fluxrip/flux"
	"github.com/fluxrip/fluxrip/pipeline"

	"github.com/spf13/cobra"
)

var recoverOutput string

var recoverCmd = &cobra.Command{
	Use:   "recover FLUX.BIN CYL HEAD SECTOR",
	Short: "Recover one sector by multi-pass voting",
	Long: `Vote across all revolutions of a flux capture to reconstruct one
sector that fails its integrity check on every individual pass. Reports
an unverified best-effort reconstruction when no vote passes.`,
	Args: cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		samples := readFluxFile(args[0])
		revolutions := flux.SplitRevolutions(samples)
		if len(revolutions) == 0 {
			cobra.CheckErr(fmt.Errorf("no complete revolutions in %s", args[0]))
		}

		target := pipeline.SectorID{
			Cylinder: parseField(args[1], "cylinder"),
			Head:     parseField(args[2], "head"),
			Sector:   parseField(args[3], "sector"),
		}

		pipe := newPipeline()
		res, err := pipe.Recover(context.Background(), revolutions, target)
		cobra.CheckErr(err)

		fmt.Printf("passes:     %d\n", res.Passes)
		fmt.Printf("confidence: %d/255\n", res.Confidence)
		fmt.Printf("ambiguous:  %d bit cells\n", res.Ambiguous)
		if !res.Found {
			cobra.CheckErr(fmt.Errorf("sector C%d H%d S%d not found in composite",
				target.Cylinder, target.Head, target.Sector))
		}
		if res.Verified {
			fmt.Printf("verified:   yes\n")
		} else {
			fmt.Printf("verified:   NO - best-effort reconstruction only\n")
		}

		if recoverOutput != "" {
			err := os.WriteFile(recoverOutput, res.Sector.Data, 0644)
			cobra.CheckErr(err)
			fmt.Printf("wrote %d bytes to %s\n", len(res.Sector.Data), recoverOutput)
		}
	},
}

func parseField(s, name string) uint8 {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		cobra.CheckErr(fmt.Errorf("invalid %s %q", name, s))
	}
	return uint8(v)
}

func init() {
	recoverCmd.Flags().StringVarP(&recoverOutput, "output", "o", "", "write recovered data to file")
	rootCmd.AddCommand(recoverCmd)
}
