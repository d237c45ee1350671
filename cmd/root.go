package cmd

import (
	"fmt"
	"os"

	"github.com/fluxrip/fluxrip/config"
	"github.com/fluxrip/fluxrip/detect"
	"github.com/fluxrip/fluxrip/flux"
	"github.com/fluxrip/fluxrip/pipeline"

	"github.com/spf13/cobra"
)

var (
	cfg        *config.Config
	configFile string
	mediaName  string
)

var rootCmd = &cobra.Command{
	Use:   "fluxrip",
	Short: "A CLI program which decodes floppy and hard-disk flux captures",
	Long: `The fluxrip tool decodes magnetic-media flux captures: clock recovery,
encoding classification, sector extraction, drive auto-detection and
multi-pass recovery of marginal media.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		if configFile != "" {
			cfg, err = config.Load(configFile)
		} else {
			cfg, err = config.Initialize()
		}
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
		if mediaName != "" {
			media, err := cfg.MediaByName(mediaName)
			if err != nil {
				cobra.CheckErr(err)
			}
			cfg.Selected = media
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&mediaName, "media", "m", "", "media profile name")
}

// newPipeline builds a decode pipeline from the active configuration.
func newPipeline() *pipeline.Pipeline {
	pipe, err := pipeline.New(pipeline.Config{
		TickHz:          cfg.TickHz,
		BitRateKHz:      uint16(cfg.Selected.BitRateKHz),
		Confirmations:   cfg.Classify.Confirmations,
		ResyncThreshold: cfg.Classify.ResyncThreshold,
		ECCBytes:        cfg.Selected.ECCBytes,
		Passes:          cfg.Recover.Passes,
		PeriodAdjPct:    cfg.PLL.PeriodAdjPct,
		PhaseAdjPct:     cfg.PLL.PhaseAdjPct,
		MaxAdjPct:       cfg.PLL.MaxAdjPct,
	})
	cobra.CheckErr(err)
	if cfg.Detect.AmbiguousFormFactor == "5.25" {
		pipe.Detector().SetAmbiguousDefault(detect.Form525)
	}
	return pipe
}

// readFluxFile loads a raw little-endian flux word capture.
func readFluxFile(filename string) []flux.Sample {
	f, err := os.Open(filename)
	cobra.CheckErr(err)
	defer f.Close()

	reader := flux.NewWordReader(f)
	samples := flux.ReadAll(reader)
	cobra.CheckErr(reader.Err())
	if len(samples) == 0 {
		cobra.CheckErr(fmt.Errorf("no flux samples in %s", filename))
	}
	return samples
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
