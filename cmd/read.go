package cmd

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/fluxrip/fluxrip/capture"
	"github.com/fluxrip/fluxrip/detect"
	"github.com/fluxrip/fluxrip/flux"
	"github.com/fluxrip/fluxrip/metrics"
	"github.com/fluxrip/fluxrip/pipeline"

	"github.com/spf13/cobra"
)

var (
	readDrive       uint8
	readTrack       int
	readRevolutions int
	readOutput      string
	readMetricsAddr string
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Capture and decode flux from a connected device",
	Long: `Capture flux from the first supported device, run the decode pipeline
live and optionally save the raw flux words for offline work.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dev, err := capture.Find()
		cobra.CheckErr(err)
		defer dev.Close()

		info := dev.Info()
		fmt.Printf("device: %s", info.Name)
		if info.SerialNumber != "" {
			fmt.Printf(" (serial %s)", info.SerialNumber)
		}
		fmt.Printf(", %d Hz tick\n", dev.TickHz())

		cobra.CheckErr(dev.Select(readDrive))
		cobra.CheckErr(dev.Motor(true))
		defer dev.Motor(false)
		cobra.CheckErr(dev.Seek(readTrack))

		status, statusErr := dev.Status()
		if statusErr != nil {
			fmt.Fprintf(os.Stderr, "warning: drive status: %v\n", statusErr)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		samples, err := dev.ReadFlux(ctx, readRevolutions)
		cobra.CheckErr(err)
		fmt.Printf("captured %d flux samples\n", len(samples))

		if readOutput != "" {
			cobra.CheckErr(writeFluxFile(readOutput, samples))
			fmt.Printf("wrote %s\n", readOutput)
		}

		pipe := newPipeline()
		if statusErr == nil {
			pipe.Detector().SetStatus(detect.StatusLines{
				Ready:        status.Ready,
				WriteProtect: status.WriteProtect,
				Track0:       status.Track0,
				HardSector:   status.HardSector,
			})
		}
		var exporter *metrics.Metrics
		if readMetricsAddr != "" {
			exporter = metrics.New()
			http.Handle("/metrics", metrics.Handler())
			go http.ListenAndServe(readMetricsAddr, nil)
		}

		channel := pipeline.NewChannel(pipe)
		go func() {
			if err := channel.Feed(samples); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			channel.Close()
		}()

		done := make(chan error, 1)
		go func() { done <- channel.Run(ctx) }()

		i := 0
		for rev := range channel.Results() {
			printRevolution(i, rev)
			for _, sec := range rev.Sectors {
				pipe.ObserveHeadPosition(readTrack, sec)
			}
			if exporter != nil {
				exporter.ObserveRevolution(rev)
				exporter.UpdateCounters(pipe.Counters())
				exporter.UpdateProfile(pipe.Profile())
			}
			i++
		}
		cobra.CheckErr(<-done)
		printCounters(pipe.Counters())
	},
}

// writeFluxFile stores samples as little-endian flux words with the zero
// terminator, the same format the devices stream.
func writeFluxFile(filename string, samples []flux.Sample) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 4)
	for _, s := range samples {
		binary.LittleEndian.PutUint32(buf, s.Word())
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	binary.LittleEndian.PutUint32(buf, 0)
	_, err = f.Write(buf)
	return err
}

func init() {
	readCmd.Flags().Uint8Var(&readDrive, "drive", 0, "drive number")
	readCmd.Flags().IntVarP(&readTrack, "track", "t", 0, "track to read")
	readCmd.Flags().IntVarP(&readRevolutions, "revs", "r", 3, "revolutions to capture")
	readCmd.Flags().StringVarP(&readOutput, "output", "o", "", "save raw flux words to file")
	readCmd.Flags().StringVar(&readMetricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(readCmd)
}
