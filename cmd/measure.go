package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	sig "os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emflab/emfad/emf"
	"github.com/emflab/emfad/protocol"
	"github.com/emflab/emfad/session"
	"github.com/emflab/emfad/signal"
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Stream calibrated readings to the terminal",
	Long: "Start a measurement run on the instrument and print one line per decoded\n" +
		"reading until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := sig.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		freqConfig, err := conf.FrequencyConfig()
		cobra.CheckErr(err)

		sess, err := openSession(ctx)
		cobra.CheckErr(err)
		defer sess.Close()

		cobra.CheckErr(startMeasurement(ctx, sess, freqConfig))
		defer stopMeasurement(sess)

		decoder := &signal.Decoder{}
		smooth := signal.NewWindow("magnitude", 8)

		for {
			select {
			case <-ctx.Done():
				return

			case frame, ok := <-sess.Measurements():
				if !ok {
					fmt.Fprintln(os.Stderr, "link lost")
					return
				}
				reading, err := decoder.Decode(frame.Payload, freqConfig)
				if err != nil {
					// Malformed payloads are dropped; the stream goes on.
					logger.Warn("dropping malformed measurement", "error", err)
					continue
				}
				smooth.Push(reading.Magnitude)
				printReading(reading, smooth.Mean())
			}
		}
	},
}

// startMeasurement selects the configured frequency and starts the
// stream.
func startMeasurement(ctx context.Context, sess *session.Session, freqConfig emf.FrequencyConfig) error {
	_, err := sendWithRetry(ctx, sess, protocol.CommandRequest{
		Op:     protocol.OpSetFrequency,
		Params: []byte{byte(freqConfig.SelectedIndex())},
	})
	if err != nil {
		return fmt.Errorf("selecting frequency: %w", err)
	}
	if _, err := sendWithRetry(ctx, sess, protocol.CommandRequest{Op: protocol.OpStart}); err != nil {
		return fmt.Errorf("starting measurement: %w", err)
	}
	return nil
}

// stopMeasurement asks the instrument to stop streaming. Best effort:
// the session may already be gone.
func stopMeasurement(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), protocol.OpStop.Timeout())
	defer cancel()
	if _, err := sess.SendCommand(ctx, protocol.CommandRequest{Op: protocol.OpStop}); err != nil &&
		!errors.Is(err, session.ErrLinkLost) && !errors.Is(err, session.ErrCancelled) {
		logger.Warn("stop command failed", "error", err)
	}
}

func printReading(r emf.EMFReading, meanMagnitude float64) {
	fmt.Printf("%s  f=%6.1f kHz  mag=%9.2f (avg %9.2f)  phase=%7.2f°  depth=%6.2f m  q=%.2f  t=%.1f°C  batt=%d%%\n",
		r.Timestamp.Format("15:04:05.000"),
		r.Frequency/1000,
		r.Magnitude,
		meanMagnitude,
		r.Phase,
		r.Depth,
		r.Quality,
		r.Temperature,
		r.BatteryPct)
}

func init() {
	rootCmd.AddCommand(measureCmd)
}
