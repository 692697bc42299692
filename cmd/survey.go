package cmd

import (
	"fmt"
	"os"
	sig "os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/emflab/emfad/signal"
	"github.com/emflab/emfad/storage"
)

var surveyCmd = &cobra.Command{
	Use:   "survey",
	Short: "Record a measurement run into the survey database",
	Long: "Start a measurement run and record every decoded reading into the sqlite\n" +
		"survey database until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := sig.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		freqConfig, err := conf.FrequencyConfig()
		cobra.CheckErr(err)

		sess, err := openSession(ctx)
		cobra.CheckErr(err)
		defer sess.Close()

		store := storage.New(conf.Storage.Path)
		defer store.Close()

		sessionID, err := store.CreateSession(ctx, sess.Status().Link, conf.Frequencies)
		cobra.CheckErr(err)
		fmt.Printf("Recording session %s to %s\n", sessionID, conf.Storage.Path)

		cobra.CheckErr(startMeasurement(ctx, sess, freqConfig))
		defer stopMeasurement(sess)

		decoder := &signal.Decoder{}
		recorded := 0

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop

			case frame, ok := <-sess.Measurements():
				if !ok {
					fmt.Fprintln(os.Stderr, "link lost")
					break loop
				}
				reading, err := decoder.Decode(frame.Payload, freqConfig)
				if err != nil {
					logger.Warn("dropping malformed measurement", "error", err)
					continue
				}
				if err := store.StoreReading(ctx, sessionID, reading); err != nil {
					logger.Error("storing reading", "error", err)
					continue
				}
				recorded++
			}
		}

		fmt.Printf("Recorded %s readings\n", humanize.Comma(int64(recorded)))
	},
}

func init() {
	rootCmd.AddCommand(surveyCmd)
}
