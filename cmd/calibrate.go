package cmd

import (
	"fmt"
	sig "os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emflab/emfad/calibration"
	"github.com/emflab/emfad/storage"
)

var calibrateRecord bool

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run the autobalance calibration procedure",
	Long: "Drive the instrument through the full autobalance sequence: compass start,\n" +
		"horizontal window, vertical window, compass finish. Keep the probe level\n" +
		"during the horizontal phase and upright during the vertical phase.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := sig.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		sess, err := openSession(ctx)
		cobra.CheckErr(err)
		defer sess.Close()

		seq := calibration.New(sess, calibration.WithLogger(logger))

		fmt.Println("Starting compass calibration...")
		cobra.CheckErr(seq.StartCompass(ctx))

		fmt.Println("Hold the probe level. Collecting horizontal samples...")
		cobra.CheckErr(seq.CollectHorizontal(ctx))

		fmt.Println("Hold the probe upright. Collecting vertical samples...")
		cobra.CheckErr(seq.CollectVertical(ctx))

		cobra.CheckErr(seq.FinishCompass(ctx))

		snapshot, err := seq.Save()
		cobra.CheckErr(err)

		fmt.Println("Calibration complete:")
		fmt.Printf("  X: offset=%9.4f scale=%9.6f\n", snapshot.X.Offset, snapshot.X.Scale)
		fmt.Printf("  Y: offset=%9.4f scale=%9.6f\n", snapshot.Y.Offset, snapshot.Y.Scale)
		fmt.Printf("  Z: offset=%9.4f scale=%9.6f\n", snapshot.Z.Offset, snapshot.Z.Scale)

		if calibrateRecord {
			store := storage.New(conf.Storage.Path)
			defer store.Close()

			sessionID, err := store.CreateSession(ctx, sess.Status().Link, conf.Frequencies)
			cobra.CheckErr(err)
			cobra.CheckErr(store.StoreCalibration(ctx, sessionID, snapshot))
			fmt.Printf("Saved to %s (session %s)\n", conf.Storage.Path, sessionID)
		}
	},
}

func init() {
	calibrateCmd.Flags().BoolVar(&calibrateRecord, "record", false, "store the calibration snapshot in the survey database")
	rootCmd.AddCommand(calibrateCmd)
}
