package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/emflab/emfad/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show instrument status",
	Long:  "Connect to the instrument, query its status and print battery and link information.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		sess, err := openSession(ctx)
		cobra.CheckErr(err)
		defer sess.Close()

		_, err = sendWithRetry(ctx, sess, protocol.CommandRequest{Op: protocol.OpStatus})
		cobra.CheckErr(err)

		status := sess.Status()
		fmt.Printf("Link:         %s\n", status.Link)
		fmt.Printf("Connected:    %v\n", status.Connected)
		fmt.Printf("Battery:      %d%%\n", status.BatteryPct)
		fmt.Printf("Last contact: %s\n", humanize.Time(status.LastComm))
		if status.ErrorCount > 0 {
			fmt.Printf("Errors:       %d consecutive\n", status.ErrorCount)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
