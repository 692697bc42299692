package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emflab/emfad/emf"
	"github.com/emflab/emfad/protocol"
)

var frequencyCmd = &cobra.Command{
	Use:   "frequency",
	Short: "List or select the carrier frequency",
}

var frequencyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported carrier frequencies",
	Run: func(cmd *cobra.Command, args []string) {
		freqConfig, err := conf.FrequencyConfig()
		cobra.CheckErr(err)

		for i, f := range emf.Frequencies() {
			marker := " "
			if i == freqConfig.SelectedIndex() {
				marker = "*"
			}
			state := "inactive"
			if freqConfig.IsActive(i) {
				state = "active"
			}
			fmt.Printf("%s [%d] %6.1f kHz  %s\n", marker, i, f/1000, state)
		}
	},
}

var frequencySetCmd = &cobra.Command{
	Use:   "set INDEX",
	Short: "Select the carrier frequency by index",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		index, err := strconv.Atoi(args[0])
		cobra.CheckErr(err)

		freqConfig, err := conf.FrequencyConfig()
		cobra.CheckErr(err)
		freqConfig, err = freqConfig.WithSelected(index)
		cobra.CheckErr(err)

		sess, err := openSession(ctx)
		cobra.CheckErr(err)
		defer sess.Close()

		_, err = sendWithRetry(ctx, sess, protocol.CommandRequest{
			Op:     protocol.OpSetFrequency,
			Params: []byte{byte(index)},
		})
		cobra.CheckErr(err)

		fmt.Printf("Selected %.1f kHz\n", freqConfig.Selected()/1000)
	},
}

func init() {
	frequencyCmd.AddCommand(frequencyListCmd)
	frequencyCmd.AddCommand(frequencySetCmd)
	rootCmd.AddCommand(frequencyCmd)
}
