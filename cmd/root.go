// Package cmd implements the emfad command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emflab/emfad/config"
	"github.com/emflab/emfad/protocol"
	"github.com/emflab/emfad/session"
	"github.com/emflab/emfad/transport"
)

var (
	configFlag string

	conf   *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "emfad",
	Short: "A CLI program which talks to an EMFAD field instrument",
	Long: "The emfad tool connects to an EMFAD electromagnetic-field instrument over\n" +
		"USB-serial or Bluetooth Low Energy, runs the autobalance calibration and\n" +
		"streams calibrated readings.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		path := configFlag
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			cobra.CheckErr(err)
		}

		var err error
		conf, err = config.Load(path)
		cobra.CheckErr(err)

		level, err := conf.LogLevel()
		cobra.CheckErr(err)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to the configuration file")
}

// openSession finds the instrument per the configured transport
// preference, connects and returns the live session.
func openSession(ctx context.Context) (*session.Session, error) {
	tr, err := findTransport()
	if err != nil {
		return nil, err
	}

	sess := session.New(tr, session.WithLogger(logger))
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func findTransport() (transport.Transport, error) {
	switch conf.Transport.Preference {
	case "serial":
		if conf.Transport.SerialPort != "" {
			// Explicit port override; the chipset family cannot be read
			// off a bare port name, FTDI bring-up works on all three.
			return transport.NewSerialTransport(conf.Transport.SerialPort, transport.FamilyFTDI), nil
		}
		return transport.Find(logger)

	case "ble":
		return transport.NewBLETransport(conf.BLEConfig()), nil

	default: // auto
		tr, err := transport.Find(logger)
		if errors.Is(err, transport.ErrNotFound) {
			logger.Info("no USB adapter found, trying BLE")
			return transport.NewBLETransport(conf.BLEConfig()), nil
		}
		return tr, err
	}
}

// Command retry policy: the engine itself never retries, the CLI retries
// twice with a fixed backoff on timeout.
const (
	commandRetries = 2
	retryBackoff   = 500 * time.Millisecond
)

func sendWithRetry(ctx context.Context, sess *session.Session, req protocol.CommandRequest) (*protocol.CommandResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= commandRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying command",
				slog.String("command", req.Op.String()),
				slog.Int("attempt", attempt))
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := sess.SendCommand(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, session.ErrTimeout) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("command %s failed after %d retries: %w", req.Op, commandRetries, lastErr)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
