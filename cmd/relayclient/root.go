package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type connFlags struct {
	server    string
	transport string
	token     string
	sessionID string
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relayclient",
		Short:        "Test client for the meeting translation relay",
		SilenceUsage: true,
	}

	debug := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(*cobra.Command, []string) {
		level := zerolog.InfoLevel
		if *debug {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	cmd.AddCommand(newStreamCommand())
	cmd.AddCommand(newTextCommand())
	cmd.AddCommand(newUtterancesCommand())
	return cmd
}

func addConnFlags(cmd *cobra.Command, f *connFlags) {
	cmd.Flags().StringVar(&f.server, "server", "localhost:8080", "Relay address (HTTP port for websocket, gRPC port for grpc)")
	cmd.Flags().StringVar(&f.transport, "transport", "websocket", "websocket or grpc")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("RELAY_TOKEN"), "Bearer token for the websocket endpoint")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "Session id to initialize")
	_ = cmd.MarkFlagRequired("session")
}
