package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagHome        string
	flagCoordinator string
	flagInsecure    bool
	flagDebug       bool
)

func main() {
	root := &cobra.Command{
		Use:           "cofund",
		Short:         "collaborative crowdfunding basket sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagHome, "home", defaultHome(), "profile directory")
	root.PersistentFlags().StringVar(&flagCoordinator, "coordinator", "localhost:7450", "session coordinator addr (host:port)")
	root.PersistentFlags().BoolVar(&flagInsecure, "insecure", false, "skip coordinator certificate verification")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(identityCmd(), createCmd(), joinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultHome() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".cofund")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagDebug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
