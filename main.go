package main

import (
	"fmt"
	"os"

	"github.com/chiroscope/chiroscope/cmd"
	"github.com/chiroscope/chiroscope/internal/buildinfo"
	"github.com/chiroscope/chiroscope/internal/conf"
	"github.com/chiroscope/chiroscope/internal/logging"
)

// set via -ldflags at build time
var (
	version   string
	buildDate string
)

func main() {
	buildinfo.Set(version, buildDate)
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
