package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chiroscope/chiroscope/cmd/analyze"
	"github.com/chiroscope/chiroscope/cmd/export"
	"github.com/chiroscope/chiroscope/cmd/health"
	"github.com/chiroscope/chiroscope/cmd/serve"
	"github.com/chiroscope/chiroscope/internal/buildinfo"
	"github.com/chiroscope/chiroscope/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chiroscope",
		Short: "ChiroScope CLI",
		Long:  "Bat call analysis dashboard backed by a remote classification service.",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		analyze.Command(settings),
		export.Command(settings),
		health.Command(settings),
		versionCommand(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return conf.Validate(settings)
	}

	return rootCmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chiroscope %s (built %s)\n", buildinfo.Version(), buildinfo.BuildDate())
		},
	}
}

// setupFlags defines flags global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Service.BaseURL, "service", viper.GetString("service.baseurl"), "Base URL of the classification service")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
