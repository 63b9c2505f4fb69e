// Package serve implements the command that runs the dashboard HTTP server.
package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chiroscope/chiroscope/internal/batapi"
	"github.com/chiroscope/chiroscope/internal/conf"
	"github.com/chiroscope/chiroscope/internal/httpcontroller"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Server.Host, "host", viper.GetString("server.host"), "Host address to bind to")
	cmd.Flags().StringVar(&settings.Server.Port, "port", viper.GetString("server.port"), "Port to listen on")
	cmd.Flags().BoolVar(&settings.Server.EnableCORS, "cors", viper.GetBool("server.enablecors"), "Enable CORS headers")
	cmd.Flags().BoolVar(&settings.Server.LogRequests, "logrequests", viper.GetBool("server.logrequests"), "Log every HTTP request")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func runServer(settings *conf.Settings) error {
	client, err := batapi.NewClient(batapi.Config{
		BaseURL:     settings.Service.BaseURL,
		Timeout:     settings.Service.Timeout,
		CacheTTL:    settings.Service.CacheTTL,
		RateLimitMS: settings.Service.RateLimitMS,
		Debug:       settings.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to create service client: %w", err)
	}
	defer client.Close()

	server, err := httpcontroller.New(settings, client)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		fmt.Printf("received %s, shutting down\n", sig)
		return server.Shutdown()
	}
}
