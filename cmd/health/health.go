// Package health implements a one-shot probe of the classification service.
package health

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/chiroscope/chiroscope/internal/batapi"
	"github.com/chiroscope/chiroscope/internal/conf"
	"github.com/chiroscope/chiroscope/internal/model"
)

// Command creates the health command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check classification service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), settings)
		},
	}
}

func runHealth(ctx context.Context, settings *conf.Settings) error {
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

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("service at %s is unreachable: %w", settings.Service.BaseURL, err)
	}

	fmt.Printf("service: %s\nstatus:  %s\n", settings.Service.BaseURL, health.Status)

	names := make([]string, 0, len(health.Services))
	for name := range health.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		state := health.Services[name]
		marker := "down"
		if model.ServiceHealthy(state) {
			marker = "up"
		}
		fmt.Printf("  %-12s %-10s (%s)\n", name, state, marker)
	}
	return nil
}
