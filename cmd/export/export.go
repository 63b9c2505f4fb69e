// Package export implements downloading analysis exports to local files.
package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chiroscope/chiroscope/internal/batapi"
	"github.com/chiroscope/chiroscope/internal/conf"
)

// Command creates the export command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download analysis exports",
	}

	cmd.AddCommand(csvCommand(settings), pdfCommand(settings))
	return cmd
}

func csvCommand(settings *conf.Settings) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Download the full analysis history as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(settings, func(ctx context.Context, client *batapi.Client) error {
				body, filename, err := client.DownloadCSV(ctx)
				if err != nil {
					return fmt.Errorf("CSV export failed: %w", err)
				}
				defer func() {
					_ = body.Close()
				}()
				return writeExport(outDir, filename, body)
			})
		},
	}

	cmd.Flags().StringVar(&outDir, "out", viper.GetString("export.dir"), "Directory to write the export into")
	return cmd
}

func pdfCommand(settings *conf.Settings) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "pdf [file-id]",
		Short: "Download the PDF report for one result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(settings, func(ctx context.Context, client *batapi.Client) error {
				body, filename, err := client.DownloadPDF(ctx, args[0])
				if err != nil {
					return fmt.Errorf("PDF export failed: %w", err)
				}
				defer func() {
					_ = body.Close()
				}()
				return writeExport(outDir, filename, body)
			})
		},
	}

	cmd.Flags().StringVar(&outDir, "out", viper.GetString("export.dir"), "Directory to write the export into")
	return cmd
}

func withClient(settings *conf.Settings, fn func(context.Context, *batapi.Client) error) error {
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
	return fn(context.Background(), client)
}

func writeExport(dir, filename string, body io.Reader) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	path := dir + string(os.PathSeparator) + filename
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		_ = out.Close()
	}()

	n, err := io.Copy(out, body)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, n)
	return nil
}
