// Package analyze implements one-shot analysis of recordings from the
// command line.
package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chiroscope/chiroscope/internal/batapi"
	"github.com/chiroscope/chiroscope/internal/conf"
	"github.com/chiroscope/chiroscope/internal/model"
)

// Command creates the analyze command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Analyze recordings through the classification service",
		Long:  "Submit one or more audio files (or spectrogram images) for classification and print the detections.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), settings, args)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Analysis.Theme, "theme", viper.GetString("analysis.theme"), "Spectrogram color theme")
	cmd.Flags().Float64Var(&settings.Analysis.Threshold, "threshold", viper.GetFloat64("analysis.threshold"), "Detection threshold as a fraction")
	cmd.Flags().Float64Var(&settings.Analysis.MaxThreshold, "maxthreshold", viper.GetFloat64("analysis.maxthreshold"), "Upper detection threshold as a fraction")
	cmd.Flags().IntVar(&settings.Analysis.MaxFreqKHz, "maxfreq", viper.GetInt("analysis.maxfreqkhz"), "Maximum display frequency in kHz")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

func runAnalyze(ctx context.Context, settings *conf.Settings, paths []string) error {
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

	opts := batapi.AnalyzeOptions{
		Theme:        settings.Analysis.Theme,
		Threshold:    settings.Analysis.Threshold,
		MaxThreshold: settings.Analysis.MaxThreshold,
		MaxFreqKHz:   settings.Analysis.MaxFreqKHz,
	}

	for _, path := range paths {
		if err := analyzeFile(ctx, client, path, opts); err != nil {
			return err
		}
	}
	return nil
}

func analyzeFile(ctx context.Context, client *batapi.Client, path string, opts batapi.AnalyzeOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	filename := filepath.Base(path)

	var result *model.AnalysisResult
	if imageExtensions[strings.ToLower(filepath.Ext(path))] {
		result, err = client.AnalyzeSpectrogram(ctx, filename, f, opts)
	} else {
		result, err = client.AnalyzeAudio(ctx, filename, f, opts)
	}
	if err != nil {
		return fmt.Errorf("analysis of %s failed: %w", path, err)
	}

	printResult(result)
	return nil
}

func printResult(result *model.AnalysisResult) {
	fmt.Printf("%s (id %s, %.1fs)\n", result.OriginalFilename, result.FileID, result.Duration)
	if len(result.SpeciesDetected) == 0 {
		fmt.Println("  no species detected")
		return
	}
	for _, d := range result.SpeciesDetected {
		fmt.Printf("  %-35s %5.1f%%\n", d.Species, d.Confidence)
	}
}
