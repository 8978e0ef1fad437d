package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	app "github.com/ardylee-mml/adto3d/internal/application"
	"github.com/ardylee-mml/adto3d/internal/container"
	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

var (
	// analyze
	contourOut string
	describe   bool

	// convert
	convertMode   string
	convertOutfit string
	convertName   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Print the shape analysis of an image as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var validateCmd = &cobra.Command{
	Use:   "validate <image>",
	Short: "Check an image against the upload requirements",
	Long: `Prints the validation report as JSON.
Exits with a non-zero status when the image is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var convertCmd = &cobra.Command{
	Use:   "convert <image>",
	Short: "Convert an image into a 3D model and wait for the result",
	Long: `Runs the full pipeline for one image and prints the finished job.

Modes:
  - local: primitive generator (or Blender when GENERATOR=blender)
  - cloud: Masterpiece X API, requires MPX_SDK_BEARER_TOKEN

Example:
  adto3d convert cup.png --mode local --outfit hats --name cup`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var outfitCmd = &cobra.Command{
	Use:   "outfit <model.glb> <category>",
	Short: "Adapt a GLB model to an outfit category and print the report",
	Args:  cobra.ExactArgs(2),
	RunE:  runOutfit,
}

var checkConnectionCmd = &cobra.Command{
	Use:   "check-connection",
	Short: "Test the Masterpiece X credentials",
	Args:  cobra.NoArgs,
	RunE:  runCheckConnection,
}

var checkBlenderCmd = &cobra.Command{
	Use:   "check-blender",
	Short: "Print the version of the configured Blender binary",
	Args:  cobra.NoArgs,
	RunE:  runCheckBlender,
}

func init() {
	analyzeCmd.Flags().StringVar(&contourOut, "contour-out", "", "Write the highlighted contour PNG to this path")
	analyzeCmd.Flags().BoolVar(&describe, "describe", false, "Add a model description (LLM when DEEPSEEK_API_KEY is set)")

	convertCmd.Flags().StringVar(&convertMode, "mode", "", "Conversion mode: local or cloud (default CONVERSION_MODE)")
	convertCmd.Flags().StringVar(&convertOutfit, "outfit", "", "Outfit category for post-processing")
	convertCmd.Flags().StringVar(&convertName, "name", "", "Output name (default: image file name)")
}

// withContainer собирает контейнер и ограничивает команду таймаутом
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *container.Container) error) error {
	c, err := container.New(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
		out, err := c.AnalysisService.Analyze(ctx, data, contourOut != "")
		if err != nil {
			return err
		}
		if describe {
			c.AnalysisService.Describe(ctx, out.Analysis)
		}
		if contourOut != "" {
			if err := os.WriteFile(contourOut, out.Highlighted, 0o644); err != nil {
				return fmt.Errorf("write contour image: %w", err)
			}
		}
		return printJSON(cmd.OutOrStdout(), out.Analysis)
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
		res := c.AnalysisService.Validate(ctx, data)
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Message)
		}
		return nil
	})
}

func runConvert(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	mode, err := entity.ParseConversionMode(convertMode, cfg.DefaultMode)
	if err != nil {
		return err
	}

	return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
		stored, err := c.Files.SaveUpload(ctx, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}

		name := convertName
		if name == "" {
			name = trimExt(filepath.Base(args[0]))
		}
		job, err := c.ConversionService.Run(ctx, app.ConversionRequest{
			Name:   name,
			Upload: stored,
			Mode:   mode,
			Outfit: entity.OutfitCategory(convertOutfit),
		})
		if job != nil {
			if perr := printJSON(cmd.OutOrStdout(), job); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}

		dir, err := c.Files.OutputDir(job.Name)
		if err == nil {
			logger.Info("model ready", zap.String("dir", dir))
		}
		return nil
	})
}

func runOutfit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
		stored, err := c.Files.SaveUpload(ctx, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		out, err := c.OutfitService.Process(ctx, stored, entity.OutfitCategory(args[1]))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}

func runCheckConnection(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
		if c.Cloud == nil {
			return errors.New("MPX_SDK_BEARER_TOKEN is not set")
		}
		if err := c.Cloud.TestConnection(ctx); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "connection ok")
		return nil
	})
}

func runCheckBlender(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
		if c.Blender == nil {
			return errors.New("BLENDER_PATH is not set")
		}
		version, err := c.Blender.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
