package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
	"github.com/MeKo-Tech/omnishelf/internal/store"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

const (
	outputFormatJSON = "json"
	outputFormatCSV  = "csv"
	outputFormatText = "text"
)

var validOutputFormats = []string{outputFormatText, outputFormatJSON, outputFormatCSV}

// detectCmd represents the detect command.
var detectCmd = &cobra.Command{
	Use:   "detect <image>...",
	Short: "Detect and identify products on shelf images",
	Long: `Run the shelf pipeline on one or more images: propose candidate regions,
classify them against the product catalog, remove duplicates and optionally
verify each detection with a vision-language model. Directory arguments
contribute the images they contain.

Supported formats: JPEG, PNG, BMP, TIFF, WebP

Examples:
  omnishelf detect shelf.jpg
  omnishelf detect aisle/*.jpg --format json --output results.json
  omnishelf detect photos/ --recursive --exclude '*_overlay.png'
  omnishelf detect shelf.jpg --strategies contour_grid,generic_detector --overlay-dir overlays
  omnishelf detect shelf.jpg --verify --trust-threshold 0.8
  omnishelf detect shelf.jpg --save --shelf-id aisle-3`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}

		cfg := GetConfig()
		format := cfg.Output.Format
		if !slices.Contains(validOutputFormats, format) {
			return fmt.Errorf("invalid output format: %s (must be one of: %s)", format, strings.Join(validOutputFormats, ", "))
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		recursive, _ := cmd.Flags().GetBool("recursive")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		files, err := utils.DiscoverImages(args, recursive, exclude)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return errors.New("no images found")
		}
		for _, pth := range files {
			if !utils.IsSupportedImage(pth) {
				return fmt.Errorf("unsupported image format: %s", pth)
			}
		}

		pCfg, err := cfg.ToPipelineConfig()
		if err != nil {
			return fmt.Errorf("invalid pipeline configuration: %w", err)
		}
		pl, err := pipeline.NewFromConfig(pCfg)
		if err != nil {
			return fmt.Errorf("failed to build shelf pipeline: %w", err)
		}
		defer pl.Close()

		save, _ := cmd.Flags().GetBool("save")
		shelfID, _ := cmd.Flags().GetString("shelf-id")
		var st *store.Store
		if save {
			st, err = store.Open(cfg.Store.Path, pl.Catalog())
			if err != nil {
				return fmt.Errorf("failed to open scan store: %w", err)
			}
			defer func() {
				if err := st.Close(); err != nil {
					slog.Error("closing scan store", "error", err)
				}
			}()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		errOut := cmd.ErrOrStderr()
		showProgress, _ := cmd.Flags().GetBool("progress")
		_, _ = fmt.Fprintf(errOut, "Processing %d image(s)\n", len(files))

		outputs := make([]string, 0, len(files))
		for _, pth := range files {
			var obs pipeline.Observer = pipeline.NewLogObserver(slog.Default(), slog.LevelDebug)
			if showProgress {
				obs = pipeline.NewMultiObserver(obs, pipeline.NewConsoleObserver(errOut))
			}

			res, err := pl.DetectFile(ctx, pth, obs)
			if err != nil {
				return fmt.Errorf("detection failed for %s: %w", pth, err)
			}

			if cfg.Output.OverlayDir != "" {
				outPath, err := writeOverlay(cfg.Output.OverlayDir, pth, res)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(errOut, "Saved overlay: %s\n", outPath)
			}

			if st != nil {
				scan, err := st.SaveScan(ctx, shelfID, res.Detections, time.Now())
				if err != nil {
					return fmt.Errorf("failed to save scan for %s: %w", pth, err)
				}
				_, _ = fmt.Fprintf(errOut, "Saved scan %s (shelf %s, %d detections)\n",
					scan.SessionID, scan.ShelfID, scan.Detections)
			}

			out, err := formatResult(format, pth, res, len(files) > 1)
			if err != nil {
				return err
			}
			outputs = append(outputs, out)
		}

		final := strings.Join(outputs, "\n")
		if cfg.Output.File != "" {
			if err := os.WriteFile(cfg.Output.File, []byte(final), 0o600); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			_, _ = fmt.Fprintf(errOut, "Results written to %s\n", cfg.Output.File)
			return nil
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), final); err != nil {
			return fmt.Errorf("failed to write final output: %w", err)
		}
		return nil
	},
}

// formatResult renders one image result. multi prefixes CSV and text output
// with the file name so concatenated results stay attributable.
func formatResult(format, path string, res *pipeline.Result, multi bool) (string, error) {
	switch format {
	case outputFormatJSON:
		obj := struct {
			File   string           `json:"file"`
			Result *pipeline.Result `json:"result"`
		}{File: path, Result: res}
		bts, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(bts), nil
	case outputFormatCSV:
		s, err := pipeline.ToCSV(res)
		if err != nil {
			return "", fmt.Errorf("format csv failed: %w", err)
		}
		if multi {
			s = "# " + path + "\n" + s
		}
		return s, nil
	default:
		s, err := pipeline.ToText(res)
		if err != nil {
			return "", fmt.Errorf("format text failed: %w", err)
		}
		if multi {
			s = path + ":\n" + s
		}
		return s, nil
	}
}

// writeOverlay renders res on the source image and stores it as
// <dir>/<name>_overlay.png.
func writeOverlay(dir, path string, res *pipeline.Result) (string, error) {
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return "", fmt.Errorf("failed to reload %s for overlay: %w", path, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create overlay directory: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outPath := filepath.Join(dir, base+"_overlay.png")
	f, err := os.Create(outPath) //nolint:gosec // G304: path comes from --overlay-dir
	if err != nil {
		return "", fmt.Errorf("failed to create overlay file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, pipeline.RenderOverlay(img, res.Detections)); err != nil {
		return "", fmt.Errorf("failed to encode overlay: %w", err)
	}
	return outPath, nil
}

func addDetectFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().String("overlay-dir", "", "directory to write overlay images (drawn boxes)")
	cmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories of directory arguments")
	cmd.Flags().StringSlice("exclude", nil, "file name globs to skip (e.g. '*_overlay.png')")

	// Proposal
	cmd.Flags().StringSlice("strategies", nil,
		"proposal strategies (sliding_window, contour_grid, generic_detector)")
	cmd.Flags().StringSlice("window-sizes", nil, "sliding window sizes as WxH (e.g. 96x192,128x256)")
	cmd.Flags().Float64("stride-ratio", 0.5, "sliding window stride as a fraction of the window size")
	cmd.Flags().Float64("merge-threshold", 0.7, "IoU above which proposals from different strategies merge")
	cmd.Flags().String("generic-model", "", "override generic detector model path")

	// Classification
	cmd.Flags().String("classifier-model", "", "override product classifier model path")
	cmd.Flags().String("labels", "", "product label file (one name per line)")
	cmd.Flags().Float64("confidence-floor", 0.5, "minimum classification confidence (0..1)")
	cmd.Flags().Int("min-crop-size", 20, "crops with a shorter side are skipped")
	cmd.Flags().Bool("report-unmatched", false, "report labels missing from the catalog as unknown products")
	cmd.Flags().String("catalog", "", "product catalog YAML (default: built-in catalog)")

	// Deduplication
	cmd.Flags().Float64("nms-iou", 0.45, "IoU above which overlapping detections are suppressed")
	cmd.Flags().String("nms-mode", "class_aware", "deduplication mode (class_aware, class_agnostic)")

	// Verification
	cmd.Flags().Bool("verify", false, "verify detections with a vision-language model")
	cmd.Flags().Float64("trust-threshold", 1.0, "skip verification at or above this confidence")
	cmd.Flags().String("verifier-model", "", "vision-language model name")

	// Execution
	cmd.Flags().Int("workers", 0, "parallel classification workers (0 = number of CPUs)")
	cmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	cmd.Flags().Int("gpu-device", 0, "CUDA device ID to use")
	cmd.Flags().String("gpu-mem-limit", "auto", "GPU memory limit (e.g. '2GB', '512MB', 'auto')")

	// Persistence
	cmd.Flags().Bool("save", false, "save detections to the scan store")
	cmd.Flags().String("shelf-id", "", "shelf identifier recorded with saved scans")
	cmd.Flags().String("store-path", "omnishelf.db", "scan store database path")
}

// bindDetectFlags binds all flags to viper configuration keys.
func bindDetectFlags(cmd *cobra.Command) {
	flagBindings := []struct {
		key  string
		flag string
	}{
		{"output.format", "format"},
		{"output.file", "output"},
		{"output.overlay_dir", "overlay-dir"},
		{"pipeline.strategies", "strategies"},
		{"pipeline.sliding_window.sizes", "window-sizes"},
		{"pipeline.sliding_window.stride_ratio", "stride-ratio"},
		{"pipeline.merge_threshold", "merge-threshold"},
		{"pipeline.generic.model", "generic-model"},
		{"pipeline.classifier.model", "classifier-model"},
		{"pipeline.classifier.labels", "labels"},
		{"pipeline.classifier.confidence_floor", "confidence-floor"},
		{"pipeline.classifier.min_crop_size", "min-crop-size"},
		{"pipeline.report_unmatched", "report-unmatched"},
		{"catalog.path", "catalog"},
		{"pipeline.nms.iou_threshold", "nms-iou"},
		{"pipeline.nms.mode", "nms-mode"},
		{"verifier.enabled", "verify"},
		{"verifier.trust_threshold", "trust-threshold"},
		{"verifier.model", "verifier-model"},
		{"pipeline.max_workers", "workers"},
		{"pipeline.gpu.enabled", "gpu"},
		{"pipeline.gpu.device", "gpu-device"},
		{"pipeline.gpu.mem_limit", "gpu-mem-limit"},
		{"store.path", "store-path"},
	}

	for _, binding := range flagBindings {
		if err := viper.BindPFlag(binding.key, cmd.Flags().Lookup(binding.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", binding.flag, err))
		}
	}
}

func init() {
	rootCmd.AddCommand(detectCmd)

	addDetectFlags(detectCmd)
	bindDetectFlags(detectCmd)
}

// GetDetectCommand returns the detect command for testing purposes.
func GetDetectCommand() *cobra.Command {
	return detectCmd
}
