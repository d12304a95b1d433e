package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omnishelf/internal/models"
	"github.com/MeKo-Tech/omnishelf/internal/onnx"
)

// checkCmd verifies the runtime environment.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime setup and model files",
	Long: `Check that the ONNX Runtime shared library can be loaded and that the
model weights the pipeline needs are present in the models directory.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg := GetConfig()

		_, _ = fmt.Fprintln(out, "Checking ONNX Runtime setup...")
		failed := 0
		if err := onnx.InitEnvironment(cfg.Pipeline.GPU.Enabled); err != nil {
			_, _ = fmt.Fprintf(out, "  FAIL onnxruntime: %v\n", err)
			failed++
		} else {
			_, _ = fmt.Fprintln(out, "  ok   onnxruntime")
		}

		dir := models.GetModelsDir(cfg.ModelsDir)
		_, _ = fmt.Fprintf(out, "Checking models in %s...\n", dir)
		for _, m := range models.ListAvailableModels() {
			path := models.ResolveModelPath(cfg.ModelsDir, m.Type, m.Filename)
			if err := models.ValidateModelExists(path); err != nil {
				_, _ = fmt.Fprintf(out, "  FAIL %-16s %s (%s)\n", m.Name, path, m.Description)
				failed++
				continue
			}
			_, _ = fmt.Fprintf(out, "  ok   %-16s %s\n", m.Name, path)
		}

		if failed > 0 {
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "Please ensure ONNX Runtime is installed and the models are present:")
			_, _ = fmt.Fprintf(out, "1. Install libonnxruntime or set %s\n", onnx.EnvLibraryPath)
			_, _ = fmt.Fprintf(out, "2. Copy the model files into %s (or set %s)\n", dir, models.EnvModelsDir)
			return fmt.Errorf("%d check(s) failed", failed)
		}
		_, _ = fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
