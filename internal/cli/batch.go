package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reconcile/internal/worker"
)

var (
	concurrency      int
	outputDir        string
	batchTimeout     time.Duration
	batchScanTimeout time.Duration
	batchSave        bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Extract receipts from many images in parallel",
	Long: `Batch reads image paths or URLs from a file (one per line, # for
comments) and scans them with a pool of workers. Model calls are rate
limited per provider.

Example:
  reconcile batch images.txt
  reconcile batch images.txt --concurrency 8 --save
  reconcile batch images.txt --output-dir ./results --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default: concurrency.workers)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "", "write one JSON result per image to this directory")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().DurationVar(&batchScanTimeout, "scan-timeout", 2*time.Minute, "timeout for individual scans")
	batchCmd.Flags().BoolVar(&batchSave, "save", false, "append receipts to the CSV store")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	workers := concurrency
	if workers <= 0 {
		workers = cfg.Concurrency.Workers
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Provider:     %s\n", p.Provider().Name())
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Save:         %v\n", batchSave)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	processor := worker.NewBatchProcessor(p.WithAutoSave(batchSave), workers).
		WithQueueSize(cfg.Concurrency.QueueSize).
		WithTimeout(batchScanTimeout).
		WithLogger(log)

	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	for _, result := range results {
		if result.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Source, result.Error)
			continue
		}

		status := string(result.Result.Strategy)
		if saved := result.Result.Saved; saved != nil {
			if saved.Duplicate {
				status += fmt.Sprintf(", duplicate of %d", saved.ReceiptID)
			} else {
				status += fmt.Sprintf(", saved as %d", saved.ReceiptID)
			}
		}

		if outputDir != "" {
			path := filepath.Join(outputDir, sanitizeFilename(result.Source)+".json")
			if err := writeJSONFile(path, result.Result); err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Source, err)
				continue
			}
		}

		fmt.Fprintf(os.Stderr, "✓ %s (%s, %d items)\n", result.Source, status, len(result.Result.Receipt.Items()))
	}

	succeeded, failed := worker.Summarize(results)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d images\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", succeeded)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failed)
	if outputDir != "" {
		fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	}
	fmt.Fprintf(os.Stderr, "\n")

	if failed > 0 && succeeded == 0 {
		return fmt.Errorf("all %d scans failed", failed)
	}
	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
)

// sanitizeFilename turns an image path or URL into a safe file name
func sanitizeFilename(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, filepath.Ext(s))
	s = strings.Trim(filenameReplacer.Replace(s), "._")

	if len(s) > 100 {
		s = s[len(s)-100:]
	}
	if s == "" {
		s = "receipt"
	}
	return s
}
