package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reconcile/internal/pipeline"
)

var (
	outJSON     string
	saveReceipt bool
	scanTimeout time.Duration
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <image|url>",
	Short: "Extract a receipt from one image",
	Long: `Scan sends one receipt image to the configured model and recovers a
structured receipt from the answer:
- Load the image from a file, an http(s) URL or a data URL
- Ask the model (cached by image hash, retried on failure)
- Recover the receipt from the raw answer
- Optionally append it to the CSV store

Example:
  reconcile scan receipt.jpg
  reconcile scan https://example.com/receipt.png --save
  reconcile scan receipt.jpg --provider mistral --json receipt.json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&outJSON, "json", "", "write the full result to this JSON file")
	scanCmd.Flags().BoolVar(&saveReceipt, "save", false, "append the receipt to the CSV store")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 2*time.Minute, "overall scan timeout")
}

func runScan(cmd *cobra.Command, args []string) error {
	source := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Scanning: %s\n", source)
	}

	result, err := p.WithAutoSave(saveReceipt).Scan(ctx, source)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	printScanSummary(result)

	if outJSON != "" {
		if err := writeJSONFile(outJSON, result); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}

	return writeJSON(cmd.OutOrStdout(), result.Receipt)
}

func printScanSummary(result *pipeline.Result) {
	if !verbose && result.Saved == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "✓ Request %s (%s", result.RequestID, result.Strategy)
	if result.Cached {
		fmt.Fprintf(os.Stderr, ", cached")
	}
	fmt.Fprintf(os.Stderr, ")\n")

	fmt.Fprintf(os.Stderr, "✓ Recovered %d items\n", len(result.Receipt.Items()))
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "  warning: %s\n", w)
	}

	if result.Saved != nil {
		if result.Saved.Duplicate {
			fmt.Fprintf(os.Stderr, "✓ Duplicate of receipt %d, not saved\n", result.Saved.ReceiptID)
		} else {
			fmt.Fprintf(os.Stderr, "✓ Saved receipt %d (%d items)\n", result.Saved.ReceiptID, result.Saved.Items)
		}
	}
}
