package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reconcile/internal/extract"
	"github.com/ppiankov/reconcile/internal/validate"
)

var (
	parseRepair       bool
	parseValidate     bool
	parseShowStrategy bool
)

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse [file|-]",
	Short: "Recover a receipt from raw model output",
	Long: `Parse runs only the recovery parser on text a model already produced.
The text is read from a file, or from stdin when the argument is "-" or
omitted. The recovered receipt is printed as JSON.

Example:
  reconcile parse response.txt
  pbpaste | reconcile parse --strategy
  reconcile parse truncated.txt --repair`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().BoolVar(&parseRepair, "repair", false, "try jsonrepair before falling back to field scraping")
	parseCmd.Flags().BoolVar(&parseValidate, "validate", false, "report schema warnings on stderr")
	parseCmd.Flags().BoolVar(&parseShowStrategy, "strategy", false, "print the recovery strategy to stderr")
}

func runParse(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	opts := extract.Options{Repair: parseRepair}
	if parseValidate {
		checker, err := validate.NewSchemaChecker()
		if err != nil {
			return err
		}
		opts.Checker = checker
	}

	result := extract.NewParser(opts).Parse(string(raw))

	if parseShowStrategy || verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "strategy: %s\n", result.Strategy)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	return writeJSON(cmd.OutOrStdout(), result.Receipt)
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

func writeJSONFile(path string, v any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()
	return writeJSON(f, v)
}
