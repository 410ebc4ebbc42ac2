package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reconcile/internal/store"
)

var receiptsJSON bool

// receiptsCmd represents the receipts command
var receiptsCmd = &cobra.Command{
	Use:   "receipts [id]",
	Short: "List or show stored receipts",
	Long: `Receipts reads the CSV store back. Without an argument every receipt
is listed; with an ID the full receipt including line items is printed as
JSON.

Example:
  reconcile receipts
  reconcile receipts 3
  reconcile receipts --json --store-dir ./receipts`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReceipts,
}

func init() {
	rootCmd.AddCommand(receiptsCmd)

	receiptsCmd.Flags().BoolVar(&receiptsJSON, "json", false, "print the list as JSON")
}

func runReceipts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st := store.New(cfg.Store.Dir)

	if len(args) == 1 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid receipt id %q", args[0])
		}
		receipt, err := st.Read(id)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), receipt)
	}

	receipts, err := st.ReadAll()
	if err != nil {
		return err
	}

	if receiptsJSON {
		if receipts == nil {
			receipts = []*store.StoredReceipt{}
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{"receipts": receipts})
	}

	if len(receipts) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No receipts in %s\n", st.Dir())
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMERCHANT\tDATE\tTOTAL\tITEMS")
	for _, r := range receipts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", r.ID, r.Merchant, r.Date, r.Total, len(r.Items))
	}
	return tw.Flush()
}
