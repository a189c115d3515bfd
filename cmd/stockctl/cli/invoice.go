package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/internal/invoicing"
	"github.com/odyssey-erp/stockroom/internal/scanner"
)

type invoiceOptions struct {
	scan       bool
	discount   float64
	tax        float64
	jsonOutput bool
}

func newInvoiceCmd(env *Env) *cobra.Command {
	var opts invoiceOptions

	cmd := &cobra.Command{
		Use:   "invoice [FILE]",
		Short: "Build a draft invoice from a CSV file and/or scanned barcodes",
		Long: "Build a draft invoice. Rows of FILE need a part number known to the catalog;\n" +
			"with --scan every line read from stdin is treated as one scanned barcode.",
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !opts.scan {
				return withCode(exitUsage, errors.New("FILE or --scan is required"))
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			for _, pct := range []struct {
				flag  string
				value float64
			}{{"--discount", opts.discount}, {"--tax", opts.tax}} {
				if err := checkPercent(pct.flag, pct.value); err != nil {
					return err
				}
				if pct.value < 0 {
					return withCode(exitUsage, fmt.Errorf("%s must not be negative", pct.flag))
				}
			}
			return runInvoice(cmd.Context(), env, path, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.scan, "scan", false, "Read barcodes from stdin, one per line")
	cmd.Flags().Float64Var(&opts.discount, "discount", 0, "Discount percentage")
	cmd.Flags().Float64Var(&opts.tax, "tax", 0, "Tax percentage")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the draft as JSON")
	return cmd
}

// checkPercent rejects NaN and infinities, which pflag parses without complaint.
func checkPercent(flag string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return withCode(exitUsage, fmt.Errorf("%s must be a finite number", flag))
	}
	return nil
}

type invoiceDraft struct {
	Lines      []invoicing.Line      `json:"lines"`
	Totals     invoicing.Totals      `json:"totals"`
	Rejections []csvimport.Rejection `json:"rejections,omitempty"`
	Unknown    []string              `json:"unknownCodes,omitempty"`
}

func runInvoice(ctx context.Context, env *Env, path string, opts invoiceOptions) error {
	s, err := env.open()
	if err != nil {
		return err
	}
	backend, err := s.backend()
	if err != nil {
		return err
	}
	products, err := backend.ListProducts(ctx)
	if err != nil {
		return withCode(exitBackend, fmt.Errorf("%s: %w", catalog.UserMessage(err, "Failed to load products"), err))
	}
	inventory := csvimport.NewInventory(products)

	draft := invoicing.NewDraft(opts.discount, opts.tax)
	var result invoiceDraft

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return withCode(exitUsage, err)
		}
		table, err := csvimport.Parse(f)
		_ = f.Close()
		if err != nil {
			return importError(err)
		}
		lines, rejections := invoicing.ItemsFromCSV(table, inventory)
		draft.AddAll(lines)
		result.Rejections = rejections
	}

	if opts.scan {
		hub := scanner.NewHub()
		detach := draft.Attach(hub, inventory, func(code string) {
			result.Unknown = append(result.Unknown, code)
			_, _ = fmt.Fprintf(env.Err, "unknown barcode %s\n", code)
		})
		err := scanner.Feed(ctx, env.In, hub)
		detach()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	result.Lines = draft.Lines()
	result.Totals = draft.Totals()
	if opts.jsonOutput {
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printInvoice(env.Out, result)
	return nil
}

func printInvoice(out io.Writer, d invoiceDraft) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PART NO\tNAME\tQTY\tUNIT PRICE\tAMOUNT")
	for _, l := range d.Lines {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", l.PartNo, l.Name, l.Quantity, l.UnitPrice.StringFixed(2), l.Gross().StringFixed(2))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(out, "\nSubtotal %s\nDiscount %s\nTax      %s\nTotal    %s\n",
		d.Totals.Subtotal.StringFixed(2), d.Totals.Discount.StringFixed(2), d.Totals.Tax.StringFixed(2), d.Totals.Total.StringFixed(2))
	for _, r := range d.Rejections {
		_, _ = fmt.Fprintf(out, "rejected line %d (%s): %s\n", r.Line, r.PartNo, r.Reason)
	}
}
