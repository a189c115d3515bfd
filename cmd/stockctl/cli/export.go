package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/export"
)

type exportOptions struct {
	format string
	out    string
}

func newExportCmd(env *Env) *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog as CSV or XLSX",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, env, opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "", "Output format: csv or xlsx (default from --out extension, else csv)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func (o exportOptions) resolveFormat() (export.Format, error) {
	value := o.format
	if value == "" {
		value = strings.TrimPrefix(strings.ToLower(filepath.Ext(o.out)), ".")
	}
	if value == "" {
		return export.FormatCSV, nil
	}
	return export.ParseFormat(value)
}

func runExport(cmd *cobra.Command, env *Env, opts exportOptions) error {
	format, err := opts.resolveFormat()
	if err != nil {
		return withCode(exitUsage, err)
	}
	s, err := env.open()
	if err != nil {
		return err
	}
	backend, err := s.backend()
	if err != nil {
		return err
	}
	products, err := backend.ListProducts(cmd.Context())
	if err != nil {
		return withCode(exitBackend, fmt.Errorf("%s: %w", catalog.UserMessage(err, "Failed to load products"), err))
	}

	var w io.Writer = env.Out
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return withCode(exitUsage, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := export.Write(w, products, format); err != nil {
		return err
	}
	if opts.out != "" {
		_, _ = fmt.Fprintf(env.Err, "Exported %d products to %s\n", len(products), opts.out)
	}
	return nil
}
