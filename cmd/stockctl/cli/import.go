package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/jobs"
)

type importOptions struct {
	categoryID  int64
	newCategory string
	strategy    string
	markup      float64
	interactive bool
	enqueue     bool
	jsonOutput  bool
}

func newImportCmd(env *Env) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import products from a CSV file",
		Long: "Import products from a CSV file into a category.\n\n" +
			"Without --interactive every wizard question is answered from flags: the category\n" +
			"(--category or --new-category), the stock strategy used when existing products\n" +
			"already carry a quantity (--strategy) and the markup (--markup, default 20%).",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, env, args[0], opts)
		},
	}

	cmd.Flags().Int64Var(&opts.categoryID, "category", 0, "Existing category id")
	cmd.Flags().StringVar(&opts.newCategory, "new-category", "", "Create a category with this name")
	cmd.Flags().StringVar(&opts.strategy, "strategy", string(csvimport.StrategyAdd), "Stock strategy for existing products: add or replace")
	cmd.Flags().Float64Var(&opts.markup, "markup", csvimport.DefaultMarkup, "Markup percentage applied to every product")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Answer the wizard's questions on the terminal")
	cmd.Flags().BoolVar(&opts.enqueue, "enqueue", false, "Hand the import to the background worker")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the summary as JSON")
	cmd.MarkFlagsMutuallyExclusive("category", "new-category")
	cmd.MarkFlagsMutuallyExclusive("interactive", "enqueue")
	return cmd
}

func (o importOptions) plan(cmd *cobra.Command) (csvimport.Plan, error) {
	var plan csvimport.Plan
	switch {
	case o.newCategory != "":
		plan.Category = csvimport.CategoryChoice{New: true, NewName: o.newCategory}
	case o.categoryID > 0:
		plan.Category = csvimport.CategoryChoice{ID: o.categoryID}
	default:
		return plan, withCode(exitUsage, errors.New("--category or --new-category is required"))
	}
	strategy, err := csvimport.ParseStrategy(o.strategy)
	if err != nil {
		return plan, withCode(exitUsage, err)
	}
	plan.Strategy = strategy
	if cmd.Flags().Changed("markup") {
		if err := checkPercent("--markup", o.markup); err != nil {
			return plan, err
		}
		markup := o.markup
		plan.Markup = &markup
	}
	return plan, nil
}

func runImport(cmd *cobra.Command, env *Env, path string, opts importOptions) error {
	s, err := env.open()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if opts.interactive {
		backend, err := s.backend()
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return withCode(exitUsage, err)
		}
		defer func() { _ = f.Close() }()
		importer := csvimport.NewImporter(csvimport.ImporterOptions{Backend: backend, Logger: s.logger})
		summary, err := runInteractive(ctx, importer, f, newPrompter(env.In, env.Out))
		if err != nil {
			return importError(err)
		}
		if summary == nil {
			_, _ = fmt.Fprintln(env.Out, "Import cancelled.")
			return nil
		}
		return printSummary(env.Out, *summary, opts.jsonOutput)
	}

	plan, err := opts.plan(cmd)
	if err != nil {
		return err
	}

	if opts.enqueue {
		return enqueueImport(ctx, s, path, plan)
	}

	backend, err := s.backend()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer func() { _ = f.Close() }()

	importer := csvimport.NewImporter(csvimport.ImporterOptions{Backend: backend, Logger: s.logger})
	summary, err := importer.Run(ctx, f, plan)
	if err != nil {
		return importError(err)
	}
	return printSummary(env.Out, summary, opts.jsonOutput)
}

func importError(err error) error {
	if csvimport.IsInputError(err) {
		return withCode(exitValidation, errors.New(csvimport.InputMessage(err)))
	}
	return withCode(exitBackend, errors.New(catalog.UserMessage(err, csvimport.FallbackImportMessage)))
}

func enqueueImport(ctx context.Context, s *session, path string, plan csvimport.Plan) error {
	f, err := os.Open(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer func() { _ = f.Close() }()

	// Parse before spooling so obviously broken files never reach the queue.
	if _, err := csvimport.Parse(f); err != nil {
		return importError(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	spooled, err := jobs.Spool(s.cfg.UploadDir, f)
	if err != nil {
		return withCode(exitQueue, err)
	}
	enqueuer, err := s.env.NewEnqueuer(s.cfg)
	if err != nil {
		_ = os.Remove(spooled)
		return withCode(exitQueue, err)
	}
	defer func() { _ = enqueuer.Close() }()

	id, err := enqueuer.EnqueueCatalogImport(ctx, jobs.CatalogImportPayload{Path: spooled, Plan: plan})
	if err != nil {
		_ = os.Remove(spooled)
		return withCode(exitQueue, fmt.Errorf("enqueue: %w", err))
	}
	_, _ = fmt.Fprintf(s.env.Out, "Enqueued %s as task %s\n", filepath.Base(path), id)
	return nil
}

// runInteractive walks the wizard on the terminal. A nil summary means the
// operator cancelled.
func runInteractive(ctx context.Context, importer *csvimport.Importer, r io.Reader, p *prompter) (*csvimport.Summary, error) {
	w := csvimport.NewWizard()
	if err := importer.Begin(ctx, w, r); err != nil {
		return nil, err
	}
	p.printf("%d products ready to import.\n", len(w.Candidates()))
	for _, rej := range w.Rejections() {
		p.printf("  skipped line %d: %s\n", rej.Line, rej.Reason)
	}

	for {
		switch w.State() {
		case csvimport.StateIdle:
			return nil, nil
		case csvimport.StateCategorySelect:
			if err := askCategory(ctx, importer, w, p); err != nil {
				return nil, err
			}
		case csvimport.StateQuantityStrategy:
			p.printf("These products already have stock:\n")
			for _, c := range w.Conflicts() {
				p.printf("  %s (%s): %d in stock, %d in file\n", c.Name, c.PartNo, c.Existing, c.Incoming)
			}
			answer, err := p.choose("Add to the existing stock or replace it?", "add", "replace", "cancel")
			if err != nil {
				return nil, err
			}
			if answer == "cancel" {
				err = w.Cancel()
			} else {
				err = w.ChooseStrategy(csvimport.QuantityStrategy(answer))
			}
			if err != nil {
				return nil, err
			}
		case csvimport.StateMarkupChoice:
			answer, err := p.choose(fmt.Sprintf("Use %g%% markup for every product, or set it per product?", csvimport.DefaultMarkup), "all", "each", "cancel")
			if err != nil {
				return nil, err
			}
			switch answer {
			case "all":
				err = w.SkipMarkup()
			case "each":
				err = w.BeginMarkupEntry()
			default:
				err = w.Cancel()
			}
			if err != nil {
				return nil, err
			}
		case csvimport.StateMarkupEntry:
			if err := askMarkup(w, p); err != nil {
				return nil, err
			}
		case csvimport.StateSubmitting:
			summary, err := importer.Submit(ctx, w)
			if err != nil {
				return nil, err
			}
			return &summary, nil
		default:
			return nil, fmt.Errorf("unexpected wizard state %s", w.State())
		}
	}
}

func askCategory(ctx context.Context, importer *csvimport.Importer, w *csvimport.Wizard, p *prompter) error {
	p.printf("Categories:\n")
	for _, c := range w.Categories() {
		p.printf("  %6d  %s\n", c.ID, c.Label())
	}
	for {
		answer, err := p.ask("Category id, \"new\" or \"cancel\":")
		if err != nil {
			return err
		}
		if answer == "cancel" {
			return w.Cancel()
		}
		var name string
		if answer == "new" {
			if name, err = p.ask("New category name:"); err != nil {
				return err
			}
		}
		choice, err := csvimport.ParseCategoryChoice(answer, name)
		if err == nil {
			err = importer.ConfirmCategory(ctx, w, choice)
		}
		if err == nil {
			return nil
		}
		if !csvimport.IsInputError(err) {
			return err
		}
		p.printf("%s\n", csvimport.InputMessage(err))
	}
}

func askMarkup(w *csvimport.Wizard, p *prompter) error {
	step, _ := w.MarkupStep()
	c := step.Candidate
	p.printf("[%d/%d] %s (%s) cost %s\n", step.Index+1, step.Total, c.Name, c.PartNo, strconv.FormatFloat(c.CostPrice, 'f', -1, 64))
	answer, err := p.ask(fmt.Sprintf("Markup %% [%s] (b = back, c = cancel):", step.Input))
	if err != nil {
		return err
	}
	switch answer {
	case "b":
		if step.Index == 0 {
			p.printf("Already at the first product.\n")
			return nil
		}
		return w.BackMarkup()
	case "c":
		return w.CancelMarkupEntry()
	case "":
	default:
		if err := w.SetMarkupInput(answer); err != nil {
			return err
		}
	}
	return w.NextMarkup()
}

func printSummary(out io.Writer, s csvimport.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	_, _ = fmt.Fprintf(out, "Imported into %s (#%d), stock strategy %s\n", s.CategoryName, s.CategoryID, s.Strategy)
	_, _ = fmt.Fprintf(out, "  created: %d\n  updated: %d\n  skipped: %d\n", s.NewCount, s.UpdateCount, s.SkippedCount)
	for _, p := range s.SkippedProducts {
		if p.Reason != "" {
			_, _ = fmt.Fprintf(out, "  skipped %s: %s\n", p.Label(), p.Reason)
		} else {
			_, _ = fmt.Fprintf(out, "  skipped %s\n", p.Label())
		}
	}
	for _, r := range s.Rejections {
		_, _ = fmt.Fprintf(out, "  rejected line %d: %s\n", r.Line, r.Reason)
	}
	for _, w := range s.Warnings {
		_, _ = fmt.Fprintf(out, "  warning %s: %s\n", w.PartNo, w.Message)
	}
	return nil
}
