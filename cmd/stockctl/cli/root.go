// Package cli implements the stockctl commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockroom/internal/app"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/jobs"
)

// Enqueuer submits headless imports to the worker.
type Enqueuer interface {
	EnqueueCatalogImport(ctx context.Context, payload jobs.CatalogImportPayload) (string, error)
	Close() error
}

// Env carries the process surroundings of a command run. Nil factories use
// the real backend and queue built from configuration.
type Env struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	LoadConfig  func() (*app.Config, error)
	NewBackend  func(cfg *app.Config) (csvimport.Backend, error)
	NewEnqueuer func(cfg *app.Config) (Enqueuer, error)
	NewJobs     func(cfg *app.Config) (*JobsCLI, error)
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.In == nil {
		out.In = os.Stdin
	}
	if out.Out == nil {
		out.Out = os.Stdout
	}
	if out.Err == nil {
		out.Err = os.Stderr
	}
	if out.LoadConfig == nil {
		out.LoadConfig = app.LoadConfig
	}
	if out.NewBackend == nil {
		out.NewBackend = func(cfg *app.Config) (csvimport.Backend, error) {
			return app.NewCatalogClient(cfg)
		}
	}
	if out.NewEnqueuer == nil {
		out.NewEnqueuer = func(cfg *app.Config) (Enqueuer, error) {
			if cfg.RedisAddr == "" {
				return nil, fmt.Errorf("REDIS_ADDR is required to enqueue imports")
			}
			return asynqEnqueuer{client: jobs.NewClient(cfg.AsynqRedis())}, nil
		}
	}
	if out.NewJobs == nil {
		out.NewJobs = func(cfg *app.Config) (*JobsCLI, error) {
			if cfg.RedisAddr == "" {
				return nil, fmt.Errorf("REDIS_ADDR is required to inspect jobs")
			}
			return NewJobsCLI(cfg.AsynqRedis()), nil
		}
	}
	return &out
}

type asynqEnqueuer struct {
	client *jobs.Client
}

func (e asynqEnqueuer) EnqueueCatalogImport(ctx context.Context, payload jobs.CatalogImportPayload) (string, error) {
	info, err := e.client.EnqueueCatalogImport(ctx, payload)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (e asynqEnqueuer) Close() error {
	return e.client.Close()
}

// session is what a command needs once configuration is loaded.
type session struct {
	env    *Env
	cfg    *app.Config
	logger *slog.Logger
}

func (e *Env) open() (*session, error) {
	cfg, err := e.LoadConfig()
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("load config: %w", err))
	}
	return &session{env: e, cfg: cfg, logger: app.NewLoggerTo(e.Err, cfg)}, nil
}

func (s *session) backend() (csvimport.Backend, error) {
	b, err := s.env.NewBackend(s.cfg)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("backend client: %w", err))
	}
	return b, nil
}

// usageArgs wraps a cobra positional-args check so violations exit with exitUsage.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withCode(exitUsage, check(cmd, args))
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(env *Env) *cobra.Command {
	env = env.withDefaults()
	cmd := &cobra.Command{
		Use:           "stockctl",
		Short:         "Catalog import, export and invoice tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})
	cmd.SetIn(env.In)
	cmd.SetOut(env.Out)
	cmd.SetErr(env.Err)

	cmd.AddCommand(newImportCmd(env))
	cmd.AddCommand(newExportCmd(env))
	cmd.AddCommand(newInvoiceCmd(env))
	cmd.AddCommand(newJobsCmd(env))
	return cmd
}

// Execute runs the command line and returns the exit status.
func Execute(ctx context.Context, args []string, env *Env) int {
	cmd := NewRootCmd(env)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		errOut := cmd.ErrOrStderr()
		_, _ = fmt.Fprintln(errOut, err.Error())
		return ExitCode(err)
	}
	return exitOK
}
