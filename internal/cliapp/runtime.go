package cliapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"resgraph/internal/core/config"
	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/shared/observability"
	"resgraph/pkg/graphstore"
)

func Run(args []string) int {
	return run(context.Background(), args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts cliOptions
	root := newRootCommand(&opts)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentPreRun = func(*cobra.Command, []string) {
		configureLogging(stderr, opts.verbose)
	}

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if gerrors.IsCode(err, gerrors.CodeNotFound) || gerrors.IsCode(err, gerrors.CodeConfiguration) {
			return 2
		}
		return 1
	}
	return 0
}

func configureLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads path, falling back to defaults when the default config
// file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return nil, fmt.Errorf("load config %s: %w", path, err)
}

// session is one opened engine plus everything that must be torn down
// with it.
type session struct {
	engine *graphstore.Engine
	cfg    *config.Config
	close  func()
}

func openSession(ctx context.Context, opts *cliOptions) (*session, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dir != "" {
		cfg.Store.Dir = opts.dir
	}
	if opts.otlp != "" {
		cfg.Observability.OTLPEndpoint = opts.otlp
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	storeOpts := graphstore.OptionsFromConfig(cfg.Store)
	storeOpts.Logger = slog.Default()

	var engine *graphstore.Engine
	switch {
	case opts.snapshot != "":
		engine, err = graphstore.LoadSnapshot(ctx, opts.snapshot, storeOpts)
	case cfg.Store.Persistent():
		engine, err = graphstore.Open(ctx, storeOpts)
	default:
		err = gerrors.New(gerrors.CodeConfiguration, "no store: pass --dir, --snapshot or set store.dir")
	}
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	return &session{
		engine: engine,
		cfg:    cfg,
		close: func() {
			if err := engine.Close(); err != nil {
				slog.Warn("close store", "error", err)
			}
			if err := shutdownTracing(context.Background()); err != nil {
				slog.Warn("shutdown tracing", "error", err)
			}
		},
	}, nil
}

func withSession(cmd *cobra.Command, opts *cliOptions, fn func(*session) error) error {
	s, err := openSession(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s)
}
