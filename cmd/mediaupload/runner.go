package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/stefando/mediaupload/internal/client"
	"github.com/stefando/mediaupload/internal/config"
	"github.com/stefando/mediaupload/internal/logging"
	"github.com/stefando/mediaupload/internal/storage"
	"github.com/stefando/mediaupload/internal/upload"
)

// StoreFunc opens the object store described by cfg.
type StoreFunc func(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config    *config.Config
	logger    *log.Logger
	logOutput io.Writer
	output    io.Writer
	newStore  StoreFunc
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *config.Config
	Logger *log.Logger
	// LogOutput receives the logger rebuilt once the config is read.
	LogOutput io.Writer
	Output    io.Writer
	NewStore  StoreFunc
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(opts.LogOutput, opts.Config.Logging.Level, opts.Config.Logging.Format)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.NewStore == nil {
		opts.NewStore = func(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
			return storage.NewClient(ctx, cfg)
		}
	}

	return &Runner{
		config:    opts.Config,
		logger:    opts.Logger,
		logOutput: opts.LogOutput,
		output:    opts.Output,
		newStore:  opts.NewStore,
	}
}

// setup loads dotenv files and the config before any command runs. The
// config is not validated here: only commands that reach the store need
// the storage section.
func (r *Runner) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := config.LoadDotEnv(cmd.StringSlice("env-file")...); err != nil {
		return ctx, err
	}

	cfg, err := config.Read(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	r.config = cfg
	r.logger = logging.New(r.logOutput, cfg.Logging.Level, cfg.Logging.Format)
	return ctx, nil
}

// service builds an upload service talking to the configured store and
// checks that the bucket is reachable.
func (r *Runner) service(ctx context.Context, opts ...upload.Option) (*upload.Service, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	store, err := r.newStore(ctx, r.config.Storage)
	if err != nil {
		return nil, err
	}
	if err := storage.Ping(ctx, store, r.config.Storage.Bucket); err != nil {
		return nil, err
	}
	return upload.NewService(upload.ConfigFrom(r.config), store, r.logger, opts...), nil
}

// client builds an API client from the config and the command's flags.
func (r *Runner) client(cmd *cli.Command) *client.Client {
	opts := client.OptionsFrom(r.config.Client)
	opts.Logger = r.logger
	if u := cmd.String("url"); u != "" {
		opts.BaseURL = u
	}
	return client.New(opts)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeTable(headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	return r.writePlain("%s\n", t.Render())
}
