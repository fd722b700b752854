package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Comcast/nimbus/client"
	"github.com/Comcast/nimbus/config"
	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/fetch"
	"github.com/Comcast/nimbus/logger"
	"github.com/Comcast/nimbus/schema"
	"github.com/Comcast/nimbus/storage"
	"github.com/Comcast/nimbus/storage/bolt"
	"github.com/Comcast/nimbus/storage/sqlite"

	"github.com/jsccast/yaml"
	"github.com/spf13/cobra"
)

// ValidOutputs are the formats results can be printed in.
var ValidOutputs = []string{"json", "yaml"}

// RootOptions holds the global flags and what they produce.
type RootOptions struct {
	EnvFiles []string
	DBPath   string
	Backend  string
	Output   string
	Verbose  bool

	cfg *config.Config
	log *slog.Logger
}

// NewRootCommand makes the nimbus command and its subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "nimbus",
		Short: "Client-side experiment enrollment",
		Long: `Evaluate experiment and rollout recipes for this client, keep its
enrollments, and answer feature lookups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env", nil, ".env files to load (default .env if present)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "database path (overrides NIMBUS_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "database backend: bolt|sqlite|memory")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "json", "output format (json|yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		NewApplyCommand(opts),
		NewFetchCommand(opts),
		NewFetchingCommand(opts),
		NewExperimentsCommand(opts),
		NewBranchCommand(opts),
		NewBranchesCommand(opts),
		NewFeatureCommand(opts),
		NewOptInCommand(opts),
		NewOptOutCommand(opts),
		NewParticipationCommand(opts),
		NewResetCommand(opts),
		NewIDCommand(opts),
		NewEventCommand(opts),
		NewEvalCommand(opts),
		NewOpCommand(opts),
		NewServeCommand(opts),
	)

	return cmd
}

func isValidOutput(s string) bool {
	for _, o := range ValidOutputs {
		if o == s {
			return true
		}
	}
	return false
}

func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidOutput(o.Output) {
		return fmt.Errorf("invalid output %q: must be one of %v", o.Output, ValidOutputs)
	}

	cfg, err := config.Load(o.EnvFiles...)
	if err != nil {
		return err
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.Backend != "" {
		cfg.DBBackend = o.Backend
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Check(); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	switch logger.Format(cfg.LogFormat) {
	case logger.FormatJSON, logger.FormatText:
	default:
		return fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}

	o.cfg = cfg
	o.log = logger.New(
		logger.WithLevel(level),
		logger.WithFormat(logger.Format(cfg.LogFormat)),
		logger.WithOutput(cmd.ErrOrStderr()),
	)
	return nil
}

// openStore opens the configured backend.
func (o *RootOptions) openStore(ctx context.Context) (storage.Store, error) {
	switch o.cfg.DBBackend {
	case config.BackendBolt:
		s, err := bolt.NewStorage(o.cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.Logger = o.log
		if err := s.Open(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(o.cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.Logger = o.log
		return s, nil
	case config.BackendMemory:
		return storage.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown database backend %q", o.cfg.DBBackend)
}

// fetcher is the configured catalog source, if any.
func (o *RootOptions) fetcher() (client.Fetcher, error) {
	switch {
	case o.cfg.FetchURL != "":
		h, err := fetch.NewHTTP(o.cfg.FetchURL, o.cfg.FetchTimeout)
		if err != nil {
			return nil, err
		}
		h.Logger = o.log
		h.UserAgent = o.cfg.App.Name
		return h, nil
	case o.cfg.FetchFile != "":
		return &fetch.File{Path: o.cfg.FetchFile}, nil
	}
	return nil, nil
}

// openClient makes and initializes a client.  The caller closes it.
func (o *RootOptions) openClient(ctx context.Context) (*client.Client, error) {
	store, err := o.openStore(ctx)
	if err != nil {
		return nil, err
	}

	validator, err := schema.New()
	if err != nil {
		store.Close()
		return nil, err
	}
	f, err := o.fetcher()
	if err != nil {
		store.Close()
		return nil, err
	}

	c := client.New(o.cfg.AppContext(), store)
	c.Logger = o.log
	c.Coenrolling = o.cfg.CoenrollingSet()
	c.Validator = validator
	if f != nil {
		c.Fetcher = f
	}
	c.Oracle.Timeout = o.cfg.TargetingTimeout
	c.Oracle.Logger = o.log
	c.Observer = func(events []core.EnrollmentChangeEvent) {
		for _, e := range events {
			o.log.Info("enrollment change",
				logger.Slug(e.ExperimentSlug),
				"branch", e.BranchSlug,
				"change", e.Change,
				"reason", e.Reason)
		}
	}

	if err := c.Initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// withClient runs f with an initialized client.
func (o *RootOptions) withClient(cmd *cobra.Command, f func(context.Context, *client.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := o.openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return f(ctx, c)
}

// print writes x in the chosen output format.
func (o *RootOptions) print(w io.Writer, x interface{}) error {
	var (
		bs  []byte
		err error
	)
	switch o.Output {
	case "yaml":
		bs, err = yaml.Marshal(&x)
	default:
		if bs, err = json.MarshalIndent(&x, "", "  "); err == nil {
			bs = append(bs, '\n')
		}
	}
	if err != nil {
		return err
	}
	_, err = w.Write(bs)
	return err
}
