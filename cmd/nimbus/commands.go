package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Comcast/nimbus/client"
	"github.com/Comcast/nimbus/fetch"

	"github.com/spf13/cobra"
)

func NewApplyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply [catalog-file]",
		Short: "Apply the pending catalog, or the given JSON/YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if len(args) == 1 {
					payload, err := (&fetch.File{Path: args[0]}).FetchExperiments(ctx)
					if err != nil {
						return err
					}
					if err := c.SetExperimentsLocally(ctx, payload); err != nil {
						return err
					}
				}
				events, err := c.ApplyPendingExperiments(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), events)
			})
		},
	}
}

func NewFetchCommand(opts *RootOptions) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Stage a catalog from NIMBUS_FETCH_URL or NIMBUS_FETCH_FILE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.FetchExperiments(ctx); err != nil {
					return err
				}
				if !apply {
					return nil
				}
				events, err := c.ApplyPendingExperiments(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "apply the fetched catalog")
	return cmd
}

// boolArg runs get with no argument and set with one.
func boolArg(opts *RootOptions, cmd *cobra.Command, args []string,
	get func(context.Context, *client.Client) (bool, error),
	set func(context.Context, *client.Client, bool) (interface{}, error)) error {

	return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if len(args) == 0 {
			b, err := get(ctx, c)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), b)
		}
		b, err := strconv.ParseBool(args[0])
		if err != nil {
			return err
		}
		x, err := set(ctx, c, b)
		if err != nil || x == nil {
			return err
		}
		return opts.print(cmd.OutOrStdout(), x)
	})
}

func NewFetchingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetching [true|false]",
		Short: "Show or set whether fetching is enabled",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return boolArg(opts, cmd, args,
				func(ctx context.Context, c *client.Client) (bool, error) {
					return c.IsFetchEnabled(ctx)
				},
				func(ctx context.Context, c *client.Client, b bool) (interface{}, error) {
					return nil, c.SetFetchEnabled(ctx, b)
				})
		},
	}
}

func NewParticipationCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "participation [true|false]",
		Short: "Show or set global participation in experiments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return boolArg(opts, cmd, args,
				func(ctx context.Context, c *client.Client) (bool, error) {
					return c.GetGlobalUserParticipation(ctx)
				},
				func(ctx context.Context, c *client.Client, b bool) (interface{}, error) {
					return c.SetGlobalUserParticipation(ctx, b)
				})
		},
	}
}

func NewExperimentsCommand(opts *RootOptions) *cobra.Command {
	var all, available bool
	cmd := &cobra.Command{
		Use:   "experiments",
		Short: "List active experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && available {
				return fmt.Errorf("--all and --available don't mix")
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				var (
					x   interface{}
					err error
				)
				switch {
				case all:
					x, err = c.GetAllExperiments(ctx)
				case available:
					x, err = c.GetAvailableExperiments(ctx)
				default:
					x, err = c.GetActiveExperiments()
				}
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), x)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every stored recipe")
	cmd.Flags().BoolVar(&available, "available", false, "list recipes available to this app")
	return cmd
}

func NewBranchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "branch <slug>",
		Short: "Show this client's branch of an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				op := &Op{Branch: args[0]}
				if err := op.Do(ctx, c); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), op.Result)
			})
		},
	}
}

func NewBranchesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "branches <slug>",
		Short: "List the branches of a stored experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				bs, err := c.GetExperimentBranches(args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), bs)
			})
		},
	}
}

func NewFeatureCommand(opts *RootOptions) *cobra.Command {
	var enrollment bool
	cmd := &cobra.Command{
		Use:   "feature <feature-id>",
		Short: "Show the merged variables of a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if enrollment {
					ef, err := c.GetEnrollmentByFeature(args[0])
					if err != nil {
						return err
					}
					return opts.print(cmd.OutOrStdout(), ef)
				}
				op := &Op{Feature: args[0]}
				if err := op.Do(ctx, c); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), op.Result)
			})
		},
	}
	cmd.Flags().BoolVar(&enrollment, "enrollment", false, "show the experiment that configures the feature instead")
	return cmd
}

func NewOptInCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "opt-in <slug> <branch>",
		Short: "Enroll in a branch of an experiment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				events, err := c.OptInWithBranch(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), events)
			})
		},
	}
}

func NewOptOutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "opt-out <slug>",
		Short: "Leave an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				events, err := c.OptOut(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), events)
			})
		},
	}
}

func NewResetCommand(opts *RootOptions) *cobra.Command {
	var enrollments bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset telemetry identifiers",
		Long: `Reset telemetry identifiers: disqualify every enrollment, forget
enrollment ids and event counts, and pick a new client id.

With --enrollments, forget the catalog and every enrollment instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if enrollments {
					return c.ResetEnrollments(ctx)
				}
				events, err := c.ResetTelemetryIdentifiers(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().BoolVar(&enrollments, "enrollments", false, "forget the catalog and enrollments")
	return cmd
}

func NewIDCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Show the client id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				id, err := c.GetNimbusID(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), id.String())
			})
		},
	}
}

func NewEventCommand(opts *RootOptions) *cobra.Command {
	var (
		count int64
		ago   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "event <event-id>",
		Short: "Record a behavioral event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				op := &EventOp{
					ID:         args[0],
					Count:      count,
					SecondsAgo: int64(ago / time.Second),
				}
				return op.Do(ctx, c)
			})
		},
	}
	cmd.Flags().Int64Var(&count, "count", 1, "number of occurrences")
	cmd.Flags().DurationVar(&ago, "ago", 0, "how long ago the event happened")
	return cmd
}

func NewEvalCommand(opts *RootOptions) *cobra.Command {
	var extra string
	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate a targeting expression for this client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := &EvalOp{Expr: args[0]}
			if extra != "" {
				if err := json.Unmarshal([]byte(extra), &op.Context); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				x := &Op{Eval: op}
				if err := x.Do(ctx, c); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), x.Result)
			})
		},
	}
	cmd.Flags().StringVar(&extra, "context", "", "extra attributes as a JSON object")
	return cmd
}

func NewOpCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "op",
		Short: "Read JSON operations from stdin, one per line",
		Long: `Read JSON operations from stdin, one per line, and write each
operation back with its result.

Example:
  echo '{"optIn":{"slug":"my-experiment","branch":"treatment"}}' | nimbus op`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				in := bufio.NewScanner(cmd.InOrStdin())
				in.Buffer(make([]byte, 0, 64*1024), 1<<20)
				out := json.NewEncoder(cmd.OutOrStdout())
				for in.Scan() {
					line := in.Bytes()
					if len(line) == 0 {
						continue
					}
					var op Op
					if err := json.Unmarshal(line, &op); err != nil {
						op.Error, op.Err = erred(fmt.Errorf("bad operation: %w", err))
					} else if err := op.Do(ctx, c); err != nil {
						opts.log.Warn("operation failed", "error", err)
					}
					if err := out.Encode(&op); err != nil {
						return err
					}
				}
				return in.Err()
			})
		},
	}
}
