package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Comcast/nimbus/client"
	"github.com/Comcast/nimbus/schedule"

	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Schedule string
	NoFetch  bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the catalog fresh and answer operations over HTTP",
		Long: `Fetch and apply the catalog on a cron schedule (NIMBUS_FETCH_SCHEDULE)
and serve the control plane: POST operations to /api, scrape /metrics.

Example:
  nimbus serve --addr :8080
  curl -d '{"feature":"homescreen"}' localhost:8080/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withClient(cmd, func(_ context.Context, c *client.Client) error {
				return serve(ctx, opts, c)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "control plane address (empty to disable)")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron schedule (overrides NIMBUS_FETCH_SCHEDULE)")
	cmd.Flags().BoolVar(&opts.NoFetch, "no-fetch", false, "don't fetch on a schedule")

	return cmd
}

func serve(ctx context.Context, opts *ServeOptions, c *client.Client) error {
	log := opts.log

	errs := make(chan error, 2)

	if !opts.NoFetch && c.Fetcher != nil {
		spec := opts.Schedule
		if spec == "" {
			spec = opts.cfg.FetchSchedule
		}
		s, err := schedule.New(spec, schedule.Refresh(c)...)
		if err != nil {
			return err
		}
		s.Logger = log

		// One cycle right away so a fresh client doesn't wait for
		// the first firing.
		if err := s.RunOnce(ctx); err != nil {
			log.Warn("initial refresh failed", "error", err)
		}
		go func() {
			errs <- s.Run(ctx)
		}()
		log.Info("refreshing", "schedule", spec, "next", s.Next(time.Now()))
	}

	if opts.Addr != "" {
		srv := &http.Server{
			Addr:              opts.Addr,
			Handler:           ControlPlane(ctx, c, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdown)
		}()
		go func() {
			log.Info("control plane listening", "addr", opts.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("terminating")
		return nil
	case err := <-errs:
		return err
	}
}
