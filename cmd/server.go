package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/example/teetime-scheduler/internal/metrics"
	"github.com/example/teetime-scheduler/internal/web"
	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the JSON API and, unless DISPATCHER=false, the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, migrateUp)
			if err != nil {
				return err
			}
			defer a.close()

			var wg sync.WaitGroup
			if a.cfg.Dispatcher {
				d := a.dispatcher()
				a.bookings.Wake = d.Wake
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.log.Error("dispatcher exited", slog.Any("error", err))
					}
				}()
			}

			limiter := web.NewPerMinuteLimiter(a.cfg.LoginRatePerMin)
			defer limiter.Stop()

			ws := &web.Server{
				Auth:         a.auth,
				Courses:      a.courses,
				Vault:        a.vault,
				Bookings:     a.bookings,
				Store:        a.store,
				Metrics:      metrics.Handler(a.registry),
				LoginLimiter: limiter,
				Log:          a.log,
			}
			err = web.Start(ctx, a.cfg.ListenAddr, ws.Routes())
			// a listen failure must also stop the dispatcher
			cancel()
			wg.Wait()
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup (postgres)")
	return cmd
}

func newDispatchCmd() *cobra.Command {
	var once, migrateUp bool

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run a standalone dispatcher (any number may share one database)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, migrateUp)
			if err != nil {
				return err
			}
			defer a.close()

			d := a.dispatcher()
			if once {
				n, err := d.RunOnce(ctx)
				d.Wait()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "claimed %d request(s)\n", n)
				return nil
			}
			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "make a single pass, wait for its executions, then exit")
	cmd.Flags().BoolVar(&migrateUp, "migrate", false, "run database migrations on startup (postgres)")
	return cmd
}
