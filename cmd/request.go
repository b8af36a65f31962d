package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/spf13/cobra"
)

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create and inspect booking requests",
	}
	cmd.AddCommand(newRequestCreateCmd())
	cmd.AddCommand(newRequestListCmd())
	return cmd
}

func principalFor(ctx context.Context, a *app, username string) (auth.Principal, error) {
	u, err := a.auth.Lookup(ctx, username)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("user %q: %w", username, err)
	}
	return u.Principal(), nil
}

func newRequestCreateCmd() *cobra.Command {
	var (
		username, date, earliest, latest, executeAt string
		courseID                                    int64
		players                                     int
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Queue a booking request as a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			body := createBody{
				CourseID: courseID, Date: date, Earliest: earliest, Latest: latest,
				Players: players, ExecuteAt: executeAt,
			}
			in, err := body.input()
			if err != nil {
				return err
			}
			p, err := principalFor(ctx, a, username)
			if err != nil {
				return err
			}
			req, err := a.bookings.Create(ctx, p, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued request id=%d status=%s execution_time=%s\n",
				req.ID, req.Status, req.ExecutionTime.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "owner of the request")
	c.Flags().Int64Var(&courseID, "course-id", 0, "course id")
	c.Flags().StringVar(&date, "date", "", "desired date YYYY-MM-DD")
	c.Flags().StringVar(&earliest, "earliest", "", "earliest tee time HH:MM")
	c.Flags().StringVar(&latest, "latest", "", "latest tee time HH:MM")
	c.Flags().IntVar(&players, "players", 4, "number of players (1-4)")
	c.Flags().StringVar(&executeAt, "execute-at", "", "release instant, RFC 3339 (e.g. 2025-07-26T07:00:00-04:00)")
	for _, f := range []string{"username", "course-id", "date", "earliest", "latest", "execute-at"} {
		_ = c.MarkFlagRequired(f)
	}
	return c
}

type createBody struct {
	CourseID                          int64
	Date, Earliest, Latest, ExecuteAt string
	Players                           int
}

func (b createBody) input() (booking.CreateInput, error) {
	in := booking.CreateInput{CourseID: b.CourseID, Players: b.Players}
	var err error
	if in.DesiredDate, err = time.Parse(booking.DateLayout, b.Date); err != nil {
		return in, fmt.Errorf("--date: %w", err)
	}
	if in.EarliestTime, err = booking.ParseClock(b.Earliest); err != nil {
		return in, fmt.Errorf("--earliest: %w", err)
	}
	if in.LatestTime, err = booking.ParseClock(b.Latest); err != nil {
		return in, fmt.Errorf("--latest: %w", err)
	}
	if in.ExecutionTime, err = time.Parse(time.RFC3339, b.ExecuteAt); err != nil {
		return in, fmt.Errorf("--execute-at: %w", err)
	}
	return in, nil
}

func newRequestListCmd() *cobra.Command {
	var username string

	c := &cobra.Command{
		Use:   "list",
		Short: "List requests visible to a user (staff see all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := principalFor(ctx, a, username)
			if err != nil {
				return err
			}
			rs, err := a.bookings.List(ctx, p)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNER\tCOURSE\tDATE\tWINDOW\tPLAYERS\tEXECUTE AT\tSTATUS\tRESULT")
			for _, r := range rs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s-%s\t%d\t%s\t%s\t%s\n",
					r.ID, r.OwnerUsername, r.CourseName, r.DesiredDate.Format(booking.DateLayout),
					r.EarliestTime, r.LatestTime, r.Players, r.ExecutionTime.Format(time.RFC3339),
					r.Status, r.ResultLog)
			}
			return tw.Flush()
		},
	}

	c.Flags().StringVar(&username, "username", "", "list as this user")
	_ = c.MarkFlagRequired("username")
	return c
}
