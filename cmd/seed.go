package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/spf13/cobra"
)

const (
	demoCourseName = "Cypress Point (Demo)"
	demoCourseURL  = "https://foreupsoftware.com/index.php/booking/19777/2431"
	demoLogin      = "demo@example.com"
	demoSecret     = "securepassword"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create demo users, a demo course and a demo credential (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()
			return seed(ctx, a, cmd.OutOrStdout())
		},
	}
}

func seed(ctx context.Context, a *app, out io.Writer) error {
	if _, err := seedUser(ctx, a, out, "admin", "admin123", true); err != nil {
		return err
	}
	golfer, err := seedUser(ctx, a, out, "golfer", "golf123", false)
	if err != nil {
		return err
	}
	course, err := seedCourse(ctx, a, out)
	if err != nil {
		return err
	}

	has, err := a.vault.Has(ctx, golfer.ID, course.ID)
	if err != nil {
		return err
	}
	if has {
		fmt.Fprintf(out, "credential for %q on %q exists\n", golfer.Username, course.Name)
		return nil
	}
	secret := demoSecret
	if _, err := a.vault.Upsert(ctx, golfer.Principal(), course.ID, demoLogin, &secret); err != nil {
		return err
	}
	fmt.Fprintf(out, "stored credential for %q on %q\n", golfer.Username, course.Name)
	return nil
}

func seedUser(ctx context.Context, a *app, out io.Writer, username, password string, staff bool) (auth.User, error) {
	u, err := a.auth.Lookup(ctx, username)
	if err == nil {
		fmt.Fprintf(out, "user %q exists\n", username)
		return u, nil
	}
	if !errors.Is(err, internaltypes.ErrNotFound) {
		return auth.User{}, err
	}
	u, err = a.auth.CreateUser(ctx, username, password, staff, false)
	if err != nil {
		return auth.User{}, err
	}
	fmt.Fprintf(out, "created user %q (password %s)\n", username, password)
	return u, nil
}

func seedCourse(ctx context.Context, a *app, out io.Writer) (catalog.Course, error) {
	cs, err := a.courses.List(ctx)
	if err != nil {
		return catalog.Course{}, err
	}
	for _, c := range cs {
		if c.Name == demoCourseName {
			fmt.Fprintf(out, "course %q exists\n", c.Name)
			return c, nil
		}
	}
	c, err := a.courses.Create(ctx, catalog.Course{
		Name:        demoCourseName,
		ProviderURL: demoCourseURL,
		LogicType:   catalog.LogicForeUp,
	})
	if err != nil {
		return catalog.Course{}, err
	}
	fmt.Fprintf(out, "created course %q id=%d\n", c.Name, c.ID)
	return c, nil
}
