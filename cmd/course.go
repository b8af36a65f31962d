package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/spf13/cobra"
)

func newCourseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Manage the course catalog",
	}
	cmd.AddCommand(newCourseAddCmd())
	cmd.AddCommand(newCourseListCmd())
	return cmd
}

func newCourseAddCmd() *cobra.Command {
	var co catalog.Course

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a course",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			created, err := a.courses.Create(ctx, co)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created course id=%d name=%q logic_type=%s\n", created.ID, created.Name, created.LogicType)
			return nil
		},
	}

	c.Flags().StringVar(&co.Name, "name", "", "display name")
	c.Flags().StringVar(&co.ProviderURL, "provider-url", "", "booking site URL handed to the executor")
	c.Flags().StringVar(&co.LogicType, "logic-type", catalog.LogicSimulate, "automation routine: "+strings.Join(catalog.LogicTypes, "|"))
	_ = c.MarkFlagRequired("name")
	return c
}

func newCourseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			cs, err := a.courses.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tLOGIC\tPROVIDER URL")
			for _, co := range cs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", co.ID, co.Name, co.LogicType, co.ProviderURL)
			}
			return tw.Flush()
		},
	}
}
