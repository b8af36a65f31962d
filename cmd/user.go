package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserResetPasswordCmd())
	cmd.AddCommand(newUserStaffCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		username, password string
		staff, mustChange  bool
	)

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a local user (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			u, err := a.auth.CreateUser(ctx, username, password, staff, mustChange)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %q id=%d staff=%t must_change_password=%t\n",
				u.Username, u.ID, u.IsStaff, u.MustChangePassword)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "initial password (at least 6 characters)")
	c.Flags().BoolVar(&staff, "staff", false, "grant staff visibility over all requests")
	c.Flags().BoolVar(&mustChange, "must-change-password", true, "force a password change at first login")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newUserResetPasswordCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a temporary password; the user must change it at next login",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.auth.ResetPassword(ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset password for %q; existing sessions are signed out\n", username)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "temporary password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newUserStaffCmd() *cobra.Command {
	var (
		username string
		revoke   bool
	)

	c := &cobra.Command{
		Use:   "staff",
		Short: "Grant or revoke staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.auth.SetStaff(ctx, username, !revoke); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %q staff=%t\n", username, !revoke)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().BoolVar(&revoke, "revoke", false, "remove staff instead of granting it")
	_ = c.MarkFlagRequired("username")
	return c
}
