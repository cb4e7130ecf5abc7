package tourctl

import (
	"errors"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newLoginCmd(opts *options) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store credentials locally",
		Long: `Sign in with email and password. The password may also be supplied
through TOURCTL_PASSWORD so it stays out of shell history.`,
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TOURCTL_PASSWORD")
			}
			email = strings.TrimSpace(email)
			if email == "" || password == "" {
				return errors.New("--email and --password (or TOURCTL_PASSWORD) are required")
			}

			ctx, gw, err := opts.openGateway(cmd.Context())
			if err != nil {
				return err
			}

			creds, err := gw.Login(ctx, opts.store, email, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeLine(out, pterm.Success.Sprintf("Logged in as %s", email))
			if creds.RefreshToken == "" {
				writeLine(out, pterm.Warning.Sprint("Backend issued no refresh credential; you will need to log in again when the session expires"))
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and delete stored credentials",
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			ctx, gw, err := opts.openGateway(cmd.Context())
			if err != nil {
				return err
			}

			if err := gw.Logout(ctx, opts.store); err != nil {
				return err
			}

			writeLine(cmd.OutOrStdout(), pterm.Success.Sprint("Logged out successfully"))
			return nil
		}),
	}
}
