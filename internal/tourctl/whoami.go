package tourctl

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show who the stored access credential belongs to",
		Long: `Decode the stored access credential and print its role, subject and
expiry. The signature is not checked; this is a local display only.`,
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}

			token, ok := store.Get(cmd.Context(), credstore.AccessToken)
			if !ok {
				return errors.New("not logged in")
			}

			claims, err := jwtx.ParseUnverified(token)
			if err != nil {
				return fmt.Errorf("stored credential is unreadable: %w", err)
			}

			expires := "-"
			status := "valid"
			if claims.ExpiresAt != nil {
				expires = claims.ExpiresAt.Time.Format(time.RFC1123)
			}
			if err := claims.ValidateExpiry(); err != nil {
				status = "expired (will refresh on next request)"
			}
			_, hasRefresh := store.Get(cmd.Context(), credstore.RefreshToken)

			table, err := pterm.DefaultTable.WithData(pterm.TableData{
				{"Role", claims.Role},
				{"Subject", claims.Identity()},
				{"Email", claims.Email},
				{"Expires", expires},
				{"Status", status},
				{"Refreshable", fmt.Sprint(hasRefresh)},
			}).Srender()
			if err != nil {
				return err
			}

			writeLine(cmd.OutOrStdout(), table)
			return nil
		}),
	}
}

func newPurgeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired credentials from the local database",
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}

			n, err := store.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}

			writeLine(cmd.OutOrStdout(), pterm.Info.Sprintf("Purged %d expired credential(s)", n))
			return nil
		}),
	}
}
