// Package tourctl implements the tourctl command line client. Every backend
// call goes through the fetch gateway with a SQLite credential store, so an
// expired access credential is refreshed without the user noticing.
package tourctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/credstore/sqlitestore"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
	"github.com/spf13/cobra"
)

// Version is overridden at build time via ldflags.
var Version = "v0.1.0"

const defaultServer = "http://localhost:5000/api/v1"

type options struct {
	server   string
	dbPath   string
	logLevel string
	timeout  time.Duration

	logger  *slog.Logger
	store   *sqlitestore.Store
	gateway *apiclient.Gateway
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "tourctl",
		Short: "Tourbook CLI - talk to the marketplace backend",
		Long: `tourctl signs in to the tour marketplace backend and issues authenticated
requests on your behalf. Credentials are kept in a local SQLite database and
refreshed automatically when the backend reports them expired.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger = slogx.New(slogx.Config{
				Service: "tourctl",
				Version: Version,
				Env:     "cli",
				Level:   opts.logLevel,
				Format:  "text",
				Output:  cmd.ErrOrStderr(),
			})
		},
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("TOURCTL_SERVER", defaultServer), "Backend API root (also TOURCTL_SERVER)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("TOURCTL_DB", defaultDBPath()), "Credential database path (also TOURCTL_DB)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", apiclient.DefaultRequestTimeout, "Per-request timeout")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newGetCmd(opts),
		newRequestCmd(opts),
		newPurgeCmd(opts),
	)

	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStore opens the credential database, creating its directory.
func (o *options) openStore() (*sqlitestore.Store, error) {
	if o.store != nil {
		return o.store, nil
	}

	if dir := filepath.Dir(o.dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create credential directory: %w", err)
		}
	}

	store, err := sqlitestore.Open(sqlitestore.FileDSN(o.dbPath))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	o.store = store
	return store, nil
}

// openGateway returns a gateway plus a context carrying the store and logger.
func (o *options) openGateway(ctx context.Context) (context.Context, *apiclient.Gateway, error) {
	store, err := o.openStore()
	if err != nil {
		return ctx, nil, err
	}

	if o.gateway == nil {
		gw, err := apiclient.New(apiclient.Config{
			BaseURL:    o.server,
			HTTPClient: &http.Client{Timeout: o.timeout},
		})
		if err != nil {
			return ctx, nil, err
		}
		o.gateway = gw
	}

	if o.logger != nil {
		ctx = slogx.WithContext(ctx, o.logger)
	}
	return credstore.WithStore(ctx, store), o.gateway, nil
}

// run wraps a command body so the credential database is closed however
// the command ends.
func (o *options) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer func() {
			if err := o.close(); err != nil && o.logger != nil {
				o.logger.Warn("closing credential store", "err", err)
			}
		}()
		return fn(cmd, args)
	}
}

func (o *options) close() error {
	if o.store == nil {
		return nil
	}
	err := o.store.Close()
	o.store = nil
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tourctl", "credentials.db")
	}
	return filepath.Join(home, ".tourctl", "credentials.db")
}

// explain turns gateway errors into something a terminal user can act on.
func explain(err error) error {
	var refreshErr *apiclient.RefreshError
	if errors.As(err, &refreshErr) && refreshErr.SessionEnded() {
		return fmt.Errorf("session expired, run `tourctl login` again: %w", err)
	}
	return err
}

func writeLine(w io.Writer, s string) {
	_, _ = fmt.Fprintln(w, s)
}
