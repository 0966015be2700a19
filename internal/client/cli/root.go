// Package cli is the homesync command-line client.
//
// Record commands work against the local SQLite replica, so they run
// offline; `sync` exchanges changes with the server. Passing --remote sends
// record commands straight to the server instead.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/homesync/internal/client/client"
	"github.com/dmitrijs2005/homesync/internal/client/config"
	"github.com/dmitrijs2005/homesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/filex"
	"github.com/dmitrijs2005/homesync/internal/flagx"
	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/mutation"
	"github.com/dmitrijs2005/homesync/internal/server/auth"
	"github.com/dmitrijs2005/homesync/internal/store/sqlite"
	"github.com/dmitrijs2005/homesync/internal/store/sqlstore"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Addr       string
	DB         string
	Token      string
	Timeout    time.Duration
	LogLevel   string
	Format     string // "json" | "text"
	Remote     bool

	cfg *config.Config
	log logging.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

var errNoToken = errors.New("no access token: pass --token or set HOMESYNC_TOKEN")

// NewRootCommand creates the root command of the homesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "homesync",
		Short: "homesync - household data that syncs",
		Long:  "Keep wallets, transactions, chores and savings in a local replica and sync them with a homesync server.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.ConfigFile, "config", "c", "", "JSON config file")
	f.StringVarP(&opts.Addr, "addr", "a", "", "server address host:port")
	f.StringVar(&opts.DB, "db", "", "local replica database path")
	f.StringVar(&opts.Token, "token", "", "access token")
	f.DurationVar(&opts.Timeout, "timeout", 0, "timeout of each server call")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	f.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	f.BoolVar(&opts.Remote, "remote", false, "run record commands on the server instead of the local replica")

	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// load resolves configuration: defaults, JSON file, environment, then the
// flags set on this command line.
func (o *RootOptions) load(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	if o.ConfigFile != "" {
		if err := os.Setenv(flagx.ConfigFileEnv, o.ConfigFile); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.ServerEndpointAddr = o.Addr
	}
	if flags.Changed("db") {
		cfg.DatabasePath = o.DB
	}
	if flags.Changed("token") {
		cfg.AccessToken = o.Token
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = o.Timeout
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}

	o.cfg = cfg
	o.log = logging.New(cmd.ErrOrStderr(), "text", cfg.LogLevel)
	return nil
}

func (o *RootOptions) session() (domain.Session, error) {
	if o.cfg.AccessToken == "" {
		return domain.Session{}, errNoToken
	}
	return auth.UnverifiedSession(o.cfg.AccessToken)
}

func (o *RootOptions) remote() (*client.GRPCClient, error) {
	if o.cfg.AccessToken == "" {
		return nil, errNoToken
	}
	return client.NewGRPCClient(o.cfg.ServerEndpointAddr, o.cfg.AccessToken, client.WithTimeout(o.cfg.RequestTimeout))
}

// local is an open replica with the session it is written under.
type local struct {
	session domain.Session
	store   *sqlstore.Store
	meta    *metadata.SQLiteRepository
	manager *mutation.Manager
}

func (o *RootOptions) openLocal(ctx context.Context) (*local, error) {
	s, err := o.session()
	if err != nil {
		return nil, err
	}
	if _, err := filex.EnsureParentDir(o.cfg.DatabasePath); err != nil {
		return nil, err
	}
	st, err := sqlite.Open(ctx, o.cfg.DatabasePath, sqlstore.WithOpTimeout(o.cfg.RequestTimeout))
	if err != nil {
		return nil, err
	}
	return &local{
		session: s,
		store:   st,
		meta:    metadata.NewSQLiteRepository(st.DB()),
		manager: mutation.NewManager(tenant.NewGuard(st),
			mutation.WithCanonicalizer(domain.Canonicalize),
			mutation.WithValidator(domain.Validate),
			mutation.WithLogger(o.log)),
	}, nil
}

func (l *local) Close() error {
	return l.store.Close()
}

func (l *local) scope(kind string) (models.Tenant, error) {
	return domain.TenantFor(kind, l.session)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
