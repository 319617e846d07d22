// Command custcache keeps a local customer cache in sync with the remote
// customer service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/custcache/internal/config"
	"github.com/mschirtzinger/custcache/internal/customer/db"
	"github.com/mschirtzinger/custcache/internal/customer/feed"
	"github.com/mschirtzinger/custcache/internal/customer/remote"
	"github.com/mschirtzinger/custcache/internal/customer/schema"
	custsync "github.com/mschirtzinger/custcache/internal/customer/sync"
	"github.com/mschirtzinger/custcache/internal/logging"
	"github.com/mschirtzinger/custcache/internal/ui"
)

// session holds what a command run opened. It is set up in
// PersistentPreRunE and closed by execute.
type session struct {
	cfg        *config.Config
	configFile string
	logs       *logging.Factory
	store      *db.DB
	engine     *custsync.Engine

	// feed receives engine events while the daemon runs with a feed.
	feed *feed.Handler
}

type sessionKey struct{}

// errReported is returned by commands that already printed their error.
var errReported = errors.New("reported")

// skipStore marks commands that manage their own database.
const skipStore = "skip-store"

var rootCmd = &cobra.Command{
	Use:   "custcache",
	Short: "Local customer cache with remote resync",
	Long: `custcache keeps a durable local copy of the customer list.

Customers can be listed, added, edited and removed offline. A resync
replaces the local copy with the remote customer set; the remote is never
written to. Names are unique regardless of case and surrounding spaces.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: openSession,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./custcache.yaml or .custcache/custcache.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Cache database path (overrides db.path)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Customer Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// execute runs rootCmd and closes whatever the command opened, whether or
// not it succeeded.
func execute(ctx context.Context) error {
	var s *session
	err := rootCmd.ExecuteContext(context.WithValue(ctx, sessionKey{}, &s))
	if s != nil {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}
	return err
}

// sessionFrom returns the session opened for cmd.
func sessionFrom(cmd *cobra.Command) *session {
	if slot, ok := cmd.Context().Value(sessionKey{}).(**session); ok {
		return *slot
	}
	return nil
}

func openSession(cmd *cobra.Command, args []string) error {
	slot, ok := cmd.Context().Value(sessionKey{}).(**session)
	if !ok {
		return errors.New("command run without a session")
	}

	ui.Setup(cmd.OutOrStdout())

	loader := config.NewLoader()
	if err := loader.BindFlag("db.path", cmd.Flags().Lookup("db")); err != nil {
		return err
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loader.Load(configPath)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logs, err := logging.New(logging.Config{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      cfg.Log.File == "" && !verbose && cmd.Name() != "daemon",
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	s := &session{cfg: cfg, configFile: loader.ConfigFile(), logs: logs}
	*slot = s

	if cmd.Annotations[skipStore] == "true" {
		return nil
	}

	store, err := db.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	s.store = store

	if err := store.InitSchemaContext(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	s.engine = custsync.New(store, s.fetcher(),
		custsync.WithLogger(logs.Logger("sync")),
		custsync.WithObserver(func(ev custsync.Event) {
			if s.feed != nil {
				s.feed.Observe(ev)
			}
		}),
	)
	return nil
}

func (s *session) close() error {
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	if s.logs != nil {
		if cerr := s.logs.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// fetcher builds the configured remote source on first use, so commands
// that never resync work without remote settings.
func (s *session) fetcher() remote.Fetcher {
	return remote.FetcherFunc(func(ctx context.Context) ([]schema.RawCustomer, error) {
		f, err := remote.New(s.cfg.RemoteSource())
		if err != nil {
			return nil, fmt.Errorf("failed to configure remote: %w", err)
		}
		return f.FetchAll(ctx)
	})
}

// bootstrap fills an empty cache from the remote when sync.bootstrap is on.
func (s *session) bootstrap(ctx context.Context) error {
	if !s.cfg.Sync.Bootstrap {
		return nil
	}
	return s.engine.Bootstrap(ctx)
}
