package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/custcache/internal/customer/daemon"
	"github.com/mschirtzinger/custcache/internal/customer/feed"
	"github.com/mschirtzinger/custcache/internal/customer/remote"
	"github.com/mschirtzinger/custcache/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Resync on a schedule (foreground)",
	Long: `Run in the foreground, resyncing from the remote on a schedule.

The daemon will:
  1. Resync once at startup (unless --no-initial)
  2. Resync on the cron schedule (sync.schedule, default "@every 15m")
  3. With a file remote, resync whenever the file changes
  4. With --port, stream cache changes to WebSocket clients at /ws

Examples:
  custcache daemon
  custcache daemon --schedule "0 */6 * * *" --port 8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		s := sessionFrom(cmd)

		schedule := s.cfg.Sync.Schedule
		if cmd.Flags().Changed("schedule") {
			schedule, _ = cmd.Flags().GetString("schedule")
		}
		watch, _ := cmd.Flags().GetString("watch")
		if watch == "" && remote.Type(s.cfg.Remote.Type) == remote.TypeFile {
			watch = s.cfg.Remote.File
		}
		port := s.cfg.Feed.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		noInitial, _ := cmd.Flags().GetBool("no-initial")

		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid --port %d", port)
		}

		var server *feed.Server
		if port > 0 {
			server = feed.NewServer(&feed.Config{
				Host:   s.cfg.Feed.Host,
				Port:   port,
				Logger: s.logs.Logger("feed"),
			})
			s.feed = feed.NewHandler(server, s.engine, s.logs.Logger("feed"))
			if err := server.Start(); err != nil {
				return err
			}
			defer func() { _ = server.Stop() }()
		}

		d, err := daemon.New(s.engine, &daemon.Config{
			Schedule:         schedule,
			WatchPath:        watch,
			DebounceInterval: daemon.DefaultConfig().DebounceInterval,
			SyncOnStart:      !noInitial,
			Logger:           s.logs.Logger("daemon"),
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		fmt.Fprintf(out, "%s Starting customer sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Fprintf(out, "   Cache: %s\n", s.store.Path())
		if schedule != "" {
			fmt.Fprintf(out, "   Schedule: %s\n", schedule)
		}
		if watch != "" {
			fmt.Fprintf(out, "   Watching: %s\n", watch)
		}
		if server != nil {
			fmt.Fprintf(out, "   Feed: ws://%s/ws\n", server.Addr())
		}
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		if err := d.Start(cmd.Context()); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}

		st := d.Stats()
		fmt.Fprintf(out, "%s Daemon stopped after %d resync(s), %d failed\n",
			ui.RenderPass("✓"), st.Runs, st.Failures)
		return nil
	},
}

func init() {
	daemonCmd.Flags().String("schedule", "", "Cron schedule for resyncs (overrides sync.schedule; empty disables)")
	daemonCmd.Flags().String("watch", "", "Customer file to watch (default: remote.file for a file remote)")
	daemonCmd.Flags().IntP("port", "p", 0, "Serve the change feed on this port (overrides feed.port)")
	daemonCmd.Flags().Bool("no-initial", false, "Skip the resync at startup")

	rootCmd.AddCommand(daemonCmd)
}
