package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/custcache/internal/customer/loadtest"
	"github.com/mschirtzinger/custcache/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:         "loadtest",
	GroupID:     "maint",
	Short:       "Stress concurrent writes against a scratch cache",
	Annotations: map[string]string{skipStore: "true"},
	Long: `Run concurrent add, list and sync operations against a scratch cache
and check that no two customers ever share a name.

Writers submit names from a small pool with varied case and spacing, so
most submissions collide. The configured cache is never touched.

Examples:
  custcache loadtest
  custcache loadtest --writers 100 --names 10 --syncs 5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg := loadtest.DefaultConfig()
		cfg.Writers, _ = cmd.Flags().GetInt("writers")
		cfg.OpsPerWriter, _ = cmd.Flags().GetInt("ops")
		cfg.Names, _ = cmd.Flags().GetInt("names")
		cfg.Readers, _ = cmd.Flags().GetInt("readers")
		cfg.Syncs, _ = cmd.Flags().GetInt("syncs")
		remoteSize, _ := cmd.Flags().GetInt("remote-size")
		dbPath, _ := cmd.Flags().GetString("scratch")

		if cfg.Writers < 1 || cfg.OpsPerWriter < 1 || cfg.Names < 1 {
			return fmt.Errorf("--writers, --ops and --names must be at least 1")
		}
		if remoteSize < 0 {
			return fmt.Errorf("--remote-size must not be negative")
		}

		if dbPath == "" {
			dir, err := os.MkdirTemp("", "custcache-loadtest-")
			if err != nil {
				return fmt.Errorf("failed to create scratch dir: %w", err)
			}
			defer os.RemoveAll(dir)
			dbPath = filepath.Join(dir, "loadtest.db")
		}

		fmt.Fprintf(out, "%s Seeding %d remote customers into %s\n", ui.RenderAccent("🧪"), remoteSize, dbPath)
		h, err := loadtest.NewHarness(dbPath, remoteSize, sessionFrom(cmd).logs.Logger("loadtest"))
		if err != nil {
			return err
		}
		defer h.Close()

		fmt.Fprintf(out, "%s Running %d writers x %d ops over %d names, %d readers, %d resyncs\n\n",
			ui.RenderAccent("⚡"), cfg.Writers, cfg.OpsPerWriter, cfg.Names, cfg.Readers, cfg.Syncs)

		start := time.Now()
		report, err := h.Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		report.Writes.PrintStats(out, "Writes")
		fmt.Fprintln(out)
		if report.Reads.Operations > 0 {
			report.Reads.PrintStats(out, "Reads")
			fmt.Fprintln(out)
		}

		fmt.Fprintf(out, "Created:    %d\n", report.Created)
		fmt.Fprintf(out, "Duplicates: %d\n", report.Duplicates)
		fmt.Fprintf(out, "Rejected:   %d\n", report.Rejected)
		fmt.Fprintf(out, "Resyncs:    %d\n", report.SyncsRun)
		fmt.Fprintf(out, "Final size: %d\n", report.FinalCount)
		fmt.Fprintf(out, "Elapsed:    %v\n\n", time.Since(start).Round(time.Millisecond))

		for _, e := range report.Errors {
			fmt.Fprintf(out, "%s %v\n", ui.RenderWarn("⚠"), e)
		}
		if len(report.Violations) > 0 {
			for _, v := range report.Violations {
				fmt.Fprintf(out, "%s %s\n", ui.RenderFail("✗"), v)
			}
			return fmt.Errorf("%d invariant violation(s)", len(report.Violations))
		}

		fmt.Fprintf(out, "%s No duplicate names observed\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	defaults := loadtest.DefaultConfig()
	loadtestCmd.Flags().Int("writers", defaults.Writers, "Concurrent writers")
	loadtestCmd.Flags().Int("ops", defaults.OpsPerWriter, "Submissions per writer")
	loadtestCmd.Flags().Int("names", defaults.Names, "Size of the name pool")
	loadtestCmd.Flags().Int("readers", defaults.Readers, "Concurrent readers")
	loadtestCmd.Flags().Int("syncs", defaults.Syncs, "Resyncs run during the test")
	loadtestCmd.Flags().Int("remote-size", 200, "Customers served by the fake remote")
	loadtestCmd.Flags().String("scratch", "", "Scratch database path (default: a temp dir)")

	rootCmd.AddCommand(loadtestCmd)
}
