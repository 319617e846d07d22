package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
	"github.com/mschirtzinger/custcache/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "maint",
	Short:   "Show local cache status",
	Long: `Display the current status of the local customer cache.

Shows:
  - Cache file location and size
  - Number of customers by role
  - Number of locally deleted ids awaiting a resync
  - Configured remote source`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		s := sessionFrom(cmd)

		stats, err := s.engine.Stats(cmd.Context())
		if err != nil {
			return err
		}

		sizeStr := "unknown"
		modified := "never"
		if info, err := os.Stat(s.store.Path()); err == nil {
			sizeStr = formatSize(info.Size())
			modified = info.ModTime().Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(out, "\n%s Customer Cache Status\n\n", ui.RenderAccent("📊"))
		fmt.Fprintf(out, "Location: %s\n", s.store.Path())
		fmt.Fprintf(out, "Size: %s\n", sizeStr)
		fmt.Fprintf(out, "Modified: %s\n", modified)
		fmt.Fprintf(out, "Customers: %d\n", stats.Total)
		for _, r := range schema.Roles {
			fmt.Fprintf(out, "  %-8s %d\n", r.String()+":", stats.ByRole[r])
		}
		if stats.Tombstones > 0 {
			fmt.Fprintf(out, "Deleted locally: %s\n", ui.RenderWarn(fmt.Sprint(stats.Tombstones)))
		}

		source := s.cfg.Remote.Endpoint
		if s.cfg.Remote.Type == "file" {
			source = s.cfg.Remote.File
		}
		if source == "" {
			source = ui.RenderMuted("(not configured)")
		}
		fmt.Fprintf(out, "Remote: %s %s\n", s.cfg.Remote.Type, source)
		if cf := s.configFile; cf != "" {
			fmt.Fprintf(out, "Config: %s\n", cf)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
