package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/custcache/internal/customer/remote"
	"github.com/mschirtzinger/custcache/internal/customer/schema"
	"github.com/mschirtzinger/custcache/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replace the local cache with the remote customer set",
	Long: `Fetch every customer from the remote source and replace the local cache.

Local additions, edits and deletions are discarded. Remote roles are
normalized: unknown or missing roles become Admin. When the remote returns
duplicate names or ids, the first occurrence is kept. Records without an
id are skipped.

If the fetch fails the local cache is left untouched.

Examples:
  custcache sync
  CUSTCACHE_REMOTE_TYPE=file CUSTCACHE_REMOTE_FILE=customers.json custcache sync`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		s := sessionFrom(cmd)

		fmt.Fprintf(out, "%s Syncing from %s remote...\n", ui.RenderAccent("🔄"), s.cfg.Remote.Type)

		res, err := s.engine.SyncFromRemote(cmd.Context())
		if err != nil {
			if remote.IsRetryable(err) {
				fmt.Fprintf(out, "%s Remote unavailable, local cache unchanged. Try again later.\n", ui.RenderWarn("⚠"))
			}
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), res.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "  Fetched:       %d\n", res.Fetched)
		fmt.Fprintf(out, "  Stored:        %d\n", res.Stored)
		if len(res.Skipped) > 0 {
			fmt.Fprintf(out, "  Skipped:       %s\n", ui.RenderWarn(skippedSummary(res.Skipped)))
		}
		if res.RolesCoerced > 0 {
			fmt.Fprintf(out, "  Roles coerced: %s\n", ui.RenderWarn(fmt.Sprintf("%d unknown role(s) set to Admin", res.RolesCoerced)))
		}
		return nil
	},
}

// skippedSummary splits skipped remote records into duplicates and records
// without an id.
func skippedSummary(skipped []schema.Customer) string {
	noID := 0
	for _, c := range skipped {
		if c.ID == "" {
			noID++
		}
	}

	parts := make([]string, 0, 2)
	if n := len(skipped) - noID; n > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate(s)", n))
	}
	if noID > 0 {
		parts = append(parts, fmt.Sprintf("%d without an id", noID))
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
