package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
	"github.com/mschirtzinger/custcache/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <path>",
	GroupID: "maint",
	Short:   "Write the cache to a JSON file",
	Long: `Write every cached customer to a JSON file.

The file can be used as a file remote (remote.type: file), which is handy
for seeding another cache or testing without a remote service.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		customers, err := sessionFrom(cmd).engine.LoadLocal(cmd.Context())
		if err != nil {
			return err
		}
		if err := schema.WriteCustomersFile(args[0], customers); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d customer(s) to %s\n",
			ui.RenderPass("✓"), len(customers), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
