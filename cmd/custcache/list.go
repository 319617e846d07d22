package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
	custsync "github.com/mschirtzinger/custcache/internal/customer/sync"
	"github.com/mschirtzinger/custcache/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "data",
	Short:   "List cached customers",
	Long: `List customers from the local cache, ordered by name.

--search matches names case-insensitively, ignoring surrounding spaces.
--role is All, Admin or Manager. --since accepts a date (2026-01-02) or a
phrase such as "yesterday" or "3 days ago".

If the cache is empty and sync.bootstrap is on, it is filled from the
remote first.

Examples:
  custcache list
  custcache list --search ann --role manager
  custcache list --since "last week" --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		role, _ := cmd.Flags().GetString("role")
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		if _, ok := schema.ParseRoleFilter(role); !ok {
			return fmt.Errorf("invalid --role %q (want %s, %s or %s)",
				role, schema.RoleAll, schema.RoleAdmin, schema.RoleManager)
		}
		if limit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		switch format {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("invalid --format %q (want table, json or yaml)", format)
		}

		opts := []custsync.FilterOption{custsync.Limit(limit)}
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			opts = append(opts, custsync.UpdatedSince(t))
		}

		s := sessionFrom(cmd)
		if err := s.bootstrap(cmd.Context()); err != nil {
			return err
		}
		customers, err := s.engine.Filter(cmd.Context(), search, role, opts...)
		if err != nil {
			return err
		}

		return printCustomers(cmd.OutOrStdout(), customers, format)
	},
}

func init() {
	listCmd.Flags().StringP("search", "s", "", "Filter by name")
	listCmd.Flags().StringP("role", "r", schema.RoleAll, "Filter by role (All, Admin, Manager)")
	listCmd.Flags().String("since", "", "Only customers updated since a date or phrase")
	listCmd.Flags().IntP("limit", "n", 0, "Maximum customers to show (0 = all)")
	listCmd.Flags().StringP("format", "f", "table", "Output format (table, json, yaml)")

	rootCmd.AddCommand(listCmd)
}

// parseSince accepts a YYYY-MM-DD date, an RFC 3339 timestamp or an English
// phrase relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", s)
	}
	return r.Time, nil
}

// customerView is the serialized form used by json and yaml output.
type customerView struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Email     string    `json:"email,omitempty" yaml:"email,omitempty"`
	Role      string    `json:"role" yaml:"role"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func printCustomers(out io.Writer, customers []schema.Customer, format string) error {
	views := make([]customerView, len(customers))
	for i, c := range customers {
		views[i] = customerView{
			ID:        c.ID,
			Name:      c.Name,
			Email:     c.Email,
			Role:      c.Role.String(),
			UpdatedAt: c.UpdatedAt,
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(customers) == 0 {
		fmt.Fprintln(out, ui.RenderMuted("No customers found."))
		return nil
	}

	rows := make([][]string, len(customers))
	for i, c := range customers {
		email := c.Email
		if email == "" {
			email = ui.RenderMuted("-")
		}
		rows[i] = []string{c.ID, c.Name, email, ui.RenderRole(c.Role)}
	}
	fmt.Fprintln(out, ui.Table([]string{"ID", "NAME", "EMAIL", "ROLE"}, rows))
	fmt.Fprintf(out, "%d customer(s)\n", len(customers))
	return nil
}
