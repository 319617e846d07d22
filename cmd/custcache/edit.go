package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/custcache/internal/customer/db"
	"github.com/mschirtzinger/custcache/internal/customer/schema"
	"github.com/mschirtzinger/custcache/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "data",
	Short:   "Add a customer to the local cache",
	Long: `Add a customer to the local cache.

Names are required, at most 50 letters and spaces, and must be unique
ignoring case and surrounding spaces. Email is optional. Role defaults to
Admin.

The remote is not updated; the next sync discards local additions.

Examples:
  custcache add --name "Ann Lee" --email ann@example.com --role manager
  custcache add -i`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := schema.Customer{Role: schema.RoleAdmin}
		if err := applyCustomerFlags(cmd, &c); err != nil {
			return err
		}

		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := runCustomerForm("New customer", &c); err != nil {
				return err
			}
		}

		return saveCustomer(cmd, c, false)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "data",
	Short:   "Edit a cached customer",
	Long: `Edit a customer in the local cache. Only the given fields change.

Examples:
  custcache edit 3 --role manager
  custcache edit 3 --email ""
  custcache edit 3 -i`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := sessionFrom(cmd)

		existing, err := s.store.GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if existing == nil {
			return &db.NotFoundError{ID: args[0]}
		}

		c := *existing
		if err := applyCustomerFlags(cmd, &c); err != nil {
			return err
		}

		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := runCustomerForm("Edit customer "+c.ID, &c); err != nil {
				return err
			}
		}

		return saveCustomer(cmd, c, true)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	GroupID: "data",
	Short:   "Remove customers from the local cache",
	Long: `Remove customers from the local cache. Removing an id that is not cached
is not an error. The next sync restores removed remote customers.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, id := range args {
			if err := sessionFrom(cmd).engine.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Removed %s\n", ui.RenderPass("✓"), id)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{addCmd, editCmd} {
		cmd.Flags().String("name", "", "Customer name")
		cmd.Flags().String("email", "", "Customer email")
		cmd.Flags().String("role", "", "Customer role (Admin, Manager)")
		cmd.Flags().BoolP("interactive", "i", false, "Fill in the customer with a form")
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(rmCmd)
}

// applyCustomerFlags copies the flags that were set onto c.
func applyCustomerFlags(cmd *cobra.Command, c *schema.Customer) error {
	flags := cmd.Flags()
	if flags.Changed("name") {
		c.Name, _ = flags.GetString("name")
	}
	if flags.Changed("email") {
		c.Email, _ = flags.GetString("email")
	}
	if flags.Changed("role") {
		s, _ := flags.GetString("role")
		r, err := parseRole(s)
		if err != nil {
			return err
		}
		c.Role = r
	}
	return nil
}

// parseRole parses a role for storage. Unlike a list filter, "All" is not a role.
func parseRole(s string) (schema.Role, error) {
	r, ok := schema.ParseRoleFilter(s)
	if !ok || r == "" {
		return "", fmt.Errorf("invalid role %q (want %s or %s)", s, schema.RoleAdmin, schema.RoleManager)
	}
	return r, nil
}

// runCustomerForm prompts for every field, starting from c.
func runCustomerForm(title string, c *schema.Customer) error {
	role := string(c.Role)
	if role == "" {
		role = string(schema.RoleAdmin)
	}

	options := make([]huh.Option[string], len(schema.Roles))
	for i, r := range schema.Roles {
		options[i] = huh.NewOption(r.String(), string(r))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Value(&c.Name).
				Validate(fieldValidator(schema.ValidateName)),
			huh.NewInput().
				Title("Email").
				Description("Optional").
				Value(&c.Email).
				Validate(fieldValidator(schema.ValidateEmail)),
			huh.NewSelect[string]().
				Title("Role").
				Options(options...).
				Value(&role),
		).Title(title),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("cancelled")
		}
		return fmt.Errorf("form failed: %w", err)
	}

	c.Role = schema.Role(role)
	return nil
}

// fieldValidator checks the value as typed, the same way CreateOrUpdate does.
func fieldValidator(check func(string) string) func(string) error {
	return func(s string) error {
		if msg := check(s); msg != "" {
			return errors.New(msg)
		}
		return nil
	}
}

// saveCustomer submits c and reports field errors the way the form shows them.
func saveCustomer(cmd *cobra.Command, c schema.Customer, isEdit bool) error {
	out := cmd.OutOrStdout()

	saved, err := sessionFrom(cmd).engine.CreateOrUpdate(cmd.Context(), c, isEdit)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			printFieldErrors(cmd.ErrOrStderr(), verr.Fields)
			return errReported
		}
		return err
	}

	verb := "Added"
	if isEdit {
		verb = "Updated"
	}
	fmt.Fprintf(out, "%s %s %s\n", ui.RenderPass("✓"), verb, saved)
	return nil
}

func printFieldErrors(w io.Writer, fe schema.FieldErrors) {
	fmt.Fprint(w, ui.FieldErrors(fe))
}
