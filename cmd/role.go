package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/output"
	"github.com/joescharf/scrum/internal/team"
)

var rolePerms []string

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles",
	Long: `Roles are named sets of permissions. Members receive the union of
their roles' permissions on the project they belong to.`,
}

var roleAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return roleAddRun(args[0])
	},
}

var roleListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return roleListRun()
	},
}

var roleSetPermsCmd = &cobra.Command{
	Use:   "set-perms <role>",
	Short: "Replace a role's permissions and update every member holding it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return roleSetPermsRun(args[0])
	},
}

var rolePermsCmd = &cobra.Command{
	Use:   "perms",
	Short: "List the known permission kinds",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := ui.Table([]string{"Permission", "Scope"})
		for _, k := range models.AllPermissions() {
			table.Append([]string{string(k), string(k.Scope())})
		}
		return table.Render()
	},
}

func init() {
	roleAddCmd.Flags().StringSliceVarP(&rolePerms, "perm", "p", nil, "Permission kind (repeatable or comma-separated)")
	roleSetPermsCmd.Flags().StringSliceVarP(&rolePerms, "perm", "p", nil, "Permission kind (repeatable or comma-separated)")

	roleCmd.AddCommand(roleAddCmd)
	roleCmd.AddCommand(roleListCmd)
	roleCmd.AddCommand(roleSetPermsCmd)
	roleCmd.AddCommand(rolePermsCmd)
	rootCmd.AddCommand(roleCmd)
}

func parsePerms(names []string) ([]models.PermissionKind, error) {
	kinds := make([]models.PermissionKind, 0, len(names))
	for _, n := range names {
		k, err := models.ParsePermission(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func roleAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	kinds, err := parsePerms(rolePerms)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would create role %s with %d permission(s)", name, len(kinds))
		return nil
	}

	r, err := team.NewManager(s, logger).CreateRole(context.Background(), name, kinds)
	if err != nil {
		return fmt.Errorf("add role: %w", err)
	}
	ui.Success("Created role: %s", output.Cyan(r.Name))
	return nil
}

func roleListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	roles, err := s.ListRoles(context.Background())
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		ui.Info("No roles yet. Use 'scrum role add <name> --perm <kind>'.")
		return nil
	}

	table := ui.Table([]string{"Role", "Permissions", "ID"})
	for _, r := range roles {
		names := make([]string, len(r.Permissions))
		for i, k := range r.Permissions {
			names[i] = string(k)
		}
		table.Append([]string{output.Cyan(r.Name), strings.Join(names, ", "), r.ID})
	}
	return table.Render()
}

func roleSetPermsRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := resolveRole(ctx, s, name)
	if err != nil {
		return err
	}
	kinds, err := parsePerms(rolePerms)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would set %d permission(s) on role %s", len(kinds), r.Name)
		return nil
	}

	if err := team.NewManager(s, logger).SetRolePermissions(ctx, r.ID, kinds); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	ui.Success("Updated role: %s", output.Cyan(r.Name))
	return nil
}
