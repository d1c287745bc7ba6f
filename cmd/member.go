package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/output"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/team"
)

var memberRoles []string

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage project membership",
	Long: `Add users to projects with a set of roles. Adding, changing, or
removing a membership grants or revokes the role permissions on the project
and on the stories the user develops.`,
}

var memberAddCmd = &cobra.Command{
	Use:   "add <project> <user>",
	Short: "Add a user to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberAddRun(args[0], args[1])
	},
}

var memberRolesCmd = &cobra.Command{
	Use:   "roles <project> <user>",
	Short: "Replace a member's roles",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberRolesRun(args[0], args[1])
	},
}

var memberRemoveCmd = &cobra.Command{
	Use:     "remove <project> <user>",
	Aliases: []string{"rm"},
	Short:   "Remove a user from a project",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberRemoveRun(args[0], args[1])
	},
}

var memberListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List project members",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		ctx := context.Background()
		p, err := resolveProject(ctx, s, args[0])
		if err != nil {
			return err
		}
		return printMembers(ctx, s, p)
	},
}

func init() {
	memberAddCmd.Flags().StringSliceVarP(&memberRoles, "role", "r", nil, "Role name or ID (repeatable)")
	memberRolesCmd.Flags().StringSliceVarP(&memberRoles, "role", "r", nil, "Role name or ID (repeatable)")

	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberRolesCmd)
	memberCmd.AddCommand(memberRemoveCmd)
	memberCmd.AddCommand(memberListCmd)
	rootCmd.AddCommand(memberCmd)
}

func resolveRoleIDs(ctx context.Context, s store.Store, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, n := range names {
		r, err := resolveRole(ctx, s, n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func memberAddRun(projectName, userName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectName)
	if err != nil {
		return err
	}
	u, err := resolveUser(ctx, s, userName)
	if err != nil {
		return err
	}
	roleIDs, err := resolveRoleIDs(ctx, s, memberRoles)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add %s to %s with %d role(s)", u.Username, p.ShortName, len(roleIDs))
		return nil
	}
	m, err := team.NewManager(s, logger).AddMember(ctx, u.ID, p.ID, roleIDs)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	ui.Success("Added %s to %s", output.Cyan(u.Username), output.Cyan(p.ShortName))
	ui.VerboseLog("Membership: %s", m.ID)
	return nil
}

func memberRolesRun(projectName, userName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectName)
	if err != nil {
		return err
	}
	u, err := resolveUser(ctx, s, userName)
	if err != nil {
		return err
	}
	m, err := s.GetMembershipFor(ctx, u.ID, p.ID)
	if err != nil {
		return fmt.Errorf("%s is not a member of %s", u.Username, p.ShortName)
	}
	roleIDs, err := resolveRoleIDs(ctx, s, memberRoles)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would set %d role(s) for %s on %s", len(roleIDs), u.Username, p.ShortName)
		return nil
	}
	if _, err := team.NewManager(s, logger).UpdateRoles(ctx, m.ID, roleIDs); err != nil {
		return fmt.Errorf("update roles: %w", err)
	}
	ui.Success("Updated roles of %s on %s: %s", output.Cyan(u.Username), p.ShortName, roleNames(ctx, s, roleIDs))
	return nil
}

func memberRemoveRun(projectName, userName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectName)
	if err != nil {
		return err
	}
	u, err := resolveUser(ctx, s, userName)
	if err != nil {
		return err
	}
	m, err := s.GetMembershipFor(ctx, u.ID, p.ID)
	if err != nil {
		return fmt.Errorf("%s is not a member of %s", u.Username, p.ShortName)
	}

	if dryRun {
		ui.DryRunMsg("Would remove %s from %s", u.Username, p.ShortName)
		return nil
	}
	if err := team.NewManager(s, logger).RemoveMember(ctx, m.ID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	ui.Success("Removed %s from %s", output.Cyan(u.Username), p.ShortName)
	return nil
}
