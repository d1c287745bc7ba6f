package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/output"
)

var (
	userEmail     string
	userFirstName string
	userLastName  string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
	Long:  "Register the users that can act on projects and receive story notifications.",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Register a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant <username> <permission>",
	Short: "Give a user a global permission",
	Long: `Grant a permission that is not tied to a project: list_all_projects or
one of the flow template kinds. Project permissions come from roles.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userGrantRun(args[0], args[1], true)
	},
}

var userRevokeCmd = &cobra.Command{
	Use:   "revoke <username> <permission>",
	Short: "Take a global permission away from a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userGrantRun(args[0], args[1], false)
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Notification address")
	userAddCmd.Flags().StringVar(&userFirstName, "first-name", "", "First name")
	userAddCmd.Flags().StringVar(&userLastName, "last-name", "", "Last name")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userGrantCmd)
	userCmd.AddCommand(userRevokeCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(username string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	u := &models.User{
		Username:  username,
		Email:     userEmail,
		FirstName: userFirstName,
		LastName:  userLastName,
	}
	if dryRun {
		ui.DryRunMsg("Would add user: %s", username)
		return nil
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	ui.Success("Added user: %s", output.Cyan(u.DisplayName()))
	ui.VerboseLog("ID: %s", u.ID)
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	users, err := s.ListUsers(context.Background())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		ui.Info("No users yet. Use 'scrum user add <username>'.")
		return nil
	}

	table := ui.Table([]string{"Username", "Name", "Email", "ID"})
	for _, u := range users {
		table.Append([]string{output.Cyan(u.Username), u.DisplayName(), u.Email, u.ID})
	}
	return table.Render()
}

func userGrantRun(username, permission string, grant bool) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	ctx := context.Background()

	u, err := resolveUser(ctx, a.store, username)
	if err != nil {
		return err
	}
	kind, err := models.ParsePermission(permission)
	if err != nil {
		return err
	}
	if kind.Scope() != models.ScopeGlobal {
		return fmt.Errorf("%s is a %s permission; assign it through a role", kind, kind.Scope())
	}

	if dryRun {
		ui.DryRunMsg("Would change %s on %s", kind, u.Username)
		return nil
	}
	if grant {
		if err := a.team.GrantGlobal(ctx, u.ID, kind); err != nil {
			return describeErr("grant permission", err)
		}
		ui.Success("Granted %s to %s", kind, output.Cyan(u.Username))
		return nil
	}
	if err := a.team.RevokeGlobal(ctx, u.ID, kind); err != nil {
		return describeErr("revoke permission", err)
	}
	ui.Success("Revoked %s from %s", kind, output.Cyan(u.Username))
	return nil
}
