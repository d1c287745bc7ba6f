package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/output"
	"github.com/joescharf/scrum/internal/store"
)

var (
	projectLongName    string
	projectDescription string
	projectSprintDays  int
	projectStatus      string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  "Add, list, and show projects and their sprint configuration.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <short-name>",
	Short: "Add a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show project details, members, and sprints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status <name> <status>",
	Short: "Change a project's lifecycle status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectStatusRun(args[0], args[1])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectLongName, "name", "", "Long project name")
	projectAddCmd.Flags().StringVar(&projectDescription, "description", "", "Project description")
	projectAddCmd.Flags().IntVar(&projectSprintDays, "sprint-days", models.DefaultSprintDays, "Sprint length in days")
	projectAddCmd.Flags().StringVar(&projectStatus, "status", string(models.ProjectStatusEnProduction), "Project status")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectStatusCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(shortName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p := &models.Project{
		ShortName:   shortName,
		LongName:    projectLongName,
		Description: projectDescription,
		SprintDays:  projectSprintDays,
		Status:      models.ProjectStatus(projectStatus),
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add project: %s (%d-day sprints)", shortName, p.SprintDays)
		return nil
	}

	if err := s.CreateProject(context.Background(), p); err != nil {
		return fmt.Errorf("add project: %w", err)
	}

	ui.Success("Added project: %s", output.Cyan(shortName))
	ui.VerboseLog("ID: %s", p.ID)
	return nil
}

func projectListRun() error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s := a.store

	projects, err := a.team.VisibleProjects(ctx, actor.ID)
	if err != nil {
		return describeErr("list projects", err)
	}
	if len(projects) == 0 {
		ui.Info("No projects yet. Use 'scrum project add <short-name>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Long Name", "Status", "Sprint Days", "Members"})
	for _, p := range projects {
		members, _ := s.ListMemberships(ctx, p.ID)
		table.Append([]string{
			output.Cyan(p.ShortName),
			p.LongName,
			string(p.Status),
			fmt.Sprintf("%d", p.SprintDays),
			fmt.Sprintf("%d", len(members)),
		})
	}
	return table.Render()
}

func projectStatusRun(name, status string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, a.store, name)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would set %s to %s", p.ShortName, status)
		return nil
	}
	p, err = a.team.SetProjectStatus(ctx, actor.ID, p.ID, models.ProjectStatus(status))
	if err != nil {
		return describeErr("set project status", err)
	}
	ui.Success("Project %s is now %s", output.Cyan(p.ShortName), p.Status)
	return nil
}

func projectShowRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.ShortName))
	if p.LongName != "" {
		fmt.Fprintf(ui.Out, "  Name:        %s\n", p.LongName)
	}
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:        %s\n", p.Description)
	}
	fmt.Fprintf(ui.Out, "  Status:      %s\n", p.Status)
	fmt.Fprintf(ui.Out, "  Sprint days: %d\n", p.SprintDays)
	fmt.Fprintf(ui.Out, "  ID:          %s\n", p.ID)
	fmt.Fprintln(ui.Out)

	if err := printMembers(ctx, s, p); err != nil {
		return err
	}

	sprints, err := s.ListSprints(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(sprints) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "Sprints:")
		return printSprints(sprints)
	}
	return nil
}

func printMembers(ctx context.Context, s store.Store, p *models.Project) error {
	members, err := s.ListMemberships(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		ui.Info("No members. Use 'scrum member add %s <user> --role <role>'.", p.ShortName)
		return nil
	}

	table := ui.Table([]string{"User", "Email", "Roles", "Membership"})
	for _, m := range members {
		username, email := m.UserID, ""
		if u, err := s.GetUser(ctx, m.UserID); err == nil {
			username, email = u.Username, u.Email
		}
		table.Append([]string{output.Cyan(username), email, roleNames(ctx, s, m.RoleIDs), m.ID})
	}
	return table.Render()
}

func roleNames(ctx context.Context, s store.Store, ids []string) string {
	out := ""
	for i, id := range ids {
		name := id
		if r, err := s.GetRole(ctx, id); err == nil {
			name = r.Name
		}
		if i > 0 {
			out += ", "
		}
		out += name
	}
	if out == "" {
		return "-"
	}
	return out
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

// formatBytes returns a human-readable byte size string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
