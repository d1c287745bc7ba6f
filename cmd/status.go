package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/output"
)

var statusStale bool

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show project progress dashboard",
	Long: `Show a cross-project progress overview or detailed metrics for one project.

Without arguments, shows a summary table of all projects.
With a project name, shows hours, progress, and story counts per state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return statusProjectRun(args[0])
		}
		return statusOverviewRun()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusStale, "stale", false, "Show only stale projects (no activity in 7+ days)")
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects yet. Use 'scrum project add <short-name>' to get started.")
		return nil
	}

	calc := metrics.NewCalculator(s)
	table := ui.Table([]string{"Project", "Stories", "Hours", "Progress", "Pending", "Health", "Activity"})

	for _, p := range projects {
		sum, err := calc.Project(ctx, p.ID)
		if err != nil {
			ui.Warning("Skipped %s: %v", p.ShortName, err)
			continue
		}

		if statusStale && !sum.LastActivity.IsZero() && time.Since(sum.LastActivity) < 7*24*time.Hour {
			continue
		}

		activity := "n/a"
		if !sum.LastActivity.IsZero() {
			activity = timeAgo(sum.LastActivity)
		}
		table.Append([]string{
			output.Cyan(p.ShortName),
			fmt.Sprintf("%d", sum.Stories),
			fmt.Sprintf("%d/%d", sum.RecordedHours, sum.EstimatedHours),
			output.ProgressBar(sum.Progress, 10),
			fmt.Sprintf("%d", sum.ByState[models.StatePendingApproval]),
			output.HealthColor(sum.Health.Total),
			activity,
		})
	}

	return table.Render()
}

func statusProjectRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}
	sum, err := metrics.NewCalculator(s).Project(ctx, p.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.ShortName))
	fmt.Fprintf(ui.Out, "  Stories:    %d\n", sum.Stories)
	fmt.Fprintf(ui.Out, "  Hours:      %d recorded of %d estimated\n", sum.RecordedHours, sum.EstimatedHours)
	fmt.Fprintf(ui.Out, "  Progress:   %s\n", output.ProgressBar(sum.Progress, 20))
	fmt.Fprintf(ui.Out, "  Health:     %s (completion %d, activity %d, approvals %d, effort %d)\n",
		output.HealthColor(sum.Health.Total), sum.Health.Completion, sum.Health.ActivityRecency,
		sum.Health.ApprovalQueue, sum.Health.Effort)
	if !sum.LastActivity.IsZero() {
		fmt.Fprintf(ui.Out, "  Activity:   %s\n", timeAgo(sum.LastActivity))
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"State", "Stories"})
	for _, st := range []models.StoryState{
		models.StateInactive, models.StateInProgress, models.StatePendingApproval,
		models.StateApproved, models.StateCancelled,
	} {
		table.Append([]string{output.StateColor(st.String()), fmt.Sprintf("%d", sum.ByState[st])})
	}
	return table.Render()
}
