package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

var (
	reportFormat  string
	exportType    string
	exportProject string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export projects, or the stories or sprints of one project, in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reports",
	Long:  "Generate summary reports of sprint progress.",
}

var reportSprintCmd = &cobra.Command{
	Use:   "sprint <sprint-id>",
	Short: "Summarize a sprint's stories, hours, and approvals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportSprintRun(args[0])
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "projects", "Data type: projects, stories, sprints")
	exportCmd.Flags().StringVar(&exportProject, "project", "", "Project for stories and sprints")
	rootCmd.AddCommand(exportCmd)

	reportCmd.AddCommand(reportSprintCmd)
	rootCmd.AddCommand(reportCmd)
}

type projectRow struct {
	ID         string `json:"id"`
	ShortName  string `json:"short_name"`
	LongName   string `json:"long_name"`
	Status     string `json:"status"`
	SprintDays int    `json:"sprint_days"`
	Created    string `json:"created"`
}

type storyRow struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Priority       string `json:"priority"`
	State          string `json:"state"`
	ActivityState  string `json:"activity_state"`
	EstimatedHours int    `json:"estimated_hours"`
	RecordedHours  int    `json:"recorded_hours"`
	Progress       int    `json:"progress"`
	SprintID       string `json:"sprint_id,omitempty"`
	DeveloperID    string `json:"developer_id,omitempty"`
}

type sprintRow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func exportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if exportType == "projects" {
		return exportProjects(ctx, s)
	}
	if exportProject == "" {
		return fmt.Errorf("--project is required for %s", exportType)
	}
	p, err := resolveProject(ctx, s, exportProject)
	if err != nil {
		return err
	}

	switch exportType {
	case "stories":
		return exportStories(ctx, s, p)
	case "sprints":
		return exportSprints(ctx, s, p)
	default:
		return fmt.Errorf("unknown export type: %s (use: projects, stories, sprints)", exportType)
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exportProjects(ctx context.Context, s store.Store) error {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}
	rows := make([]projectRow, len(projects))
	for i, p := range projects {
		rows[i] = projectRow{p.ID, p.ShortName, p.LongName, string(p.Status), p.SprintDays, p.CreatedAt.Format(dateLayout)}
	}

	switch reportFormat {
	case "json":
		return writeJSON(rows)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "ShortName", "LongName", "Status", "SprintDays", "Created"})
		for _, r := range rows {
			_ = w.Write([]string{r.ID, r.ShortName, r.LongName, r.Status, fmt.Sprintf("%d", r.SprintDays), r.Created})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Projects")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Name | Long Name | Status | Sprint Days |")
		fmt.Fprintln(ui.Out, "|------|-----------|--------|-------------|")
		for _, r := range rows {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %d |\n", r.ShortName, r.LongName, r.Status, r.SprintDays)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func toStoryRows(stories []*models.UserStory) []storyRow {
	rows := make([]storyRow, len(stories))
	for i, us := range stories {
		rows[i] = storyRow{
			ID:             us.ID,
			Name:           us.Name,
			Priority:       us.Priority.String(),
			State:          us.State.String(),
			ActivityState:  us.ActivityState.String(),
			EstimatedHours: us.EstimatedHours,
			RecordedHours:  us.RecordedHours,
			Progress:       us.Progress(),
			SprintID:       us.SprintID,
			DeveloperID:    us.DeveloperID,
		}
	}
	return rows
}

func exportStories(ctx context.Context, s store.Store, p *models.Project) error {
	stories, err := s.ListStories(ctx, store.StoryFilter{ProjectID: p.ID})
	if err != nil {
		return err
	}
	rows := toStoryRows(stories)

	switch reportFormat {
	case "json":
		return writeJSON(rows)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Name", "Priority", "State", "ActivityState", "Estimated", "Recorded", "Progress", "Sprint", "Developer"})
		for _, r := range rows {
			_ = w.Write([]string{r.ID, r.Name, r.Priority, r.State, r.ActivityState,
				fmt.Sprintf("%d", r.EstimatedHours), fmt.Sprintf("%d", r.RecordedHours), fmt.Sprintf("%d", r.Progress),
				r.SprintID, r.DeveloperID})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		writeStoryMarkdown("Stories of "+p.ShortName, rows)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func writeStoryMarkdown(title string, rows []storyRow) {
	fmt.Fprintf(ui.Out, "# %s\n", title)
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, "| Story | Priority | State | Hours | Progress |")
	fmt.Fprintln(ui.Out, "|-------|----------|-------|-------|----------|")
	for _, r := range rows {
		fmt.Fprintf(ui.Out, "| %s | %s | %s | %d/%d | %d%% |\n", r.Name, r.Priority, r.State, r.RecordedHours, r.EstimatedHours, r.Progress)
	}
}

func exportSprints(ctx context.Context, s store.Store, p *models.Project) error {
	sprints, err := s.ListSprints(ctx, p.ID)
	if err != nil {
		return err
	}
	rows := make([]sprintRow, len(sprints))
	for i, sp := range sprints {
		rows[i] = sprintRow{sp.ID, sp.Name, sp.StartAt.Format(dateLayout), sp.EndAt.Format(dateLayout)}
	}

	switch reportFormat {
	case "json":
		return writeJSON(rows)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Name", "Start", "End"})
		for _, r := range rows {
			_ = w.Write([]string{r.ID, r.Name, r.Start, r.End})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintf(ui.Out, "# Sprints of %s\n", p.ShortName)
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Sprint | Start | End |")
		fmt.Fprintln(ui.Out, "|--------|-------|-----|")
		for _, r := range rows {
			fmt.Fprintf(ui.Out, "| %s | %s | %s |\n", r.Name, r.Start, r.End)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func reportSprintRun(sprintID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sp, err := s.GetSprint(ctx, sprintID)
	if err != nil {
		return fmt.Errorf("sprint not found: %s", sprintID)
	}
	sum, err := metrics.NewCalculator(s).Sprint(ctx, sp.ID)
	if err != nil {
		return err
	}
	stories, err := s.ListStories(ctx, store.StoryFilter{SprintID: sp.ID})
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "# Sprint %s (%s to %s)\n", sp.Name, sp.StartAt.Format(dateLayout), sp.EndAt.Format(dateLayout))
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "- Stories: %d (%d approved, %d pending approval, %d in progress)\n", sum.Stories,
		sum.ByState[models.StateApproved], sum.ByState[models.StatePendingApproval], sum.ByState[models.StateInProgress])
	fmt.Fprintf(ui.Out, "- Hours: %d recorded of %d estimated\n", sum.RecordedHours, sum.EstimatedHours)
	fmt.Fprintf(ui.Out, "- Progress: %d%%\n", sum.Progress)
	fmt.Fprintln(ui.Out)
	writeStoryMarkdown("Stories", toStoryRows(stories))
	return nil
}
