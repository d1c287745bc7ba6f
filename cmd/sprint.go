package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/output"
	"github.com/joescharf/scrum/internal/sprint"
	"github.com/joescharf/scrum/internal/store"
)

const dateLayout = "2006-01-02"

var (
	sprintStart   string
	sprintName    string
	sprintAssigns []string
)

var sprintCmd = &cobra.Command{
	Use:   "sprint",
	Short: "Plan sprints",
	Long: `Create sprints and assign user stories to them. Each assignment names
a story, the developer who works on it, and the flow it follows:

  scrum sprint allocate web "Sprint 4" --start 2024-03-04 \
    --assign <story-id>:ana:<flow-id> --assign <story-id>:bob:<flow-id>

Assignments are all-or-nothing: if one is invalid nothing is saved.`,
}

var sprintAllocateCmd = &cobra.Command{
	Use:   "allocate <project> <name>",
	Short: "Create a sprint and assign stories to it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintAllocateRun(args[0], args[1])
	},
}

var sprintUpdateCmd = &cobra.Command{
	Use:   "update <sprint-id>",
	Short: "Rename or reschedule a sprint and assign more stories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintUpdateRun(args[0])
	},
}

var sprintListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List a project's sprints",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, actor, err := withActor()
		if err != nil {
			return err
		}
		ctx := context.Background()
		p, err := resolveProject(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		if err := ledger.New(a.store).Require(ctx, actor.ID, ledger.OnProject(p.ID, models.PermViewProject)); err != nil {
			return describeErr("list sprints", err)
		}
		sprints, err := a.sprints.List(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(sprints) == 0 {
			ui.Info("No sprints in %s.", p.ShortName)
			return nil
		}
		return printSprints(sprints)
	},
}

var sprintRemoveCmd = &cobra.Command{
	Use:     "remove <sprint-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a sprint that holds no stories",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, actor, err := withActor()
		if err != nil {
			return err
		}
		if dryRun {
			ui.DryRunMsg("Would remove sprint %s", args[0])
			return nil
		}
		if err := a.sprints.Remove(context.Background(), actor.ID, args[0]); err != nil {
			return describeErr("remove sprint", err)
		}
		ui.Success("Removed sprint %s", args[0])
		return nil
	},
}

func init() {
	sprintAllocateCmd.Flags().StringVar(&sprintStart, "start", "", "Start date (YYYY-MM-DD, default today)")
	sprintAllocateCmd.Flags().StringArrayVar(&sprintAssigns, "assign", nil, "story:developer:flow (repeatable)")
	sprintUpdateCmd.Flags().StringVar(&sprintStart, "start", "", "New start date (YYYY-MM-DD)")
	sprintUpdateCmd.Flags().StringVar(&sprintName, "name", "", "New sprint name")
	sprintUpdateCmd.Flags().StringArrayVar(&sprintAssigns, "assign", nil, "story:developer:flow (repeatable)")

	sprintCmd.AddCommand(sprintAllocateCmd)
	sprintCmd.AddCommand(sprintUpdateCmd)
	sprintCmd.AddCommand(sprintListCmd)
	sprintCmd.AddCommand(sprintRemoveCmd)
	rootCmd.AddCommand(sprintCmd)
}

// parseAssignments turns story:developer:flow triples into assignments,
// resolving developer usernames.
func parseAssignments(ctx context.Context, s store.Store, raw []string) ([]sprint.Assignment, error) {
	out := make([]sprint.Assignment, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid assignment %q: want story:developer:flow", r)
		}
		dev, err := resolveUser(ctx, s, parts[1])
		if err != nil {
			return nil, err
		}
		out = append(out, sprint.Assignment{StoryID: parts[0], DeveloperID: dev.ID, FlowID: parts[2]})
	}
	return out, nil
}

func parseDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", v)
	}
	return t, nil
}

func sprintAllocateRun(projectName, name string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, a.store)
	if err != nil {
		return err
	}
	p, err := resolveProject(ctx, a.store, projectName)
	if err != nil {
		return err
	}
	start := time.Now()
	if sprintStart != "" {
		if start, err = parseDate(sprintStart); err != nil {
			return err
		}
	}
	assignments, err := parseAssignments(ctx, a.store, sprintAssigns)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create sprint %s in %s from %s to %s with %d stories",
			name, p.ShortName, start.Format(dateLayout), sprint.EndAt(start, p.SprintDays).Format(dateLayout), len(assignments))
		return nil
	}

	sp, stories, err := a.sprints.Allocate(ctx, actor.ID, p.ID, sprint.Draft{Name: name, StartAt: start}, assignments)
	if err != nil {
		return fmt.Errorf("allocate sprint: %w", err)
	}
	ui.Success("Created sprint %s (%s to %s) with %d stories",
		output.Cyan(sp.Name), sp.StartAt.Format(dateLayout), sp.EndAt.Format(dateLayout), len(stories))
	ui.VerboseLog("ID: %s", sp.ID)
	return nil
}

func sprintUpdateRun(sprintID string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, a.store)
	if err != nil {
		return err
	}
	draft := sprint.Draft{Name: sprintName}
	if sprintStart != "" {
		if draft.StartAt, err = parseDate(sprintStart); err != nil {
			return err
		}
	}
	assignments, err := parseAssignments(ctx, a.store, sprintAssigns)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would update sprint %s and assign %d stories", sprintID, len(assignments))
		return nil
	}

	sp, stories, err := a.sprints.Update(ctx, actor.ID, sprintID, draft, assignments)
	if err != nil {
		return fmt.Errorf("update sprint: %w", err)
	}
	ui.Success("Updated sprint %s (%s to %s), %d stories assigned",
		output.Cyan(sp.Name), sp.StartAt.Format(dateLayout), sp.EndAt.Format(dateLayout), len(stories))
	return nil
}

func printSprints(sprints []*models.Sprint) error {
	now := time.Now()
	table := ui.Table([]string{"Sprint", "Start", "End", "Status", "ID"})
	for _, sp := range sprints {
		status := output.Yellow("planned")
		switch {
		case sp.Contains(now):
			status = output.Green("running")
		case now.After(sp.EndAt):
			status = "finished"
		}
		table.Append([]string{output.Cyan(sp.Name), sp.StartAt.Format(dateLayout), sp.EndAt.Format(dateLayout), status, sp.ID})
	}
	return table.Render()
}
