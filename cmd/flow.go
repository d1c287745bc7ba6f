package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/output"
	"github.com/joescharf/scrum/internal/workflow"
)

var (
	flowProject    string
	flowActivities []string
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Manage workflows",
	Long: `A flow is an ordered list of activities a user story moves through.
Flows without a project are templates that projects can copy.`,
}

var flowAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a flow (a template unless --project is given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return flowAddRun(args[0])
	},
}

var flowActivityCmd = &cobra.Command{
	Use:   "activity <flow-id> <name>",
	Short: "Append an activity to a flow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, actor, err := withActor()
		if err != nil {
			return err
		}
		if dryRun {
			ui.DryRunMsg("Would append activity %s", args[1])
			return nil
		}
		act, err := a.flows.AppendActivity(context.Background(), actor.ID, args[0], args[1])
		if err != nil {
			return describeErr("add activity", err)
		}
		ui.Success("Appended activity %s at position %d", output.Cyan(act.Name), act.Position)
		return nil
	},
}

var flowRemoveCmd = &cobra.Command{
	Use:     "remove <flow-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a flow that no story is moving through",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, actor, err := withActor()
		if err != nil {
			return err
		}
		if dryRun {
			ui.DryRunMsg("Would remove flow %s", args[0])
			return nil
		}
		if err := a.flows.RemoveFlow(context.Background(), actor.ID, args[0]); err != nil {
			return describeErr("remove flow", err)
		}
		ui.Success("Removed flow %s", args[0])
		return nil
	},
}

var flowListCmd = &cobra.Command{
	Use:     "list [project]",
	Aliases: []string{"ls"},
	Short:   "List a project's flows, or the templates when no project is given",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := ""
		if len(args) == 1 {
			project = args[0]
		}
		return flowListRun(project)
	},
}

var flowInstantiateCmd = &cobra.Command{
	Use:   "instantiate <template-id> <project> [name]",
	Short: "Copy a template flow into a project",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 3 {
			name = args[2]
		}
		return flowInstantiateRun(args[0], args[1], name)
	},
}

func init() {
	flowAddCmd.Flags().StringVar(&flowProject, "project", "", "Project the flow belongs to")
	flowAddCmd.Flags().StringSliceVarP(&flowActivities, "activity", "a", nil, "Activity names in order (repeatable)")

	flowCmd.AddCommand(flowAddCmd)
	flowCmd.AddCommand(flowActivityCmd)
	flowCmd.AddCommand(flowListCmd)
	flowCmd.AddCommand(flowInstantiateCmd)
	flowCmd.AddCommand(flowRemoveCmd)
	rootCmd.AddCommand(flowCmd)
}

func flowAddRun(name string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projectID := ""
	if flowProject != "" {
		p, err := resolveProject(ctx, a.store, flowProject)
		if err != nil {
			return err
		}
		projectID = p.ID
	}

	if dryRun {
		ui.DryRunMsg("Would create flow %s with activities: %s", name, strings.Join(flowActivities, " -> "))
		return nil
	}

	f, err := a.flows.CreateFlow(ctx, actor.ID, name, projectID, flowActivities...)
	if err != nil {
		return describeErr("add flow", err)
	}
	ui.Success("Created flow %s (%s)", output.Cyan(f.Name), f.ID)
	return nil
}

func flowListRun(projectName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	g := workflow.New(s, logger)

	var flows []*models.Flow
	if projectName == "" {
		flows, err = g.ListTemplates(ctx)
	} else {
		p, perr := resolveProject(ctx, s, projectName)
		if perr != nil {
			return perr
		}
		actor, aerr := currentActor(ctx, s)
		if aerr != nil {
			return aerr
		}
		if err := ledger.New(s).Require(ctx, actor.ID, ledger.OnProject(p.ID, models.PermViewProject)); err != nil {
			return describeErr("list flows", err)
		}
		flows, err = g.ListFlows(ctx, p.ID)
	}
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		ui.Info("No flows found.")
		return nil
	}

	table := ui.Table([]string{"Flow", "Activities", "ID"})
	for _, f := range flows {
		acts, _ := g.ActivitiesOf(ctx, f.ID)
		names := make([]string, len(acts))
		for i, a := range acts {
			names[i] = a.Name
		}
		table.Append([]string{output.Cyan(f.Name), strings.Join(names, " -> "), f.ID})
	}
	return table.Render()
}

func flowInstantiateRun(templateID, projectName, name string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, a.store, projectName)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would copy template %s into %s", templateID, p.ShortName)
		return nil
	}
	f, err := a.flows.Instantiate(ctx, actor.ID, templateID, p.ID, name)
	if err != nil {
		return describeErr("instantiate flow", err)
	}
	ui.Success("Created flow %s in %s (%s)", output.Cyan(f.Name), p.ShortName, f.ID)
	return nil
}
