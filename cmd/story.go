package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/attachment"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/output"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
)

var (
	storyDescription    string
	storyPriority       string
	storyBusinessValue  int
	storyTechValue      int
	storyEstimatedHours int
	storyName           string

	storySprint    string
	storyDeveloper string
	storyState     string

	progressHours   int
	progressState   string
	progressMessage string

	storyReason string

	attachName     string
	attachDesc     string
	attachKind     string
	attachLanguage string
)

var storyCmd = &cobra.Command{
	Use:     "story",
	Aliases: []string{"us"},
	Short:   "Work with user stories",
	Long: `Create and edit user stories, record progress on them, and approve,
reject, or cancel them. Every command acts as the user given by --as.`,
}

var storyAddCmd = &cobra.Command{
	Use:   "add <project> <name>",
	Short: "Create a user story",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyAddRun(args[0], args[1])
	},
}

var storyEditCmd = &cobra.Command{
	Use:   "edit <story-id>",
	Short: "Edit a user story's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyEditRun(cmd, args[0])
	},
}

var storyListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List a project's user stories",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyListRun(args[0])
	},
}

var storyPendingCmd = &cobra.Command{
	Use:   "pending <project>",
	Short: "List stories waiting for approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyPendingRun(args[0])
	},
}

var storyShowCmd = &cobra.Command{
	Use:   "show <story-id>",
	Short: "Show a user story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyShowRun(args[0])
	},
}

var storyProgressCmd = &cobra.Command{
	Use:   "progress <story-id>",
	Short: "Record worked hours and the activity state",
	Long: `Record hours worked on a story and move it within its current activity.
Marking the activity done advances the story to the next activity or, at the
last activity, sends it for approval.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyProgressRun(args[0])
	},
}

var storyApproveCmd = &cobra.Command{
	Use:   "approve <story-id>",
	Short: "Approve a story pending approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyTransitionRun(args[0], "approve")
	},
}

var storyRejectCmd = &cobra.Command{
	Use:   "reject <story-id>",
	Short: "Reject a story pending approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyTransitionRun(args[0], "reject")
	},
}

var storyCancelCmd = &cobra.Command{
	Use:   "cancel <story-id>",
	Short: "Cancel a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyTransitionRun(args[0], "cancel")
	},
}

var storyDeleteCmd = &cobra.Command{
	Use:     "delete <story-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a story",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyDeleteRun(args[0])
	},
}

var storyAssignCmd = &cobra.Command{
	Use:   "assign <story-id> <developer>",
	Short: "Change the developer of a story",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyAssignRun(args[0], args[1])
	},
}

var storyNotesCmd = &cobra.Command{
	Use:   "notes <story-id>",
	Short: "Show the progress notes of a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyNotesRun(args[0])
	},
}

var storyRevisionsCmd = &cobra.Command{
	Use:   "revisions <story-id>",
	Short: "Show the revision history of a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyRevisionsRun(args[0])
	},
}

var storyRestoreCmd = &cobra.Command{
	Use:   "restore <story-id> <revision-id>",
	Short: "Restore the fields of a past revision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyRestoreRun(args[0], args[1])
	},
}

var storyAttachCmd = &cobra.Command{
	Use:   "attach <story-id> <file>",
	Short: "Attach a file to a story",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyAttachRun(args[0], args[1])
	},
}

var storyAttachmentsCmd = &cobra.Command{
	Use:   "attachments <story-id>",
	Short: "List a story's attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storyAttachmentsRun(args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{storyAddCmd, storyEditCmd} {
		c.Flags().StringVarP(&storyDescription, "description", "d", "", "Description")
		c.Flags().StringVarP(&storyPriority, "priority", "p", "low", "Priority: low, medium, high")
		c.Flags().IntVar(&storyBusinessValue, "business-value", 0, "Business value")
		c.Flags().IntVar(&storyTechValue, "technical-value", 0, "Technical value")
		c.Flags().IntVar(&storyEstimatedHours, "hours", 0, "Estimated hours")
	}
	storyEditCmd.Flags().StringVar(&storyName, "name", "", "New name")

	storyListCmd.Flags().StringVar(&storySprint, "sprint", "", "Filter by sprint ID")
	storyListCmd.Flags().StringVar(&storyDeveloper, "developer", "", "Filter by developer")
	storyListCmd.Flags().StringVar(&storyState, "state", "", "Filter by state")

	storyProgressCmd.Flags().IntVar(&progressHours, "hours", 0, "Hours worked since the last report")
	storyProgressCmd.Flags().StringVarP(&progressState, "state", "s", "doing", "Activity state: todo, doing, done")
	storyProgressCmd.Flags().StringVarP(&progressMessage, "message", "m", "", "Progress note")

	for _, c := range []*cobra.Command{storyRejectCmd, storyCancelCmd} {
		c.Flags().StringVarP(&storyReason, "reason", "r", "", "Reason, included in the notification")
	}

	storyAttachCmd.Flags().StringVar(&attachName, "name", "", "Display name (default: file name)")
	storyAttachCmd.Flags().StringVarP(&attachDesc, "description", "d", "", "Description")
	storyAttachCmd.Flags().StringVarP(&attachKind, "kind", "k", string(models.AttachmentOther), "Kind: img, text, misc, src")
	storyAttachCmd.Flags().StringVarP(&attachLanguage, "language", "l", "", "Source language (kind src only)")

	storyCmd.AddCommand(storyAddCmd, storyEditCmd, storyListCmd, storyPendingCmd, storyShowCmd,
		storyProgressCmd, storyApproveCmd, storyRejectCmd, storyCancelCmd, storyDeleteCmd,
		storyAssignCmd, storyNotesCmd, storyRevisionsCmd, storyRestoreCmd,
		storyAttachCmd, storyAttachmentsCmd)
	rootCmd.AddCommand(storyCmd)
}

// withActor wires the services and resolves the acting user.
func withActor() (*app, *models.User, error) {
	a, err := newApp(nil)
	if err != nil {
		return nil, nil, err
	}
	actor, err := currentActor(context.Background(), a.store)
	if err != nil {
		return nil, nil, err
	}
	return a, actor, nil
}

// describeErr adds the error code so scripts can match on it.
func describeErr(action string, err error) error {
	if code := apperrors.CodeOf(err); code != apperrors.CodeInternal {
		return fmt.Errorf("%s [%s]: %w", action, code, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func storyAddRun(projectName, name string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, a.store, projectName)
	if err != nil {
		return err
	}
	prio, err := models.ParsePriority(storyPriority)
	if err != nil {
		return err
	}
	fields := models.StoryFields{
		Name:           name,
		Description:    storyDescription,
		Priority:       prio,
		BusinessValue:  storyBusinessValue,
		TechnicalValue: storyTechValue,
		EstimatedHours: storyEstimatedHours,
	}

	if dryRun {
		ui.DryRunMsg("Would create story %q in %s", name, p.ShortName)
		return nil
	}
	us, err := a.stories.Create(ctx, actor.ID, p.ID, fields)
	if err != nil {
		return describeErr("create story", err)
	}
	ui.Success("Created story %s (%s)", output.Cyan(us.Name), us.ID)
	if us.Priority != prio {
		ui.Warning("Priority set to %s: %s may not prioritize stories in %s", us.Priority, actor.Username, p.ShortName)
	}
	return nil
}

func storyEditRun(cmd *cobra.Command, id string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}

	var patch story.Patch
	flags := cmd.Flags()
	if flags.Changed("name") {
		patch.Name = &storyName
	}
	if flags.Changed("description") {
		patch.Description = &storyDescription
	}
	if flags.Changed("priority") {
		prio, err := models.ParsePriority(storyPriority)
		if err != nil {
			return err
		}
		patch.Priority = &prio
	}
	if flags.Changed("business-value") {
		patch.BusinessValue = &storyBusinessValue
	}
	if flags.Changed("technical-value") {
		patch.TechnicalValue = &storyTechValue
	}
	if flags.Changed("hours") {
		patch.EstimatedHours = &storyEstimatedHours
	}

	if dryRun {
		ui.DryRunMsg("Would edit story %s", id)
		return nil
	}
	us, err := a.stories.Edit(context.Background(), actor.ID, id, patch)
	if err != nil {
		return describeErr("edit story", err)
	}
	ui.Success("Updated story %s", output.Cyan(us.Name))
	return nil
}

func storyListRun(projectName string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s := a.store

	p, err := resolveProject(ctx, s, projectName)
	if err != nil {
		return err
	}
	filter := store.StoryFilter{ProjectID: p.ID, SprintID: storySprint}
	if storyDeveloper != "" {
		u, err := resolveUser(ctx, s, storyDeveloper)
		if err != nil {
			return err
		}
		filter.DeveloperID = u.ID
	}
	if storyState != "" {
		st, err := models.ParseStoryState(storyState)
		if err != nil {
			return err
		}
		filter.State = &st
	}

	stories, err := a.stories.List(ctx, actor.ID, filter)
	if err != nil {
		return describeErr("list stories", err)
	}
	return printStories(ctx, s, stories)
}

func storyPendingRun(projectName string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, a.store, projectName)
	if err != nil {
		return err
	}
	stories, err := a.stories.ListPending(ctx, actor.ID, p.ID)
	if err != nil {
		return describeErr("list pending", err)
	}
	return printStories(ctx, a.store, stories)
}

func printStories(ctx context.Context, s store.Store, stories []*models.UserStory) error {
	if len(stories) == 0 {
		ui.Info("No stories found.")
		return nil
	}
	table := ui.Table([]string{"Story", "Priority", "State", "Activity", "Developer", "Progress", "ID"})
	for _, us := range stories {
		dev := "-"
		if us.DeveloperID != "" {
			dev = us.DeveloperID
			if u, err := s.GetUser(ctx, us.DeveloperID); err == nil {
				dev = u.Username
			}
		}
		activity := "-"
		if us.ActivityID != "" {
			if act, err := s.GetActivity(ctx, us.ActivityID); err == nil {
				activity = act.Name + " " + output.ActivityColor(us.ActivityState.String())
			}
		}
		table.Append([]string{
			output.Cyan(us.Name),
			us.Priority.String(),
			output.StateColor(us.State.String()),
			activity,
			dev,
			output.ProgressBar(us.Progress(), 10),
			us.ID,
		})
	}
	return table.Render()
}

func storyShowRun(id string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s := a.store

	us, err := a.stories.Get(ctx, actor.ID, id)
	if err != nil {
		return describeErr("show story", err)
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(us.Name))
	if us.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", us.Description)
	}
	fmt.Fprintf(ui.Out, "  State:      %s\n", output.StateColor(us.State.String()))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", us.Priority)
	fmt.Fprintf(ui.Out, "  Values:     business %d, technical %d\n", us.BusinessValue, us.TechnicalValue)
	fmt.Fprintf(ui.Out, "  Hours:      %d of %d\n", us.RecordedHours, us.EstimatedHours)
	fmt.Fprintf(ui.Out, "  Progress:   %s\n", output.ProgressBar(us.Progress(), 20))
	if us.DeveloperID != "" {
		dev := us.DeveloperID
		if u, err := s.GetUser(ctx, us.DeveloperID); err == nil {
			dev = u.DisplayName()
		}
		fmt.Fprintf(ui.Out, "  Developer:  %s\n", dev)
	}
	if us.SprintID != "" {
		if sp, err := s.GetSprint(ctx, us.SprintID); err == nil {
			fmt.Fprintf(ui.Out, "  Sprint:     %s (%s to %s)\n", sp.Name, sp.StartAt.Format(dateLayout), sp.EndAt.Format(dateLayout))
		}
	}
	if us.ActivityID != "" {
		if act, err := s.GetActivity(ctx, us.ActivityID); err == nil {
			fmt.Fprintf(ui.Out, "  Activity:   %s (%s)\n", act.Name, output.ActivityColor(us.ActivityState.String()))
		}
	}
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", timeAgo(us.UpdatedAt))
	fmt.Fprintf(ui.Out, "  ID:         %s\n", us.ID)
	return nil
}

func storyProgressRun(id string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	as, err := models.ParseActivityState(progressState)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would record %dh (%s) on story %s", progressHours, as, id)
		return nil
	}
	us, err := a.stories.RecordProgress(context.Background(), actor.ID, id, story.Progress{
		Hours:         progressHours,
		ActivityState: as,
		Message:       progressMessage,
	})
	if err != nil {
		return describeErr("record progress", err)
	}
	ui.Success("Recorded progress on %s: %s, %s", output.Cyan(us.Name),
		output.StateColor(us.State.String()), output.ProgressBar(us.Progress(), 10))
	return nil
}

func storyTransitionRun(id, action string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would %s story %s", action, id)
		return nil
	}

	ctx := context.Background()
	var us *models.UserStory
	switch action {
	case "approve":
		us, err = a.stories.Approve(ctx, actor.ID, id)
	case "reject":
		us, err = a.stories.Reject(ctx, actor.ID, id, storyReason)
	case "cancel":
		us, err = a.stories.Cancel(ctx, actor.ID, id, storyReason)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return describeErr(action+" story", err)
	}
	ui.Success("Story %s is now %s", output.Cyan(us.Name), output.StateColor(us.State.String()))
	return nil
}

func storyDeleteRun(id string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete story %s", id)
		return nil
	}
	if err := a.stories.Delete(context.Background(), actor.ID, id); err != nil {
		return describeErr("delete story", err)
	}
	ui.Success("Deleted story %s", id)
	return nil
}

func storyAssignRun(id, developer string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	dev, err := resolveUser(ctx, a.store, developer)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would assign story %s to %s", id, dev.Username)
		return nil
	}
	us, err := a.stories.Assign(ctx, actor.ID, id, dev.ID)
	if err != nil {
		return describeErr("assign story", err)
	}
	ui.Success("Assigned %s to %s", output.Cyan(us.Name), dev.Username)
	return nil
}

func storyNotesRun(id string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	notes, err := a.stories.Notes(context.Background(), actor.ID, id)
	if err != nil {
		return describeErr("list notes", err)
	}
	if len(notes) == 0 {
		ui.Info("No notes on story %s.", id)
		return nil
	}
	table := ui.Table([]string{"When", "Hours", "Total", "State", "Activity", "Message"})
	for _, n := range notes {
		table.Append([]string{
			timeAgo(n.CreatedAt),
			fmt.Sprintf("%+d", n.HoursDelta),
			fmt.Sprintf("%d", n.RecordedHours),
			output.StateColor(n.State.String()),
			output.ActivityColor(n.ActivityState.String()),
			n.Message,
		})
	}
	return table.Render()
}

func storyRevisionsRun(id string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	revs, err := a.stories.Revisions(ctx, actor.ID, id)
	if err != nil {
		return describeErr("list revisions", err)
	}

	table := ui.Table([]string{"#", "When", "By", "Comment", "Name", "Priority", "Hours", "ID"})
	for _, r := range revs {
		by := r.ActorID
		if u, err := a.store.GetUser(ctx, r.ActorID); err == nil {
			by = u.Username
		}
		table.Append([]string{
			fmt.Sprintf("%d", r.Seq),
			timeAgo(r.CreatedAt),
			by,
			r.Comment,
			r.Fields.Name,
			r.Fields.Priority.String(),
			fmt.Sprintf("%d", r.Fields.EstimatedHours),
			r.ID,
		})
	}
	return table.Render()
}

func storyRestoreRun(id, revisionID string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would restore story %s to revision %s", id, revisionID)
		return nil
	}
	us, err := a.stories.Restore(context.Background(), actor.ID, id, revisionID)
	if err != nil {
		return describeErr("restore story", err)
	}
	ui.Success("Restored %s", output.Cyan(us.Name))
	return nil
}

func storyAttachRun(id, path string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	name := attachName
	if name == "" {
		name = filepath.Base(path)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if dryRun {
		ui.DryRunMsg("Would attach %s (%s) to story %s", name, formatBytes(int64(len(data))), id)
		return nil
	}
	att, err := a.attachments.Add(context.Background(), actor.ID, id, attachment.Upload{
		Name:        name,
		Description: attachDesc,
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Kind:        models.AttachmentKind(strings.ToLower(attachKind)),
		Language:    models.Language(strings.ToLower(attachLanguage)),
		Data:        data,
	})
	if err != nil {
		return describeErr("attach file", err)
	}
	ui.Success("Attached %s (%s)", output.Cyan(att.Name), formatBytes(att.Size))
	return nil
}

func storyAttachmentsRun(id string) error {
	a, actor, err := withActor()
	if err != nil {
		return err
	}
	list, err := a.attachments.List(context.Background(), actor.ID, id)
	if err != nil {
		return describeErr("list attachments", err)
	}
	if len(list) == 0 {
		ui.Info("No attachments on story %s.", id)
		return nil
	}
	table := ui.Table([]string{"Name", "Kind", "Language", "Size", "Added", "ID"})
	for _, att := range list {
		table.Append([]string{
			output.Cyan(att.Name),
			string(att.Kind),
			string(att.Language),
			formatBytes(att.Size),
			timeAgo(att.CreatedAt),
			att.ID,
		})
	}
	return table.Render()
}
