package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/scrum/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so assistants
can list stories, record progress, and approve or reject work. Tools act as
the user given by --as or the actor config key.

  {
    "mcpServers": {
      "scrum": { "command": "scrum", "args": ["mcp", "--as", "ana"] }
    }
  }

Available tools: scrum_list_stories, scrum_record_progress,
scrum_approve_story, scrum_reject_story, scrum_project_metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, actor, err := withActor()
		if err != nil {
			return err
		}
		return mcp.NewServer(a.store, a.stories, a.metrics, actor.ID).ServeStdio(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
