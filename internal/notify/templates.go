package notify

import (
	"text/template"

	"github.com/joescharf/scrum/internal/models"
)

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) mailTemplate {
	return mailTemplate{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

// mailData is the value every template is executed against.
type mailData struct {
	Project *models.Project
	Story   *models.UserStory
	Actor   string
	Link    string
	Extra   map[string]string
}

const footer = `{{if .Link}}
{{.Link}}
{{end}}`

// Events without a template are published but not mailed.
var templates = map[models.EventType]mailTemplate{
	models.EventStoryChanged: mustTemplate("changed",
		`Changes to user story: {{.Story.Name}} - {{.Project.ShortName}}`,
		`{{.Actor}} changed the user story "{{.Story.Name}}" in project {{.Project.ShortName}}.

Changed: {{index .Extra "changes"}}
Priority: {{.Story.Priority}}
Estimated hours: {{.Story.EstimatedHours}}
`+footer),

	models.EventStoryProgress: mustTemplate("progress",
		`Activity recorded: {{.Story.Name}} - {{.Project.ShortName}}`,
		`{{.Actor}} recorded {{index .Extra "hours"}} hours on "{{.Story.Name}}".

State: {{.Story.State}} / {{.Story.ActivityState}}
Progress: {{.Story.Progress}}% ({{.Story.RecordedHours}} of {{.Story.EstimatedHours}} hours)
{{with index .Extra "message"}}
{{.}}
{{end}}`+footer),

	models.EventStoryApproved: mustTemplate("approved",
		`User story approved: {{.Story.Name}} - {{.Project.ShortName}}`,
		`{{.Actor}} approved the user story "{{.Story.Name}}" in project {{.Project.ShortName}}.
{{with index .Extra "reason"}}
{{.}}
{{end}}`+footer),

	models.EventStoryRejected: mustTemplate("rejected",
		`User story rejected: {{.Story.Name}} - {{.Project.ShortName}}`,
		`{{.Actor}} rejected the user story "{{.Story.Name}}" in project {{.Project.ShortName}}.
The story is back in progress and its current activity restarts.
{{with index .Extra "reason"}}
Reason: {{.}}
{{end}}`+footer),

	models.EventStoryCancelled: mustTemplate("cancelled",
		`User story cancelled: {{.Story.Name}} - {{.Project.ShortName}}`,
		`{{.Actor}} cancelled the user story "{{.Story.Name}}" in project {{.Project.ShortName}}.
{{with index .Extra "reason"}}
Reason: {{.}}
{{end}}`+footer),
}
