package prompt

import "text/template"

var storyTemplate = template.Must(template.New("story").Parse(
	`Create a bedtime story for a {{.Age}}-year-old child about {{.Theme}}.
The story should be {{.Length}} in length, appropriate for children, have a positive message,
and end with a calming conclusion suitable for bedtime.
Respond with the story text only, in plain text or markdown.
{{- if .Prompt}}

{{.Prompt}}
{{- end}}
`))

var editTemplate = template.Must(template.New("edit").Parse(
	`Edit the following children's bedtime story according to these instructions: "{{.Instructions}}".
The story should remain appropriate for a {{.Age}}-year-old child, maintain the theme of {{.Theme}},
keep a {{.Length}} length, have a positive message, and end with a calming conclusion suitable for bedtime.
Respond with the full revised story only.

Existing story:
{{.Existing}}
`))

var tagsTemplate = template.Must(template.New("tags").Parse(
	`Read the following children's story and generate 3-5 relevant tags (single words or short phrases)
describing key elements, characters, emotions, or settings in the story.
Provide ONLY the tags as a comma-separated list with no additional text or explanation.

Story: {{.Excerpt}}
`))

var themeTagsTemplate = template.Must(template.New("theme-tags").Parse(
	`Generate 3-5 relevant tags for a children's story about {{.Theme}} for a {{.Age}}-year-old.
Provide ONLY the tags as a comma-separated list with no additional text.
`))

type storyData struct {
	Age    int
	Theme  string
	Length string
	Prompt string
}

type editData struct {
	Age          int
	Theme        string
	Length       string
	Instructions string
	Existing     string
}

type tagsData struct {
	Excerpt string
}

type themeTagsData struct {
	Age   int
	Theme string
}
