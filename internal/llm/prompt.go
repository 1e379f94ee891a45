package llm

import (
	"bytes"
	"text/template"
)

const promptTemplate = `
You are a helpful assistant representing the {{.Team}} team.
Use the context below to answer the user's question accurately.
If the question is irrelevant or if answer not found in context, politely decline and ask them to contact the team.
The team details are (if in case):
main members to contact: {{.Contacts}}.

Context:
{{.Context}}

Question: {{.Question}}

Answer:
`

// Persona names the team the assistant speaks for.
type Persona struct {
	Team     string
	Contacts string
}

// Prompt renders the grounded question prompt.
type Prompt struct {
	persona Persona
	tmpl    *template.Template
}

func NewPrompt(p Persona) *Prompt {
	return &Prompt{
		persona: p,
		tmpl:    template.Must(template.New("prompt").Parse(promptTemplate)),
	}
}

// Render fills the template with the retrieved context and the question.
func (p *Prompt) Render(context, question string) (string, error) {
	var buf bytes.Buffer
	err := p.tmpl.Execute(&buf, struct {
		Persona
		Context  string
		Question string
	}{p.persona, context, question})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
