package dialogrt

import (
	"bytes"
	"fmt"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TemplateEngine renders `say`-step text and generic response templates
// against flow-slot data, using text/template plus a golang.org/x/text/cases
// FuncMap (title/upper/lower) for locale-aware casing helpers. There is no
// channel-specific markup escaping to do here — output is plain text.
type TemplateEngine struct {
	funcs template.FuncMap
}

// NewTemplateEngine returns a TemplateEngine with the built-in case-folding
// helpers registered.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{funcs: defaultTemplateFuncs()}
}

func defaultTemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"title": func(s string) string { return cases.Title(language.Und).String(s) },
		"upper": func(s string) string { return cases.Upper(language.Und).String(s) },
		"lower": func(s string) string { return cases.Lower(language.Und).String(s) },
	}
}

// Render executes a text/template body against data, returning the
// rendered string.
func (te *TemplateEngine) Render(name, body string, data map[string]interface{}) (string, error) {
	tmpl, err := template.New(name).Funcs(te.funcs).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %q: %w", name, err)
	}
	return buf.String(), nil
}

// RenderSayStep renders a `say` step's declared text against the active
// flow's slot map.
func (te *TemplateEngine) RenderSayStep(step *StepDefinition, state *DialogueState) (string, error) {
	active := state.ActiveFlow()
	var data map[string]interface{}
	if active != nil {
		data = state.FlowSlots[active.FlowID]
	}
	return te.Render(step.ID, step.Text, data)
}
