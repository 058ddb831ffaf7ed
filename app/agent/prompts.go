package agent

import (
	"fmt"
	"slices"
	"strings"
	"text/template"

	"docqa/types"
)

// DefaultSentinel is the answer templates ask for when the context does not
// cover the question.
const DefaultSentinel = "I don't know"

// Template is a registered prompt. The policy of answering only from context
// lives in the text, not in the engine.
type Template struct {
	ID       string
	Sentinel string
	tmpl     *template.Template
}

type promptData struct {
	Context  string
	Question string
}

func (t *Template) Render(question, context string) (string, error) {
	var b strings.Builder
	if err := t.tmpl.Execute(&b, promptData{Context: context, Question: question}); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.ID, err)
	}
	return b.String(), nil
}

// IsSentinel reports whether answer is the template's fallback phrase,
// ignoring case, surrounding quotes, spacing and trailing punctuation.
func (t *Template) IsSentinel(answer string) bool {
	return normalizeAnswer(answer) == normalizeAnswer(t.Sentinel)
}

func normalizeAnswer(s string) string {
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.Trim(s, " \"'`.!?")
}

var templates = map[string]*Template{}

func register(id, text string) {
	templates[id] = &Template{
		ID:       id,
		Sentinel: DefaultSentinel,
		tmpl:     template.Must(template.New(id).Parse(text)),
	}
}

func init() {
	register("default", `Use the following pieces of context to answer the question at the end.
Only use the context to answer. If the context does not contain the answer, or the question is unrelated to it, reply with exactly "I don't know" and nothing else.

Context:
{{.Context}}

Question: {{.Question}}
Answer:`)

	register("quantum_analyst", `You are an expert in quantum mechanics and have a good understanding of quantum algorithms.

Use the following pieces of context to answer the question at the end.
Note, you should only use the following context to generate an accurate answer.
{{.Context}}

Question: {{.Question}}
Always check whether the question is related to the context. If it is not, do not generate any answer and just respond with "I don't know".
`)
}

// LookupTemplate resolves a template id. An empty or unknown id is a
// configuration error.
func LookupTemplate(id string) (*Template, error) {
	if id == "" {
		return nil, types.Configf("prompt template id is required (one of %s)", strings.Join(TemplateIDs(), ", "))
	}
	t, ok := templates[id]
	if !ok {
		return nil, types.Configf("unknown prompt template %q (one of %s)", id, strings.Join(TemplateIDs(), ", "))
	}
	return t, nil
}

func TemplateIDs() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
