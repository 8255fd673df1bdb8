package analysis

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/iago/lead-intel/internal/domain"
)

//go:embed prompts/*.tmpl
var embeddedPrompts embed.FS

const (
	instructionsTemplate = "instructions.tmpl"
	inputTemplate        = "input.tmpl"
)

type promptSource struct {
	Title   string
	URL     string
	Content string
}

type promptData struct {
	Prompt       string
	IncludeLeads bool
	Sources      []promptSource
}

// templates loads prompt templates from dir when set, falling back to the
// embedded defaults.
type templates struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*template.Template
}

func newTemplates(dir string) *templates {
	return &templates{dir: strings.TrimSpace(dir), cache: map[string]*template.Template{}}
}

func (t *templates) render(name string, data any) (string, error) {
	tmpl, err := t.load(name)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(out.String()), nil
}

func (t *templates) load(name string) (*template.Template, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tmpl, ok := t.cache[name]; ok {
		return tmpl, nil
	}

	var (
		raw []byte
		err error
	)
	if t.dir != "" {
		raw, err = os.ReadFile(filepath.Join(t.dir, name))
	}
	if t.dir == "" || os.IsNotExist(err) {
		raw, err = embeddedPrompts.ReadFile("prompts/" + name)
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	tmpl, err := template.New(name).Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	t.cache[name] = tmpl
	return tmpl, nil
}

// aggregateSources packs sources into the prompt in order, cutting each one
// at perSource characters and stopping once total characters are used.
func aggregateSources(sources []domain.Source, perSource, total int) []promptSource {
	out := make([]promptSource, 0, len(sources))
	remaining := total
	for _, source := range sources {
		content := strings.TrimSpace(source.Content)
		if content == "" {
			continue
		}
		if remaining <= 0 {
			break
		}
		limit := min(perSource, remaining)
		content = truncateAtWord(content, limit)
		remaining -= len(content)
		out = append(out, promptSource{
			Title:   firstNonEmpty(source.Title, source.URL),
			URL:     source.URL,
			Content: content,
		})
	}
	return out
}
