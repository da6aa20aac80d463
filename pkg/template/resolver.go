package template

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chat-escalation-engine/pkg/errs"
)

// Entry is one reply template. Inactive entries are treated as missing
// so operators can retire a text without deleting it.
type Entry struct {
	Text   string `yaml:"text"`
	Active *bool  `yaml:"active,omitempty"`
}

func (e Entry) active() bool {
	return e.Active == nil || *e.Active
}

// Vocabulary holds the locale-specific token sets recognized as
// commands. The lists are operator-edited configuration, not code.
type Vocabulary struct {
	Cancel   []string `yaml:"cancel"`
	Skip     []string `yaml:"skip"`
	Escalate []string `yaml:"escalate"`
	Ticket   []string `yaml:"ticket"`
	Continue []string `yaml:"continue"`
	End      []string `yaml:"end"`
}

// Resolver maps symbolic keys to rendered reply strings.
type Resolver struct {
	entries  map[string]Entry
	fallback string
	vocab    Vocabulary
}

type fileFormat struct {
	Fallback   string           `yaml:"fallback"`
	Templates  map[string]Entry `yaml:"templates"`
	Vocabulary *Vocabulary      `yaml:"vocabulary"`
}

// NewDefault returns a resolver with the compiled-in templates and
// vocabulary.
func NewDefault() *Resolver {
	return &Resolver{
		entries:  defaultTemplates(),
		fallback: defaultFallback,
		vocab:    defaultVocabulary(),
	}
}

// LoadFile reads a yaml template file and overlays it on the defaults:
// keys present in the file win, everything else keeps its default.
func LoadFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates file: %w", err)
	}
	r := NewDefault()
	for key, entry := range f.Templates {
		r.entries[key] = entry
	}
	if f.Fallback != "" {
		r.fallback = f.Fallback
	}
	if f.Vocabulary != nil {
		r.vocab = *f.Vocabulary
	}
	return r, nil
}

// Render resolves key and substitutes {name}-style tokens from vars.
// Unresolved tokens are left verbatim: a missing variable must never
// break a live conversation.
func (r *Resolver) Render(key string, vars map[string]string) (string, error) {
	entry, ok := r.entries[key]
	if !ok || !entry.active() {
		return "", fmt.Errorf("template %q: %w", key, errs.ErrTemplateNotFound)
	}
	return interpolate(entry.Text, vars), nil
}

// FallbackText is the generic reply used when a template key cannot be
// resolved.
func (r *Resolver) FallbackText() string {
	return r.fallback
}

func (r *Resolver) Vocab() Vocabulary {
	return r.vocab
}

func interpolate(text string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(text, "{") {
		return text
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			b.WriteString(text)
			break
		}
		closing := strings.IndexByte(text[open:], '}')
		if closing < 0 {
			b.WriteString(text)
			break
		}
		closing += open
		b.WriteString(text[:open])
		token := text[open+1 : closing]
		if value, ok := vars[token]; ok {
			b.WriteString(value)
		} else {
			b.WriteString(text[open : closing+1])
		}
		text = text[closing+1:]
	}
	return b.String()
}

// Matches reports whether input belongs to the given token set. The
// comparison is case-insensitive on the trimmed input; tokens of three
// or more runes also match as a standalone word, so "voglio parlare con
// operatore" triggers the "operatore" token while short tokens like
// "no" only match the whole message.
func Matches(tokens []string, input string) bool {
	norm := strings.ToLower(strings.TrimSpace(input))
	var words []string
	for _, token := range tokens {
		tok := strings.ToLower(strings.TrimSpace(token))
		if norm == tok {
			return true
		}
		if len([]rune(tok)) < 3 {
			continue
		}
		if words == nil {
			words = strings.Fields(norm)
		}
		for _, w := range words {
			if w == tok {
				return true
			}
		}
	}
	return false
}
