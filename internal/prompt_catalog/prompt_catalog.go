// Package prompt_catalog loads named instruction/user-turn template pairs
// from a YAML definition and renders them with {variable} substitution. The
// catalog is immutable after load; reloading at process start is the only
// mutation path.
package prompt_catalog //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/lewisedginton/sentio/internal/storage_manager"
)

// PromptNotFoundError is returned when no template exists for a
// (category, variant) key.
type PromptNotFoundError struct {
	Category string
	Variant  string
}

func (e *PromptNotFoundError) Error() string {
	return fmt.Sprintf("prompt not found: %s.%s", e.Category, e.Variant)
}

// Template is one instruction/user-turn pair. Placeholders use {name} syntax.
type Template struct {
	Instruction string `yaml:"system"`
	Turn        string `yaml:"user"`
}

// RenderedPrompt is a template after substitution, ready for the generation
// client.
type RenderedPrompt struct {
	Category    string
	Variant     string
	Instruction string
	Turn        string
}

// Catalog holds the loaded templates keyed by "category.variant".
type Catalog struct {
	templates map[string]Template
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Load reads the prompt definition file through a FileProvider and parses it.
// The file maps "category.variant" keys to {system, user} pairs. Templates
// with an empty instruction are rejected at load so misconfiguration surfaces
// at startup rather than mid-conversation.
func Load(ctx context.Context, provider storage_manager.FileProvider, path string) (*Catalog, error) {
	data, err := provider.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt definitions %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw YAML.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt definitions: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("prompt definitions are empty")
	}

	for key, tmpl := range raw {
		if tmpl.Instruction == "" {
			return nil, fmt.Errorf("prompt %s has an empty system template", key)
		}
	}

	return &Catalog{templates: raw}, nil
}

// Keys returns the loaded template keys, sorted, for startup logging.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.templates))
	for key := range c.templates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether a template exists for the key.
func (c *Catalog) Has(category, variant string) bool {
	_, ok := c.templates[category+"."+variant]
	return ok
}

// Render substitutes context values into the template for (category, variant).
// Substitution is best effort: unresolved {placeholder} tokens are left
// verbatim so a misconfigured template is visible in the output instead of
// silently dropped. Structured values are serialized as JSON.
func (c *Catalog) Render(category, variant string, context map[string]any) (*RenderedPrompt, error) {
	tmpl, ok := c.templates[category+"."+variant]
	if !ok {
		return nil, &PromptNotFoundError{Category: category, Variant: variant}
	}

	return &RenderedPrompt{
		Category:    category,
		Variant:     variant,
		Instruction: substitute(tmpl.Instruction, context),
		Turn:        substitute(tmpl.Turn, context),
	}, nil
}

func substitute(template string, context map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		value, ok := context[name]
		if !ok {
			return token
		}
		return stringify(value)
	})
}

// stringify renders a context value for substitution. Scalars keep their
// natural text form; structured values become canonical JSON so memory
// sections can be dropped into a prompt directly.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
