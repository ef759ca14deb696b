package intent

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales.yaml
var embeddedLocales []byte

// DefaultLocale is used when a reply's locale has no keyword sets.
const DefaultLocale = "en"

// Keywords holds the three keyword sets of one locale.
type Keywords struct {
	Affirmative []string `yaml:"affirmative"`
	Negative    []string `yaml:"negative"`
	Abort       []string `yaml:"abort"`
}

// Table maps a locale code to its keyword sets.
type Table struct {
	Default string              `yaml:"default"`
	Locales map[string]Keywords `yaml:"locales"`
}

// ParseTable decodes a YAML locale table and normalizes every keyword.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse locale table: %w", err)
	}
	locales := make(map[string]Keywords, len(t.Locales))
	for code, kw := range t.Locales {
		locales[normalize(code)] = Keywords{
			Affirmative: normalizeAll(kw.Affirmative),
			Negative:    normalizeAll(kw.Negative),
			Abort:       normalizeAll(kw.Abort),
		}
	}
	t.Locales = locales
	t.Default = normalize(t.Default)
	return &t, nil
}

// DefaultTable returns the embedded locale table.
func DefaultTable() *Table {
	t, err := ParseTable(embeddedLocales)
	if err != nil {
		panic(fmt.Sprintf("embedded locale table is invalid: %v", err))
	}
	return t
}

// LoadTable returns the embedded table with the locales of path layered on
// top. A locale present in the file replaces the embedded one wholesale.
func LoadTable(path string) (*Table, error) {
	base := DefaultTable()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locale table %s: %w", path, err)
	}
	overlay, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	base.Merge(overlay)
	return base, nil
}

// Merge copies every locale of other into t.
func (t *Table) Merge(other *Table) {
	for code, kw := range other.Locales {
		t.Locales[code] = kw
	}
	if other.Default != "" {
		t.Default = other.Default
	}
}

// Lookup returns the keyword sets for locale, falling back to the table
// default and then to English.
func (t *Table) Lookup(locale string) Keywords {
	if kw, ok := t.Locales[normalize(locale)]; ok {
		return kw
	}
	// "es-MX" style codes fall back to their language.
	if lang, _, ok := strings.Cut(normalize(locale), "-"); ok {
		if kw, ok := t.Locales[lang]; ok {
			return kw
		}
	}
	if kw, ok := t.Locales[t.Default]; ok {
		return kw
	}
	return t.Locales[DefaultLocale]
}

// Codes returns the sorted locale codes in the table.
func (t *Table) Codes() []string {
	codes := make([]string, 0, len(t.Locales))
	for code := range t.Locales {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
