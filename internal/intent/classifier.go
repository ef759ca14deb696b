// Package intent classifies transcribed permission replies into
// affirmative, negative, abort or unrecognized.
package intent

import (
	"strings"
	"sync"

	"fixme/internal/logging"
)

// Intent is the classified meaning of a reply.
type Intent int

const (
	Unrecognized Intent = iota
	Affirmative
	Negative
	Abort
)

// String returns the lower-case name of the intent.
func (i Intent) String() string {
	switch i {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	case Abort:
		return "abort"
	case Unrecognized:
		return "unrecognized"
	}
	return "unknown"
}

// Classifier matches replies against a locale table. The table can be
// swapped at runtime; Classify is safe for concurrent use.
type Classifier struct {
	mu    sync.RWMutex
	table *Table
}

// NewClassifier creates a classifier. A nil table selects the embedded one.
func NewClassifier(table *Table) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	return &Classifier{table: table}
}

// SetTable replaces the locale table.
func (c *Classifier) SetTable(table *Table) {
	c.mu.Lock()
	c.table = table
	c.mu.Unlock()
	logging.Intent("locale table replaced: %v", table.Codes())
}

// Table returns the current locale table.
func (c *Classifier) Table() *Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table
}

// Classify maps text to an intent using the keyword sets of locale.
// Abort is checked before affirmative and negative.
func (c *Classifier) Classify(text, locale string) Intent {
	words := normalize(text)
	if words == "" {
		return Unrecognized
	}
	kw := c.Table().Lookup(locale)

	var result Intent
	switch {
	case matches(words, kw.Abort):
		result = Abort
	case matches(words, kw.Affirmative):
		result = Affirmative
	case matches(words, kw.Negative):
		result = Negative
	default:
		result = Unrecognized
	}
	logging.IntentDebug("classify %q (%s) -> %s", words, locale, result)
	return result
}

// ContainsAbort reports whether text contains an abort keyword of any
// locale in the table.
func (c *Classifier) ContainsAbort(text string) bool {
	words := normalize(text)
	if words == "" {
		return false
	}
	for _, kw := range c.Table().Locales {
		if matches(words, kw.Abort) {
			return true
		}
	}
	return false
}

func matches(words string, set []string) bool {
	for _, p := range set {
		if words == p || strings.Contains(words, p) {
			return true
		}
	}
	return false
}
