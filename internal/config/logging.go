package config

import "fixme/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, console
	File       string          `yaml:"file"`       // empty = stderr
	DebugMode  bool            `yaml:"debug_mode"` // false = warnings and errors only
	Categories map[string]bool `yaml:"categories"` // Per-category toggles (debug mode only)
}

// IsCategoryEnabled returns whether logging is enabled for a category.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode || c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// Settings converts the YAML section into logging.Settings.
func (c LoggingConfig) Settings() logging.Settings {
	return logging.Settings{
		Level:      c.Level,
		DebugMode:  c.DebugMode,
		Format:     c.Format,
		File:       c.File,
		Categories: c.Categories,
	}
}
