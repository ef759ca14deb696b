package oracle

import "strings"

// Command is a shell command proposed in a chat reply.
type Command struct {
	Description string `json:"description"`
	Command     string `json:"command"`
	NeedsAdmin  bool   `json:"needs_admin"`
}

const commandsFence = "```commands"

// ParseCommands splits a chat reply into its display text and the commands
// listed in a trailing ```commands block. Each block line has the form
// "description: ... | command: ... | admin: true|false"; lines missing a
// description or command are ignored.
func ParseCommands(reply string) (string, []Command) {
	head, block, found := strings.Cut(reply, commandsFence)
	if !found {
		return strings.TrimSpace(reply), nil
	}
	block, _, _ = strings.Cut(block, "```")

	var cmds []Command
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "description:") {
			continue
		}
		var c Command
		for _, field := range strings.Split(line, "|") {
			field = strings.TrimSpace(field)
			switch {
			case strings.HasPrefix(field, "description:"):
				c.Description = strings.TrimSpace(strings.TrimPrefix(field, "description:"))
			case strings.HasPrefix(field, "command:"):
				c.Command = strings.TrimSpace(strings.TrimPrefix(field, "command:"))
			case strings.HasPrefix(field, "admin:"):
				c.NeedsAdmin = strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(field, "admin:")), "true")
			}
		}
		if c.Description != "" && c.Command != "" {
			cmds = append(cmds, c)
		}
	}
	return strings.TrimSpace(head), cmds
}
