package oracle

import (
	"fmt"
	"strings"
)

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"pa": "Punjabi",
	"hi": "Hindi",
	"fr": "French",
}

// LanguageName returns the English name of a locale, defaulting to English.
func LanguageName(locale string) string {
	base, _, _ := strings.Cut(strings.ToLower(locale), "-")
	if name, ok := languageNames[base]; ok {
		return name
	}
	return "English"
}

func osName(goos string) string {
	switch goos {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

func commandHints(goos string) string {
	switch goos {
	case "darwin":
		return "- networksetup for Wi-Fi, dscacheutil and killall mDNSResponder for DNS\n" +
			"- open -a 'App Name' to launch apps, defaults for settings\n" +
			"- pmset for power, diskutil for disks, system_profiler for info\n"
	case "windows":
		return "- netsh for Wi-Fi, ipconfig for DNS and network\n" +
			"- rundll32 keymgr.dll,KRShowKeyMgr for the credential manager\n"
	default:
		return "- nmcli for Wi-Fi and network, resolvectl for DNS\n" +
			"- systemctl for services, xdg-open to launch apps\n"
	}
}

func diagnoseSystemPrompt(goos string) string {
	return fmt.Sprintf(`You are an IT support diagnostic assistant looking at a screenshot of a %[1]s desktop.

Diagnose any visible IT issue (error dialog, network indicator, system alert) and
classify it as exactly one of "wifi", "dns", "password" or "other". Then give
step-by-step fix instructions as %[1]s shell commands.

Reply with JSON only, no markdown fences:
{
  "diagnosis": "what is wrong, in plain language",
  "category": "wifi" | "dns" | "password" | "other",
  "fix_id": "toggle_wifi" | "flush_dns" | "restart_network" | "open_credential_manager" | null,
  "fix_description": "the recommended fix, in plain language",
  "steps": [
    {
      "step": 1,
      "description": "what this step does",
      "command": "the shell command",
      "needs_admin": false,
      "ui_highlight": {"element": "name", "location": "taskbar right", "action": "circle"} or null
    }
  ]
}

A command may use the {ssid} placeholder for the current Wi-Fi network and
WAIT:n to pause n seconds. If no issue is visible use category "other",
fix_id null and an empty steps array.`, osName(goos))
}

const diagnoseUserPrompt = "What IT issue do you see on this screen? Diagnose it and suggest a fix."

func answerPrompt(goos, question, description, command string) string {
	return fmt.Sprintf("You are helping a user through an IT fix on their %s computer. "+
		"They are on a step that will do the following:\n\n"+
		"Step description: %s\nCommand: %s\n\n"+
		"The user asks: %s\n\n"+
		"Answer concisely in plain language. If they ask about safety, say whether "+
		"the action is reversible and what could go wrong.",
		osName(goos), description, command, question)
}

func chatSystemPrompt(goos, locale string) string {
	name := osName(goos)
	return fmt.Sprintf("You are FixMe, an IT support assistant running on %[1]s. "+
		"Respond in %[2]s. When the user describes a computer problem, diagnose it and "+
		"give actionable %[1]s terminal commands to fix it.\n\n"+
		"If commands are needed, end your response with a commands block:\n"+
		"```commands\n"+
		"description: What this does | command: the_shell_command | admin: false\n"+
		"```\n\n"+
		"Use %[1]s-native commands:\n%[3]s\n"+
		"If the message is conversational, answer naturally without a commands block. "+
		"Be concise and empathetic.", name, LanguageName(locale), commandHints(goos))
}

func translatePrompt(text, locale string) string {
	return fmt.Sprintf("Translate the following text to natural %s. "+
		"Return only the translation, nothing else:\n\n%s", LanguageName(locale), text)
}
