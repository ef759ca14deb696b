package tactile

import (
	"context"
	"errors"
	"strings"
)

// runFunc runs argv and returns its stdout.
type runFunc func(argv ...string) (string, error)

// platform holds the OS-specific pieces of command execution.
type platform struct {
	goos            string
	shell           func(line string) []string
	elevate         func(line string) []string
	elevationDenied func(stderr string) bool
	ssid            func(ctx context.Context, run runFunc) (string, error)
}

var errNoSSID = errors.New("no Wi-Fi network associated")

func platformFor(goos string) platform {
	switch goos {
	case "darwin":
		return platform{
			goos:    goos,
			shell:   posixShell,
			elevate: osascriptElevate,
			elevationDenied: func(stderr string) bool {
				return strings.Contains(stderr, "User canceled") || strings.Contains(stderr, "(-128)")
			},
			ssid: darwinSSID,
		}
	case "windows":
		return platform{
			goos:    goos,
			shell:   func(line string) []string { return []string{"cmd.exe", "/C", line} },
			elevate: runasElevate,
			elevationDenied: func(stderr string) bool {
				return strings.Contains(stderr, "canceled by the user") || strings.Contains(stderr, "cancelled by the user")
			},
			ssid: func(_ context.Context, run runFunc) (string, error) {
				out, err := run("netsh", "wlan", "show", "interfaces")
				if err != nil {
					return "", err
				}
				return parseNetshSSID(out)
			},
		}
	default:
		return platform{
			goos:    goos,
			shell:   posixShell,
			elevate: sudoElevate,
			elevationDenied: func(stderr string) bool {
				return strings.Contains(stderr, "a password is required") ||
					strings.Contains(stderr, "is not in the sudoers file")
			},
			ssid: func(_ context.Context, run runFunc) (string, error) {
				out, err := run("nmcli", "-t", "-f", "active,ssid", "dev", "wifi")
				if err != nil {
					return "", err
				}
				return parseNmcliSSID(out)
			},
		}
	}
}

func posixShell(line string) []string {
	return []string{"sh", "-c", line}
}

func stripSudo(line string) string {
	return strings.TrimPrefix(line, "sudo ")
}

// osascriptElevate asks for the administrator password through the
// standard macOS authorization dialog.
func osascriptElevate(line string) []string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(stripSudo(line))
	return []string{"osascript", "-e", `do shell script "` + escaped + `" with administrator privileges`}
}

// runasElevate triggers a UAC prompt and waits for the elevated cmd.exe.
func runasElevate(line string) []string {
	arg := strings.ReplaceAll("/c "+line, "'", "''")
	script := "Start-Process -FilePath cmd.exe -ArgumentList '" + arg + "' -Verb RunAs -Wait -WindowStyle Hidden"
	return []string{"powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script}
}

// sudoElevate never prompts; without cached credentials it fails fast.
func sudoElevate(line string) []string {
	return []string{"sudo", "-n", "sh", "-c", stripSudo(line)}
}

func darwinSSID(_ context.Context, run runFunc) (string, error) {
	if out, err := run("networksetup", "-getairportnetwork", "en0"); err == nil {
		if ssid, err := parseNetworksetupSSID(out); err == nil {
			return ssid, nil
		}
	}
	// Newer macOS versions redact networksetup output.
	out, err := run("system_profiler", "SPAirPortDataType")
	if err != nil {
		return "", err
	}
	return parseSystemProfilerSSID(out)
}
