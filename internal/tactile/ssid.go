package tactile

import (
	"regexp"
	"strings"
)

var netshSSIDLine = regexp.MustCompile(`^\s*SSID\s*:`)

// parseNetshSSID reads `netsh wlan show interfaces` output.
func parseNetshSSID(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		if netshSSIDLine.MatchString(line) {
			_, v, _ := strings.Cut(line, ":")
			if ssid := strings.TrimSpace(v); ssid != "" {
				return ssid, nil
			}
		}
	}
	return "", errNoSSID
}

// parseNetworksetupSSID reads `networksetup -getairportnetwork en0` output.
func parseNetworksetupSSID(out string) (string, error) {
	if strings.Contains(strings.ToLower(out), "not associated") {
		return "", errNoSSID
	}
	_, v, ok := strings.Cut(out, ":")
	if !ok {
		return "", errNoSSID
	}
	ssid := strings.TrimSpace(v)
	if ssid == "" {
		return "", errNoSSID
	}
	return ssid, nil
}

// parseSystemProfilerSSID reads the network name that follows
// "Current Network Information:" in `system_profiler SPAirPortDataType`.
func parseSystemProfilerSSID(out string) (string, error) {
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if strings.Contains(line, "Current Network Information:") && i+1 < len(lines) {
			ssid := strings.TrimSuffix(strings.TrimSpace(lines[i+1]), ":")
			if ssid != "" && ssid != "Network Type" {
				return ssid, nil
			}
		}
	}
	return "", errNoSSID
}

// parseNmcliSSID reads `nmcli -t -f active,ssid dev wifi` output.
func parseNmcliSSID(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "yes:"); ok && rest != "" {
			return rest, nil
		}
	}
	return "", errNoSSID
}
