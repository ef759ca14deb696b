package tactile

import (
	"runtime"
	"sort"
)

// Fix is a canned remediation: an ordered list of command lines.
type Fix struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Commands   []string `json:"commands"`
	NeedsAdmin bool     `json:"needs_admin"`
}

var macFixes = []Fix{
	{
		ID:    "toggle_wifi",
		Label: "Toggle Wi-Fi Off/On",
		Commands: []string{
			"networksetup -setairportpower en0 off",
			"WAIT:3",
			"networksetup -setairportpower en0 on",
		},
	},
	{
		ID:         "flush_dns",
		Label:      "Flush DNS Cache",
		Commands:   []string{"sudo dscacheutil -flushcache", "sudo killall -HUP mDNSResponder"},
		NeedsAdmin: true,
	},
	{
		ID:    "restart_network",
		Label: "Full Network Reset",
		Commands: []string{
			"networksetup -setairportpower en0 off",
			"sudo dscacheutil -flushcache",
			"sudo killall -HUP mDNSResponder",
			"WAIT:3",
			"networksetup -setairportpower en0 on",
		},
		NeedsAdmin: true,
	},
	{
		ID:       "open_credential_manager",
		Label:    "Open Keychain Access",
		Commands: []string{"open -a 'Keychain Access'"},
	},
}

var windowsFixes = []Fix{
	{
		ID:       "toggle_wifi",
		Label:    "Toggle Wi-Fi Off/On",
		Commands: []string{"netsh wlan disconnect", "WAIT:3", "netsh wlan connect name={ssid}"},
	},
	{
		ID:         "flush_dns",
		Label:      "Flush DNS Cache",
		Commands:   []string{"ipconfig /flushdns"},
		NeedsAdmin: true,
	},
	{
		ID:    "restart_network",
		Label: "Full Network Reset",
		Commands: []string{
			"netsh wlan disconnect",
			"ipconfig /flushdns",
			"ipconfig /release",
			"ipconfig /renew",
			"WAIT:3",
			"netsh wlan connect name={ssid}",
		},
		NeedsAdmin: true,
	},
	{
		ID:       "open_credential_manager",
		Label:    "Open Credential Manager",
		Commands: []string{"rundll32.exe keymgr.dll,KRShowKeyMgr"},
	},
}

var linuxFixes = []Fix{
	{
		ID:       "toggle_wifi",
		Label:    "Toggle Wi-Fi Off/On",
		Commands: []string{"nmcli radio wifi off", "WAIT:3", "nmcli radio wifi on"},
	},
	{
		ID:         "flush_dns",
		Label:      "Flush DNS Cache",
		Commands:   []string{"resolvectl flush-caches"},
		NeedsAdmin: true,
	},
	{
		ID:         "restart_network",
		Label:      "Full Network Reset",
		Commands:   []string{"nmcli networking off", "resolvectl flush-caches", "WAIT:3", "nmcli networking on"},
		NeedsAdmin: true,
	},
	{
		ID:       "open_credential_manager",
		Label:    "Open Passwords and Keys",
		Commands: []string{"seahorse"},
	},
}

// Catalog returns the fixes available on this host.
func Catalog() []Fix {
	return CatalogFor(runtime.GOOS)
}

// CatalogFor returns the fixes for goos, sorted by ID.
func CatalogFor(goos string) []Fix {
	var src []Fix
	switch goos {
	case "darwin":
		src = macFixes
	case "windows":
		src = windowsFixes
	default:
		src = linuxFixes
	}
	out := make([]Fix, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupFix finds a fix by ID in the host catalog.
func LookupFix(id string) (Fix, bool) {
	return LookupFixFor(runtime.GOOS, id)
}

// LookupFixFor finds a fix by ID in the catalog of goos.
func LookupFixFor(goos, id string) (Fix, bool) {
	for _, f := range CatalogFor(goos) {
		if f.ID == id {
			return f, true
		}
	}
	return Fix{}, false
}
