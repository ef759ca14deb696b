package tactile

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

func newTestExecutor(cfg ExecutorConfig) *HostExecutor {
	e := NewHostExecutorWithConfig(cfg)
	e.platform = platformFor("linux")
	return e
}

func TestExecute_Success(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(DefaultExecutorConfig())

	ok, msg := e.Execute(context.Background(), "echo hello", false)
	assert.True(t, ok)
	assert.Equal(t, "hello", msg)

	ok, msg = e.Execute(context.Background(), "true", false)
	assert.True(t, ok)
	assert.Equal(t, "Command completed successfully", msg)
}

func TestExecute_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(DefaultExecutorConfig())

	r := e.Run(context.Background(), Command{Line: "echo oops 1>&2; exit 3"})
	assert.False(t, r.Success)
	assert.Equal(t, "oops", r.Message)
	assert.Equal(t, 3, r.ExitCode)
	require.NotNil(t, r.Fault)
	assert.Equal(t, FaultNonZeroExit, r.Fault.Kind)

	ok, msg := e.Execute(context.Background(), "exit 4", false)
	assert.False(t, ok)
	assert.Equal(t, "Command exited with code 4", msg)
}

func TestExecute_Timeout(t *testing.T) {
	skipOnWindows(t)
	cfg := DefaultExecutorConfig()
	cfg.DefaultTimeout = 200 * time.Millisecond
	e := newTestExecutor(cfg)

	start := time.Now()
	r := e.Run(context.Background(), Command{Line: "sleep 5"})
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.False(t, r.Success)
	assert.True(t, r.Killed)
	assert.Equal(t, "Command timed out after 200ms", r.Message)
	assert.Equal(t, FaultTimeout, r.Fault.Kind)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "30 seconds", humanDuration(30*time.Second))
	assert.Equal(t, "1.5s", humanDuration(1500*time.Millisecond))
}

func TestExecute_Wait(t *testing.T) {
	e := newTestExecutor(DefaultExecutorConfig())
	var slept time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	ok, msg := e.Execute(context.Background(), "WAIT:3", false)
	assert.True(t, ok)
	assert.Equal(t, "Waited 3 seconds", msg)
	assert.Equal(t, 3*time.Second, slept)

	ok, msg = e.Execute(context.Background(), "WAIT:soon", false)
	assert.False(t, ok)
	assert.Equal(t, "Invalid WAIT command: WAIT:soon", msg)
}

func TestExecute_WaitCancelled(t *testing.T) {
	e := newTestExecutor(DefaultExecutorConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := e.Run(ctx, Command{Line: "WAIT:30"})
	assert.False(t, r.Success)
	assert.True(t, r.Killed)
}

func TestExecute_SSIDPlaceholder(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(DefaultExecutorConfig())
	e.platform.ssid = func(context.Context, runFunc) (string, error) { return "HomeNet", nil }

	r := e.Run(context.Background(), Command{Line: "echo connect name={ssid}"})
	assert.True(t, r.Success)
	assert.Equal(t, "connect name=HomeNet", r.Message)
	assert.Equal(t, "echo connect name=HomeNet", r.Resolved)
}

func TestExecute_SSIDUnresolved(t *testing.T) {
	e := newTestExecutor(DefaultExecutorConfig())
	e.platform.ssid = func(context.Context, runFunc) (string, error) { return "", errNoSSID }
	e.platform.shell = func(string) []string {
		t.Fatal("command must not run when the placeholder is unresolved")
		return nil
	}

	r := e.Run(context.Background(), Command{Line: "netsh wlan connect name={ssid}"})
	assert.False(t, r.Success)
	assert.Equal(t, "Could not detect Wi-Fi SSID. Make sure Wi-Fi is available.", r.Message)
	assert.Equal(t, FaultPlaceholderUnresolved, r.Fault.Kind)
	assert.True(t, errors.Is(r.Fault, errNoSSID))
}

func TestExecute_ElevationDenied(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(DefaultExecutorConfig())
	e.platform.elevate = func(string) []string {
		return []string{"sh", "-c", "echo 'sudo: a password is required' 1>&2; exit 1"}
	}

	r := e.Run(context.Background(), Command{Line: "resolvectl flush-caches", NeedsAdmin: true})
	assert.False(t, r.Success)
	assert.Equal(t, FaultElevation, r.Fault.Kind)
	assert.Contains(t, r.Message, "resolvectl flush-caches")
}

func TestExecute_EmptyCommand(t *testing.T) {
	e := newTestExecutor(DefaultExecutorConfig())
	ok, msg := e.Execute(context.Background(), "   ", false)
	assert.False(t, ok)
	assert.Equal(t, "No command given", msg)
}

func TestExecute_OutputTruncated(t *testing.T) {
	skipOnWindows(t)
	cfg := DefaultExecutorConfig()
	cfg.MaxOutputBytes = 10
	e := newTestExecutor(cfg)

	r := e.Run(context.Background(), Command{Line: "printf 0123456789abcdef"})
	assert.True(t, r.Success)
	assert.True(t, r.Truncated)
	assert.Equal(t, "0123456789", r.Stdout)
}

func TestExecute_EnvironmentFiltered(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("FIXME_SECRET", "leak")
	cfg := DefaultExecutorConfig()
	cfg.AllowedEnvironment = []string{"PATH"}
	e := newTestExecutor(cfg)

	ok, msg := e.Execute(context.Background(), "echo ${FIXME_SECRET:-unset}", false)
	assert.True(t, ok)
	assert.Equal(t, "unset", msg)
}

func TestAuditCallback(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(DefaultExecutorConfig())

	var mu sync.Mutex
	var events []AuditEvent
	e.SetAuditCallback(func(ev AuditEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	e.Run(context.Background(), Command{Line: "true", Source: "execute_step"})
	e.Run(context.Background(), Command{Line: "exit 2"})
	e.Run(context.Background(), Command{Line: ""})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 6)
	assert.Equal(t, AuditEventStart, events[0].Type)
	assert.Nil(t, events[0].Result)
	assert.Equal(t, AuditEventComplete, events[1].Type)
	assert.Equal(t, "execute_step", events[1].Command.Source)
	assert.Equal(t, AuditEventComplete, events[3].Type, "non-zero exit is a completed run")
	assert.Equal(t, AuditEventError, events[5].Type)
}

func TestElevationArgv(t *testing.T) {
	assert.Equal(t,
		[]string{"osascript", "-e", `do shell script "killall -HUP \"mDNS\"" with administrator privileges`},
		osascriptElevate(`sudo killall -HUP "mDNS"`))

	assert.Equal(t,
		[]string{"powershell.exe", "-NoProfile", "-NonInteractive", "-Command",
			"Start-Process -FilePath cmd.exe -ArgumentList '/c echo ''hi''' -Verb RunAs -Wait -WindowStyle Hidden"},
		runasElevate("echo 'hi'"))

	assert.Equal(t, []string{"sudo", "-n", "sh", "-c", "resolvectl flush-caches"}, sudoElevate("sudo resolvectl flush-caches"))
	assert.Equal(t, []string{"cmd.exe", "/C", "ipconfig /flushdns"}, platformFor("windows").shell("ipconfig /flushdns"))
}

func TestSSIDParsers(t *testing.T) {
	netsh := "    Name                   : Wi-Fi\r\n    BSSID                  : aa:bb\r\n    SSID                   : Office 5G\r\n"
	ssid, err := parseNetshSSID(netsh)
	require.NoError(t, err)
	assert.Equal(t, "Office 5G", ssid)

	ssid, err = parseNetworksetupSSID("Current Wi-Fi Network: HomeNet\n")
	require.NoError(t, err)
	assert.Equal(t, "HomeNet", ssid)
	_, err = parseNetworksetupSSID("You are not associated with an AirPort network.\n")
	assert.ErrorIs(t, err, errNoSSID)

	profiler := "Wi-Fi:\n  Interfaces:\n    en0:\n      Current Network Information:\n        Cafe:\n          PHY Mode: 802.11ac\n"
	ssid, err = parseSystemProfilerSSID(profiler)
	require.NoError(t, err)
	assert.Equal(t, "Cafe", ssid)

	ssid, err = parseNmcliSSID("no:Neighbour\nyes:HomeNet\n")
	require.NoError(t, err)
	assert.Equal(t, "HomeNet", ssid)
	_, err = parseNmcliSSID("no:Neighbour\n")
	assert.ErrorIs(t, err, errNoSSID)
}

func TestCatalog(t *testing.T) {
	for _, goos := range []string{"darwin", "windows", "linux"} {
		fixes := CatalogFor(goos)
		ids := make([]string, 0, len(fixes))
		for _, f := range fixes {
			ids = append(ids, f.ID)
			assert.NotEmpty(t, f.Commands, "%s/%s", goos, f.ID)
		}
		assert.Equal(t, []string{"flush_dns", "open_credential_manager", "restart_network", "toggle_wifi"}, ids, goos)
	}

	win := CatalogFor("windows")
	assert.Contains(t, win[3].Commands, "netsh wlan connect name={ssid}")

	_, ok := LookupFix("flush_dns")
	assert.True(t, ok)
	_, ok = LookupFix("format_disk")
	assert.False(t, ok)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytesBuffer
	lw := &limitedWriter{w: &buf, max: 5}
	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = lw.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", buf.String())
	assert.True(t, lw.truncated)
	assert.Equal(t, int64(3), lw.discarded)
}

type bytesBuffer struct{ data []byte }

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) String() string { return string(b.data) }

func TestFaultError(t *testing.T) {
	f := &Fault{Kind: FaultTimeout, Message: "Command timed out after 30 seconds"}
	assert.Equal(t, "timeout: Command timed out after 30 seconds", f.Error())
}
