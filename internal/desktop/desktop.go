// Package desktop captures the screen and drives the mouse and keyboard
// through the host's own tools.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"fixme/internal/logging"
)

// ErrUnsupported is returned when no capable tool exists on this host.
var ErrUnsupported = errors.New("desktop automation is not available on this host")

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Desktop is the host screen.
type Desktop struct {
	goos     string
	run      runFunc
	lookPath func(string) (string, error)
	tempDir  string
	timeout  time.Duration
}

// New returns the desktop of the current host.
func New() *Desktop {
	return &Desktop{
		goos:     runtime.GOOS,
		run:      runCommand,
		lookPath: exec.LookPath,
		timeout:  15 * time.Second,
	}
}

func (d *Desktop) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// Screenshot saves the full screen as a PNG in the temp directory and
// returns its path. The caller owns the file.
func (d *Desktop) Screenshot(ctx context.Context) (string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	f, err := os.CreateTemp(d.tempDir, "fixme-screen-*.png")
	if err != nil {
		return "", fmt.Errorf("create screenshot file: %w", err)
	}
	path := f.Name()
	f.Close()

	name, args, err := d.screenshotCommand(path)
	if err == nil {
		_, err = d.run(ctx, name, args...)
	}
	if err == nil {
		var info os.FileInfo
		info, err = os.Stat(path)
		if err == nil && info.Size() == 0 {
			err = fmt.Errorf("%s produced an empty image", name)
		}
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("screenshot: %w", err)
	}
	logging.TactileDebug("screenshot saved to %s", path)
	return path, nil
}

// Capture takes a screenshot and returns its bytes. The file is always
// removed.
func (d *Desktop) Capture(ctx context.Context) ([]byte, error) {
	path, err := d.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	return data, nil
}

func (d *Desktop) screenshotCommand(path string) (string, []string, error) {
	switch d.goos {
	case "darwin":
		return "screencapture", []string{"-x", path}, nil
	case "windows":
		script := "Add-Type -AssemblyName System.Windows.Forms,System.Drawing; " +
			"$b=[System.Windows.Forms.SystemInformation]::VirtualScreen; " +
			"$bmp=New-Object System.Drawing.Bitmap $b.Width,$b.Height; " +
			"$g=[System.Drawing.Graphics]::FromImage($bmp); " +
			"$g.CopyFromScreen($b.Left,$b.Top,0,0,$bmp.Size); " +
			"$bmp.Save(" + psQuote(path) + ", [System.Drawing.Imaging.ImageFormat]::Png)"
		return "powershell.exe", []string{"-NoProfile", "-NonInteractive", "-Command", script}, nil
	default:
		candidates := []struct {
			name string
			args []string
		}{
			{"gnome-screenshot", []string{"-f", path}},
			{"grim", []string{path}},
			{"scrot", []string{"-o", path}},
			{"import", []string{"-window", "root", path}},
		}
		for _, c := range candidates {
			if _, err := d.lookPath(c.name); err == nil {
				return c.name, c.args, nil
			}
		}
		return "", nil, fmt.Errorf("%w: install gnome-screenshot, grim, scrot or imagemagick", ErrUnsupported)
	}
}

// Click presses the left mouse button at screen coordinates.
func (d *Desktop) Click(ctx context.Context, x, y int) error {
	if x < 0 || y < 0 {
		return fmt.Errorf("click: coordinates must be non-negative, got (%d, %d)", x, y)
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	xs, ys := strconv.Itoa(x), strconv.Itoa(y)
	var err error
	switch d.goos {
	case "darwin":
		script := "ObjC.import('CoreGraphics');" +
			"function run(argv){var p=$.CGPointMake(+argv[0],+argv[1]);" +
			"[$.kCGEventLeftMouseDown,$.kCGEventLeftMouseUp].forEach(function(t){" +
			"$.CGEventPost($.kCGHIDEventTap,$.CGEventCreateMouseEvent(null,t,p,$.kCGMouseButtonLeft));});}"
		_, err = d.run(ctx, "osascript", "-l", "JavaScript", "-e", script, xs, ys)
	case "windows":
		script := "Add-Type -MemberDefinition '" +
			"[DllImport(\"user32.dll\")] public static extern bool SetCursorPos(int x,int y);" +
			"[DllImport(\"user32.dll\")] public static extern void mouse_event(int f,int x,int y,int d,int e);' " +
			"-Name U -Namespace FixMe; [FixMe.U]::SetCursorPos(" + xs + "," + ys + ") | Out-Null; " +
			"[FixMe.U]::mouse_event(2,0,0,0,0); [FixMe.U]::mouse_event(4,0,0,0,0)"
		_, err = d.run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	default:
		if _, lookErr := d.lookPath("xdotool"); lookErr != nil {
			return fmt.Errorf("click: %w: xdotool not found", ErrUnsupported)
		}
		_, err = d.run(ctx, "xdotool", "mousemove", xs, ys, "click", "1")
	}
	if err != nil {
		return fmt.Errorf("click: %w", err)
	}
	logging.TactileDebug("clicked at (%d, %d)", x, y)
	return nil
}

// Type sends text as keystrokes to the focused window.
func (d *Desktop) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var err error
	switch d.goos {
	case "darwin":
		_, err = d.run(ctx, "osascript",
			"-e", "on run argv",
			"-e", `tell application "System Events" to keystroke (item 1 of argv)`,
			"-e", "end run",
			text)
	case "windows":
		script := "Add-Type -AssemblyName System.Windows.Forms; " +
			"[System.Windows.Forms.SendKeys]::SendWait(" + psQuote(escapeSendKeys(text)) + ")"
		_, err = d.run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	default:
		if _, lookErr := d.lookPath("xdotool"); lookErr != nil {
			return fmt.Errorf("type: %w: xdotool not found", ErrUnsupported)
		}
		_, err = d.run(ctx, "xdotool", "type", "--delay", "30", "--", text)
	}
	if err != nil {
		return fmt.Errorf("type: %w", err)
	}
	logging.TactileDebug("typed %d characters", len([]rune(text)))
	return nil
}

// psQuote renders s as a single-quoted PowerShell literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// escapeSendKeys wraps SendKeys metacharacters in braces.
func escapeSendKeys(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '+', '^', '%', '~', '(', ')', '{', '}', '[', ']':
			b.WriteByte('{')
			b.WriteRune(r)
			b.WriteByte('}')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
